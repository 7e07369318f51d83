package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/reponaut/edugain/pkg/debug"
)

// Well-known eduGAIN federation feed constants. The aggregate is signed with
// the federation signing certificate; the fingerprint pins that certificate
// when it is fetched over the network.
const (
	DefaultMetadataURL     = "https://mds.edugain.org/edugain-v2.xml"
	DefaultMetadataCertURL = "https://technical.edugain.org/mds-v2.cer"
)

// DefaultHTTPTimeout bounds remote metadata and certificate fetches.
const DefaultHTTPTimeout = 30 * time.Second

// Config carries all runtime configuration. It is loaded once at startup,
// validated eagerly, and passed explicitly into each component.
type Config struct {
	DatabaseURL string
	HTTPAddr    string

	// Service-provider identity.
	SPEntityID string
	// ACS URLs, first entry is the canonical one. Multiple entries allow
	// test- and prod-hosts to share one SP registration.
	ACSURLs []string
	// Optional SP signing keypair. When both are set, AuthnRequests are
	// signed; without them requests go out unsigned, which is what most
	// federation IdPs expect.
	SPCertFile string
	SPKeyFile  string

	// Session issuing.
	JWTSecret            string
	SessionExpiryMinutes int
	PostLoginRedirect    string

	// Federation feed for the scheduled ingestion job.
	MetadataURL         string
	MetadataCertURL     string
	CertFingerprint     string
	IngestSchedule      string // cron spec; empty disables the job
	HTTPTimeout         time.Duration
	RequireSignedLogins bool
}

// ValidationErrors collects every config field error before reporting, so a
// bad deployment fails with the full list instead of one error per restart.
type ValidationErrors []string

func (ve ValidationErrors) Error() string {
	return "invalid configuration:\n  - " + strings.Join(ve, "\n  - ")
}

// Load reads configuration from the environment (a .env file is honored when
// present) and validates it. Returns all validation failures at once.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		debug.Debug("Loaded configuration from .env file")
	}

	cfg := &Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		HTTPAddr:             envOr("HTTP_ADDR", ":8080"),
		SPEntityID:           os.Getenv("SP_ENTITY_ID"),
		ACSURLs:              splitNonEmpty(os.Getenv("SP_ACS_URLS")),
		SPCertFile:           os.Getenv("SP_CERT_FILE"),
		SPKeyFile:            os.Getenv("SP_KEY_FILE"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		SessionExpiryMinutes: envInt("SESSION_EXPIRY_MINUTES", 60),
		PostLoginRedirect:    envOr("POST_LOGIN_REDIRECT", "/"),
		MetadataURL:          envOr("EDUGAIN_METADATA_URL", DefaultMetadataURL),
		MetadataCertURL:      envOr("EDUGAIN_METADATA_CERT_URL", DefaultMetadataCertURL),
		CertFingerprint:      os.Getenv("EDUGAIN_CERT_FINGERPRINT_SHA256"),
		IngestSchedule:       os.Getenv("EDUGAIN_INGEST_SCHEDULE"),
		HTTPTimeout:          time.Duration(envInt("HTTP_TIMEOUT_SECONDS", int(DefaultHTTPTimeout/time.Second))) * time.Second,
		RequireSignedLogins:  envBool("REQUIRE_SIGNED_LOGINS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every required field and returns the full error list.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.SPEntityID == "" {
		errs = append(errs, "SP_ENTITY_ID is required")
	}
	if len(c.ACSURLs) == 0 {
		errs = append(errs, "SP_ACS_URLS requires at least one URL")
	}
	for _, acs := range c.ACSURLs {
		if u, err := url.Parse(acs); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("SP_ACS_URLS entry %q is not an absolute URL", acs))
		}
	}
	if (c.SPCertFile == "") != (c.SPKeyFile == "") {
		errs = append(errs, "SP_CERT_FILE and SP_KEY_FILE must be set together")
	}
	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}
	if c.SessionExpiryMinutes <= 0 {
		errs = append(errs, "SESSION_EXPIRY_MINUTES must be positive")
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, "HTTP_TIMEOUT_SECONDS must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		debug.Warning("Ignoring non-numeric %s=%q", key, v)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
