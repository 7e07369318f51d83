package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		DatabaseURL:          "postgres://localhost/edugain",
		HTTPAddr:             ":8080",
		SPEntityID:           "https://repo.example/saml/sp",
		ACSURLs:              []string{"https://repo.example/saml/acs"},
		JWTSecret:            "secret",
		SessionExpiryMinutes: 60,
		PostLoginRedirect:    "/",
		MetadataURL:          DefaultMetadataURL,
		MetadataCertURL:      DefaultMetadataCertURL,
		HTTPTimeout:          DefaultHTTPTimeout,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() accepted an empty config")
	}

	msg := err.Error()
	for _, field := range []string{"DATABASE_URL", "SP_ENTITY_ID", "SP_ACS_URLS", "JWT_SECRET"} {
		if !strings.Contains(msg, field) {
			t.Errorf("error %q does not mention %s", msg, field)
		}
	}
}

func TestValidateRejectsRelativeACSURL(t *testing.T) {
	cfg := validConfig()
	cfg.ACSURLs = []string{"/saml/acs"}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SP_ACS_URLS") {
		t.Errorf("Validate() = %v, want ACS URL rejection", err)
	}
}

func TestValidateRequiresKeypairTogether(t *testing.T) {
	cfg := validConfig()
	cfg.SPCertFile = "/etc/edugain/sp.crt"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SP_KEY_FILE") {
		t.Errorf("Validate() = %v, want keypair pairing rejection", err)
	}

	cfg.SPKeyFile = "/etc/edugain/sp.key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with full keypair = %v, want nil", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("EDUGAIN_TEST_STR", "value")
	if got := envOr("EDUGAIN_TEST_STR", "fallback"); got != "value" {
		t.Errorf("envOr() = %q", got)
	}
	if got := envOr("EDUGAIN_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("envOr() fallback = %q", got)
	}

	t.Setenv("EDUGAIN_TEST_INT", "not-a-number")
	if got := envInt("EDUGAIN_TEST_INT", 42); got != 42 {
		t.Errorf("envInt() with garbage = %d, want fallback", got)
	}

	t.Setenv("EDUGAIN_TEST_BOOL", "yes")
	if !envBool("EDUGAIN_TEST_BOOL", false) {
		t.Error("envBool(yes) = false")
	}
}

func TestSplitNonEmpty(t *testing.T) {
	got := splitNonEmpty(" https://a.example/acs , ,https://b.example/acs,")
	want := []string{"https://a.example/acs", "https://b.example/acs"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("splitNonEmpty() = %v, want %v", got, want)
	}
}

func TestDefaultTimeout(t *testing.T) {
	if DefaultHTTPTimeout != 30*time.Second {
		t.Errorf("DefaultHTTPTimeout = %v", DefaultHTTPTimeout)
	}
}
