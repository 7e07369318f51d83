package metadata

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/reponaut/edugain/pkg/debug"
)

var (
	// ErrValidation marks a bad input (missing cert, missing fingerprint);
	// raised before any network or parse attempt.
	ErrValidation = errors.New("metadata source validation failed")
	// ErrFetch marks a failed network operation (timeout, non-2xx,
	// connection error).
	ErrFetch = errors.New("metadata fetch failed")
	// ErrIntegrity marks a certificate fingerprint mismatch or a failed
	// metadata signature check.
	ErrIntegrity = errors.New("metadata integrity check failed")
)

// Loader fetches and validates federation metadata from a local path or a
// remote URL.
type Loader struct {
	client *http.Client
}

// NewLoader creates a loader whose network operations are bounded by the
// given timeout.
func NewLoader(timeout time.Duration) *Loader {
	return &Loader{client: &http.Client{Timeout: timeout}}
}

// Load produces a parsed metadata Store from the given source.
//
// A local metadata path is loaded directly. A remote metadata URL requires a
// signing certificate; that certificate may itself be a local path or a
// remote URL, and a remote certificate additionally requires its SHA-256
// fingerprint. Whenever a certificate is available the metadata document's
// XML signature is verified against it before parsing.
func (l *Loader) Load(ctx context.Context, location, certLocation, fingerprintSHA256 string) (*Store, error) {
	remote := isRemoteURL(location)
	if remote && certLocation == "" {
		return nil, fmt.Errorf("%w: must provide a certificate when loading metadata from URL", ErrValidation)
	}
	if isRemoteURL(certLocation) && fingerprintSHA256 == "" {
		return nil, fmt.Errorf("%w: must provide a fingerprint when loading certificate from URL", ErrValidation)
	}

	var cert *x509.Certificate
	if certLocation != "" {
		var err error
		cert, err = l.resolveCert(ctx, certLocation, fingerprintSHA256)
		if err != nil {
			return nil, err
		}
	}

	var metadataXML []byte
	var err error
	if remote {
		debug.Info("Fetching federation metadata from %s", location)
		metadataXML, err = l.fetch(ctx, location)
	} else {
		metadataXML, err = os.ReadFile(location)
		if err != nil {
			err = fmt.Errorf("failed to read metadata file: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}

	if cert != nil {
		if err := verifySignature(metadataXML, cert); err != nil {
			return nil, err
		}
	}

	store, err := Parse(metadataXML)
	if err != nil {
		return nil, err
	}
	debug.Info("Loaded metadata with %d identity providers from %s", len(store.ids), location)
	return store, nil
}

// resolveCert obtains the signing certificate from a local path or, with a
// verified fingerprint, from a remote URL.
func (l *Loader) resolveCert(ctx context.Context, certLocation, fingerprintSHA256 string) (*x509.Certificate, error) {
	if !isRemoteURL(certLocation) {
		certBytes, err := os.ReadFile(certLocation)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate file: %w", err)
		}
		return parseCertificate(certBytes)
	}

	certBytes, err := l.fetch(ctx, certLocation)
	if err != nil {
		return nil, err
	}

	cert, err := parseCertificate(certBytes)
	if err != nil {
		return nil, err
	}

	calculated := sha256.Sum256(cert.Raw)
	if normalizeFingerprint(hex.EncodeToString(calculated[:])) != normalizeFingerprint(fingerprintSHA256) {
		return nil, fmt.Errorf("%w: downloaded certificate's fingerprint didn't match", ErrIntegrity)
	}

	return cert, nil
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return body, nil
}

// verifySignature checks the document's enveloped XML signature against the
// federation signing certificate.
func verifySignature(metadataXML []byte, cert *x509.Certificate) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(metadataXML); err != nil {
		return fmt.Errorf("failed to parse metadata XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("metadata XML has no root element")
	}

	validationContext := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})
	if _, err := validationContext.Validate(root); err != nil {
		return fmt.Errorf("%w: signature verification failed: %v", ErrIntegrity, err)
	}
	return nil
}

// parseCertificate accepts PEM, raw DER, or bare base64 DER.
func parseCertificate(certBytes []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(certBytes); block != nil {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return cert, nil
	}

	if cert, err := x509.ParseCertificate(certBytes); err == nil {
		return cert, nil
	}

	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(string(certBytes)), ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// normalizeFingerprint strips separators and case so that OpenSSL-style
// AA:BB:... fingerprints compare equal to bare hex.
func normalizeFingerprint(fp string) string {
	fp = strings.ToLower(fp)
	fp = strings.ReplaceAll(fp, ":", "")
	return strings.Join(strings.Fields(fp), "")
}

func isRemoteURL(location string) bool {
	if location == "" {
		return false
	}
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
