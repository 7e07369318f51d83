package metadata

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T) (*x509.Certificate, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "mds.example"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestLoadRemoteMetadataRequiresCert(t *testing.T) {
	loader := NewLoader(time.Second)

	_, err := loader.Load(context.Background(), "https://mds.example/metadata.xml", "", "")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestLoadRemoteCertRequiresFingerprint(t *testing.T) {
	loader := NewLoader(time.Second)

	_, err := loader.Load(context.Background(), "https://mds.example/metadata.xml", "https://mds.example/cert.pem", "")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestLoadWrapsHTTPFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	_, certPEM := selfSignedCert(t)
	certFile := filepath.Join(t.TempDir(), "cert.pem")
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(time.Second)
	_, err := loader.Load(context.Background(), server.URL+"/metadata.xml", certFile, "")
	if !errors.Is(err, ErrFetch) {
		t.Errorf("error = %v, want ErrFetch", err)
	}
}

func TestResolveCertRejectsFingerprintMismatch(t *testing.T) {
	_, certPEM := selfSignedCert(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(certPEM)
	}))
	defer server.Close()

	loader := NewLoader(time.Second)
	_, err := loader.resolveCert(context.Background(), server.URL+"/cert.pem", "deadbeef")
	if !errors.Is(err, ErrIntegrity) {
		t.Errorf("error = %v, want ErrIntegrity", err)
	}
}

func TestResolveCertAcceptsMatchingFingerprint(t *testing.T) {
	cert, certPEM := selfSignedCert(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(certPEM)
	}))
	defer server.Close()

	digest := sha256.Sum256(cert.Raw)
	fingerprint := hex.EncodeToString(digest[:])

	loader := NewLoader(time.Second)
	resolved, err := loader.resolveCert(context.Background(), server.URL+"/cert.pem", fingerprint)
	if err != nil {
		t.Fatalf("resolveCert() error = %v", err)
	}
	if !resolved.Equal(cert) {
		t.Error("resolved certificate does not match the served one")
	}
}

func TestLoadLocalFileWithoutCert(t *testing.T) {
	metadataFile := filepath.Join(t.TempDir(), "metadata.xml")
	if err := os.WriteFile(metadataFile, []byte(sampleAggregateXML), 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(time.Second)
	store, err := loader.Load(context.Background(), metadataFile, "", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(store.IdentityProviders()) == 0 {
		t.Error("expected at least one identity provider in the sample aggregate")
	}
}

func TestNormalizeFingerprint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AA:BB:CC", "aabbcc"},
		{"aabbcc", "aabbcc"},
		{"AA BB CC", "aabbcc"},
		{"Aa:bB cC", "aabbcc"},
	}

	for _, tt := range tests {
		if got := normalizeFingerprint(tt.in); got != tt.want {
			t.Errorf("normalizeFingerprint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
