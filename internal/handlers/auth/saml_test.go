package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSafeRedirectTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"empty", "", ""},
		{"local path", "/records/123", "/records/123"},
		{"local path with query", "/search?q=physics", "/search?q=physics"},
		{"absolute URL", "https://evil.example/phish", ""},
		{"protocol relative", "//evil.example/phish", ""},
		{"missing leading slash", "records/123", ""},
		{"backslash protocol relative", "/\\evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := safeRedirectTarget(tt.target); got != tt.want {
				t.Errorf("safeRedirectTarget(%q) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}

func TestHostURL(t *testing.T) {
	r := httptest.NewRequest("GET", "http://repo.example/saml/login/authn-request", nil)
	if got := hostURL(r); got != "http://repo.example" {
		t.Errorf("hostURL() = %q", got)
	}

	r = httptest.NewRequest("GET", "https://repo.example/saml/login/authn-request", nil)
	if got := hostURL(r); got != "https://repo.example" {
		t.Errorf("hostURL() over TLS = %q", got)
	}
}

func TestRandomHexLengthAndUniqueness(t *testing.T) {
	a := randomHex(16)
	b := randomHex(16)
	if len(a) != 32 {
		t.Errorf("randomHex(16) length = %d, want 32 hex chars", len(a))
	}
	if a == b {
		t.Error("two random usernames collided")
	}
	if strings.ToLower(a) != a {
		t.Errorf("randomHex output not lowercase hex: %q", a)
	}
}
