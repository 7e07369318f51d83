package auth

import (
	"net/http"
	"strings"
)

const sessionCookieName = "session"

// cookieDomain extracts the domain for cookie setting from the request
// host, stripping any port. Localhost deployments get no domain so the
// cookie works across ports during development.
func cookieDomain(host string) string {
	if colonIndex := strings.Index(host, ":"); colonIndex != -1 {
		host = host[:colonIndex]
	}
	if host == "localhost" || host == "127.0.0.1" {
		return ""
	}
	return host
}

// SetSessionCookie sets the session cookie with the given token.
// maxAge is in seconds.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, maxAge int) {
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   maxAge,
	}
	if domain := cookieDomain(r.Host); domain != "" {
		cookie.Domain = domain
	}
	http.SetCookie(w, cookie)
}

// SessionToken reads the session cookie from a request; empty when absent.
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
