package auth

import (
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// SessionManager issues and validates the signed session tokens set after a
// successful federated login.
type SessionManager struct {
	secret        []byte
	expiryMinutes int
}

// NewSessionManager creates a session manager with the given signing secret
// and token lifetime.
func NewSessionManager(secret string, expiryMinutes int) *SessionManager {
	return &SessionManager{secret: []byte(secret), expiryMinutes: expiryMinutes}
}

// IssueToken creates a signed session token for a user id.
func (m *SessionManager) IssueToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.StandardClaims{
		Subject:   userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Duration(m.expiryMinutes) * time.Minute).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses a session token and returns the user id it carries.
func (m *SessionManager) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid session token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid session token")
	}
	return claims.Subject, nil
}

// ExpirySeconds returns the token lifetime for cookie max-age.
func (m *SessionManager) ExpirySeconds() int {
	return m.expiryMinutes * 60
}
