package saml

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/reponaut/edugain/internal/models"
	"github.com/reponaut/edugain/pkg/debug"
)

// ErrAlreadyLinked is a programming-contract violation: provisioning was
// called for an identity that already matched an account.
var ErrAlreadyLinked = errors.New("tried to create a user that already exists")

// UserStore persists a new account together with its identity link.
type UserStore interface {
	CreateWithIdentity(ctx context.Context, user *models.User, method, externalID string) error
}

// ValidationErrors collects every field problem found while validating a
// new account, so a rejection reports all of them at once.
type ValidationErrors []string

func (ve ValidationErrors) Error() string {
	return "account validation failed: " + strings.Join(ve, "; ")
}

// ProvisionUser creates a local account for a resolved identity with no
// matched account and links it under the most preferred identifier method
// present. Account and link are committed together or not at all.
func ProvisionUser(ctx context.Context, users UserStore, identity *models.ResolvedIdentity) (*models.User, error) {
	if identity.MatchedUser != nil {
		return nil, ErrAlreadyLinked
	}

	method, externalID, ok := identity.FirstIdentifier()
	if !ok {
		return nil, ErrNoIdentifier
	}

	var errs ValidationErrors
	if len(identity.Emails) == 0 {
		errs = append(errs, "an email address is required to create an account")
	} else if _, err := mail.ParseAddress(identity.Emails[0]); err != nil {
		errs = append(errs, fmt.Sprintf("invalid email address %q", identity.Emails[0]))
	}
	if identity.SuggestedUsername == "" {
		errs = append(errs, "a username is required to create an account")
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// The account never logs in with this password; it exists so the row
	// has a usable, unguessable credential.
	passwordHash, err := randomPasswordHash()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        identity.Emails[0],
		Username:     identity.SuggestedUsername,
		FullName:     identity.FullName,
		Affiliations: strings.Join(identity.Affiliations, "\n"),
		PasswordHash: &passwordHash,
		Active:       true,
		ConfirmedAt:  &now,
	}

	if err := users.CreateWithIdentity(ctx, user, method, externalID); err != nil {
		return nil, err
	}

	debug.Info("Provisioned account %s linked via %s", user.ID, method)
	return user, nil
}

func randomPasswordHash() (string, error) {
	// 32 random bytes hex-encoded is 64 chars, safely under bcrypt's
	// 72-byte input limit.
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(raw)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
