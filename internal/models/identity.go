package models

import (
	"time"

	"github.com/google/uuid"
)

// IdentifierMethods lists the SAML identifier attributes we accept, most
// preferred first. pairwise-id and subject-id come from the SAML subject
// identifier attributes profile; eduPersonPrincipalName is the legacy
// fallback still used by many federation members.
var IdentifierMethods = []string{
	MethodPairwiseID,
	MethodSubjectID,
	MethodPrincipalName,
}

const (
	MethodPairwiseID    = "pairwise-id"
	MethodSubjectID     = "subject-id"
	MethodPrincipalName = "eduPersonPrincipalName"
)

// ResolvedIdentity is the outcome of parsing one SAML authentication
// response. Identifier values are SHA-256 hashed; a method missing from
// IdentifiersByMethod means the IdP did not supply it.
type ResolvedIdentity struct {
	IdentifiersByMethod  map[string]string   `json:"identifiers_by_method"`
	AdditionalAttributes map[string][]string `json:"additional_attributes,omitempty"`
	Affiliations         []string            `json:"affiliations,omitempty"`
	Emails               []string            `json:"emails,omitempty"`
	FullName             string              `json:"full_name,omitempty"`
	SuggestedUsername    string              `json:"suggested_username,omitempty"`
	MatchedUser          *User               `json:"-"`
	PostLoginRedirect    string              `json:"-"`
}

// FirstIdentifier returns the most preferred (method, hashed id) pair
// present on the identity, or ok=false when none is.
func (ri *ResolvedIdentity) FirstIdentifier() (method, externalID string, ok bool) {
	for _, m := range IdentifierMethods {
		if id, present := ri.IdentifiersByMethod[m]; present {
			return m, id, true
		}
	}
	return "", "", false
}

// User is a local account provisioned from (or linked to) a federated
// identity.
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Username     string     `json:"username" db:"username"`
	FullName     string     `json:"full_name" db:"full_name"`
	Affiliations string     `json:"affiliations,omitempty" db:"affiliations"`
	PasswordHash *string    `json:"-" db:"password_hash"`
	Active       bool       `json:"active" db:"active"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// UserIdentity links a hashed external identifier to a local user. The
// (method, external_id) pair is unique.
type UserIdentity struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	Method     string    `json:"method" db:"method"`
	ExternalID string    `json:"external_id" db:"external_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
