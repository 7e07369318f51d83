package saml

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/reponaut/edugain/internal/models"
)

type fakeUserStore struct {
	user       *models.User
	method     string
	externalID string
	err        error
}

func (f *fakeUserStore) CreateWithIdentity(ctx context.Context, user *models.User, method, externalID string) error {
	if f.err != nil {
		return f.err
	}
	f.user = user
	f.method = method
	f.externalID = externalID
	return nil
}

func TestProvisionUserLinksMostPreferredMethod(t *testing.T) {
	store := &fakeUserStore{}
	identity := &models.ResolvedIdentity{
		IdentifiersByMethod: map[string]string{
			models.MethodSubjectID:     "hash-subject",
			models.MethodPrincipalName: "hash-principal",
		},
		Emails:            []string{"alice@uni.example"},
		FullName:          "Alice Smith",
		Affiliations:      []string{"staff@uni.example", "member@uni.example"},
		SuggestedUsername: "Alice Smith",
	}

	user, err := ProvisionUser(context.Background(), store, identity)
	if err != nil {
		t.Fatalf("ProvisionUser() error = %v", err)
	}

	if store.method != models.MethodSubjectID {
		t.Errorf("linked method = %q, want subject-id preferred over eduPersonPrincipalName", store.method)
	}
	if store.externalID != "hash-subject" {
		t.Errorf("linked externalID = %q", store.externalID)
	}
	if user.Email != "alice@uni.example" {
		t.Errorf("Email = %q", user.Email)
	}
	if user.Affiliations != "staff@uni.example\nmember@uni.example" {
		t.Errorf("Affiliations = %q", user.Affiliations)
	}
	if !user.Active {
		t.Error("provisioned account must be active")
	}
	if user.ConfirmedAt == nil {
		t.Error("a federated login proves the email, account must arrive confirmed")
	}
	if user.PasswordHash == nil || *user.PasswordHash == "" {
		t.Error("account must carry an unguessable password hash")
	}
}

func TestProvisionUserRejectsAlreadyMatched(t *testing.T) {
	identity := &models.ResolvedIdentity{
		MatchedUser: &models.User{ID: uuid.New()},
	}

	_, err := ProvisionUser(context.Background(), &fakeUserStore{}, identity)
	if !errors.Is(err, ErrAlreadyLinked) {
		t.Errorf("error = %v, want ErrAlreadyLinked", err)
	}
}

func TestProvisionUserValidation(t *testing.T) {
	tests := []struct {
		name     string
		identity *models.ResolvedIdentity
		wantIn   string
	}{
		{
			name: "missing email",
			identity: &models.ResolvedIdentity{
				IdentifiersByMethod: map[string]string{models.MethodSubjectID: "hash"},
				SuggestedUsername:   "alice",
			},
			wantIn: "email",
		},
		{
			name: "invalid email",
			identity: &models.ResolvedIdentity{
				IdentifiersByMethod: map[string]string{models.MethodSubjectID: "hash"},
				Emails:              []string{"not-an-address"},
				SuggestedUsername:   "alice",
			},
			wantIn: "invalid email",
		},
		{
			name: "missing username",
			identity: &models.ResolvedIdentity{
				IdentifiersByMethod: map[string]string{models.MethodSubjectID: "hash"},
				Emails:              []string{"alice@uni.example"},
			},
			wantIn: "username",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeUserStore{}
			_, err := ProvisionUser(context.Background(), store, tt.identity)
			if err == nil {
				t.Fatal("ProvisionUser() accepted an invalid identity")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error = %T, want ValidationErrors", err)
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error %q does not mention %q", err, tt.wantIn)
			}
			if store.user != nil {
				t.Error("invalid identity must not be persisted")
			}
		})
	}
}

func TestProvisionUserCollectsAllValidationErrors(t *testing.T) {
	identity := &models.ResolvedIdentity{
		IdentifiersByMethod: map[string]string{models.MethodSubjectID: "hash"},
	}

	_, err := ProvisionUser(context.Background(), &fakeUserStore{}, identity)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("collected %d errors (%v), want both email and username reported", len(verrs), verrs)
	}
}

func TestProvisionUserWithoutIdentifier(t *testing.T) {
	identity := &models.ResolvedIdentity{
		Emails:            []string{"alice@uni.example"},
		SuggestedUsername: "alice",
	}

	_, err := ProvisionUser(context.Background(), &fakeUserStore{}, identity)
	if !errors.Is(err, ErrNoIdentifier) {
		t.Errorf("error = %v, want ErrNoIdentifier", err)
	}
}
