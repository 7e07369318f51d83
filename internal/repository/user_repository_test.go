package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/reponaut/edugain/internal/db"
	"github.com/reponaut/edugain/internal/models"
)

func newMockUserRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return NewUserRepository(&db.DB{DB: sqlDB}), mock
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "username", "full_name", "affiliations",
		"password_hash", "active", "confirmed_at", "created_at", "updated_at",
	})
}

func TestGetByIdentityFound(t *testing.T) {
	repo, mock := newMockUserRepo(t)

	userID := uuid.New()
	now := time.Now()
	mock.ExpectQuery("JOIN user_identities").
		WithArgs("subject-id", "somehash").
		WillReturnRows(userRows().
			AddRow(userID, "alice@uni.example", "alice", "Alice Smith", "", nil, true, nil, now, now))

	user, err := repo.GetByIdentity(context.Background(), "subject-id", "somehash")
	if err != nil {
		t.Fatalf("GetByIdentity() error = %v", err)
	}
	if user == nil || user.ID != userID {
		t.Fatalf("user = %+v, want id %s", user, userID)
	}
	if user.PasswordHash != nil {
		t.Error("NULL password_hash must scan to nil")
	}
	if user.ConfirmedAt != nil {
		t.Error("NULL confirmed_at must scan to nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetByIdentityUnknown(t *testing.T) {
	repo, mock := newMockUserRepo(t)

	mock.ExpectQuery("JOIN user_identities").
		WithArgs("pairwise-id", "otherhash").
		WillReturnRows(userRows())

	user, err := repo.GetByIdentity(context.Background(), "pairwise-id", "otherhash")
	if err != nil {
		t.Fatalf("GetByIdentity() error = %v", err)
	}
	if user != nil {
		t.Errorf("user = %+v, want nil for unknown link", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateWithIdentityIsTransactional(t *testing.T) {
	repo, mock := newMockUserRepo(t)

	hash := "$2a$10$fakefakefakefakefakefake"
	now := time.Now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        "alice@uni.example",
		Username:     "alice",
		FullName:     "Alice Smith",
		PasswordHash: &hash,
		Active:       true,
		ConfirmedAt:  &now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(user.ID, user.Email, user.Username, user.FullName, "",
			user.PasswordHash, true, user.ConfirmedAt, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_identities").
		WithArgs(sqlmock.AnyArg(), user.ID, "subject-id", "somehash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.CreateWithIdentity(context.Background(), user, "subject-id", "somehash"); err != nil {
		t.Fatalf("CreateWithIdentity() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateWithIdentityRollsBackOnLinkFailure(t *testing.T) {
	repo, mock := newMockUserRepo(t)

	user := &models.User{ID: uuid.New(), Email: "alice@uni.example", Username: "alice"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_identities").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	if err := repo.CreateWithIdentity(context.Background(), user, "subject-id", "somehash"); err == nil {
		t.Fatal("CreateWithIdentity() swallowed the link failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
