package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reponaut/edugain/internal/db"
	"github.com/reponaut/edugain/internal/models"
)

// UserRepository handles database operations for local accounts and their
// federated identity links
type UserRepository struct {
	db *db.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(database *db.DB) *UserRepository {
	return &UserRepository{db: database}
}

const userColumns = `id, email, username, full_name, affiliations, password_hash, active, confirmed_at, created_at, updated_at`

// GetByID retrieves a user by primary key, or nil when unknown
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByIdentity retrieves the user linked under (method, externalID), or nil
// when no such link exists
func (r *UserRepository) GetByIdentity(ctx context.Context, method, externalID string) (*models.User, error) {
	query := `
		SELECT u.id, u.email, u.username, u.full_name, u.affiliations,
		       u.password_hash, u.active, u.confirmed_at, u.created_at, u.updated_at
		FROM users u
		JOIN user_identities ui ON ui.user_id = u.id
		WHERE ui.method = $1 AND ui.external_id = $2
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, method, externalID))
}

func (r *UserRepository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var passwordHash sql.NullString
	var confirmedAt sql.NullTime

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.FullName,
		&user.Affiliations,
		&passwordHash,
		&user.Active,
		&confirmedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	if confirmedAt.Valid {
		user.ConfirmedAt = &confirmedAt.Time
	}
	return user, nil
}

// CreateWithIdentity creates a user and its identity link in one
// transaction; if either write fails nothing is persisted.
func (r *UserRepository) CreateWithIdentity(ctx context.Context, user *models.User, method, externalID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin user transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	userQuery := `
		INSERT INTO users (id, email, username, full_name, affiliations,
		                   password_hash, active, confirmed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.ExecContext(ctx, userQuery,
		user.ID,
		user.Email,
		user.Username,
		user.FullName,
		user.Affiliations,
		user.PasswordHash,
		user.Active,
		user.ConfirmedAt,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	identityQuery := `
		INSERT INTO user_identities (id, user_id, method, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, identityQuery,
		uuid.New(), user.ID, method, externalID, now,
	); err != nil {
		return fmt.Errorf("failed to create identity link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user transaction: %w", err)
	}
	return nil
}
