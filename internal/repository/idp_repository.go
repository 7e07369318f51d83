package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reponaut/edugain/internal/db"
	"github.com/reponaut/edugain/internal/models"
)

// IdPRepository handles database operations for ingested identity providers
type IdPRepository struct {
	db *db.DB
}

// NewIdPRepository creates a new IdP repository
func NewIdPRepository(database *db.DB) *IdPRepository {
	return &IdPRepository{db: database}
}

// GetByID retrieves a single IdP record, or nil when unknown
func (r *IdPRepository) GetByID(ctx context.Context, id string) (*models.IdPRecord, error) {
	query := `
		SELECT id, displayname, logo_url, enabled, discoverable, settings
		FROM edugain_idp_data
		WHERE id = $1
	`
	rec := &models.IdPRecord{}
	var settings []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.DisplayName,
		&rec.LogoURL,
		&rec.Enabled,
		&rec.Discoverable,
		&settings,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get IdP record: %w", err)
	}
	rec.Settings = settings
	return rec, nil
}

// GetAll retrieves every IdP record ordered by id
func (r *IdPRepository) GetAll(ctx context.Context) ([]*models.IdPRecord, error) {
	query := `
		SELECT id, displayname, logo_url, enabled, discoverable, settings
		FROM edugain_idp_data
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list IdP records: %w", err)
	}
	defer rows.Close()

	return scanIdPRecords(rows)
}

// GetEnabled retrieves all enabled IdP records ordered by id
func (r *IdPRepository) GetEnabled(ctx context.Context) ([]*models.IdPRecord, error) {
	query := `
		SELECT id, displayname, logo_url, enabled, discoverable, settings
		FROM edugain_idp_data
		WHERE enabled = true
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled IdP records: %w", err)
	}
	defer rows.Close()

	return scanIdPRecords(rows)
}

// GetDiscoverable retrieves IdP records shown on the discovery page, i.e.
// both enabled and discoverable, ordered by id
func (r *IdPRepository) GetDiscoverable(ctx context.Context) ([]*models.IdPRecord, error) {
	query := `
		SELECT id, displayname, logo_url, enabled, discoverable, settings
		FROM edugain_idp_data
		WHERE enabled = true AND discoverable = true
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list discoverable IdP records: %w", err)
	}
	defer rows.Close()

	return scanIdPRecords(rows)
}

func scanIdPRecords(rows *sql.Rows) ([]*models.IdPRecord, error) {
	var records []*models.IdPRecord
	for rows.Next() {
		rec := &models.IdPRecord{}
		var settings []byte
		if err := rows.Scan(
			&rec.ID, &rec.DisplayName, &rec.LogoURL, &rec.Enabled, &rec.Discoverable, &settings,
		); err != nil {
			return nil, fmt.Errorf("failed to scan IdP record: %w", err)
		}
		rec.Settings = settings
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ApplyIngestion writes one ingestion run's inserts and updates in a single
// transaction; a failure anywhere rolls back the whole run.
func (r *IdPRepository) ApplyIngestion(ctx context.Context, added, updated []*models.IdPRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ingestion transaction: %w", err)
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT INTO edugain_idp_data (id, displayname, logo_url, enabled, discoverable, settings)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, rec := range added {
		if _, err := tx.ExecContext(ctx, insertQuery,
			rec.ID, rec.DisplayName, rec.LogoURL, rec.Enabled, rec.Discoverable, []byte(rec.Settings),
		); err != nil {
			return fmt.Errorf("failed to insert IdP record %s: %w", rec.ID, err)
		}
	}

	updateQuery := `
		UPDATE edugain_idp_data
		SET displayname = $2, logo_url = $3, settings = $4
		WHERE id = $1
	`
	for _, rec := range updated {
		if _, err := tx.ExecContext(ctx, updateQuery,
			rec.ID, rec.DisplayName, rec.LogoURL, []byte(rec.Settings),
		); err != nil {
			return fmt.Errorf("failed to update IdP record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingestion transaction: %w", err)
	}
	return nil
}

// UpdateFlagsBatch persists enable/discoverable toggles for the given
// records in one transaction. Ingestion never touches these flags.
func (r *IdPRepository) UpdateFlagsBatch(ctx context.Context, records []*models.IdPRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin flags transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE edugain_idp_data
		SET enabled = $2, discoverable = $3
		WHERE id = $1
	`
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query, rec.ID, rec.Enabled, rec.Discoverable); err != nil {
			return fmt.Errorf("failed to update flags for %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flags transaction: %w", err)
	}
	return nil
}
