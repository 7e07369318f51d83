package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/reponaut/edugain/internal/db"
	"github.com/reponaut/edugain/internal/models"
)

func newMockRepo(t *testing.T) (*IdPRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return NewIdPRepository(&db.DB{DB: sqlDB}), mock
}

func idpColumns() []string {
	return []string{"id", "displayname", "logo_url", "enabled", "discoverable", "settings"}
}

func TestIdPGetByIDUnknown(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT id, displayname").
		WithArgs("https://idp.example").
		WillReturnRows(sqlmock.NewRows(idpColumns()))

	rec, err := repo.GetByID(context.Background(), "https://idp.example")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if rec != nil {
		t.Errorf("GetByID() = %+v, want nil for unknown id", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIdPGetDiscoverable(t *testing.T) {
	repo, mock := newMockRepo(t)

	settings := []byte(`{"entity_id":"https://idp.example"}`)
	mock.ExpectQuery("WHERE enabled = true AND discoverable = true").
		WillReturnRows(sqlmock.NewRows(idpColumns()).
			AddRow("https://idp.example", "Example University", "https://cdn.example/logo.png", true, true, settings))

	records, err := repo.GetDiscoverable(context.Background())
	if err != nil {
		t.Fatalf("GetDiscoverable() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("GetDiscoverable() returned %d records", len(records))
	}
	rec := records[0]
	if rec.ID != "https://idp.example" || rec.DisplayName != "Example University" {
		t.Errorf("record = %+v", rec)
	}
	if string(rec.Settings) != string(settings) {
		t.Errorf("Settings = %s", rec.Settings)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApplyIngestionCommitsInsertsAndUpdates(t *testing.T) {
	repo, mock := newMockRepo(t)

	added := []*models.IdPRecord{{
		ID:           "https://new.example",
		DisplayName:  "New IdP",
		Discoverable: true,
		Settings:     json.RawMessage(`{}`),
	}}
	updated := []*models.IdPRecord{{
		ID:          "https://old.example",
		DisplayName: "Renamed IdP",
		LogoURL:     "https://cdn.example/logo.png",
		Settings:    json.RawMessage(`{}`),
	}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO edugain_idp_data").
		WithArgs("https://new.example", "New IdP", "", false, true, []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE edugain_idp_data").
		WithArgs("https://old.example", "Renamed IdP", "https://cdn.example/logo.png", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.ApplyIngestion(context.Background(), added, updated); err != nil {
		t.Fatalf("ApplyIngestion() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApplyIngestionRollsBackOnFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	added := []*models.IdPRecord{
		{ID: "https://a.example", Settings: json.RawMessage(`{}`)},
		{ID: "https://b.example", Settings: json.RawMessage(`{}`)},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO edugain_idp_data").
		WithArgs("https://a.example", "", "", false, false, []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO edugain_idp_data").
		WithArgs("https://b.example", "", "", false, false, []byte(`{}`)).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	if err := repo.ApplyIngestion(context.Background(), added, nil); err == nil {
		t.Fatal("ApplyIngestion() swallowed the insert failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateFlagsBatchNoRecords(t *testing.T) {
	repo, mock := newMockRepo(t)

	// no Begin expected: empty input must not open a transaction
	if err := repo.UpdateFlagsBatch(context.Background(), nil); err != nil {
		t.Fatalf("UpdateFlagsBatch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateFlagsBatch(t *testing.T) {
	repo, mock := newMockRepo(t)

	records := []*models.IdPRecord{
		{ID: "https://a.example", Enabled: true, Discoverable: false},
		{ID: "https://b.example", Enabled: false, Discoverable: true},
	}

	mock.ExpectBegin()
	mock.ExpectExec("SET enabled").
		WithArgs("https://a.example", true, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET enabled").
		WithArgs("https://b.example", false, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.UpdateFlagsBatch(context.Background(), records); err != nil {
		t.Fatalf("UpdateFlagsBatch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
