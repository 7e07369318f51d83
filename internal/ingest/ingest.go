package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/reponaut/edugain/internal/models"
	"github.com/reponaut/edugain/pkg/debug"
)

// Source yields the IdP entities of one fetched metadata document.
// *metadata.Store is the production implementation.
type Source interface {
	IdentityProviders() []string
	DisplayNames(entityID string) []models.LocalizedValue
	OrganizationNames(entityID string) []models.LocalizedValue
	Logos(entityID string) []models.Logo
	Settings(entityID string) (json.RawMessage, error)
}

// RecordStore persists IdP records. ApplyIngestion must write all records in
// a single transaction so a run is all-or-nothing.
type RecordStore interface {
	GetAll(ctx context.Context) ([]*models.IdPRecord, error)
	ApplyIngestion(ctx context.Context, added, updated []*models.IdPRecord) error
}

// Run reconciles the source metadata against the persisted records and
// returns a report whose added/updated/unchanged sets partition the source's
// entity ids. Running twice on identical metadata leaves the second run with
// everything unchanged.
func Run(ctx context.Context, src Source, store RecordStore) (*models.IngestionReport, error) {
	ids := src.IdentityProviders()
	sort.Strings(ids)

	existingRecords, err := store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing IdP records: %w", err)
	}
	existing := make(map[string]*models.IdPRecord, len(existingRecords))
	for _, rec := range existingRecords {
		existing[rec.ID] = rec
	}

	report := &models.IngestionReport{}
	var added, updated []*models.IdPRecord

	for _, id := range ids {
		displayName := deriveDisplayName(src.DisplayNames(id), src.OrganizationNames(id))
		logoURL := squarestLogo(src.Logos(id))
		settings, err := src.Settings(id)
		if err != nil {
			return nil, fmt.Errorf("failed to extract settings for %s: %w", id, err)
		}

		rec, exists := existing[id]
		switch {
		case !exists:
			added = append(added, &models.IdPRecord{
				ID:           id,
				DisplayName:  displayName,
				LogoURL:      logoURL,
				Enabled:      false,
				Discoverable: true,
				Settings:     settings,
			})
			report.Added = append(report.Added, id)
		case rec.DisplayName != displayName || rec.LogoURL != logoURL || !jsonEqual(rec.Settings, settings):
			rec.DisplayName = displayName
			rec.LogoURL = logoURL
			rec.Settings = settings
			updated = append(updated, rec)
			report.Updated = append(report.Updated, id)
		default:
			report.Unchanged = append(report.Unchanged, id)
		}
	}

	if err := store.ApplyIngestion(ctx, added, updated); err != nil {
		return nil, fmt.Errorf("failed to persist ingestion run: %w", err)
	}

	debug.Info("Ingestion run complete: %d added, %d updated, %d unchanged",
		len(report.Added), len(report.Updated), len(report.Unchanged))
	return report, nil
}

// deriveDisplayName picks a display name for an IdP. mdui display names win
// over organization names; within each group an "en" entry wins over the
// first entry in document order. An IdP advertising no name at all yields "".
func deriveDisplayName(uiNames, orgNames []models.LocalizedValue) string {
	for _, group := range [][]models.LocalizedValue{uiNames, orgNames} {
		first := ""
		for _, name := range group {
			if name.Value == "" {
				continue
			}
			if name.Lang == "en" {
				return name.Value
			}
			if first == "" {
				first = name.Value
			}
		}
		if first != "" {
			return first
		}
	}
	return ""
}

// squarestLogo returns the URL of the logo whose aspect ratio is closest to
// square. Ties keep the earlier candidate; no candidates yields "".
func squarestLogo(logos []models.Logo) string {
	best := ""
	bestRatio := -1.0
	for _, logo := range logos {
		ratio := squareness(logo.Width, logo.Height)
		if ratio > bestRatio {
			best = logo.URL
			bestRatio = ratio
		}
	}
	return best
}

func squareness(w, h int) float64 {
	shorter, longer := w, h
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	if longer < 1 {
		longer = 1
	}
	return float64(shorter) / float64(longer)
}

// jsonEqual compares two settings blobs structurally. The store hands back
// jsonb, which normalizes formatting, so byte equality would report drift on
// every run.
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
