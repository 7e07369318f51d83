package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/reponaut/edugain/internal/models"
	"github.com/reponaut/edugain/internal/repository"
	"github.com/reponaut/edugain/pkg/debug"
)

// DiscoFeedEntry is one IdP in the discovery feed, shaped the way embedded
// discovery services expect it.
type DiscoFeedEntry struct {
	EntityID     string                  `json:"entityID"`
	DisplayNames []models.LocalizedValue `json:"DisplayNames"`
	Keywords     []models.LocalizedValue `json:"Keywords,omitempty"`
	Logos        []models.Logo           `json:"Logos,omitempty"`
}

// DiscoHandler serves the discovery feed consumed by the login page's IdP
// selector.
type DiscoHandler struct {
	idps *repository.IdPRepository
}

// NewDiscoHandler creates a new discovery feed handler.
func NewDiscoHandler(idps *repository.IdPRepository) *DiscoHandler {
	return &DiscoHandler{idps: idps}
}

// Feed lists every enabled, discoverable IdP as JSON.
func (h *DiscoHandler) Feed(w http.ResponseWriter, r *http.Request) {
	records, err := h.idps.GetDiscoverable(r.Context())
	if err != nil {
		debug.Error("Failed to load discoverable IdPs: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	feed := make([]DiscoFeedEntry, 0, len(records))
	for _, rec := range records {
		var settings models.IdPSettings
		if err := json.Unmarshal(rec.Settings, &settings); err != nil {
			debug.Warning("Skipping IdP %s with unreadable settings: %v", rec.ID, err)
			continue
		}
		feed = append(feed, DiscoFeedEntry{
			EntityID:     rec.ID,
			DisplayNames: namesByLanguage(settings.DisplayNames, settings.OrganizationNames),
			Keywords:     settings.Keywords,
			Logos:        settings.Logos,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(feed); err != nil {
		debug.Error("Failed to encode discovery feed: %v", err)
	}
}

// namesByLanguage merges mdui display names with organization display
// names, keeping one name per language. mdui names come first, so they win
// over organization names for the same language.
func namesByLanguage(groups ...[]models.LocalizedValue) []models.LocalizedValue {
	seen := make(map[string]bool)
	var merged []models.LocalizedValue
	for _, group := range groups {
		for _, name := range group {
			if seen[name.Lang] {
				continue
			}
			seen[name.Lang] = true
			merged = append(merged, name)
		}
	}
	return merged
}
