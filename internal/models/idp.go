package models

import (
	"encoding/json"
)

// IdPRecord is one persisted identity provider from the federation metadata.
// The ID is the SAML entity id (a URI) and never changes once created.
type IdPRecord struct {
	ID           string          `json:"id" db:"id"`
	DisplayName  string          `json:"displayname" db:"displayname"`
	LogoURL      string          `json:"logo_url" db:"logo_url"`
	Enabled      bool            `json:"enabled" db:"enabled"`
	Discoverable bool            `json:"discoverable" db:"discoverable"`
	Settings     json.RawMessage `json:"settings" db:"settings"`
}

// LocalizedValue is a language-tagged string from metadata (mdui display
// names, keywords, organization names).
type LocalizedValue struct {
	Lang  string `json:"lang,omitempty"`
	Value string `json:"value"`
}

// Logo is one mdui:Logo candidate advertised by an IdP.
type Logo struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Lang   string `json:"lang,omitempty"`
}

// EndpointSetting is one SingleSignOnService endpoint of an IdP.
type EndpointSetting struct {
	Binding  string `json:"binding"`
	Location string `json:"location"`
}

// IdPSettings is the parsed per-entity metadata persisted as the settings
// blob of an IdPRecord. Produced by the metadata package from the parsed
// entity descriptor; everything downstream of ingestion treats the blob as
// opaque and only compares it for equality.
type IdPSettings struct {
	EntityID          string            `json:"entity_id"`
	SSOServices       []EndpointSetting `json:"sso_services"`
	SigningCerts      []string          `json:"signing_certs,omitempty"`
	NameIDFormats     []string          `json:"name_id_formats,omitempty"`
	DisplayNames      []LocalizedValue  `json:"display_names,omitempty"`
	Keywords          []LocalizedValue  `json:"keywords,omitempty"`
	Logos             []Logo            `json:"logos,omitempty"`
	OrganizationNames []LocalizedValue  `json:"organization_names,omitempty"`
}

// IngestionReport summarizes one ingestion run. The three sets are disjoint
// and together cover exactly the entity ids present in the source metadata.
type IngestionReport struct {
	Added     []string `json:"added"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}
