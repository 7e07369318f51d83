package metadata

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/crewjam/saml"

	"github.com/reponaut/edugain/internal/models"
)

// Entity is one identity provider from a federation aggregate: the typed
// descriptor parsed by the SAML library plus the mdui/organization
// extensions the library's model does not carry.
type Entity struct {
	EntityID          string
	Descriptor        *saml.EntityDescriptor
	DisplayNames      []models.LocalizedValue // mdui:DisplayName, document order
	Keywords          []models.LocalizedValue
	Logos             []models.Logo
	OrganizationNames []models.LocalizedValue // display names first, then names

	settings json.RawMessage
}

// Store holds the parsed IdP entities of one federation metadata document.
type Store struct {
	entities map[string]*Entity
	ids      []string
}

// Parse builds a Store from a metadata XML document. The document may be an
// EntitiesDescriptor aggregate or a single EntityDescriptor. Entities
// without an IDPSSODescriptor (plain service providers) are skipped.
func Parse(metadataXML []byte) (*Store, error) {
	descriptors, err := parseDescriptors(metadataXML)
	if err != nil {
		return nil, err
	}

	extensions, err := parseExtensions(metadataXML)
	if err != nil {
		return nil, err
	}

	store := &Store{entities: make(map[string]*Entity)}
	for i := range descriptors {
		ed := &descriptors[i]
		if len(ed.IDPSSODescriptors) == 0 {
			continue
		}
		if _, exists := store.entities[ed.EntityID]; exists {
			// duplicate entity ids in an aggregate: first one wins
			continue
		}

		entity := &Entity{
			EntityID:   ed.EntityID,
			Descriptor: ed,
		}
		if ext, ok := extensions[ed.EntityID]; ok {
			entity.DisplayNames = ext.displayNames
			entity.Keywords = ext.keywords
			entity.Logos = ext.logos
			entity.OrganizationNames = ext.organizationNames
		}

		settings, err := json.Marshal(buildSettings(entity))
		if err != nil {
			return nil, fmt.Errorf("failed to encode settings for %s: %w", ed.EntityID, err)
		}
		entity.settings = settings

		store.entities[ed.EntityID] = entity
		store.ids = append(store.ids, ed.EntityID)
	}

	sort.Strings(store.ids)
	return store, nil
}

// IdentityProviders returns all IdP entity ids, sorted lexicographically.
func (s *Store) IdentityProviders() []string {
	ids := make([]string, len(s.ids))
	copy(ids, s.ids)
	return ids
}

// Entity returns the parsed entity for an id.
func (s *Store) Entity(entityID string) (*Entity, bool) {
	e, ok := s.entities[entityID]
	return e, ok
}

// DisplayNames returns the mdui display names of an entity.
func (s *Store) DisplayNames(entityID string) []models.LocalizedValue {
	if e, ok := s.entities[entityID]; ok {
		return e.DisplayNames
	}
	return nil
}

// OrganizationNames returns organization display names and names of an
// entity, display names first.
func (s *Store) OrganizationNames(entityID string) []models.LocalizedValue {
	if e, ok := s.entities[entityID]; ok {
		return e.OrganizationNames
	}
	return nil
}

// Logos returns the mdui logo candidates of an entity.
func (s *Store) Logos(entityID string) []models.Logo {
	if e, ok := s.entities[entityID]; ok {
		return e.Logos
	}
	return nil
}

// Settings returns the persisted settings blob for an entity.
func (s *Store) Settings(entityID string) (json.RawMessage, error) {
	e, ok := s.entities[entityID]
	if !ok {
		return nil, fmt.Errorf("unknown entity id %q", entityID)
	}
	return e.settings, nil
}

// parseDescriptors unmarshals the document through the SAML library's typed
// metadata model.
func parseDescriptors(metadataXML []byte) ([]saml.EntityDescriptor, error) {
	var aggregate saml.EntitiesDescriptor
	if err := xml.Unmarshal(metadataXML, &aggregate); err == nil {
		return aggregate.EntityDescriptors, nil
	}

	var single saml.EntityDescriptor
	if err := xml.Unmarshal(metadataXML, &single); err != nil {
		return nil, fmt.Errorf("failed to parse metadata XML: %w", err)
	}
	return []saml.EntityDescriptor{single}, nil
}

// buildSettings projects an entity into the blob persisted per IdPRecord.
func buildSettings(e *Entity) *models.IdPSettings {
	settings := &models.IdPSettings{
		EntityID:          e.EntityID,
		DisplayNames:      e.DisplayNames,
		Keywords:          e.Keywords,
		Logos:             e.Logos,
		OrganizationNames: e.OrganizationNames,
	}

	for _, idp := range e.Descriptor.IDPSSODescriptors {
		for _, endpoint := range idp.SingleSignOnServices {
			settings.SSOServices = append(settings.SSOServices, models.EndpointSetting{
				Binding:  endpoint.Binding,
				Location: endpoint.Location,
			})
		}
		for _, format := range idp.NameIDFormats {
			settings.NameIDFormats = append(settings.NameIDFormats, string(format))
		}
		for _, kd := range idp.KeyDescriptors {
			// a KeyDescriptor without a use attribute is valid for signing
			if kd.Use != "" && kd.Use != "signing" {
				continue
			}
			for _, cert := range kd.KeyInfo.X509Data.X509Certificates {
				data := strings.Join(strings.Fields(cert.Data), "")
				if data != "" {
					settings.SigningCerts = append(settings.SigningCerts, data)
				}
			}
		}
	}

	return settings
}

// entityExtensions holds the per-entity metadata that lives in Extensions
// elements, parsed separately because the typed model skips them.
type entityExtensions struct {
	displayNames      []models.LocalizedValue
	keywords          []models.LocalizedValue
	logos             []models.Logo
	organizationNames []models.LocalizedValue
}

// parseExtensions walks the raw document and collects mdui:UIInfo and
// md:Organization content per entity id. Matching is by local element name
// so that differing namespace prefixes across federations don't matter.
func parseExtensions(metadataXML []byte) (map[string]*entityExtensions, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(metadataXML); err != nil {
		return nil, fmt.Errorf("failed to parse metadata XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("metadata XML has no root element")
	}

	result := make(map[string]*entityExtensions)
	for _, entity := range elementsByTag(root, "EntityDescriptor") {
		entityID := attrValue(entity, "entityID")
		if entityID == "" {
			continue
		}
		if _, exists := result[entityID]; exists {
			continue
		}

		ext := &entityExtensions{}
		for _, idpDesc := range childrenByTag(entity, "IDPSSODescriptor") {
			for _, extensions := range childrenByTag(idpDesc, "Extensions") {
				for _, uiInfo := range childrenByTag(extensions, "UIInfo") {
					collectUIInfo(uiInfo, ext)
				}
			}
		}
		for _, org := range childrenByTag(entity, "Organization") {
			for _, el := range childrenByTag(org, "OrganizationDisplayName") {
				ext.organizationNames = append(ext.organizationNames, localized(el))
			}
		}
		for _, org := range childrenByTag(entity, "Organization") {
			for _, el := range childrenByTag(org, "OrganizationName") {
				ext.organizationNames = append(ext.organizationNames, localized(el))
			}
		}

		result[entityID] = ext
	}
	return result, nil
}

func collectUIInfo(uiInfo *etree.Element, ext *entityExtensions) {
	for _, el := range childrenByTag(uiInfo, "DisplayName") {
		ext.displayNames = append(ext.displayNames, localized(el))
	}
	for _, el := range childrenByTag(uiInfo, "Keywords") {
		ext.keywords = append(ext.keywords, localized(el))
	}
	for _, el := range childrenByTag(uiInfo, "Logo") {
		logo := models.Logo{
			URL:    strings.TrimSpace(el.Text()),
			Width:  intAttr(el, "width"),
			Height: intAttr(el, "height"),
			Lang:   attrValue(el, "lang"),
		}
		if logo.URL != "" {
			ext.logos = append(ext.logos, logo)
		}
	}
}

func localized(el *etree.Element) models.LocalizedValue {
	return models.LocalizedValue{
		Lang:  attrValue(el, "lang"),
		Value: strings.TrimSpace(el.Text()),
	}
}

// childrenByTag returns direct children matching a local tag name.
func childrenByTag(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			out = append(out, child)
		}
	}
	return out
}

// elementsByTag returns all descendants (including el itself) matching a
// local tag name, in document order.
func elementsByTag(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	if el.Tag == tag {
		out = append(out, el)
	}
	for _, child := range el.ChildElements() {
		out = append(out, elementsByTag(child, tag)...)
	}
	return out
}

// attrValue finds an attribute by local key regardless of namespace prefix
// (xml:lang vs lang).
func attrValue(el *etree.Element, key string) string {
	for _, attr := range el.Attr {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}

func intAttr(el *etree.Element, key string) int {
	n, err := strconv.Atoi(attrValue(el, key))
	if err != nil {
		return 0
	}
	return n
}
