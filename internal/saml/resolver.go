package saml

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/crewjam/saml"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/reponaut/edugain/internal/models"
	"github.com/reponaut/edugain/pkg/debug"
)

// ErrAuthnResponse is the base classification for every condition that
// rejects a login attempt; all specific rejections wrap it.
var (
	ErrAuthnResponse       = errors.New("SAML response rejected")
	ErrAmbiguousIdentifier = fmt.Errorf("%w: multiple values for one identifier", ErrAuthnResponse)
	ErrMissingIssuer       = fmt.Errorf("%w: missing mandatory Issuer", ErrAuthnResponse)
	ErrNoIdentifier        = fmt.Errorf("%w: no known kind of identification", ErrAuthnResponse)
	ErrIdentityConflict    = fmt.Errorf("%w: response identifies multiple different users", ErrAuthnResponse)
)

// canonicalNames maps the wire names federation IdPs send to the friendly
// names the resolver works with. Attributes arriving with a FriendlyName
// are taken at face value.
var canonicalNames = map[string]string{
	"urn:oasis:names:tc:SAML:attribute:pairwise-id": models.MethodPairwiseID,
	"urn:oasis:names:tc:SAML:attribute:subject-id":  models.MethodSubjectID,
	"urn:oid:1.3.6.1.4.1.5923.1.1.1.6":              models.MethodPrincipalName,
	"urn:oid:1.3.6.1.4.1.5923.1.1.1.9":              "eduPersonScopedAffiliation",
	"urn:oid:2.16.840.1.113730.3.1.241":             "displayName",
	"urn:oid:0.9.2342.19200300.100.1.3":             "mail",
	"urn:oid:2.5.4.42":                              "givenName",
	"urn:oid:2.5.4.4":                               "sn",
}

// AccountLookup finds the local user linked under a hashed identifier.
type AccountLookup interface {
	GetByIdentity(ctx context.Context, method, externalID string) (*models.User, error)
}

// Resolver turns a posted SAML response into a ResolvedIdentity.
type Resolver struct {
	provider      *Provider
	users         AccountLookup
	requireSigned bool
}

// NewResolver creates a resolver. requireSigned controls whether an
// unsigned response/assertion is rejected; production keeps it on.
func NewResolver(provider *Provider, users AccountLookup, requireSigned bool) *Resolver {
	return &Resolver{provider: provider, users: users, requireSigned: requireSigned}
}

// Resolve decodes and validates a base64-encoded SAML response and resolves
// the federated identity it asserts.
func (r *Resolver) Resolve(ctx context.Context, encodedResponse, relayState string) (*models.ResolvedIdentity, error) {
	responseXML, err := base64.StdEncoding.DecodeString(encodedResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid response encoding", ErrAuthnResponse)
	}

	var response saml.Response
	if err := xml.Unmarshal(responseXML, &response); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response XML", ErrAuthnResponse)
	}

	assertion, issuer, err := r.validateResponse(ctx, &response, responseXML)
	if err != nil {
		return nil, err
	}

	identity, err := ResolveAssertion(ctx, assertion, issuer, r.users)
	if err != nil {
		return nil, err
	}
	identity.PostLoginRedirect = relayState
	return identity, nil
}

// validateResponse checks status, assertion presence, time conditions,
// audience, and the XML signature; returns the assertion and the issuer
// entity id.
func (r *Resolver) validateResponse(ctx context.Context, response *saml.Response, responseXML []byte) (*saml.Assertion, string, error) {
	if response.Status.StatusCode.Value != saml.StatusSuccess {
		return nil, "", fmt.Errorf("%w: status %s", ErrAuthnResponse, response.Status.StatusCode.Value)
	}

	if response.EncryptedAssertion != nil {
		return nil, "", fmt.Errorf("%w: encrypted assertions are not supported", ErrAuthnResponse)
	}
	assertion := response.Assertion
	if assertion == nil {
		return nil, "", fmt.Errorf("%w: no assertion found", ErrAuthnResponse)
	}

	issuer := issuerOf(response, assertion)

	now := time.Now()
	if assertion.Conditions != nil {
		if !assertion.Conditions.NotBefore.IsZero() && now.Before(assertion.Conditions.NotBefore) {
			return nil, "", fmt.Errorf("%w: assertion not yet valid", ErrAuthnResponse)
		}
		if !assertion.Conditions.NotOnOrAfter.IsZero() && now.After(assertion.Conditions.NotOnOrAfter) {
			return nil, "", fmt.Errorf("%w: assertion has expired", ErrAuthnResponse)
		}

		if len(assertion.Conditions.AudienceRestrictions) > 0 {
			validAudience := false
			for _, restriction := range assertion.Conditions.AudienceRestrictions {
				if restriction.Audience.Value == r.provider.cfg.SPEntityID {
					validAudience = true
					break
				}
			}
			if !validAudience {
				return nil, "", fmt.Errorf("%w: invalid audience", ErrAuthnResponse)
			}
		}
	}

	if r.requireSigned {
		if issuer == "" {
			return nil, "", ErrMissingIssuer
		}
		certs, err := r.provider.signingCerts(ctx, issuer)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrAuthnResponse, err)
		}
		if err := verifyResponseSignature(responseXML, certs); err != nil {
			debug.Error("Signature verification failed for issuer %s: %v", issuer, err)
			return nil, "", fmt.Errorf("%w: signature verification failed", ErrAuthnResponse)
		}
	}

	return assertion, issuer, nil
}

// ResolveAssertion extracts a ResolvedIdentity from a validated assertion.
// Exported separately from Resolve so the pure resolution logic is testable
// without a signed document.
func ResolveAssertion(ctx context.Context, assertion *saml.Assertion, issuer string, users AccountLookup) (*models.ResolvedIdentity, error) {
	attrs := extractAttributes(assertion)

	rawIDs := make(map[string]string)
	for _, method := range models.IdentifierMethods {
		values := attrs.identifiers[method]
		if len(values) > 1 {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousIdentifier, method)
		}
		if len(values) == 1 {
			rawIDs[method] = values[0]
		}
	}

	// pairwise-id is only unique in combination with its issuer; saml-core
	// marks <Issuer> as required, so its absence here is a protocol
	// violation.
	if pairwise, ok := rawIDs[models.MethodPairwiseID]; ok {
		if issuer == "" {
			return nil, ErrMissingIssuer
		}
		rawIDs[models.MethodPairwiseID] = issuer + "!" + pairwise
	}

	if len(rawIDs) == 0 {
		return nil, ErrNoIdentifier
	}

	hashed := make(map[string]string, len(rawIDs))
	for method, raw := range rawIDs {
		digest := sha256.Sum256([]byte(raw))
		hashed[method] = hex.EncodeToString(digest[:])
	}

	fullName := strings.TrimSpace(strings.Join(attrs.givenNames, " ") + " " + strings.Join(attrs.surnames, " "))

	username := fullName
	if len(attrs.displayNames) > 0 {
		username = attrs.displayNames[0]
	} else if len(attrs.emails) > 0 {
		username = strings.SplitN(attrs.emails[0], "@", 2)[0]
	}

	identity := &models.ResolvedIdentity{
		IdentifiersByMethod:  hashed,
		AdditionalAttributes: attrs.remaining,
		Affiliations:         attrs.affiliations,
		Emails:               attrs.emails,
		FullName:             fullName,
		SuggestedUsername:    username,
	}

	matched, err := matchAccount(ctx, hashed, users)
	if err != nil {
		return nil, err
	}
	identity.MatchedUser = matched

	return identity, nil
}

// matchAccount looks up each hashed identifier in preference order. One
// response claiming identities linked to two different local accounts is a
// conflict, never an arbitrary pick.
func matchAccount(ctx context.Context, hashed map[string]string, users AccountLookup) (*models.User, error) {
	var matched *models.User
	for _, method := range models.IdentifierMethods {
		id, present := hashed[method]
		if !present {
			continue
		}
		user, err := users.GetByIdentity(ctx, method, id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up identity link: %w", err)
		}
		if user == nil {
			continue
		}
		if matched == nil {
			matched = user
		} else if matched.ID != user.ID {
			return nil, ErrIdentityConflict
		}
	}
	return matched, nil
}

// extractedAttributes is the staged extraction of an assertion's attribute
// statements: the named attributes land in fixed fields in a single pass,
// everything else stays in remaining.
type extractedAttributes struct {
	identifiers  map[string][]string
	affiliations []string
	displayNames []string
	emails       []string
	givenNames   []string
	surnames     []string
	remaining    map[string][]string
}

func extractAttributes(assertion *saml.Assertion) *extractedAttributes {
	attrs := &extractedAttributes{
		identifiers: make(map[string][]string),
		remaining:   make(map[string][]string),
	}

	for _, stmt := range assertion.AttributeStatements {
		for _, attr := range stmt.Attributes {
			name := canonicalName(attr)
			var values []string
			for _, v := range attr.Values {
				values = append(values, v.Value)
			}

			switch name {
			case models.MethodPairwiseID, models.MethodSubjectID, models.MethodPrincipalName:
				attrs.identifiers[name] = append(attrs.identifiers[name], values...)
			case "eduPersonScopedAffiliation":
				attrs.affiliations = append(attrs.affiliations, values...)
			case "displayName":
				attrs.displayNames = append(attrs.displayNames, values...)
			case "mail":
				attrs.emails = append(attrs.emails, values...)
			case "givenName":
				attrs.givenNames = append(attrs.givenNames, values...)
			case "sn":
				attrs.surnames = append(attrs.surnames, values...)
			default:
				attrs.remaining[name] = append(attrs.remaining[name], values...)
			}
		}
	}
	return attrs
}

func canonicalName(attr saml.Attribute) string {
	if attr.FriendlyName != "" {
		return attr.FriendlyName
	}
	if canonical, ok := canonicalNames[attr.Name]; ok {
		return canonical
	}
	return attr.Name
}

func issuerOf(response *saml.Response, assertion *saml.Assertion) string {
	if response.Issuer != nil && response.Issuer.Value != "" {
		return response.Issuer.Value
	}
	return assertion.Issuer.Value
}

// verifyResponseSignature validates the enveloped XML signature of the
// response, or of the assertion when only the assertion is signed, against
// the issuer's advertised signing certificates.
func verifyResponseSignature(responseXML []byte, certs []*x509.Certificate) error {
	if len(certs) == 0 {
		return errors.New("issuer advertises no signing certificates")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(responseXML); err != nil {
		return fmt.Errorf("failed to parse response XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return errors.New("response XML has no root element")
	}

	validationContext := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{Roots: certs})

	var lastErr error
	for _, el := range signedElements(root) {
		if _, err := validationContext.Validate(el); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr == nil {
		return errors.New("no signature found on response or assertion")
	}
	return lastErr
}

// signedElements returns the response root and/or its assertions, whichever
// carry a direct Signature child.
func signedElements(root *etree.Element) []*etree.Element {
	var out []*etree.Element
	if hasSignature(root) {
		out = append(out, root)
	}
	for _, child := range root.ChildElements() {
		if child.Tag == "Assertion" && hasSignature(child) {
			out = append(out, child)
		}
	}
	return out
}

func hasSignature(el *etree.Element) bool {
	for _, child := range el.ChildElements() {
		if child.Tag == "Signature" {
			return true
		}
	}
	return false
}
