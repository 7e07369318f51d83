package saml

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/crewjam/saml"

	"github.com/reponaut/edugain/internal/config"
	"github.com/reponaut/edugain/internal/models"
	"github.com/reponaut/edugain/internal/repository"
	"github.com/reponaut/edugain/pkg/debug"
)

var (
	// ErrUnknownIdP is returned when a login names an entity id that was
	// never ingested or is not enabled.
	ErrUnknownIdP = errors.New("unknown or disabled identity provider")
	// ErrNoACSForHost is returned when no configured ACS URL matches the
	// host a login request arrived on.
	ErrNoACSForHost = errors.New("no assertion consumer service configured for this host")
)

// Provider drives the service-provider side of the SAML exchange against
// the ingested IdP records.
type Provider struct {
	cfg  *config.Config
	idps *repository.IdPRepository

	keyOnce sync.Once
	key     *rsa.PrivateKey
	cert    *x509.Certificate
	keyErr  error
}

// NewProvider creates a Provider over the given IdP record store.
func NewProvider(cfg *config.Config, idps *repository.IdPRepository) *Provider {
	return &Provider{cfg: cfg, idps: idps}
}

// AuthnRedirect builds the redirect URL that sends the user agent to the
// chosen IdP with a fresh AuthnRequest. relayState is carried through the
// exchange and becomes the post-login redirect.
func (p *Provider) AuthnRedirect(ctx context.Context, entityID, relayState, hostURL string) (string, error) {
	rec, err := p.idps.GetByID(ctx, entityID)
	if err != nil {
		return "", err
	}
	if rec == nil || !rec.Enabled {
		return "", fmt.Errorf("%w: %s", ErrUnknownIdP, entityID)
	}

	acsURL, err := p.acsForHost(hostURL)
	if err != nil {
		return "", err
	}

	sp, settings, err := p.serviceProvider(rec, acsURL)
	if err != nil {
		return "", err
	}

	ssoURL := ssoLocation(settings)
	if ssoURL == "" {
		return "", fmt.Errorf("%w: %s has no SingleSignOnService endpoint", ErrUnknownIdP, entityID)
	}

	authnRequest, err := sp.MakeAuthenticationRequest(ssoURL, saml.HTTPRedirectBinding, saml.HTTPPostBinding)
	if err != nil {
		return "", fmt.Errorf("failed to create AuthnRequest: %w", err)
	}

	redirectURL, err := authnRequest.Redirect(relayState, sp)
	if err != nil {
		return "", fmt.Errorf("failed to build redirect URL: %w", err)
	}

	debug.Info("Built AuthnRequest %s for IdP %s", authnRequest.ID, entityID)
	return redirectURL.String(), nil
}

// SPMetadata renders this service provider's metadata XML.
func (p *Provider) SPMetadata() ([]byte, error) {
	entityURL, err := url.Parse(p.cfg.SPEntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SP entity ID: %w", err)
	}
	acsURL, err := url.Parse(p.cfg.ACSURLs[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ACS URL: %w", err)
	}

	sp := &saml.ServiceProvider{
		EntityID:    p.cfg.SPEntityID,
		MetadataURL: *entityURL,
		AcsURL:      *acsURL,
	}
	key, cert, err := p.signingKeypair()
	if err != nil {
		return nil, err
	}
	if key != nil {
		sp.Key = key
		sp.Certificate = cert
	}

	xmlData, err := xml.MarshalIndent(sp.Metadata(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return append([]byte(xml.Header), xmlData...), nil
}

// signingCerts returns the parsed signing certificates an enabled issuer
// advertised in its ingested metadata.
func (p *Provider) signingCerts(ctx context.Context, issuer string) ([]*x509.Certificate, error) {
	rec, err := p.idps.GetByID(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdP, issuer)
	}

	settings, err := parseSettings(rec)
	if err != nil {
		return nil, err
	}

	var certs []*x509.Certificate
	for _, data := range settings.SigningCerts {
		der, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			debug.Warning("Skipping undecodable certificate for %s: %v", issuer, err)
			continue
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			debug.Warning("Skipping unparsable certificate for %s: %v", issuer, err)
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// serviceProvider assembles a crewjam service provider against one IdP,
// rebuilding the IdP's entity descriptor from its stored settings blob.
func (p *Provider) serviceProvider(rec *models.IdPRecord, acsURL string) (*saml.ServiceProvider, *models.IdPSettings, error) {
	settings, err := parseSettings(rec)
	if err != nil {
		return nil, nil, err
	}

	entityURL, err := url.Parse(p.cfg.SPEntityID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse SP entity ID: %w", err)
	}
	acs, err := url.Parse(acsURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse ACS URL: %w", err)
	}

	sp := &saml.ServiceProvider{
		EntityID:    p.cfg.SPEntityID,
		IDPMetadata: buildIdPDescriptor(settings),
		MetadataURL: *entityURL,
		AcsURL:      *acs,
	}

	key, cert, err := p.signingKeypair()
	if err != nil {
		return nil, nil, err
	}
	if key != nil {
		sp.Key = key
		sp.Certificate = cert
		sp.SignatureMethod = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	}
	return sp, settings, nil
}

// signingKeypair loads the SP signing keypair configured for AuthnRequest
// signing. Returns nils when no keypair is configured; requests then go out
// unsigned.
func (p *Provider) signingKeypair() (*rsa.PrivateKey, *x509.Certificate, error) {
	if p.cfg.SPKeyFile == "" || p.cfg.SPCertFile == "" {
		return nil, nil, nil
	}
	p.keyOnce.Do(func() {
		p.key, p.cert, p.keyErr = loadKeypair(p.cfg.SPKeyFile, p.cfg.SPCertFile)
	})
	return p.key, p.cert, p.keyErr
}

func loadKeypair(keyFile, certFile string) (*rsa.PrivateKey, *x509.Certificate, error) {
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read SP private key: %w", err)
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, nil, err
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read SP certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, nil, fmt.Errorf("failed to decode SP certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse SP certificate: %w", err)
	}
	return key, cert, nil
}

// parsePrivateKey accepts PKCS#8 and PKCS#1 encoded RSA keys.
func parsePrivateKey(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode SP private key PEM")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("SP private key is not an RSA key")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SP private key: %w", err)
	}
	return key, nil
}

// acsForHost picks the configured ACS URL served by the requesting host, so
// one SP registration can cover several deployment hosts.
func (p *Provider) acsForHost(hostURL string) (string, error) {
	if hostURL == "" {
		return p.cfg.ACSURLs[0], nil
	}
	for _, acs := range p.cfg.ACSURLs {
		if strings.HasPrefix(acs, hostURL) {
			return acs, nil
		}
	}
	return "", ErrNoACSForHost
}

func parseSettings(rec *models.IdPRecord) (*models.IdPSettings, error) {
	settings := &models.IdPSettings{}
	if err := json.Unmarshal(rec.Settings, settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings for %s: %w", rec.ID, err)
	}
	return settings, nil
}

// buildIdPDescriptor reconstructs the IdP's entity descriptor from the
// persisted settings blob.
func buildIdPDescriptor(settings *models.IdPSettings) *saml.EntityDescriptor {
	var keyDescriptors []saml.KeyDescriptor
	for _, cert := range settings.SigningCerts {
		keyDescriptors = append(keyDescriptors, saml.KeyDescriptor{
			Use: "signing",
			KeyInfo: saml.KeyInfo{
				X509Data: saml.X509Data{
					X509Certificates: []saml.X509Certificate{{Data: cert}},
				},
			},
		})
	}

	var endpoints []saml.Endpoint
	for _, svc := range settings.SSOServices {
		endpoints = append(endpoints, saml.Endpoint{
			Binding:  svc.Binding,
			Location: svc.Location,
		})
	}

	return &saml.EntityDescriptor{
		EntityID: settings.EntityID,
		IDPSSODescriptors: []saml.IDPSSODescriptor{
			{
				SSODescriptor: saml.SSODescriptor{
					RoleDescriptor: saml.RoleDescriptor{
						KeyDescriptors: keyDescriptors,
					},
				},
				SingleSignOnServices: endpoints,
			},
		},
	}
}

// ssoLocation picks the IdP's SSO endpoint, preferring the redirect binding.
func ssoLocation(settings *models.IdPSettings) string {
	for _, svc := range settings.SSOServices {
		if svc.Binding == saml.HTTPRedirectBinding {
			return svc.Location
		}
	}
	for _, svc := range settings.SSOServices {
		if svc.Location != "" {
			return svc.Location
		}
	}
	return ""
}
