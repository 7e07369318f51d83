package auth

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"

	"github.com/reponaut/edugain/internal/auth"
	"github.com/reponaut/edugain/internal/config"
	"github.com/reponaut/edugain/internal/repository"
	"github.com/reponaut/edugain/internal/saml"
	"github.com/reponaut/edugain/pkg/debug"
)

// SAMLHandler handles the login redirect/response cycle against federation
// IdPs.
type SAMLHandler struct {
	cfg      *config.Config
	provider *saml.Provider
	resolver *saml.Resolver
	users    *repository.UserRepository
	sessions *auth.SessionManager
}

// NewSAMLHandler creates a new SAML handler.
func NewSAMLHandler(cfg *config.Config, provider *saml.Provider, resolver *saml.Resolver, users *repository.UserRepository, sessions *auth.SessionManager) *SAMLHandler {
	return &SAMLHandler{
		cfg:      cfg,
		provider: provider,
		resolver: resolver,
		users:    users,
		sessions: sessions,
	}
}

// AuthnRequest redirects the user agent to the chosen IdP with an
// AuthnRequest. The entityID query parameter names the IdP; next is carried
// as relay state and becomes the post-login redirect.
func (h *SAMLHandler) AuthnRequest(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entityID")
	if entityID == "" {
		http.Error(w, "Missing required parameter: entityID", http.StatusBadRequest)
		return
	}

	relayState := safeRedirectTarget(r.URL.Query().Get("next"))
	if relayState == "" {
		relayState = h.cfg.PostLoginRedirect
	}

	redirectURL, err := h.provider.AuthnRedirect(r.Context(), entityID, relayState, hostURL(r))
	if err != nil {
		debug.Warning("Failed to build AuthnRequest for %s: %v", entityID, err)
		http.Error(w, "Unable to start login", http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// ACS is the assertion consumer service: it accepts the POSTed SAML
// response, resolves the federated identity, provisions an account when
// none exists, and establishes the session. Rejections are generic on the
// wire; detail goes to the log only.
func (h *SAMLHandler) ACS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	samlResponse := r.PostFormValue("SAMLResponse")
	if samlResponse == "" {
		http.Error(w, "POST contained no SAMLResponse", http.StatusBadRequest)
		return
	}
	relayState := safeRedirectTarget(r.PostFormValue("RelayState"))

	identity, err := h.resolver.Resolve(r.Context(), samlResponse, relayState)
	if err != nil {
		debug.Error("SAML response resolution failed: %v", err)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	user := identity.MatchedUser
	if user == nil {
		// Random usernames avoid collisions between users with the same
		// name; the username is never shown to other users anyway.
		identity.SuggestedUsername = "user-" + randomHex(16)
		user, err = saml.ProvisionUser(r.Context(), h.users, identity)
		if err != nil {
			debug.Error("Account provisioning failed: %v", err)
			http.Error(w, "Authentication failed", http.StatusUnauthorized)
			return
		}
	}

	if !user.Active {
		debug.Warning("Login attempt for deactivated account %s", user.ID)
		http.Error(w, "Account is disabled", http.StatusForbidden)
		return
	}

	token, err := h.sessions.IssueToken(user.ID.String())
	if err != nil {
		debug.Error("Failed to issue session token: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	auth.SetSessionCookie(w, r, token, h.sessions.ExpirySeconds())

	redirect := identity.PostLoginRedirect
	if redirect == "" {
		redirect = h.cfg.PostLoginRedirect
	}
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// SPMetadata serves this service provider's metadata XML.
func (h *SAMLHandler) SPMetadata(w http.ResponseWriter, r *http.Request) {
	xmlBytes, err := h.provider.SPMetadata()
	if err != nil {
		debug.Error("Failed to render SP metadata: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write(xmlBytes)
}

// safeRedirectTarget only accepts local, path-absolute redirect targets;
// anything else (absolute URLs, protocol-relative URLs) is dropped so a
// crafted relay state can't bounce users off-site.
func safeRedirectTarget(target string) string {
	if target == "" {
		return ""
	}
	// browsers treat both // and /\ as protocol-relative
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return ""
	}
	if u, err := url.Parse(target); err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return target
}

func hostURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host
}

func randomHex(nbytes int) string {
	raw := make([]byte, nbytes)
	rand.Read(raw)
	return hex.EncodeToString(raw)
}
