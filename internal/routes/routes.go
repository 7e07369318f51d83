package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/reponaut/edugain/internal/auth"
	"github.com/reponaut/edugain/internal/config"
	"github.com/reponaut/edugain/internal/db"
	"github.com/reponaut/edugain/internal/handlers"
	authhandler "github.com/reponaut/edugain/internal/handlers/auth"
	"github.com/reponaut/edugain/internal/middleware"
	"github.com/reponaut/edugain/internal/repository"
	"github.com/reponaut/edugain/internal/saml"
	"github.com/reponaut/edugain/pkg/debug"
)

// Setup configures all SAML login and discovery routes and returns the
// router.
func Setup(cfg *config.Config, database *db.DB) *mux.Router {
	debug.Debug("Setting up routes")

	idpRepo := repository.NewIdPRepository(database)
	userRepo := repository.NewUserRepository(database)

	provider := saml.NewProvider(cfg, idpRepo)
	resolver := saml.NewResolver(provider, userRepo, cfg.RequireSignedLogins)
	sessions := auth.NewSessionManager(cfg.JWTSecret, cfg.SessionExpiryMinutes)

	samlHandler := authhandler.NewSAMLHandler(cfg, provider, resolver, userRepo, sessions)
	discoHandler := handlers.NewDiscoHandler(idpRepo)

	router := mux.NewRouter()

	router.HandleFunc("/saml/login/authn-request", samlHandler.AuthnRequest).Methods("GET")
	debug.Info("Configured endpoint: GET /saml/login/authn-request")

	router.HandleFunc("/saml/acs", samlHandler.ACS).Methods("POST")
	debug.Info("Configured endpoint: POST /saml/acs")

	router.HandleFunc("/saml/sp/xml", samlHandler.SPMetadata).Methods("GET")
	debug.Info("Configured endpoint: GET /saml/sp/xml")

	router.HandleFunc("/saml/discofeed", discoHandler.Feed).Methods("GET")
	debug.Info("Configured endpoint: GET /saml/discofeed")

	requireAuth := middleware.RequireAuth(sessions, userRepo)
	router.Handle("/saml/me", requireAuth(http.HandlerFunc(handlers.CurrentUser))).Methods("GET")
	debug.Info("Configured endpoint: GET /saml/me")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	debug.Info("Routes configured successfully")
	return router
}
