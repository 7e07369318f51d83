package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/reponaut/edugain/internal/middleware"
	"github.com/reponaut/edugain/pkg/debug"
)

// CurrentUser returns the account behind the request's session cookie.
// Mounted behind RequireAuth, so a missing user here is a wiring bug.
func CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(user); err != nil {
		debug.Error("Failed to encode current user: %v", err)
	}
}
