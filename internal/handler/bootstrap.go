package handler

import (
	"net/http"

	"github.com/octopushq/keygate/internal/server/middleware"
	"github.com/octopushq/keygate/internal/service"
)

// BootstrapHandler exposes the one-shot first-key endpoint. It is mounted
// outside the authenticated group: by definition there is no credential to
// present yet.
type BootstrapHandler struct {
	bootstrap *service.BootstrapService
	// masterKey optionally designates the bootstrap secret from configuration.
	masterKey string
}

// NewBootstrapHandler creates a new BootstrapHandler.
func NewBootstrapHandler(bootstrap *service.BootstrapService, masterKey string) *BootstrapHandler {
	return &BootstrapHandler{bootstrap: bootstrap, masterKey: masterKey}
}

// Bootstrap creates the master key if the store is empty. Returns 400 once
// any key exists. The plaintext secret in the response is shown exactly once.
// POST /api/v1/bootstrap
func (h *BootstrapHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	key, err := h.bootstrap.Bootstrap(r.Context(), h.masterKey, middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, keyWithSecretResponse{APIKey: *key, Secret: key.Secret})
}

// Status reports whether the store has been bootstrapped, without requiring
// authentication. It reveals only a boolean.
// GET /api/v1/bootstrap
func (h *BootstrapHandler) Status(w http.ResponseWriter, r *http.Request) {
	done, err := h.bootstrap.Bootstrapped(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bootstrapped": done,
	})
}
