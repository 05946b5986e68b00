package handler

import (
	"net/http"
	"time"

	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/server/middleware"
	"github.com/octopushq/keygate/internal/service"
)

// APIKeyHandler exposes the key lifecycle over HTTP. Every route is mounted
// behind admin-scope authentication; the acting principal comes from the
// request context.
type APIKeyHandler struct {
	keys *service.KeyService
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(keys *service.KeyService) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

// createKeyRequest is the expected payload for Create.
type createKeyRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Scopes      []string   `json:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AllowedIPs  []string   `json:"allowed_ips,omitempty"`
}

// keyWithSecretResponse includes the plaintext secret. It is returned only
// from Create, Rotate, and Bootstrap; the secret is visible exactly once.
type keyWithSecretResponse struct {
	model.APIKey
	Secret string `json:"api_key"`
}

// Create issues a new key and returns it with the plaintext secret.
// POST /api/v1/api-keys
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}

	scopes, err := model.ParseScopes(req.Scopes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), map[string]interface{}{
			"valid_scopes": model.FullScopeSet.List(),
		})
		return
	}

	key, err := h.keys.Create(r.Context(), service.CreateKeyParams{
		Name:        req.Name,
		Description: req.Description,
		Scopes:      scopes,
		ExpiresAt:   req.ExpiresAt,
		AllowedIPs:  req.AllowedIPs,
	}, middleware.GetPrincipal(r.Context()), middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, keyWithSecretResponse{APIKey: *key, Secret: key.Secret})
}

// List returns key records without secrets, newest first.
// GET /api/v1/api-keys
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 25, 1000)
	keys, err := h.keys.List(r.Context(), queryBool(r, "include_inactive"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta: &model.ResponseMeta{
			Count:  len(keys),
			Limit:  limit,
			Offset: offset,
		},
	})
}

// Get returns a single key record by id, without the secret.
// GET /api/v1/api-keys/{keyID}
func (h *APIKeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "keyID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	key, err := h.keys.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// updateKeyRequest is the expected payload for Update. Absent fields are left
// untouched; clear_expires_at removes the expiry.
type updateKeyRequest struct {
	Name           *string    `json:"name"`
	Description    *string    `json:"description"`
	Scopes         *[]string  `json:"scopes"`
	IsActive       *bool      `json:"is_active"`
	ExpiresAt      *time.Time `json:"expires_at"`
	ClearExpiresAt bool       `json:"clear_expires_at"`
	AllowedIPs     *[]string  `json:"allowed_ips"`
}

// Update applies a partial update to a key record.
// PATCH /api/v1/api-keys/{keyID}
func (h *APIKeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "keyID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	var req updateKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	params := service.UpdateKeyParams{
		Name:           req.Name,
		Description:    req.Description,
		IsActive:       req.IsActive,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiresAt: req.ClearExpiresAt,
		AllowedIPs:     req.AllowedIPs,
	}
	if req.Scopes != nil {
		scopes, err := model.ParseScopes(*req.Scopes)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), map[string]interface{}{
				"valid_scopes": model.FullScopeSet.List(),
			})
			return
		}
		params.Scopes = &scopes
	}

	key, err := h.keys.Update(r.Context(), id, params, middleware.GetPrincipal(r.Context()), middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Deactivate soft-deletes a key.
// POST /api/v1/api-keys/{keyID}/deactivate
func (h *APIKeyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "keyID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	key, err := h.keys.Deactivate(r.Context(), id, middleware.GetPrincipal(r.Context()), middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Delete permanently removes a key.
// DELETE /api/v1/api-keys/{keyID}
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "keyID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	if err := h.keys.Delete(r.Context(), id, middleware.GetPrincipal(r.Context()), middleware.ClientIP(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key deleted",
	})
}

// Rotate replaces a key with a fresh secret and deactivates the old one.
// POST /api/v1/api-keys/{keyID}/rotate
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "keyID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	key, err := h.keys.Rotate(r.Context(), id, middleware.GetPrincipal(r.Context()), middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, keyWithSecretResponse{APIKey: *key, Secret: key.Secret})
}

// ListExpiring returns active keys expiring within the given window.
// GET /api/v1/api-keys/expiring?within_days=7
func (h *APIKeyHandler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	days := clampInt(queryInt(r, "within_days", 7), 1, 365)

	keys, err := h.keys.ListExpiring(r.Context(), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// CleanupExpired deactivates every key whose expiry has passed.
// POST /api/v1/api-keys/cleanup-expired
func (h *APIKeyHandler) CleanupExpired(w http.ResponseWriter, r *http.Request) {
	count, err := h.keys.SweepExpired(r.Context(), middleware.GetPrincipal(r.Context()), middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deactivated": count,
	})
}
