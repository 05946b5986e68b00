package handler

import (
	"net/http"
	"time"

	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/service"
	"github.com/octopushq/keygate/internal/store"
)

// AuditHandler serves read access to the audit ledger.
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List returns ledger entries newest first, with optional filters on subject
// key, action, and time range.
// GET /api/v1/api-keys/audit-logs?api_key_id=&action=&since=&until=&limit=&offset=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50, 1000)

	filter := store.AuditFilter{
		Action: model.AuditAction(queryString(r, "action")),
	}
	if id := queryInt(r, "api_key_id", 0); id > 0 {
		keyID := int64(id)
		filter.APIKeyID = &keyID
	}
	var err error
	if filter.Since, err = queryTime(r, "since"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid since timestamp, want RFC 3339")
		return
	}
	if filter.Until, err = queryTime(r, "until"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid until timestamp, want RFC 3339")
		return
	}

	entries, total, err := h.audit.Query(r.Context(), filter, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: entries,
		Meta: &model.ResponseMeta{
			Count:  len(entries),
			Total:  &total,
			Limit:  limit,
			Offset: offset,
		},
	})
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	val := queryString(r, key)
	if val == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
