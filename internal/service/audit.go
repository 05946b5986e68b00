package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/store"
)

// AuditService appends to and queries the immutable audit ledger. Every key
// lifecycle event and every authentication attempt produces exactly one
// entry; no operation in this package skips the write path.
type AuditService struct {
	store  *store.Store
	logger *slog.Logger
}

// NewAuditService creates an AuditService.
func NewAuditService(st *store.Store, logger *slog.Logger) *AuditService {
	return &AuditService{store: st, logger: logger}
}

// Record appends an entry to the ledger. subjectID and actorID may be nil
// (failed anonymous attempts, system-originated events).
func (a *AuditService) Record(ctx context.Context, action model.AuditAction, subjectID, actorID *int64, sourceIP string, details map[string]interface{}) error {
	entry := &model.AuditLog{
		APIKeyID:   subjectID,
		Action:     action,
		ActorKeyID: actorID,
		SourceIP:   sourceIP,
		Details:    encodeDetails(details),
	}
	if err := a.store.InsertAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// recordTx appends an entry within an open transaction, so lifecycle
// mutations and their audit facts commit together.
func (a *AuditService) recordTx(ctx context.Context, tx *store.Tx, action model.AuditAction, subjectID, actorID *int64, sourceIP string, details map[string]interface{}) error {
	entry := &model.AuditLog{
		APIKeyID:   subjectID,
		Action:     action,
		ActorKeyID: actorID,
		SourceIP:   sourceIP,
		Details:    encodeDetails(details),
	}
	if err := tx.InsertAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Query returns ledger entries matching the filter, newest first, along with
// the total count for pagination. Admin-scope enforcement is the caller's
// responsibility.
func (a *AuditService) Query(ctx context.Context, filter store.AuditFilter, limit, offset int) ([]model.AuditLog, int64, error) {
	entries, err := a.store.ListAuditLogs(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := a.store.CountAuditLogs(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// encodeDetails marshals the details payload. A payload that cannot be
// marshalled is replaced by an error marker rather than dropping the entry.
func encodeDetails(details map[string]interface{}) string {
	if len(details) == 0 {
		return ""
	}
	data, err := json.Marshal(details)
	if err != nil {
		return `{"error":"unencodable details"}`
	}
	return string(data)
}
