package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/store"
)

// Principal is the resolved identity returned by a successful
// authentication. It wraps the key record that authenticated.
type Principal struct {
	Key model.APIKey
}

// ID returns the authenticated key's id.
func (p *Principal) ID() int64 {
	return p.Key.ID
}

// HasScope reports whether the principal satisfies the scope, with admin
// implying all.
func (p *Principal) HasScope(scope model.Scope) bool {
	return p.Key.Scopes.Allows(scope)
}

// AuthService resolves presented secrets into principals. Every call writes
// exactly one audit entry (auth_success or auth_failed) and, on success, one
// best-effort last-used update on the record.
type AuthService struct {
	store  *store.Store
	audit  *AuditService
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthService creates an AuthService.
func NewAuthService(st *store.Store, audit *AuditService, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:  st,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// Authenticate checks the presented secret against the store and evaluates
// the required scope. On denial it returns a *DeniedError whose external
// message is uniform; the specific reason goes to the audit ledger only.
// An empty secret (missing credential header) denies as invalid_or_inactive
// without touching the store.
func (s *AuthService) Authenticate(ctx context.Context, secret string, requiredScope model.Scope, sourceIP string) (*Principal, error) {
	if secret == "" {
		return nil, s.deny(ctx, DenialInvalidOrInactive, nil, sourceIP, nil)
	}

	key, err := s.store.GetAPIKeyBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.deny(ctx, DenialInvalidOrInactive, nil, sourceIP, nil)
		}
		return nil, err
	}

	if !key.IsActive {
		return nil, s.deny(ctx, DenialInvalidOrInactive, key, sourceIP, nil)
	}

	now := s.now()
	if key.ExpiresAt != nil && !key.ExpiresAt.After(now) {
		return nil, s.deny(ctx, DenialExpired, key, sourceIP, map[string]interface{}{
			"expired_at": key.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}

	if !key.AllowsIP(sourceIP) {
		return nil, s.deny(ctx, DenialIPNotAllowed, key, sourceIP, nil)
	}

	if !key.Scopes.Allows(requiredScope) {
		return nil, s.deny(ctx, DenialInsufficientScope, key, sourceIP, map[string]interface{}{
			"required_scope": string(requiredScope),
		})
	}

	// Best-effort telemetry: a lost update under concurrent authentications
	// of the same key is harmless.
	if err := s.store.TouchAPIKey(ctx, key.ID, now.UTC(), sourceIP); err != nil {
		s.logger.Warn("failed to update key last-used fields", "key_id", key.ID, "error", err)
	}

	if err := s.audit.Record(ctx, model.AuditActionAuthSuccess, &key.ID, &key.ID, sourceIP, map[string]interface{}{
		"name":  key.Name,
		"scope": string(requiredScope),
	}); err != nil {
		return nil, err
	}

	return &Principal{Key: *key}, nil
}

// deny records the auth_failed entry and returns the uniform denial error.
func (s *AuthService) deny(ctx context.Context, reason DenialReason, key *model.APIKey, sourceIP string, extra map[string]interface{}) error {
	details := map[string]interface{}{
		"reason": string(reason),
	}
	for k, v := range extra {
		details[k] = v
	}

	var subjectID *int64
	if key != nil {
		subjectID = &key.ID
		details["name"] = key.Name
	}

	if err := s.audit.Record(ctx, model.AuditActionAuthFailed, subjectID, nil, sourceIP, details); err != nil {
		return err
	}
	return &DeniedError{Reason: reason}
}
