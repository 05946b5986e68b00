package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/octopushq/keygate/internal/keygen"
	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/store"
)

// maxSecretRetries bounds the regenerate-and-retry loop on a secret
// collision. One retry has never been observed to fail in practice; five is
// paranoia.
const maxSecretRetries = 5

// rotatedNameSuffix marks a key created by rotation.
const rotatedNameSuffix = " (rotated)"

// KeyService owns the key lifecycle: create, update, deactivate, delete,
// rotate, and the expiration sweep. Each mutating operation runs its
// read-check-write sequence and audit entry in a single store transaction.
type KeyService struct {
	store  *store.Store
	audit  *AuditService
	logger *slog.Logger
	now    func() time.Time
}

// NewKeyService creates a KeyService.
func NewKeyService(st *store.Store, audit *AuditService, logger *slog.Logger) *KeyService {
	return &KeyService{
		store:  st,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// CreateKeyParams holds the caller-supplied fields for a new key.
type CreateKeyParams struct {
	Name        string
	Description string
	Scopes      model.ScopeSet
	ExpiresAt   *time.Time
	AllowedIPs  []string
}

// UpdateKeyParams holds a partial update; nil fields are left untouched.
// ClearExpiresAt removes the expiry outright (distinct from not providing
// one).
type UpdateKeyParams struct {
	Name           *string
	Description    *string
	Scopes         *model.ScopeSet
	IsActive       *bool
	ExpiresAt      *time.Time
	ClearExpiresAt bool
	AllowedIPs     *[]string
}

// Create generates a secret, persists the record, and audits the creation.
// The plaintext secret on the returned record is shown exactly once; it
// cannot be retrieved again through the API. Scopes default to read when
// empty.
func (s *KeyService) Create(ctx context.Context, p CreateKeyParams, actor *Principal, sourceIP string) (*model.APIKey, error) {
	return s.createKey(ctx, p, "", actorID(actor), sourceIP)
}

// createKey is the shared create path. secretOverride is used by the
// bootstrap gate when the operator designates the master secret; an empty
// override generates one.
func (s *KeyService) createKey(ctx context.Context, p CreateKeyParams, secretOverride string, actor *int64, sourceIP string) (*model.APIKey, error) {
	scopes := p.Scopes
	if scopes.IsEmpty() {
		scopes = model.ScopeSet(0).With(model.ScopeRead)
	}

	for attempt := 0; attempt < maxSecretRetries; attempt++ {
		secret := secretOverride
		if secret == "" {
			generated, err := keygen.New()
			if err != nil {
				return nil, err
			}
			secret = generated
		}

		key := &model.APIKey{
			Secret:         secret,
			Name:           p.Name,
			Description:    p.Description,
			Scopes:         scopes,
			IsActive:       true,
			ExpiresAt:      p.ExpiresAt,
			AllowedIPs:     p.AllowedIPs,
			CreatedByKeyID: actor,
		}

		err := s.store.InTx(ctx, func(tx *store.Tx) error {
			if err := tx.CreateAPIKey(ctx, key); err != nil {
				return err
			}
			return s.audit.recordTx(ctx, tx, model.AuditActionCreate, &key.ID, actor, sourceIP, map[string]interface{}{
				"name":        key.Name,
				"scopes":      key.Scopes.String(),
				"expires_at":  formatExpiry(key.ExpiresAt),
				"allowed_ips": strings.Join(key.AllowedIPs, ","),
			})
		})
		if errors.Is(err, store.ErrDuplicateSecret) {
			if secretOverride != "" {
				// A designated secret cannot be regenerated.
				return nil, fmt.Errorf("designated secret already in use: %w", err)
			}
			s.logger.Warn("secret collision, regenerating", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return key, nil
	}
	return nil, errors.New("generate unique secret: retries exhausted")
}

// Get returns a key record by id.
func (s *KeyService) Get(ctx context.Context, id int64) (*model.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return key, nil
}

// List returns key records, newest first. Inactive keys are excluded unless
// includeInactive is set.
func (s *KeyService) List(ctx context.Context, includeInactive bool, limit, offset int) ([]model.APIKey, error) {
	return s.store.ListAPIKeys(ctx, includeInactive, limit, offset)
}

// Update mutates only the provided fields and audits a before/after diff.
func (s *KeyService) Update(ctx context.Context, id int64, p UpdateKeyParams, actor *Principal, sourceIP string) (*model.APIKey, error) {
	var updated *model.APIKey

	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		key, err := tx.GetAPIKey(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrKeyNotFound
			}
			return err
		}

		changes := map[string]interface{}{}
		applyChange := func(field string, old, new interface{}, set func()) {
			if fmt.Sprint(old) == fmt.Sprint(new) {
				return
			}
			changes[field] = map[string]interface{}{"old": old, "new": new}
			set()
		}

		if p.Name != nil {
			applyChange("name", key.Name, *p.Name, func() { key.Name = *p.Name })
		}
		if p.Description != nil {
			applyChange("description", key.Description, *p.Description, func() { key.Description = *p.Description })
		}
		if p.Scopes != nil {
			applyChange("scopes", key.Scopes.String(), p.Scopes.String(), func() { key.Scopes = *p.Scopes })
		}
		if p.IsActive != nil {
			applyChange("is_active", key.IsActive, *p.IsActive, func() { key.IsActive = *p.IsActive })
		}
		if p.ClearExpiresAt {
			applyChange("expires_at", formatExpiry(key.ExpiresAt), "", func() { key.ExpiresAt = nil })
		} else if p.ExpiresAt != nil {
			applyChange("expires_at", formatExpiry(key.ExpiresAt), formatExpiry(p.ExpiresAt), func() { key.ExpiresAt = p.ExpiresAt })
		}
		if p.AllowedIPs != nil {
			applyChange("allowed_ips", strings.Join(key.AllowedIPs, ","), strings.Join(*p.AllowedIPs, ","), func() { key.AllowedIPs = *p.AllowedIPs })
		}

		if err := tx.UpdateAPIKey(ctx, key); err != nil {
			return err
		}
		if err := s.audit.recordTx(ctx, tx, model.AuditActionUpdate, &key.ID, actorID(actor), sourceIP, map[string]interface{}{
			"changes": changes,
		}); err != nil {
			return err
		}

		updated = key
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Deactivate soft-deletes a key: it remains in the store for audit purposes
// but can never authenticate again. An actor cannot deactivate its own key.
func (s *KeyService) Deactivate(ctx context.Context, id int64, actor *Principal, sourceIP string) (*model.APIKey, error) {
	if err := guardSelf(actor, id); err != nil {
		return nil, err
	}

	var deactivated *model.APIKey
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		key, err := tx.GetAPIKey(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrKeyNotFound
			}
			return err
		}

		key.IsActive = false
		if err := tx.UpdateAPIKey(ctx, key); err != nil {
			return err
		}
		if err := s.audit.recordTx(ctx, tx, model.AuditActionDeactivate, &key.ID, actorID(actor), sourceIP, map[string]interface{}{
			"name": key.Name,
		}); err != nil {
			return err
		}

		deactivated = key
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deactivated, nil
}

// Delete permanently removes a key. The deletion is audited before the row
// disappears, with identifying fields denormalized into the entry so the
// ledger survives the subject. An actor cannot delete its own key.
func (s *KeyService) Delete(ctx context.Context, id int64, actor *Principal, sourceIP string) error {
	if err := guardSelf(actor, id); err != nil {
		return err
	}

	return s.store.InTx(ctx, func(tx *store.Tx) error {
		key, err := tx.GetAPIKey(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrKeyNotFound
			}
			return err
		}

		// Audit first: the entry must outlive the row.
		if err := s.audit.recordTx(ctx, tx, model.AuditActionDelete, &key.ID, actorID(actor), sourceIP, map[string]interface{}{
			"name":   key.Name,
			"scopes": key.Scopes.String(),
		}); err != nil {
			return err
		}
		return tx.DeleteAPIKey(ctx, id)
	})
}

// Rotate creates a replacement key carrying the old key's authorization
// envelope and deactivates the old one, all in one transaction. The actor
// cannot rotate the key authenticating its own request, since that would
// invalidate the caller's session mid-flight.
func (s *KeyService) Rotate(ctx context.Context, id int64, actor *Principal, sourceIP string) (*model.APIKey, error) {
	if err := guardSelf(actor, id); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxSecretRetries; attempt++ {
		secret, err := keygen.New()
		if err != nil {
			return nil, err
		}

		var newKey *model.APIKey
		err = s.store.InTx(ctx, func(tx *store.Tx) error {
			old, err := tx.GetAPIKey(ctx, id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return ErrKeyNotFound
				}
				return err
			}

			newKey = &model.APIKey{
				Secret:         secret,
				Name:           old.Name + rotatedNameSuffix,
				Description:    old.Description,
				Scopes:         old.Scopes,
				IsActive:       true,
				ExpiresAt:      old.ExpiresAt,
				AllowedIPs:     old.AllowedIPs,
				CreatedByKeyID: actorID(actor),
			}
			if err := tx.CreateAPIKey(ctx, newKey); err != nil {
				return err
			}
			if err := s.audit.recordTx(ctx, tx, model.AuditActionCreate, &newKey.ID, actorID(actor), sourceIP, map[string]interface{}{
				"name":         newKey.Name,
				"scopes":       newKey.Scopes.String(),
				"expires_at":   formatExpiry(newKey.ExpiresAt),
				"rotated_from": old.ID,
			}); err != nil {
				return err
			}

			old.IsActive = false
			if err := tx.UpdateAPIKey(ctx, old); err != nil {
				return err
			}
			if err := s.audit.recordTx(ctx, tx, model.AuditActionDeactivate, &old.ID, actorID(actor), sourceIP, map[string]interface{}{
				"name":   old.Name,
				"reason": "rotated",
			}); err != nil {
				return err
			}

			return s.audit.recordTx(ctx, tx, model.AuditActionRotate, &old.ID, actorID(actor), sourceIP, map[string]interface{}{
				"old_key_id":   old.ID,
				"new_key_id":   newKey.ID,
				"old_key_name": old.Name,
				"new_key_name": newKey.Name,
			})
		})
		if errors.Is(err, store.ErrDuplicateSecret) {
			s.logger.Warn("secret collision during rotation, regenerating", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return newKey, nil
	}
	return nil, errors.New("generate unique secret: retries exhausted")
}

// ListExpiring returns active keys whose expiry falls within the next
// withinDays days, ascending by expiry.
func (s *KeyService) ListExpiring(ctx context.Context, withinDays int) ([]model.APIKey, error) {
	now := s.now().UTC()
	return s.store.ListExpiring(ctx, now, now.Add(time.Duration(withinDays)*24*time.Hour))
}

// SweepExpired deactivates every active key whose expiry has passed and
// returns the number affected. The sweep is idempotent: a second consecutive
// run affects zero keys. It is invoked by an external periodic trigger or on
// demand; this service owns no timer.
func (s *KeyService) SweepExpired(ctx context.Context, actor *Principal, sourceIP string) (int, error) {
	now := s.now().UTC()
	count := 0

	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		expired, err := tx.ListExpired(ctx, now)
		if err != nil {
			return err
		}
		for i := range expired {
			key := &expired[i]
			key.IsActive = false
			if err := tx.UpdateAPIKey(ctx, key); err != nil {
				return err
			}
			if err := s.audit.recordTx(ctx, tx, model.AuditActionUpdate, &key.ID, actorID(actor), sourceIP, map[string]interface{}{
				"reason":     "expired_sweep",
				"name":       key.Name,
				"expired_at": formatExpiry(key.ExpiresAt),
			}); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// guardSelf rejects mutating operations whose target is the actor's own key.
// A nil actor is system-originated (CLI, sweep) and exempt.
func guardSelf(actor *Principal, targetID int64) error {
	if actor != nil && actor.ID() == targetID {
		return ErrSelfModification
	}
	return nil
}

func actorID(actor *Principal) *int64 {
	if actor == nil {
		return nil
	}
	id := actor.ID()
	return &id
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
