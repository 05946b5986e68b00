package service

import (
	"context"
	"log/slog"

	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/store"
)

// masterKeyName is the name given to the first key in an empty store.
const masterKeyName = "Master API Key"

// BootstrapService solves the chicken-and-egg problem of an empty store:
// every key operation requires an authenticated admin, but there is no key to
// authenticate with. Bootstrap creates the first key without authentication,
// and refuses once any key exists.
type BootstrapService struct {
	store  *store.Store
	keys   *KeyService
	logger *slog.Logger
}

// NewBootstrapService creates a BootstrapService.
func NewBootstrapService(st *store.Store, keys *KeyService, logger *slog.Logger) *BootstrapService {
	return &BootstrapService{store: st, keys: keys, logger: logger}
}

// Bootstrapped reports whether the store already holds at least one key,
// counting inactive and expired keys. A store that has ever issued a key is
// permanently past its bootstrap window.
func (s *BootstrapService) Bootstrapped(ctx context.Context) (bool, error) {
	count, err := s.store.CountAPIKeys(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Bootstrap creates the master key with the full scope set. When
// masterSecret is non-empty the operator has designated the secret out of
// band; otherwise one is generated. The existence check happens at call
// time, so the gate closes the moment the first key commits.
func (s *BootstrapService) Bootstrap(ctx context.Context, masterSecret, sourceIP string) (*model.APIKey, error) {
	done, err := s.Bootstrapped(ctx)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, ErrAlreadyBootstrapped
	}

	key, err := s.keys.createKey(ctx, CreateKeyParams{
		Name:        masterKeyName,
		Description: "Initial key created by bootstrap, granted every scope",
		Scopes:      model.FullScopeSet,
	}, masterSecret, nil, sourceIP)
	if err != nil {
		return nil, err
	}

	s.logger.Info("store bootstrapped", "key_id", key.ID, "source_ip", sourceIP)
	return key, nil
}
