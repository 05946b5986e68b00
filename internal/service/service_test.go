package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/store"
)

type testEnv struct {
	store     *store.Store
	audit     *AuditService
	auth      *AuthService
	keys      *KeyService
	bootstrap *BootstrapService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := NewAuditService(st, logger)
	keys := NewKeyService(st, audit, logger)
	return &testEnv{
		store:     st,
		audit:     audit,
		auth:      NewAuthService(st, audit, logger),
		keys:      keys,
		bootstrap: NewBootstrapService(st, keys, logger),
	}
}

// mustCreate issues a key directly through the service, failing the test on
// error.
func (e *testEnv) mustCreate(t *testing.T, p CreateKeyParams) *model.APIKey {
	t.Helper()
	key, err := e.keys.Create(context.Background(), p, nil, "127.0.0.1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return key
}

// lastEntry returns the newest ledger entry for the given action.
func (e *testEnv) lastEntry(t *testing.T, action model.AuditAction) model.AuditLog {
	t.Helper()
	entries, _, err := e.audit.Query(context.Background(), store.AuditFilter{Action: action}, 1, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("no audit entry with action %q", action)
	}
	return entries[0]
}

// entryCount returns the total ledger size for the given filter.
func (e *testEnv) entryCount(t *testing.T, filter store.AuditFilter) int64 {
	t.Helper()
	_, total, err := e.audit.Query(context.Background(), filter, 1, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return total
}

// decodeDetails unmarshals an entry's details payload.
func decodeDetails(t *testing.T, entry model.AuditLog) map[string]interface{} {
	t.Helper()
	if entry.Details == "" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(entry.Details), &out); err != nil {
		t.Fatalf("unmarshal details %q: %v", entry.Details, err)
	}
	return out
}

func scopesOf(t *testing.T, tokens ...string) model.ScopeSet {
	t.Helper()
	set, err := model.ParseScopes(tokens)
	if err != nil {
		t.Fatalf("ParseScopes: %v", err)
	}
	return set
}

func principalFor(key *model.APIKey) *Principal {
	return &Principal{Key: *key}
}
