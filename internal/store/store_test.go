package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/octopushq/keygate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustScopes(t *testing.T, tokens ...string) model.ScopeSet {
	t.Helper()
	set, err := model.ParseScopes(tokens)
	if err != nil {
		t.Fatalf("ParseScopes: %v", err)
	}
	return set
}

func TestCreateAndGetAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &model.APIKey{
		Secret:      "octopus_test_secret_1",
		Name:        "ci",
		Description: "pipeline key",
		Scopes:      mustScopes(t, "read", "write"),
		IsActive:    true,
		AllowedIPs:  []string{"10.0.0.1", "10.0.0.2"},
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if key.ID == 0 {
		t.Fatal("expected assigned ID")
	}
	if key.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	got, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.Secret != key.Secret {
		t.Errorf("Secret: got %q, want %q", got.Secret, key.Secret)
	}
	if got.Scopes.String() != "read,write" {
		t.Errorf("Scopes: got %q, want %q", got.Scopes.String(), "read,write")
	}
	if len(got.AllowedIPs) != 2 || got.AllowedIPs[0] != "10.0.0.1" {
		t.Errorf("AllowedIPs: got %v", got.AllowedIPs)
	}

	bySecret, err := s.GetAPIKeyBySecret(ctx, key.Secret)
	if err != nil {
		t.Fatalf("GetAPIKeyBySecret: %v", err)
	}
	if bySecret.ID != key.ID {
		t.Errorf("ID: got %d, want %d", bySecret.ID, key.ID)
	}
}

func TestCreateAPIKeyDuplicateSecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &model.APIKey{Secret: "octopus_dup", Name: "a", Scopes: mustScopes(t, "read"), IsActive: true}
	if err := s.CreateAPIKey(ctx, first); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	second := &model.APIKey{Secret: "octopus_dup", Name: "b", Scopes: mustScopes(t, "read"), IsActive: true}
	if err := s.CreateAPIKey(ctx, second); !errors.Is(err, ErrDuplicateSecret) {
		t.Errorf("expected ErrDuplicateSecret, got %v", err)
	}
}

func TestGetAPIKeyNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetAPIKey(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAPIKey: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetAPIKeyBySecret(ctx, "octopus_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAPIKeyBySecret: expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &model.APIKey{Secret: "octopus_upd", Name: "before", Scopes: mustScopes(t, "read"), IsActive: true}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	key.Name = "after"
	key.Scopes = mustScopes(t, "read", "admin")
	key.IsActive = false
	if err := s.UpdateAPIKey(ctx, key); err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}

	got, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.Name != "after" || got.IsActive || !got.Scopes.Has(model.ScopeAdmin) {
		t.Errorf("update not persisted: %+v", got)
	}

	missing := &model.APIKey{ID: 12345, Name: "x", Scopes: mustScopes(t, "read")}
	if err := s.UpdateAPIKey(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &model.APIKey{Secret: "octopus_del", Name: "doomed", Scopes: mustScopes(t, "read"), IsActive: true}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if err := s.DeleteAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if _, err := s.GetAPIKey(ctx, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteAPIKey(ctx, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestTouchAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &model.APIKey{Secret: "octopus_touch", Name: "used", Scopes: mustScopes(t, "read"), IsActive: true}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	when := time.Now().UTC().Truncate(time.Second)
	if err := s.TouchAPIKey(ctx, key.ID, when, "203.0.113.7"); err != nil {
		t.Fatalf("TouchAPIKey: %v", err)
	}

	got, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.LastUsedAt == nil {
		t.Fatal("expected LastUsedAt to be set")
	}
	if got.LastUsedIP != "203.0.113.7" {
		t.Errorf("LastUsedIP: got %q", got.LastUsedIP)
	}
}

func TestListAPIKeysActiveFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := &model.APIKey{Secret: "octopus_a", Name: "active", Scopes: mustScopes(t, "read"), IsActive: true}
	inactive := &model.APIKey{Secret: "octopus_i", Name: "inactive", Scopes: mustScopes(t, "read"), IsActive: false}
	for _, k := range []*model.APIKey{active, inactive} {
		if err := s.CreateAPIKey(ctx, k); err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
	}

	keys, err := s.ListAPIKeys(ctx, false, 100, 0)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != active.ID {
		t.Errorf("active-only list: got %d keys", len(keys))
	}

	all, err := s.ListAPIKeys(ctx, true, 100, 0)
	if err != nil {
		t.Fatalf("ListAPIKeys all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("full list: got %d keys, want 2", len(all))
	}

	count, err := s.CountAPIKeys(ctx)
	if err != nil {
		t.Fatalf("CountAPIKeys: %v", err)
	}
	if count != 2 {
		t.Errorf("CountAPIKeys: got %d, want 2", count)
	}
}

func TestListExpiringWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	soon := now.Add(24 * time.Hour)
	later := now.Add(30 * 24 * time.Hour)
	past := now.Add(-time.Hour)

	mk := func(secret string, expires *time.Time, active bool) *model.APIKey {
		k := &model.APIKey{Secret: secret, Name: secret, Scopes: mustScopes(t, "read"), IsActive: active, ExpiresAt: expires}
		if err := s.CreateAPIKey(ctx, k); err != nil {
			t.Fatalf("CreateAPIKey(%s): %v", secret, err)
		}
		return k
	}

	expiringSoon := mk("octopus_soon", &soon, true)
	mk("octopus_later", &later, true)
	mk("octopus_past", &past, true)
	mk("octopus_none", nil, true)
	mk("octopus_inactive", &soon, false)

	within, err := s.ListExpiring(ctx, now, now.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("ListExpiring: %v", err)
	}
	if len(within) != 1 || within[0].ID != expiringSoon.ID {
		t.Errorf("ListExpiring: got %d keys", len(within))
	}

	err = s.InTx(ctx, func(tx *Tx) error {
		expired, err := tx.ListExpired(ctx, now)
		if err != nil {
			return err
		}
		if len(expired) != 1 || expired[0].Secret != "octopus_past" {
			t.Errorf("ListExpired: got %d keys", len(expired))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

func TestAuditLogFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keyID := int64(7)
	entries := []*model.AuditLog{
		{APIKeyID: &keyID, Action: model.AuditActionCreate, SourceIP: "10.0.0.1", Details: `{"name":"a"}`},
		{APIKeyID: &keyID, Action: model.AuditActionAuthSuccess, SourceIP: "10.0.0.1"},
		{Action: model.AuditActionAuthFailed, SourceIP: "10.0.0.9", Details: `{"reason":"invalid_or_inactive"}`},
	}
	for _, e := range entries {
		if err := s.InsertAuditLog(ctx, e); err != nil {
			t.Fatalf("InsertAuditLog: %v", err)
		}
	}

	all, err := s.ListAuditLogs(ctx, AuditFilter{}, 100, 0)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	// Newest first
	if all[0].Action != model.AuditActionAuthFailed {
		t.Errorf("expected newest entry first, got %q", all[0].Action)
	}

	byKey, err := s.ListAuditLogs(ctx, AuditFilter{APIKeyID: &keyID}, 100, 0)
	if err != nil {
		t.Fatalf("ListAuditLogs by key: %v", err)
	}
	if len(byKey) != 2 {
		t.Errorf("by key: got %d entries, want 2", len(byKey))
	}

	byAction, err := s.ListAuditLogs(ctx, AuditFilter{Action: model.AuditActionCreate}, 100, 0)
	if err != nil {
		t.Fatalf("ListAuditLogs by action: %v", err)
	}
	if len(byAction) != 1 || byAction[0].Details != `{"name":"a"}` {
		t.Errorf("by action: got %d entries", len(byAction))
	}

	count, err := s.CountAuditLogs(ctx, AuditFilter{APIKeyID: &keyID})
	if err != nil {
		t.Fatalf("CountAuditLogs: %v", err)
	}
	if count != 2 {
		t.Errorf("CountAuditLogs: got %d, want 2", count)
	}
}

func TestInTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx *Tx) error {
		key := &model.APIKey{Secret: "octopus_tx", Name: "tx", Scopes: mustScopes(t, "read"), IsActive: true}
		if err := tx.CreateAPIKey(ctx, key); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	count, err := s.CountAPIKeys(ctx)
	if err != nil {
		t.Fatalf("CountAPIKeys: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback to discard insert, count=%d", count)
	}
}
