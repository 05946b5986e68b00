package service

import (
	"context"
	"testing"
	"time"

	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/store"
)

func TestAuthenticateSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key := env.mustCreate(t, CreateKeyParams{Name: "ci", Scopes: scopesOf(t, "read", "write")})

	principal, err := env.auth.Authenticate(ctx, key.Secret, model.ScopeRead, "10.0.0.9")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.ID() != key.ID {
		t.Errorf("principal id: got %d, want %d", principal.ID(), key.ID)
	}

	// Last-used telemetry lands on the record.
	got, err := env.keys.Get(ctx, key.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastUsedAt == nil {
		t.Error("expected LastUsedAt to be set")
	}
	if got.LastUsedIP != "10.0.0.9" {
		t.Errorf("LastUsedIP: got %q, want %q", got.LastUsedIP, "10.0.0.9")
	}

	entry := env.lastEntry(t, model.AuditActionAuthSuccess)
	if entry.APIKeyID == nil || *entry.APIKeyID != key.ID {
		t.Errorf("audit subject: got %v, want %d", entry.APIKeyID, key.ID)
	}
	if entry.SourceIP != "10.0.0.9" {
		t.Errorf("audit source ip: got %q", entry.SourceIP)
	}
}

func TestAuthenticateDenialsAreUniform(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expired := env.mustCreate(t, CreateKeyParams{Name: "expired", Scopes: scopesOf(t, "read")})
	past := time.Now().Add(-time.Hour).UTC()
	if _, err := env.keys.Update(ctx, expired.ID, UpdateKeyParams{ExpiresAt: &past}, nil, ""); err != nil {
		t.Fatalf("Update: %v", err)
	}

	inactive := env.mustCreate(t, CreateKeyParams{Name: "inactive", Scopes: scopesOf(t, "read")})
	off := false
	if _, err := env.keys.Update(ctx, inactive.ID, UpdateKeyParams{IsActive: &off}, nil, ""); err != nil {
		t.Fatalf("Update: %v", err)
	}

	restricted := env.mustCreate(t, CreateKeyParams{
		Name:       "restricted",
		Scopes:     scopesOf(t, "read"),
		AllowedIPs: []string{"192.168.1.1"},
	})

	readOnly := env.mustCreate(t, CreateKeyParams{Name: "reader", Scopes: scopesOf(t, "read")})

	cases := []struct {
		name       string
		secret     string
		scope      model.Scope
		sourceIP   string
		wantReason DenialReason
	}{
		{"missing secret", "", model.ScopeRead, "10.0.0.1", DenialInvalidOrInactive},
		{"unknown secret", "octopus_does_not_exist", model.ScopeRead, "10.0.0.1", DenialInvalidOrInactive},
		{"inactive key", inactive.Secret, model.ScopeRead, "10.0.0.1", DenialInvalidOrInactive},
		{"expired key", expired.Secret, model.ScopeRead, "10.0.0.1", DenialExpired},
		{"ip not allowed", restricted.Secret, model.ScopeRead, "10.0.0.1", DenialIPNotAllowed},
		{"insufficient scope", readOnly.Secret, model.ScopeWrite, "10.0.0.1", DenialInsufficientScope},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := env.entryCount(t, store.AuditFilter{Action: model.AuditActionAuthFailed})

			_, err := env.auth.Authenticate(ctx, tc.secret, tc.scope, tc.sourceIP)
			denied, ok := IsDenied(err)
			if !ok {
				t.Fatalf("expected denial, got %v", err)
			}
			// External message never varies by reason.
			if denied.Error() != "invalid credentials" {
				t.Errorf("denial message: got %q", denied.Error())
			}
			if denied.Reason != tc.wantReason {
				t.Errorf("reason: got %q, want %q", denied.Reason, tc.wantReason)
			}

			after := env.entryCount(t, store.AuditFilter{Action: model.AuditActionAuthFailed})
			if after != before+1 {
				t.Errorf("auth_failed entries: got %d, want %d", after, before+1)
			}
			entry := env.lastEntry(t, model.AuditActionAuthFailed)
			details := decodeDetails(t, entry)
			if details["reason"] != string(tc.wantReason) {
				t.Errorf("audit reason: got %v, want %q", details["reason"], tc.wantReason)
			}
		})
	}
}

func TestAuthenticateAdminImpliesAllScopes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.mustCreate(t, CreateKeyParams{Name: "root", Scopes: scopesOf(t, "admin")})

	for _, scope := range []model.Scope{model.ScopeRead, model.ScopeWrite, model.ScopeAdmin} {
		if _, err := env.auth.Authenticate(ctx, admin.Secret, scope, "10.0.0.1"); err != nil {
			t.Errorf("scope %q: %v", scope, err)
		}
	}
}

func TestAuthenticateEmptyAllowlistIsUnrestricted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key := env.mustCreate(t, CreateKeyParams{Name: "open", Scopes: scopesOf(t, "read")})

	for _, ip := range []string{"10.0.0.1", "203.0.113.7", ""} {
		if _, err := env.auth.Authenticate(ctx, key.Secret, model.ScopeRead, ip); err != nil {
			t.Errorf("source ip %q: %v", ip, err)
		}
	}
}

func TestAuthenticateExactlyOneAuditEntryPerCall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key := env.mustCreate(t, CreateKeyParams{Name: "probe", Scopes: scopesOf(t, "read")})

	success := store.AuditFilter{Action: model.AuditActionAuthSuccess}
	failed := store.AuditFilter{Action: model.AuditActionAuthFailed}
	baseSuccess := env.entryCount(t, success)
	baseFailed := env.entryCount(t, failed)

	env.auth.Authenticate(ctx, key.Secret, model.ScopeRead, "10.0.0.1")
	env.auth.Authenticate(ctx, "octopus_bogus", model.ScopeRead, "10.0.0.1")
	env.auth.Authenticate(ctx, key.Secret, model.ScopeAdmin, "10.0.0.1")

	if got := env.entryCount(t, success) - baseSuccess; got != 1 {
		t.Errorf("auth_success entries: got %d, want 1", got)
	}
	if got := env.entryCount(t, failed) - baseFailed; got != 2 {
		t.Errorf("auth_failed entries: got %d, want 2", got)
	}
}

func TestAuthenticateExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	key := env.mustCreate(t, CreateKeyParams{Name: "edge", Scopes: scopesOf(t, "read"), ExpiresAt: &at})

	// A key expiring exactly now is expired.
	env.auth.now = func() time.Time { return at }
	if _, err := env.auth.Authenticate(ctx, key.Secret, model.ScopeRead, ""); err == nil {
		t.Error("expected denial at exact expiry instant")
	}

	env.auth.now = func() time.Time { return at.Add(-time.Second) }
	if _, err := env.auth.Authenticate(ctx, key.Secret, model.ScopeRead, ""); err != nil {
		t.Errorf("one second before expiry: %v", err)
	}
}
