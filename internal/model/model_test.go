package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseScopes(t *testing.T) {
	set, err := ParseScopes([]string{"write", "read", "read"})
	if err != nil {
		t.Fatalf("ParseScopes: %v", err)
	}
	if got := set.String(); got != "read,write" {
		t.Errorf("String: got %q, want %q", got, "read,write")
	}
	if set.Has(ScopeAdmin) {
		t.Error("set should not contain admin")
	}
}

func TestParseScopesUnknownToken(t *testing.T) {
	_, err := ParseScopes([]string{"read", "superuser"})
	if err == nil {
		t.Fatal("expected error for unknown scope token")
	}
	if !errors.Is(err, ErrUnknownScope) {
		t.Errorf("error does not match ErrUnknownScope: %v", err)
	}
}

func TestParseScopeList(t *testing.T) {
	set, err := ParseScopeList("admin,read")
	if err != nil {
		t.Fatalf("ParseScopeList: %v", err)
	}
	if got := set.String(); got != "read,admin" {
		t.Errorf("String: got %q, want %q", got, "read,admin")
	}

	empty, err := ParseScopeList("")
	if err != nil {
		t.Fatalf("ParseScopeList empty: %v", err)
	}
	if !empty.IsEmpty() {
		t.Error("expected empty set")
	}
}

func TestScopeSetAdminImpliesAll(t *testing.T) {
	admin := ScopeSet(0).With(ScopeAdmin)
	for _, required := range []Scope{ScopeRead, ScopeWrite, ScopeAdmin} {
		if !admin.Allows(required) {
			t.Errorf("admin set should allow %q", required)
		}
	}

	readOnly := ScopeSet(0).With(ScopeRead)
	if readOnly.Allows(ScopeWrite) {
		t.Error("read-only set should not allow write")
	}
	if readOnly.Allows(ScopeAdmin) {
		t.Error("read-only set should not allow admin")
	}
}

func TestScopeSetJSONRoundTrip(t *testing.T) {
	set := FullScopeSet
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `["read","write","admin"]` {
		t.Errorf("unexpected JSON: %s", data)
	}

	var back ScopeSet
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != set {
		t.Errorf("round trip mismatch: got %v, want %v", back, set)
	}
}

func TestAPIKeyUsable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		key  APIKey
		want bool
	}{
		{"active no expiry", APIKey{IsActive: true}, true},
		{"inactive", APIKey{IsActive: false}, false},
		{"active future expiry", APIKey{IsActive: true, ExpiresAt: &future}, true},
		{"active past expiry", APIKey{IsActive: true, ExpiresAt: &past}, false},
		{"inactive past expiry", APIKey{IsActive: false, ExpiresAt: &past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Usable(now); got != tt.want {
				t.Errorf("Usable: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAPIKeyAllowsIP(t *testing.T) {
	unrestricted := APIKey{}
	if !unrestricted.AllowsIP("203.0.113.9") {
		t.Error("empty allow-list should be unrestricted")
	}

	restricted := APIKey{AllowedIPs: []string{"10.0.0.1", "2001:db8::1"}}
	if !restricted.AllowsIP("10.0.0.1") {
		t.Error("listed IPv4 address should be allowed")
	}
	if !restricted.AllowsIP("2001:db8::1") {
		t.Error("listed IPv6 address should be allowed")
	}
	if restricted.AllowsIP("10.0.0.2") {
		t.Error("unlisted address should be denied")
	}
}
