package keygen

import (
	"strings"
	"testing"
)

func TestNewShape(t *testing.T) {
	secret, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !strings.HasPrefix(secret, Prefix) {
		t.Errorf("secret %q missing prefix %q", secret, Prefix)
	}
	random := strings.TrimPrefix(secret, Prefix)
	if len(random) < 32 {
		t.Errorf("random portion has %d chars, want at least 32", len(random))
	}
	for _, c := range random {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			t.Fatalf("secret contains non-URL-safe character %q", c)
		}
	}
}

func TestNewCollisionFreedom(t *testing.T) {
	trials := 1_000_000
	if testing.Short() {
		trials = 10_000
	}

	seen := make(map[string]struct{}, trials)
	for i := 0; i < trials; i++ {
		secret, err := New()
		if err != nil {
			t.Fatalf("New (trial %d): %v", i, err)
		}
		if _, dup := seen[secret]; dup {
			t.Fatalf("duplicate secret generated after %d trials", i)
		}
		seen[secret] = struct{}{}
	}
}

func TestHasPrefix(t *testing.T) {
	secret, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !HasPrefix(secret) {
		t.Error("generated secret should match prefix check")
	}
	if HasPrefix("sk-something-else") {
		t.Error("foreign token should not match prefix check")
	}
}
