// Package keygen produces the random bearer secrets behind API keys.
package keygen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// Prefix is the fixed literal every generated secret starts with. It lets
// operators recognize a leaked credential at a glance and lets scanners flag
// it in source trees.
const Prefix = "octopus_"

// randomBytes is the entropy per secret: 32 bytes = 256 bits, encoded as 43
// URL-safe base64 characters.
const randomBytes = 32

// New generates a fresh secret of the form "octopus_<43 url-safe chars>".
// The generator is stateless and pure; uniqueness against the store is the
// caller's responsibility (the store's unique constraint plus a retry).
func New() (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HasPrefix reports whether s looks like a keygate-issued secret. It is a
// shape check only, not a validity check.
func HasPrefix(s string) bool {
	return strings.HasPrefix(s, Prefix)
}
