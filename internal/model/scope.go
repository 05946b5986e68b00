package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownScope is returned when a scope token is not a member of the
// fixed enumeration. Callers match it with errors.Is.
var ErrUnknownScope = errors.New("unknown scope")

// Scope is a named permission tier attached to an API key. The set of scopes
// is fixed and closed; it is not extensible at runtime.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

const (
	scopeReadBit uint8 = 1 << iota
	scopeWriteBit
	scopeAdminBit
)

// ScopeSet is a bitset over the three-member scope enumeration. The zero
// value is the empty set.
type ScopeSet uint8

// FullScopeSet contains every scope. It is the set assigned to the master
// key at bootstrap.
const FullScopeSet = ScopeSet(scopeReadBit | scopeWriteBit | scopeAdminBit)

// ParseScope validates a single scope token.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.TrimSpace(s)) {
	case ScopeRead:
		return ScopeRead, nil
	case ScopeWrite:
		return ScopeWrite, nil
	case ScopeAdmin:
		return ScopeAdmin, nil
	}
	return "", fmt.Errorf("%w %q (valid: read, write, admin)", ErrUnknownScope, s)
}

// ParseScopes builds a ScopeSet from a list of scope tokens. Duplicates are
// collapsed; an unknown token is an error.
func ParseScopes(tokens []string) (ScopeSet, error) {
	var set ScopeSet
	for _, tok := range tokens {
		scope, err := ParseScope(tok)
		if err != nil {
			return 0, err
		}
		set = set.With(scope)
	}
	return set, nil
}

// ParseScopeList parses the comma-joined storage representation, e.g.
// "read,write".
func ParseScopeList(s string) (ScopeSet, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return ParseScopes(strings.Split(s, ","))
}

// With returns a copy of the set with the given scope added.
func (s ScopeSet) With(scope Scope) ScopeSet {
	return s | ScopeSet(scopeBit(scope))
}

// Has reports whether the scope is literally a member of the set, without
// admin expansion.
func (s ScopeSet) Has(scope Scope) bool {
	return uint8(s)&scopeBit(scope) != 0
}

// Allows reports whether the set satisfies the required scope. Admin implies
// every other scope; the implication is evaluated here, never expanded at
// storage time.
func (s ScopeSet) Allows(required Scope) bool {
	if s.Has(ScopeAdmin) {
		return true
	}
	return s.Has(required)
}

// IsEmpty reports whether no scopes are set.
func (s ScopeSet) IsEmpty() bool {
	return s == 0
}

// List returns the member scopes in canonical order (read, write, admin).
func (s ScopeSet) List() []Scope {
	out := make([]Scope, 0, 3)
	for _, scope := range []Scope{ScopeRead, ScopeWrite, ScopeAdmin} {
		if s.Has(scope) {
			out = append(out, scope)
		}
	}
	return out
}

// String returns the ordered, de-duplicated comma-joined representation used
// in the backing store.
func (s ScopeSet) String() string {
	scopes := s.List()
	tokens := make([]string, len(scopes))
	for i, scope := range scopes {
		tokens[i] = string(scope)
	}
	return strings.Join(tokens, ",")
}

// MarshalJSON encodes the set as a JSON array of scope tokens.
func (s ScopeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes a JSON array of scope tokens.
func (s *ScopeSet) UnmarshalJSON(data []byte) error {
	var tokens []string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return err
	}
	set, err := ParseScopes(tokens)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

func scopeBit(scope Scope) uint8 {
	switch scope {
	case ScopeRead:
		return scopeReadBit
	case ScopeWrite:
		return scopeWriteBit
	case ScopeAdmin:
		return scopeAdminBit
	}
	return 0
}
