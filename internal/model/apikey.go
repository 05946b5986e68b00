package model

import "time"

// APIKey is a bearer credential plus its authorization envelope. The secret
// is stored as-is to allow exact-match lookup on presented credentials; it is
// returned to the caller exactly once, at creation or rotation.
type APIKey struct {
	ID          int64      `json:"id"`
	Secret      string     `json:"-"` // never serialized in API responses
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Scopes      ScopeSet   `json:"scopes"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	LastUsedIP  string     `json:"last_used_ip,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	// AllowedIPs restricts authentication to exactly these literal addresses
	// (IPv4 or IPv6, no CIDR). Empty means unrestricted.
	AllowedIPs []string `json:"allowed_ips,omitempty"`

	// CreatedByKeyID is a provenance back-reference to the key that created
	// this one. It is never consulted for authorization.
	CreatedByKeyID *int64 `json:"created_by_key_id,omitempty"`
}

// Usable reports whether the key can authenticate at the given instant:
// active and not past its expiry. Soft deletion (is_active=false) and lazy
// expiration are independent flags; both must pass.
func (k *APIKey) Usable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// AllowsIP reports whether the key may authenticate from the given source
// address. An empty allow-list is unrestricted.
func (k *APIKey) AllowsIP(ip string) bool {
	if len(k.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range k.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}
