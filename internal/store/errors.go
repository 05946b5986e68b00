package store

import "errors"

// ErrNotFound is returned when a requested record does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSecret is returned when an insert collides with the unique
// constraint on api_keys.secret. Callers recover by regenerating the secret
// and retrying; the error is never surfaced past the service layer.
var ErrDuplicateSecret = errors.New("duplicate secret")
