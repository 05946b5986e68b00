package service

import "errors"

var (
	// ErrKeyNotFound is returned when the target key id does not exist.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrSelfModification is returned when an actor attempts to deactivate,
	// delete, or rotate the key currently authenticating its own request.
	ErrSelfModification = errors.New("cannot modify the api key used to authenticate this request")

	// ErrAlreadyBootstrapped is returned when bootstrap is called after the
	// first key exists.
	ErrAlreadyBootstrapped = errors.New("bootstrap already completed")
)

// DenialReason is the internal taxonomy for failed authentication. Reasons
// are recorded in the audit ledger only; the external message is uniform so
// a caller cannot distinguish a nonexistent key from an inactive one.
type DenialReason string

const (
	DenialInvalidOrInactive DenialReason = "invalid_or_inactive"
	DenialExpired           DenialReason = "expired"
	DenialIPNotAllowed      DenialReason = "ip_not_allowed"
	DenialInsufficientScope DenialReason = "insufficient_scope"
)

// DeniedError is the terminal outcome of a failed authentication attempt.
type DeniedError struct {
	Reason DenialReason
}

// Error returns the uniform external-facing message. The specific reason is
// deliberately not included.
func (e *DeniedError) Error() string {
	return "invalid credentials"
}

// IsDenied reports whether err is an authentication denial and returns it.
func IsDenied(err error) (*DeniedError, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}
