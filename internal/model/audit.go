package model

import "time"

// AuditAction identifies the lifecycle or authentication event an audit
// entry records.
type AuditAction string

const (
	AuditActionCreate      AuditAction = "create"
	AuditActionUpdate      AuditAction = "update"
	AuditActionDeactivate  AuditAction = "deactivate"
	AuditActionDelete      AuditAction = "delete"
	AuditActionRotate      AuditAction = "rotate"
	AuditActionAuthSuccess AuditAction = "auth_success"
	AuditActionAuthFailed  AuditAction = "auth_failed"
)

// AuditLog is an immutable, append-only fact about a key lifecycle event or
// authentication attempt. Rows are never updated or deleted by normal
// operation.
type AuditLog struct {
	ID int64 `json:"id"`

	// APIKeyID is the key the event is about. Nil for failed authentication
	// attempts where no key was resolved. Identifying fields are denormalized
	// into Details at write time so the entry survives subject deletion.
	APIKeyID *int64 `json:"api_key_id,omitempty"`

	Action AuditAction `json:"action"`

	// ActorKeyID is the key that performed the action. Nil for anonymous
	// attempts and system-originated events (bootstrap).
	ActorKeyID *int64 `json:"actor_key_id,omitempty"`

	SourceIP string `json:"source_ip,omitempty"`

	// Details is a JSON object capturing before/after state or the failure
	// reason.
	Details string `json:"details,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
