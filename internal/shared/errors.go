package shared

import "errors"

// Denial and lifecycle errors shared across the authorization core. Every one
// of these is recoverable by the caller; only ErrInternalEvaluation signals a
// fault the engine converts into a fail-safe denial.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrActorNotFound indicates the requesting actor is unknown.
	ErrActorNotFound = errors.New("actor not found")
	// ErrActorInactive indicates the actor account is deactivated.
	ErrActorInactive = errors.New("actor is deactivated")
	// ErrInsufficientPermission indicates no effective permission matched.
	ErrInsufficientPermission = errors.New("insufficient permission")
	// ErrAttributeRestriction indicates an attribute-based refinement denied access.
	ErrAttributeRestriction = errors.New("attribute restriction")
	// ErrTimeRestricted indicates the role's time-of-day window excluded the request.
	ErrTimeRestricted = errors.New("access outside permitted hours")
	// ErrIPRestricted indicates the request origin is not on the role's IP allow-list.
	ErrIPRestricted = errors.New("access from unauthorised network")
	// ErrSoDViolation indicates a separation-of-duties conflict blocks a grant.
	ErrSoDViolation = errors.New("separation of duties violation")
	// ErrInvalidDelegationWindow indicates start >= end or start < now.
	ErrInvalidDelegationWindow = errors.New("invalid delegation window")
	// ErrDelegationNotPending indicates an approve/reject on a non-PENDING delegation.
	ErrDelegationNotPending = errors.New("delegation is not pending")
	// ErrDelegationNotActive indicates a revoke on a delegation that is not revocable.
	ErrDelegationNotActive = errors.New("delegation is not active")
	// ErrInternalEvaluation indicates an unexpected fault during evaluation.
	ErrInternalEvaluation = errors.New("internal evaluation error")
)
