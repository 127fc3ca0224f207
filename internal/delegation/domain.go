package delegation

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a delegation.
type Status string

const (
	// StatusPending awaits approval before the grant takes effect.
	StatusPending Status = "PENDING"
	// StatusActive means the grant is usable inside its window.
	StatusActive Status = "ACTIVE"
	// StatusExpired means the sweep retired the grant after its end date.
	StatusExpired Status = "EXPIRED"
	// StatusRevoked means an actor withdrew or rejected the grant.
	StatusRevoked Status = "REVOKED"
)

// RoleDelegation is a temporal grant of a role (or explicit permission
// subset) from a delegator to a delegate, bounded by [StartDate, EndDate).
type RoleDelegation struct {
	ID                uuid.UUID
	DelegatorID       int64
	DelegateID        int64
	RoleID            *int64
	PermissionIDs     []int64
	StartDate         time.Time
	EndDate           time.Time
	Status            Status
	Reason            string
	ScopeRestrictions map[string]string
	AutoRevoke        bool
	RemindersSent     int
	ApprovedBy        *int64
	ApprovedAt        *time.Time
	RejectionReason   string
	RevokedBy         *int64
	RevokedAt         *time.Time
	RevokeReason      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UsableAt reports whether the evaluation engine may honour this delegation
// at instant t: ACTIVE and t inside [StartDate, EndDate).
func (d RoleDelegation) UsableAt(t time.Time) bool {
	return d.Status == StatusActive && !t.Before(d.StartDate) && t.Before(d.EndDate)
}
