package delegation

import "time"

type CreateDelegationRequest struct {
	DelegatorID       int64             `json:"delegator_id" validate:"required,gt=0"`
	DelegateID        int64             `json:"delegate_id" validate:"required,gt=0"`
	RoleID            *int64            `json:"role_id,omitempty" validate:"omitempty,gt=0"`
	PermissionIDs     []int64           `json:"permission_ids,omitempty" validate:"omitempty,min=1,dive,gt=0"`
	StartDate         time.Time         `json:"start_date" validate:"required"`
	EndDate           time.Time         `json:"end_date" validate:"required"`
	Reason            string            `json:"reason" validate:"required,max=500"`
	ScopeRestrictions map[string]string `json:"scope_restrictions,omitempty"`
	AutoRevoke        bool              `json:"auto_revoke"`
}

type ApproveDelegationRequest struct {
	Approved bool   `json:"approved"`
	Comments string `json:"comments" validate:"max=500"`
}

type RevokeDelegationRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type DelegationResponse struct {
	ID                string            `json:"id"`
	DelegatorID       int64             `json:"delegator_id"`
	DelegateID        int64             `json:"delegate_id"`
	RoleID            *int64            `json:"role_id,omitempty"`
	PermissionIDs     []int64           `json:"permission_ids,omitempty"`
	StartDate         time.Time         `json:"start_date"`
	EndDate           time.Time         `json:"end_date"`
	Status            string            `json:"status"`
	Reason            string            `json:"reason"`
	ScopeRestrictions map[string]string `json:"scope_restrictions,omitempty"`
	AutoRevoke        bool              `json:"auto_revoke"`
	RemindersSent     int               `json:"reminders_sent"`
	ApprovedBy        *int64            `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time        `json:"approved_at,omitempty"`
	RejectionReason   string            `json:"rejection_reason,omitempty"`
	RevokedBy         *int64            `json:"revoked_by,omitempty"`
	RevokedAt         *time.Time        `json:"revoked_at,omitempty"`
	RevokeReason      string            `json:"revoke_reason,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

func toResponse(d RoleDelegation) DelegationResponse {
	return DelegationResponse{
		ID:                d.ID.String(),
		DelegatorID:       d.DelegatorID,
		DelegateID:        d.DelegateID,
		RoleID:            d.RoleID,
		PermissionIDs:     d.PermissionIDs,
		StartDate:         d.StartDate,
		EndDate:           d.EndDate,
		Status:            string(d.Status),
		Reason:            d.Reason,
		ScopeRestrictions: d.ScopeRestrictions,
		AutoRevoke:        d.AutoRevoke,
		RemindersSent:     d.RemindersSent,
		ApprovedBy:        d.ApprovedBy,
		ApprovedAt:        d.ApprovedAt,
		RejectionReason:   d.RejectionReason,
		RevokedBy:         d.RevokedBy,
		RevokedAt:         d.RevokedAt,
		RevokeReason:      d.RevokeReason,
		CreatedAt:         d.CreatedAt,
	}
}
