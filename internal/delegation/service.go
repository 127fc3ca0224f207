package delegation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-authz/aegis/internal/catalog"
	"github.com/aegis-authz/aegis/internal/directory"
	"github.com/aegis-authz/aegis/internal/notify"
	"github.com/aegis-authz/aegis/internal/policy"
	"github.com/aegis-authz/aegis/internal/shared"
	"github.com/aegis-authz/aegis/internal/sod"
)

// ErrRoleNotDelegable indicates the role's policy forbids delegating it.
var ErrRoleNotDelegable = errors.New("delegation: role is not delegable")

// ErrEmptyGrant indicates neither a role nor a permission subset was named.
var ErrEmptyGrant = errors.New("delegation: role or permissions required")

// RepositoryPort defines persistence operations used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, d RoleDelegation) error
	Get(ctx context.Context, id uuid.UUID) (RoleDelegation, error)
	ListForDelegate(ctx context.Context, delegateID int64) ([]RoleDelegation, error)
	ListActiveForDelegate(ctx context.Context, delegateID int64, at time.Time) ([]RoleDelegation, error)
	Approve(ctx context.Context, id uuid.UUID, approverID int64, at time.Time) error
	Reject(ctx context.Context, id uuid.UUID, approverID int64, reason string, at time.Time) error
	Revoke(ctx context.Context, id uuid.UUID, revokedBy int64, reason string, at time.Time) error
	ExpireDue(ctx context.Context, now time.Time) ([]RoleDelegation, error)
	MarkReminded(ctx context.Context, now, until time.Time) ([]RoleDelegation, error)
}

// DirectoryPort exposes actor lookups.
type DirectoryPort interface {
	GetActor(ctx context.Context, id int64) (directory.Actor, error)
}

// CatalogPort exposes role and permission reads.
type CatalogPort interface {
	GetRole(ctx context.Context, id int64) (catalog.Role, error)
	RolePermissions(ctx context.Context, roleIDs []int64) ([]catalog.Grant, error)
	ListPermissionsByIDs(ctx context.Context, ids []int64) ([]catalog.Permission, error)
}

// SoDPort gates role grants on separation-of-duties conflicts.
type SoDPort interface {
	CheckAssignment(ctx context.Context, actorID, candidateRoleID int64) (sod.CheckResult, error)
}

// AuditPort appends lifecycle records to the global audit trail.
type AuditPort interface {
	Record(ctx context.Context, e shared.AccessEntry) error
}

// LockerPort serialises create requests per delegate.
type LockerPort interface {
	Acquire(ctx context.Context, delegateID int64) (func(), error)
}

// Service manages the delegation lifecycle.
type Service struct {
	repo      RepositoryPort
	directory DirectoryPort
	catalog   CatalogPort
	sod       SoDPort
	audit     AuditPort
	notifier  notify.Notifier
	locker    LockerPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the lifecycle manager.
func NewService(repo RepositoryPort, dir DirectoryPort, cat CatalogPort, sodChecker SoDPort, audit AuditPort, notifier notify.Notifier, locker LockerPort, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Service{
		repo:      repo,
		directory: dir,
		catalog:   cat,
		sod:       sodChecker,
		audit:     audit,
		notifier:  notifier,
		locker:    locker,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the service clock. Tests use this to move time.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput describes a delegation request.
type CreateInput struct {
	DelegatorID       int64
	DelegateID        int64
	RoleID            *int64
	PermissionIDs     []int64
	StartDate         time.Time
	EndDate           time.Time
	Reason            string
	ScopeRestrictions map[string]string
	AutoRevoke        bool
}

// Create validates and persists a new delegation. The SoD check and the
// insert happen under a per-delegate lock so two concurrent grants cannot
// both pass the check against a stale role snapshot.
func (s *Service) Create(ctx context.Context, input CreateInput) (RoleDelegation, error) {
	now := s.now()
	if !input.StartDate.Before(input.EndDate) {
		return RoleDelegation{}, shared.ErrInvalidDelegationWindow
	}
	if input.StartDate.Before(now.Truncate(time.Minute)) {
		return RoleDelegation{}, shared.ErrInvalidDelegationWindow
	}
	if input.RoleID == nil && len(input.PermissionIDs) == 0 {
		return RoleDelegation{}, ErrEmptyGrant
	}

	if _, err := s.directory.GetActor(ctx, input.DelegatorID); err != nil {
		return RoleDelegation{}, fmt.Errorf("delegation: delegator: %w", err)
	}
	delegate, err := s.directory.GetActor(ctx, input.DelegateID)
	if err != nil {
		return RoleDelegation{}, fmt.Errorf("delegation: delegate: %w", err)
	}

	release, err := s.locker.Acquire(ctx, input.DelegateID)
	if err != nil {
		return RoleDelegation{}, err
	}
	defer release()

	status := StatusActive
	if input.RoleID != nil {
		role, err := s.catalog.GetRole(ctx, *input.RoleID)
		if err != nil {
			return RoleDelegation{}, fmt.Errorf("delegation: role: %w", err)
		}
		if !role.IsActive || !role.IsDelegable {
			return RoleDelegation{}, ErrRoleNotDelegable
		}
		check, err := s.sod.CheckAssignment(ctx, delegate.ID, role.ID)
		if err != nil {
			return RoleDelegation{}, err
		}
		if !check.Allowed {
			v := check.Violations[0]
			return RoleDelegation{}, fmt.Errorf("%w: %s conflicts with %s", shared.ErrSoDViolation, v.CodeB, v.CodeA)
		}
		if role.RequiresApproval {
			status = StatusPending
		}
	} else {
		perms, err := s.catalog.ListPermissionsByIDs(ctx, input.PermissionIDs)
		if err != nil {
			return RoleDelegation{}, err
		}
		if len(perms) != len(input.PermissionIDs) {
			return RoleDelegation{}, fmt.Errorf("delegation: unknown permission in subset: %w", shared.ErrNotFound)
		}
	}

	d := RoleDelegation{
		ID:                uuid.New(),
		DelegatorID:       input.DelegatorID,
		DelegateID:        input.DelegateID,
		RoleID:            input.RoleID,
		PermissionIDs:     input.PermissionIDs,
		StartDate:         input.StartDate,
		EndDate:           input.EndDate,
		Status:            status,
		Reason:            input.Reason,
		ScopeRestrictions: input.ScopeRestrictions,
		AutoRevoke:        input.AutoRevoke,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return RoleDelegation{}, err
	}

	s.recordLifecycle(ctx, input.DelegatorID, "delegation_created", d, map[string]any{
		"status": string(status), "delegate_id": input.DelegateID,
	})
	if status == StatusPending {
		s.notifier.Send(ctx, notify.Notice{
			ActorID: input.DelegatorID,
			Subject: "delegation approval required",
			Message: fmt.Sprintf("delegation %s to %s awaits approval", d.ID, delegate.Name),
		})
	}
	return d, nil
}

// Approve resolves a PENDING delegation: approved transitions it to ACTIVE,
// rejected to REVOKED with the comments recorded as the rejection reason.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approverID int64, approved bool, comments string) (RoleDelegation, error) {
	now := s.now()
	if approved {
		if err := s.repo.Approve(ctx, id, approverID, now); err != nil {
			return RoleDelegation{}, err
		}
	} else {
		if err := s.repo.Reject(ctx, id, approverID, comments, now); err != nil {
			return RoleDelegation{}, err
		}
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return RoleDelegation{}, err
	}

	action := "delegation_approved"
	if !approved {
		action = "delegation_rejected"
	}
	s.recordLifecycle(ctx, approverID, action, d, map[string]any{"comments": comments})
	s.notifier.Send(ctx, notify.Notice{
		ActorID: d.DelegateID,
		Subject: "delegation " + string(d.Status),
		Message: fmt.Sprintf("delegation %s is now %s", d.ID, d.Status),
	})
	return d, nil
}

// Revoke withdraws an ACTIVE or PENDING delegation.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, revokedBy int64, reason string) (RoleDelegation, error) {
	if err := s.repo.Revoke(ctx, id, revokedBy, reason, s.now()); err != nil {
		return RoleDelegation{}, err
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return RoleDelegation{}, err
	}
	s.recordLifecycle(ctx, revokedBy, "delegation_revoked", d, map[string]any{"reason": reason})
	return d, nil
}

// Get fetches one delegation.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (RoleDelegation, error) {
	return s.repo.Get(ctx, id)
}

// ListForDelegate lists all delegations granted to one delegate.
func (s *Service) ListForDelegate(ctx context.Context, delegateID int64) ([]RoleDelegation, error) {
	return s.repo.ListForDelegate(ctx, delegateID)
}

// AutoExpire retires ACTIVE auto-revoke delegations past their end date,
// attributed to the SYSTEM actor. Safe to run concurrently with evaluations
// and idempotent across back-to-back runs.
func (s *Service) AutoExpire(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, d := range expired {
		s.recordLifecycle(ctx, shared.SystemActor, "delegation_expired", d, nil)
	}
	return len(expired), nil
}

// SendExpirationReminders notifies delegator and delegate of delegations
// expiring within the window. Each delegation is reminded at most once.
func (s *Service) SendExpirationReminders(ctx context.Context, window time.Duration) (int, error) {
	now := s.now()
	due, err := s.repo.MarkReminded(ctx, now, now.Add(window))
	if err != nil {
		return 0, err
	}
	for _, d := range due {
		msg := fmt.Sprintf("delegation %s expires at %s", d.ID, d.EndDate.Format(time.RFC3339))
		s.notifier.Send(ctx, notify.Notice{ActorID: d.DelegatorID, Subject: "delegation expiring", Message: msg})
		s.notifier.Send(ctx, notify.Notice{ActorID: d.DelegateID, Subject: "delegation expiring", Message: msg})
	}
	return len(due), nil
}

// ActiveGrants resolves currently usable delegations into permission grants
// for the evaluation engine.
func (s *Service) ActiveGrants(ctx context.Context, delegateID int64, at time.Time) ([]policy.DelegatedGrant, error) {
	delegations, err := s.repo.ListActiveForDelegate(ctx, delegateID, at)
	if err != nil {
		return nil, err
	}
	var out []policy.DelegatedGrant
	for _, d := range delegations {
		var grants []catalog.Grant
		if d.RoleID != nil {
			grants, err = s.catalog.RolePermissions(ctx, []int64{*d.RoleID})
			if err != nil {
				return nil, err
			}
		} else {
			perms, err := s.catalog.ListPermissionsByIDs(ctx, d.PermissionIDs)
			if err != nil {
				return nil, err
			}
			for _, p := range perms {
				// Explicit subsets carry no backing role, so no role
				// policy rules apply beyond the restrictions below.
				grants = append(grants, catalog.Grant{Permission: p})
			}
		}
		out = append(out, policy.DelegatedGrant{
			DelegationID: d.ID,
			Grants:       grants,
			Restrictions: d.ScopeRestrictions,
		})
	}
	return out, nil
}

func (s *Service) recordLifecycle(ctx context.Context, actorID int64, action string, d RoleDelegation, after map[string]any) {
	id := d.ID
	entry := shared.AccessEntry{
		ActorID:          actorID,
		Action:           action,
		Entity:           "role_delegation",
		EntityID:         d.ID.String(),
		Success:          true,
		RiskLevel:        string(policy.RiskMedium),
		FlaggedForReview: false,
		DelegationID:     &id,
		After:            after,
		At:               s.now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("record delegation lifecycle", slog.String("action", action), slog.String("delegation_id", d.ID.String()), slog.Any("error", err))
	}
}
