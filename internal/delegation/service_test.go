package delegation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-authz/aegis/internal/catalog"
	"github.com/aegis-authz/aegis/internal/directory"
	"github.com/aegis-authz/aegis/internal/notify"
	"github.com/aegis-authz/aegis/internal/shared"
	"github.com/aegis-authz/aegis/internal/sod"
)

type memRepo struct {
	delegations map[uuid.UUID]RoleDelegation
}

func newMemRepo() *memRepo {
	return &memRepo{delegations: make(map[uuid.UUID]RoleDelegation)}
}

func (r *memRepo) Create(ctx context.Context, d RoleDelegation) error {
	r.delegations[d.ID] = d
	return nil
}

func (r *memRepo) Get(ctx context.Context, id uuid.UUID) (RoleDelegation, error) {
	d, ok := r.delegations[id]
	if !ok {
		return RoleDelegation{}, shared.ErrNotFound
	}
	return d, nil
}

func (r *memRepo) ListForDelegate(ctx context.Context, delegateID int64) ([]RoleDelegation, error) {
	var out []RoleDelegation
	for _, d := range r.delegations {
		if d.DelegateID == delegateID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memRepo) ListActiveForDelegate(ctx context.Context, delegateID int64, at time.Time) ([]RoleDelegation, error) {
	var out []RoleDelegation
	for _, d := range r.delegations {
		if d.DelegateID == delegateID && d.UsableAt(at) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memRepo) Approve(ctx context.Context, id uuid.UUID, approverID int64, at time.Time) error {
	d, ok := r.delegations[id]
	if !ok || d.Status != StatusPending {
		return shared.ErrDelegationNotPending
	}
	d.Status = StatusActive
	d.ApprovedBy = &approverID
	d.ApprovedAt = &at
	r.delegations[id] = d
	return nil
}

func (r *memRepo) Reject(ctx context.Context, id uuid.UUID, approverID int64, reason string, at time.Time) error {
	d, ok := r.delegations[id]
	if !ok || d.Status != StatusPending {
		return shared.ErrDelegationNotPending
	}
	d.Status = StatusRevoked
	d.RejectionReason = reason
	r.delegations[id] = d
	return nil
}

func (r *memRepo) Revoke(ctx context.Context, id uuid.UUID, revokedBy int64, reason string, at time.Time) error {
	d, ok := r.delegations[id]
	if !ok || (d.Status != StatusActive && d.Status != StatusPending) {
		return shared.ErrDelegationNotActive
	}
	d.Status = StatusRevoked
	d.RevokedBy = &revokedBy
	d.RevokedAt = &at
	d.RevokeReason = reason
	r.delegations[id] = d
	return nil
}

func (r *memRepo) ExpireDue(ctx context.Context, now time.Time) ([]RoleDelegation, error) {
	var expired []RoleDelegation
	for id, d := range r.delegations {
		if d.Status == StatusActive && d.AutoRevoke && d.EndDate.Before(now) {
			d.Status = StatusExpired
			r.delegations[id] = d
			expired = append(expired, d)
		}
	}
	return expired, nil
}

func (r *memRepo) MarkReminded(ctx context.Context, now, until time.Time) ([]RoleDelegation, error) {
	var due []RoleDelegation
	for id, d := range r.delegations {
		if d.Status == StatusActive && d.RemindersSent == 0 && d.EndDate.After(now) && !d.EndDate.After(until) {
			d.RemindersSent++
			r.delegations[id] = d
			due = append(due, d)
		}
	}
	return due, nil
}

type memDirectory struct {
	actors map[int64]directory.Actor
}

func (m *memDirectory) GetActor(ctx context.Context, id int64) (directory.Actor, error) {
	actor, ok := m.actors[id]
	if !ok {
		return directory.Actor{}, shared.ErrActorNotFound
	}
	return actor, nil
}

type memCatalog struct {
	roles map[int64]catalog.Role
	perms map[int64]catalog.Permission
}

func (m *memCatalog) GetRole(ctx context.Context, id int64) (catalog.Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return catalog.Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (m *memCatalog) RolePermissions(ctx context.Context, roleIDs []int64) ([]catalog.Grant, error) {
	var out []catalog.Grant
	for _, id := range roleIDs {
		role, ok := m.roles[id]
		if !ok {
			continue
		}
		for _, p := range m.perms {
			out = append(out, catalog.Grant{Permission: p, Role: role})
		}
	}
	return out, nil
}

func (m *memCatalog) ListPermissionsByIDs(ctx context.Context, ids []int64) ([]catalog.Permission, error) {
	var out []catalog.Permission
	for _, id := range ids {
		if p, ok := m.perms[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type memSoD struct {
	result sod.CheckResult
}

func (m *memSoD) CheckAssignment(ctx context.Context, actorID, candidateRoleID int64) (sod.CheckResult, error) {
	return m.result, nil
}

type memAudit struct {
	entries []shared.AccessEntry
}

func (m *memAudit) Record(ctx context.Context, e shared.AccessEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

type memLocker struct {
	acquired int
}

func (m *memLocker) Acquire(ctx context.Context, delegateID int64) (func(), error) {
	m.acquired++
	return func() {}, nil
}

type memNotifier struct {
	notices []notify.Notice
}

func (m *memNotifier) Send(ctx context.Context, n notify.Notice) {
	m.notices = append(m.notices, n)
}

type fixture struct {
	repo     *memRepo
	dir      *memDirectory
	cat      *memCatalog
	sod      *memSoD
	audit    *memAudit
	locker   *memLocker
	notifier *memNotifier
	service  *Service
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: newMemRepo(),
		dir: &memDirectory{actors: map[int64]directory.Actor{
			1: {ID: 1, Name: "Morgan", IsActive: true},
			2: {ID: 2, Name: "Riley", IsActive: true},
		}},
		cat: &memCatalog{
			roles: map[int64]catalog.Role{
				10: {ID: 10, Code: "PAYROLL_ADMIN", Name: "Payroll Administrator", IsActive: true, IsDelegable: true},
				11: {ID: 11, Code: "CFO", Name: "Chief Financial Officer", IsActive: true, IsDelegable: true, RequiresApproval: true},
				12: {ID: 12, Code: "SYSTEM_ADMIN", Name: "System Administrator", IsActive: true, IsDelegable: false},
			},
			perms: map[int64]catalog.Permission{
				100: {ID: 100, Feature: "payroll", Action: "process", Scope: catalog.ScopeOrg, IsActive: true},
			},
		},
		sod:      &memSoD{result: sod.CheckResult{Allowed: true}},
		audit:    &memAudit{},
		locker:   &memLocker{},
		notifier: &memNotifier{},
		now:      time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(f.repo, f.dir, f.cat, f.sod, f.audit, f.notifier, f.locker, logger).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) createInput(roleID int64) CreateInput {
	return CreateInput{
		DelegatorID: 1,
		DelegateID:  2,
		RoleID:      &roleID,
		StartDate:   f.now.Add(time.Hour),
		EndDate:     f.now.Add(14 * 24 * time.Hour),
		Reason:      "vacation cover",
		AutoRevoke:  true,
	}
}

func TestCreateRejectsInvalidWindow(t *testing.T) {
	f := newFixture(t)

	input := f.createInput(10)
	input.EndDate = input.StartDate
	_, err := f.service.Create(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrInvalidDelegationWindow)

	input = f.createInput(10)
	input.StartDate = f.now.Add(-time.Hour)
	_, err = f.service.Create(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrInvalidDelegationWindow)

	assert.Empty(t, f.repo.delegations, "nothing persisted on validation failure")
}

func TestCreateRequiresRoleOrPermissions(t *testing.T) {
	f := newFixture(t)

	input := f.createInput(10)
	input.RoleID = nil
	_, err := f.service.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrEmptyGrant)
}

func TestCreateRejectsNonDelegableRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), f.createInput(12))
	require.ErrorIs(t, err, ErrRoleNotDelegable)
}

func TestCreateRejectsSoDViolation(t *testing.T) {
	f := newFixture(t)
	f.sod.result = sod.CheckResult{Allowed: false, Violations: []sod.Violation{
		{CodeA: "PAYROLL_ADMIN", CodeB: "SYSTEM_ADMIN", RiskLevel: "CRITICAL"},
	}}

	_, err := f.service.Create(context.Background(), f.createInput(10))
	require.ErrorIs(t, err, shared.ErrSoDViolation)
	assert.Empty(t, f.repo.delegations)
}

func TestCreateActivatesImmediatelyWithoutApproval(t *testing.T) {
	f := newFixture(t)

	d, err := f.service.Create(context.Background(), f.createInput(10))
	require.NoError(t, err)
	assert.Equal(t, StatusActive, d.Status)
	assert.Equal(t, 1, f.locker.acquired)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "delegation_created", f.audit.entries[0].Action)
	assert.Empty(t, f.notifier.notices)
}

func TestCreatePendingWhenRoleRequiresApproval(t *testing.T) {
	f := newFixture(t)

	d, err := f.service.Create(context.Background(), f.createInput(11))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, d.Status)
	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, int64(1), f.notifier.notices[0].ActorID)
}

func TestCreatePermissionSubset(t *testing.T) {
	f := newFixture(t)

	input := f.createInput(0)
	input.RoleID = nil
	input.PermissionIDs = []int64{100}
	d, err := f.service.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, d.Status)

	input.PermissionIDs = []int64{100, 999}
	_, err = f.service.Create(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApproveActivatesPendingDelegation(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.Create(context.Background(), f.createInput(11))
	require.NoError(t, err)

	d, err := f.service.Approve(context.Background(), created.ID, 5, true, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, d.Status)
	require.NotNil(t, d.ApprovedBy)
	assert.Equal(t, int64(5), *d.ApprovedBy)

	// Approving twice fails: the delegation is no longer PENDING.
	_, err = f.service.Approve(context.Background(), created.ID, 5, true, "")
	require.ErrorIs(t, err, shared.ErrDelegationNotPending)
}

func TestRejectRevokesPendingDelegation(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.Create(context.Background(), f.createInput(11))
	require.NoError(t, err)

	d, err := f.service.Approve(context.Background(), created.ID, 5, false, "scope too broad")
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, d.Status)
	assert.Equal(t, "scope too broad", d.RejectionReason)
}

func TestRevokeActiveDelegation(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.Create(context.Background(), f.createInput(10))
	require.NoError(t, err)

	d, err := f.service.Revoke(context.Background(), created.ID, 1, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, d.Status)

	_, err = f.service.Revoke(context.Background(), created.ID, 1, "again")
	require.ErrorIs(t, err, shared.ErrDelegationNotActive)
}

func TestAutoExpireIsIdempotent(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.Create(context.Background(), f.createInput(10))
	require.NoError(t, err)

	f.now = created.EndDate.Add(time.Hour)
	count, err := f.service.AutoExpire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	d, err := f.service.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, d.Status)

	count, err = f.service.AutoExpire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	// The sweep is attributed to the system actor.
	last := f.audit.entries[len(f.audit.entries)-1]
	assert.Equal(t, "delegation_expired", last.Action)
	assert.Equal(t, shared.SystemActor, last.ActorID)
}

func TestAutoExpireSkipsManualDelegations(t *testing.T) {
	f := newFixture(t)
	input := f.createInput(10)
	input.AutoRevoke = false
	created, err := f.service.Create(context.Background(), input)
	require.NoError(t, err)

	f.now = created.EndDate.Add(time.Hour)
	count, err := f.service.AutoExpire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSendExpirationRemindersOnce(t *testing.T) {
	f := newFixture(t)
	input := f.createInput(10)
	input.EndDate = f.now.Add(20 * time.Hour)
	_, err := f.service.Create(context.Background(), input)
	require.NoError(t, err)

	count, err := f.service.SendExpirationReminders(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, f.notifier.notices, 2, "delegator and delegate both notified")

	count, err = f.service.SendExpirationReminders(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, count, "each delegation is reminded at most once")
}

func TestActiveGrantsResolvesRoleAndSubset(t *testing.T) {
	f := newFixture(t)
	roleBased, err := f.service.Create(context.Background(), f.createInput(10))
	require.NoError(t, err)

	subsetInput := f.createInput(0)
	subsetInput.RoleID = nil
	subsetInput.PermissionIDs = []int64{100}
	subsetInput.ScopeRestrictions = map[string]string{"department": "Finance"}
	subset, err := f.service.Create(context.Background(), subsetInput)
	require.NoError(t, err)

	at := f.now.Add(2 * time.Hour)
	grants, err := f.service.ActiveGrants(context.Background(), 2, at)
	require.NoError(t, err)
	require.Len(t, grants, 2)

	byID := map[uuid.UUID][]catalog.Grant{}
	restrictions := map[uuid.UUID]map[string]string{}
	for _, g := range grants {
		byID[g.DelegationID] = g.Grants
		restrictions[g.DelegationID] = g.Restrictions
	}
	require.NotEmpty(t, byID[roleBased.ID])
	assert.Equal(t, "PAYROLL_ADMIN", byID[roleBased.ID][0].Role.Code)
	require.NotEmpty(t, byID[subset.ID])
	assert.Empty(t, byID[subset.ID][0].Role.Code, "subset grants carry no backing role")
	assert.Equal(t, "Finance", restrictions[subset.ID]["department"])

	// Outside the window nothing is usable.
	grants, err = f.service.ActiveGrants(context.Background(), 2, f.now)
	require.NoError(t, err)
	assert.Empty(t, grants)
}
