package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-authz/aegis/internal/catalog"
	"github.com/aegis-authz/aegis/internal/directory"
	"github.com/aegis-authz/aegis/internal/shared"
)

type memDirectory struct {
	actors  map[int64]directory.Actor
	reports map[int64][]int64
}

func (m *memDirectory) GetActor(ctx context.Context, id int64) (directory.Actor, error) {
	actor, ok := m.actors[id]
	if !ok {
		return directory.Actor{}, shared.ErrActorNotFound
	}
	return actor, nil
}

func (m *memDirectory) DirectReports(ctx context.Context, managerID int64) ([]int64, error) {
	return m.reports[managerID], nil
}

type memCatalog struct {
	grants map[int64][]catalog.Grant
	panics bool
}

func (m *memCatalog) RolePermissions(ctx context.Context, roleIDs []int64) ([]catalog.Grant, error) {
	if m.panics {
		panic("catalog unavailable")
	}
	var out []catalog.Grant
	for _, id := range roleIDs {
		out = append(out, m.grants[id]...)
	}
	return out, nil
}

type memDelegations struct {
	grants []DelegatedGrant
	from   time.Time
	until  time.Time
}

func (m *memDelegations) ActiveGrants(ctx context.Context, delegateID int64, at time.Time) ([]DelegatedGrant, error) {
	if at.Before(m.from) || !at.Before(m.until) {
		return nil, nil
	}
	return m.grants, nil
}

type memAudit struct {
	entries []shared.AccessEntry
	fail    bool
}

func (m *memAudit) Record(ctx context.Context, e shared.AccessEntry) error {
	if m.fail {
		return errors.New("audit store down")
	}
	m.entries = append(m.entries, e)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func payrollRole() catalog.Role {
	return catalog.Role{ID: 10, Code: "PAYROLL_ADMIN", Name: "Payroll Administrator", Category: "payroll", IsActive: true}
}

func payrollGrant(scope catalog.Scope) catalog.Grant {
	return catalog.Grant{
		Permission: catalog.Permission{ID: 1, Feature: "payroll", Action: "process", Scope: scope, IsActive: true},
		Role:       payrollRole(),
	}
}

func newTestEngine(dir *memDirectory, cat *memCatalog, del *memDelegations, audit *memAudit, cfg EngineConfig) *Engine {
	if del == nil {
		del = &memDelegations{}
	}
	return NewEngine(dir, cat, del, audit, testLogger(), cfg)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEvaluateUnknownActor(t *testing.T) {
	audit := &memAudit{}
	engine := newTestEngine(&memDirectory{actors: map[int64]directory.Actor{}}, &memCatalog{}, nil, audit, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 99, Action: "view", Resource: "payroll"})

	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonActorNotFound.Message(), decision.Reason)
	assert.Equal(t, RiskHigh, decision.RiskLevel)
	require.Len(t, audit.entries, 1)
	assert.False(t, audit.entries[0].Success)
	assert.True(t, audit.entries[0].FlaggedForReview)
}

func TestEvaluateInactiveActor(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{
		7: {ID: 7, Name: "Dana", IsActive: false, RoleIDs: []int64{10}},
	}}
	audit := &memAudit{}
	engine := newTestEngine(dir, &memCatalog{}, nil, audit, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "view", Resource: "payroll"})

	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonActorInactive.Message(), decision.Reason)
	assert.Equal(t, RiskMedium, decision.RiskLevel)
	require.Len(t, audit.entries, 1)
}

func TestEvaluateNoMatchingPermission(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{
		7: {ID: 7, Name: "Dana", IsActive: true, RoleIDs: []int64{10}},
	}}
	cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {payrollGrant(catalog.ScopeOrg)}}}
	audit := &memAudit{}
	engine := newTestEngine(dir, cat, nil, audit, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "delete", Resource: "contracts"})

	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonInsufficientPermission.Message(), decision.Reason)
	require.Len(t, audit.entries, 1)
	assert.False(t, audit.entries[0].Success)
}

func TestEvaluateHighRiskAllowRequiresMFA(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{
		7: {ID: 7, Name: "Dana", IsActive: true, RoleIDs: []int64{10}},
	}}
	cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {payrollGrant(catalog.ScopeOrg)}}}
	audit := &memAudit{}
	engine := newTestEngine(dir, cat, nil, audit, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll"})

	require.True(t, decision.Allowed)
	assert.True(t, decision.RequiresMFA)
	assert.Equal(t, RiskHigh, decision.RiskLevel)
	require.Len(t, audit.entries, 1)
	assert.True(t, audit.entries[0].Success)
	assert.True(t, audit.entries[0].FlaggedForReview)
}

func TestEvaluateLowRiskAllowSkipsMFA(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{
		7: {ID: 7, IsActive: true, RoleIDs: []int64{10}},
	}}
	grant := catalog.Grant{
		Permission: catalog.Permission{ID: 2, Feature: "directory", Action: "view", Scope: catalog.ScopeOrg, IsActive: true},
		Role:       catalog.Role{ID: 10, Code: "HR_VIEWER", IsActive: true},
	}
	cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {grant}}}
	audit := &memAudit{}
	engine := newTestEngine(dir, cat, nil, audit, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "view", Resource: "directory"})

	require.True(t, decision.Allowed)
	assert.False(t, decision.RequiresMFA)
	assert.Equal(t, RiskLow, decision.RiskLevel)
	assert.False(t, audit.entries[0].FlaggedForReview)
}

func TestEvaluateRoleMFAFlagForcesMFA(t *testing.T) {
	role := catalog.Role{ID: 10, Code: "HR_VIEWER", IsActive: true, RequiresMFA: true}
	grant := catalog.Grant{
		Permission: catalog.Permission{ID: 2, Feature: "directory", Action: "view", Scope: catalog.ScopeOrg, IsActive: true},
		Role:       role,
	}
	dir := &memDirectory{actors: map[int64]directory.Actor{7: {ID: 7, IsActive: true, RoleIDs: []int64{10}}}}
	cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {grant}}}
	engine := newTestEngine(dir, cat, nil, &memAudit{}, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "view", Resource: "directory"})

	require.True(t, decision.Allowed)
	assert.True(t, decision.RequiresMFA)
}

func TestEvaluateDelegationWindow(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{
		7: {ID: 7, Name: "Dana", IsActive: true},
	}}
	delegationID := uuid.New()
	del := &memDelegations{
		grants: []DelegatedGrant{{
			DelegationID: delegationID,
			Grants:       []catalog.Grant{payrollGrant(catalog.ScopeOrg)},
		}},
		from:  time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		until: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	audit := &memAudit{}
	inWindow := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(dir, &memCatalog{}, del, audit, EngineConfig{Now: fixedClock(inWindow)})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll"})
	require.True(t, decision.Allowed)
	require.Len(t, audit.entries, 1)
	require.NotNil(t, audit.entries[0].DelegationID)
	assert.Equal(t, delegationID, *audit.entries[0].DelegationID)

	afterWindow := time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)
	engine = newTestEngine(dir, &memCatalog{}, del, audit, EngineConfig{Now: fixedClock(afterWindow)})

	decision = engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll"})
	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonInsufficientPermission.Message(), decision.Reason)
}

func TestEvaluateDirectGrantWinsOverDelegated(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{
		7: {ID: 7, IsActive: true, RoleIDs: []int64{10}},
	}}
	cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {payrollGrant(catalog.ScopeOrg)}}}
	del := &memDelegations{
		grants: []DelegatedGrant{{
			DelegationID: uuid.New(),
			Grants:       []catalog.Grant{payrollGrant(catalog.ScopeOrg)},
			Restrictions: map[string]string{"department": "Finance"},
		}},
		until: time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	audit := &memAudit{}
	engine := newTestEngine(dir, cat, del, audit, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll"})

	require.True(t, decision.Allowed)
	assert.NotContains(t, decision.RecordFilters, "department")
	require.Len(t, audit.entries, 1)
	assert.Nil(t, audit.entries[0].DelegationID)
}

func TestEvaluateDelegationRestrictionsNarrowFilters(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{7: {ID: 7, IsActive: true}}}
	del := &memDelegations{
		grants: []DelegatedGrant{{
			DelegationID: uuid.New(),
			Grants:       []catalog.Grant{payrollGrant(catalog.ScopeOrg)},
			Restrictions: map[string]string{"department": "Finance"},
		}},
		until: time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	engine := newTestEngine(dir, &memCatalog{}, del, &memAudit{}, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll"})

	require.True(t, decision.Allowed)
	assert.Equal(t, "Finance", decision.RecordFilters["department"])
}

func TestEvaluateAttributeConflict(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{
		7: {ID: 7, IsActive: true, Country: "DE", RoleIDs: []int64{10}},
	}}
	cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {payrollGrant(catalog.ScopeOrg)}}}
	audit := &memAudit{}
	engine := newTestEngine(dir, cat, nil, audit, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{
		ActorID:    7,
		Action:     "process",
		Resource:   "payroll",
		Attributes: map[string]string{"country": "FR"},
	})

	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonAttributeRestriction.Message(), decision.Reason)
}

func TestEvaluateTimeRestriction(t *testing.T) {
	grant := payrollGrant(catalog.ScopeOrg)
	grant.Role.Policy = catalog.PolicyRules{AllowedHoursStart: 9, AllowedHoursEnd: 17}
	dir := &memDirectory{actors: map[int64]directory.Actor{7: {ID: 7, IsActive: true, RoleIDs: []int64{10}}}}
	cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {grant}}}

	night := time.Date(2025, 3, 3, 3, 0, 0, 0, time.UTC)
	engine := newTestEngine(dir, cat, nil, &memAudit{}, EngineConfig{Now: fixedClock(night)})
	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll"})
	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonTimeRestricted.Message(), decision.Reason)

	noon := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	engine = newTestEngine(dir, cat, nil, &memAudit{}, EngineConfig{Now: fixedClock(noon)})
	decision = engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll"})
	require.True(t, decision.Allowed)
}

func TestEvaluateIPRestriction(t *testing.T) {
	grant := payrollGrant(catalog.ScopeOrg)
	grant.Role.Policy = catalog.PolicyRules{IPAllowList: []string{"10.0.0.0/8"}}
	dir := &memDirectory{actors: map[int64]directory.Actor{7: {ID: 7, IsActive: true, RoleIDs: []int64{10}}}}
	cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {grant}}}
	engine := newTestEngine(dir, cat, nil, &memAudit{}, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll", IP: "192.168.1.1"})
	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonIPRestricted.Message(), decision.Reason)

	decision = engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll", IP: "10.1.2.3"})
	require.True(t, decision.Allowed)
}

func TestEvaluateScopeFilters(t *testing.T) {
	dir := &memDirectory{
		actors: map[int64]directory.Actor{
			7: {ID: 7, IsActive: true, Department: "Finance", RoleIDs: []int64{10}},
		},
		reports: map[int64][]int64{7: {8, 9}},
	}

	for _, tc := range []struct {
		scope  catalog.Scope
		key    string
		expect any
	}{
		{catalog.ScopeSelf, "actor_id", int64(7)},
		{catalog.ScopeTeam, "actor_ids", []int64{7, 8, 9}},
		{catalog.ScopeDepartment, "department", "Finance"},
	} {
		cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {payrollGrant(tc.scope)}}}
		engine := newTestEngine(dir, cat, nil, &memAudit{}, EngineConfig{})
		decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll"})
		require.True(t, decision.Allowed, "scope %s", tc.scope)
		assert.Equal(t, tc.expect, decision.RecordFilters[tc.key], "scope %s", tc.scope)
	}
}

func TestEvaluatePanicFailsSafe(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{7: {ID: 7, IsActive: true, RoleIDs: []int64{10}}}}
	audit := &memAudit{}
	engine := newTestEngine(dir, &memCatalog{panics: true}, nil, audit, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "view", Resource: "payroll"})

	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonInternalError.Message(), decision.Reason)
	assert.Equal(t, RiskCritical, decision.RiskLevel)
	require.Len(t, audit.entries, 1)
	assert.True(t, audit.entries[0].FlaggedForReview)
}

func TestEvaluateAuditFailureDoesNotChangeDecision(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{7: {ID: 7, IsActive: true, RoleIDs: []int64{10}}}}
	cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {payrollGrant(catalog.ScopeOrg)}}}
	engine := newTestEngine(dir, cat, nil, &memAudit{fail: true}, EngineConfig{})

	decision := engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll"})

	require.True(t, decision.Allowed)
}

func TestEvaluateWritesExactlyOneAuditRowPerCall(t *testing.T) {
	dir := &memDirectory{actors: map[int64]directory.Actor{7: {ID: 7, IsActive: true, RoleIDs: []int64{10}}}}
	cat := &memCatalog{grants: map[int64][]catalog.Grant{10: {payrollGrant(catalog.ScopeOrg)}}}
	audit := &memAudit{}
	engine := newTestEngine(dir, cat, nil, audit, EngineConfig{})

	for i := 0; i < 3; i++ {
		engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "process", Resource: "payroll"})
	}
	engine.Evaluate(context.Background(), RequestContext{ActorID: 7, Action: "delete", Resource: "contracts"})

	assert.Len(t, audit.entries, 4)
}
