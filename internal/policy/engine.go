package policy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-authz/aegis/internal/catalog"
	"github.com/aegis-authz/aegis/internal/directory"
	"github.com/aegis-authz/aegis/internal/shared"
)

// DirectoryPort exposes the actor reads evaluation needs.
type DirectoryPort interface {
	GetActor(ctx context.Context, id int64) (directory.Actor, error)
	DirectReports(ctx context.Context, managerID int64) ([]int64, error)
}

// CatalogPort resolves role ids into deduplicated permission grants.
type CatalogPort interface {
	RolePermissions(ctx context.Context, roleIDs []int64) ([]catalog.Grant, error)
}

// DelegatedGrant is the permission set one active delegation contributes,
// together with any scope restrictions narrowing it.
type DelegatedGrant struct {
	DelegationID uuid.UUID
	Grants       []catalog.Grant
	Restrictions map[string]string
}

// DelegationPort returns grants from delegations that are ACTIVE and inside
// their validity window at the given instant. Transitions elsewhere are
// invisible here until committed.
type DelegationPort interface {
	ActiveGrants(ctx context.Context, delegateID int64, at time.Time) ([]DelegatedGrant, error)
}

// AuditPort appends one access record per evaluation.
type AuditPort interface {
	Record(ctx context.Context, e shared.AccessEntry) error
}

// Engine is the single decision point. It is stateless between calls: every
// Evaluate re-reads role, permission and delegation state.
type Engine struct {
	directory    DirectoryPort
	catalog      CatalogPort
	delegations  DelegationPort
	audit        AuditPort
	risk         RiskTable
	mfaThreshold RiskLevel
	logger       *slog.Logger
	now          func() time.Time
}

// EngineConfig tunes the declarative parts of evaluation.
type EngineConfig struct {
	RiskTable    RiskTable
	MFAThreshold RiskLevel
	Now          func() time.Time
}

// NewEngine constructs the evaluation engine.
func NewEngine(dir DirectoryPort, cat CatalogPort, del DelegationPort, audit AuditPort, logger *slog.Logger, cfg EngineConfig) *Engine {
	table := cfg.RiskTable
	if table.Actions == nil && table.Resources == nil {
		table = DefaultRiskTable()
	}
	threshold := cfg.MFAThreshold
	if threshold == "" {
		threshold = RiskHigh
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		directory:    dir,
		catalog:      cat,
		delegations:  del,
		audit:        audit,
		risk:         table,
		mfaThreshold: threshold,
		logger:       logger,
		now:          now,
	}
}

type evalOutcome struct {
	decision     Decision
	delegationID *uuid.UUID
}

// Evaluate runs the fixed decision algorithm and writes exactly one audit
// record, allowed or denied. Unexpected faults fail safe: the caller gets a
// denial at CRITICAL risk instead of an error.
func (e *Engine) Evaluate(ctx context.Context, req RequestContext) Decision {
	at := e.now()
	outcome := e.safeEvaluate(ctx, req, at)

	entry := shared.AccessEntry{
		ActorID:          req.ActorID,
		Action:           req.Action,
		Entity:           req.Resource,
		EntityID:         req.ResourceID,
		Success:          outcome.decision.Allowed,
		RiskLevel:        string(outcome.decision.RiskLevel),
		Reason:           outcome.decision.Reason,
		FlaggedForReview: outcome.decision.RiskLevel.AtLeast(RiskHigh),
		IP:               req.IP,
		UserAgent:        req.UserAgent,
		URL:              req.URL,
		DelegationID:     outcome.delegationID,
		At:               at,
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		// A failed audit write never changes the returned decision.
		e.logger.Error("audit write failed", slog.Int64("actor_id", req.ActorID), slog.Any("error", err))
	}
	return outcome.decision
}

func (e *Engine) safeEvaluate(ctx context.Context, req RequestContext, at time.Time) (outcome evalOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation panic", slog.Int64("actor_id", req.ActorID), slog.Any("panic", r))
			outcome = evalOutcome{decision: denied(ReasonInternalError, RiskCritical)}
		}
	}()
	return e.evaluate(ctx, req, at)
}

type candidate struct {
	grant        catalog.Grant
	delegationID *uuid.UUID
	restrictions map[string]string
}

func (e *Engine) evaluate(ctx context.Context, req RequestContext, at time.Time) evalOutcome {
	actor, err := e.directory.GetActor(ctx, req.ActorID)
	if err != nil {
		if errors.Is(err, shared.ErrActorNotFound) {
			return evalOutcome{decision: denied(ReasonActorNotFound, RiskHigh)}
		}
		return e.internalError(req, err)
	}
	if !actor.IsActive {
		return evalOutcome{decision: denied(ReasonActorInactive, RiskMedium)}
	}

	candidates, err := e.effectiveGrants(ctx, actor, at)
	if err != nil {
		return e.internalError(req, err)
	}

	risk := e.risk.Classify(req.Action, req.Resource)

	var matches []candidate
	for _, c := range candidates {
		if c.grant.Permission.Matches(req.Resource, req.Action) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return evalOutcome{decision: denied(ReasonInsufficientPermission, risk)}
	}

	if key, conflict := conflictingAttribute(actor, req.Attributes); conflict {
		e.logger.Info("attribute conflict", slog.Int64("actor_id", actor.ID), slog.String("attribute", key))
		return evalOutcome{decision: denied(ReasonAttributeRestriction, risk)}
	}

	// Pick the first matching grant whose role policy admits this request.
	// When every match is restricted, report the first restriction hit in
	// the order the checks are specified.
	var firstDenial DenialReason
	for _, c := range matches {
		rules := c.grant.Role.Policy
		if !roleScopeAllows(rules, actor) {
			if firstDenial == "" {
				firstDenial = ReasonAttributeRestriction
			}
			continue
		}
		if !withinHours(rules, at) {
			if firstDenial == "" {
				firstDenial = ReasonTimeRestricted
			}
			continue
		}
		if !ipAllowed(rules, req.IP) {
			if firstDenial == "" {
				firstDenial = ReasonIPRestricted
			}
			continue
		}
		return evalOutcome{
			decision:     e.allow(ctx, actor, c, risk),
			delegationID: c.delegationID,
		}
	}
	return evalOutcome{decision: denied(firstDenial, risk)}
}

func (e *Engine) allow(ctx context.Context, actor directory.Actor, c candidate, risk RiskLevel) Decision {
	filters := e.recordFilters(ctx, actor, c)
	requiresMFA := risk.AtLeast(e.mfaThreshold) || c.grant.Role.RequiresMFA
	return Decision{
		Allowed:       true,
		RequiresMFA:   requiresMFA,
		FieldMask:     c.grant.Role.Policy.FieldMask,
		RecordFilters: filters,
		RiskLevel:     risk,
	}
}

func (e *Engine) recordFilters(ctx context.Context, actor directory.Actor, c candidate) map[string]any {
	var reports []int64
	if c.grant.Permission.Scope == catalog.ScopeTeam {
		ids, err := e.directory.DirectReports(ctx, actor.ID)
		if err != nil {
			// Fail closed on the filter: team scope without resolvable
			// reports restricts to the actor alone.
			e.logger.Warn("resolve direct reports", slog.Int64("actor_id", actor.ID), slog.Any("error", err))
		}
		reports = ids
	}
	filters := scopeFilters(actor, c.grant.Permission.Scope, reports)
	for k, v := range c.grant.Permission.Conditions {
		filters[k] = v
	}
	for k, v := range c.restrictions {
		filters[k] = v
	}
	return filters
}

// effectiveGrants unions direct-role permissions with currently-valid
// delegated permissions, deduplicating on the permission triple. Direct
// grants win so a delegation's scope restrictions never narrow a permission
// the actor holds in their own right.
func (e *Engine) effectiveGrants(ctx context.Context, actor directory.Actor, at time.Time) ([]candidate, error) {
	direct, err := e.catalog.RolePermissions(ctx, actor.RoleIDs)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(direct))
	candidates := make([]candidate, 0, len(direct))
	for _, g := range direct {
		seen[g.Permission.Key()] = struct{}{}
		candidates = append(candidates, candidate{grant: g})
	}

	delegated, err := e.delegations.ActiveGrants(ctx, actor.ID, at)
	if err != nil {
		return nil, err
	}
	for _, d := range delegated {
		id := d.DelegationID
		for _, g := range d.Grants {
			if _, ok := seen[g.Permission.Key()]; ok {
				continue
			}
			seen[g.Permission.Key()] = struct{}{}
			candidates = append(candidates, candidate{grant: g, delegationID: &id, restrictions: d.Restrictions})
		}
	}
	return candidates, nil
}

func (e *Engine) internalError(req RequestContext, err error) evalOutcome {
	e.logger.Error("evaluation failed", slog.Int64("actor_id", req.ActorID), slog.String("resource", req.Resource), slog.Any("error", err))
	return evalOutcome{decision: denied(ReasonInternalError, RiskCritical)}
}
