package sod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aegis-authz/aegis/internal/catalog"
	"github.com/aegis-authz/aegis/internal/directory"
	"github.com/aegis-authz/aegis/internal/shared"
)

// Violation records a declared incompatibility between two roles.
type Violation struct {
	RoleA           string   `json:"role_a"`
	RoleB           string   `json:"role_b"`
	CodeA           string   `json:"code_a"`
	CodeB           string   `json:"code_b"`
	RiskLevel       string   `json:"risk_level"`
	Recommendations []string `json:"recommendations"`
}

// Warning flags a known anti-pattern with no declared incompatibility.
// Warnings never block.
type Warning struct {
	RoleA   string `json:"role_a"`
	RoleB   string `json:"role_b"`
	Pattern string `json:"pattern"`
	Detail  string `json:"detail"`
}

// CheckResult is the outcome of a single assignment check.
type CheckResult struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations"`
	Warnings   []Warning   `json:"warnings"`
}

// ActorViolations groups sweep findings per actor.
type ActorViolations struct {
	ActorID    int64       `json:"actor_id"`
	ActorName  string      `json:"actor_name"`
	Violations []Violation `json:"violations"`
}

// DirectoryPort exposes the actor reads the checker needs.
type DirectoryPort interface {
	GetActor(ctx context.Context, id int64) (directory.Actor, error)
	ListActiveWithMultipleRoles(ctx context.Context) ([]directory.Actor, error)
}

// CatalogPort exposes the role reads the checker needs.
type CatalogPort interface {
	GetRole(ctx context.Context, id int64) (catalog.Role, error)
	ListRolesByIDs(ctx context.Context, ids []int64) ([]catalog.Role, error)
}

// AuditPort appends violation records to the audit trail.
type AuditPort interface {
	Record(ctx context.Context, e shared.AccessEntry) error
}

// Checker enforces separation-of-duties incompatibilities.
type Checker struct {
	directory    DirectoryPort
	catalog      CatalogPort
	audit        AuditPort
	logger       *slog.Logger
	antiPatterns []antiPattern
}

// NewChecker constructs a Checker with the built-in anti-pattern table.
func NewChecker(dir DirectoryPort, cat CatalogPort, audit AuditPort, logger *slog.Logger) *Checker {
	return &Checker{
		directory:    dir,
		catalog:      cat,
		audit:        audit,
		logger:       logger,
		antiPatterns: defaultAntiPatterns(),
	}
}

// CheckAssignment determines whether granting candidateRoleID to the actor
// would violate a declared incompatibility with any currently held role.
// Incompatibility is bidirectional: either side listing the other suffices.
// Violations are written to the audit trail before returning.
func (c *Checker) CheckAssignment(ctx context.Context, actorID, candidateRoleID int64) (CheckResult, error) {
	actor, err := c.directory.GetActor(ctx, actorID)
	if err != nil {
		return CheckResult{}, err
	}
	candidateRole, err := c.catalog.GetRole(ctx, candidateRoleID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("sod: candidate role: %w", err)
	}
	heldRoles, err := c.catalog.ListRolesByIDs(ctx, actor.RoleIDs)
	if err != nil {
		return CheckResult{}, err
	}

	result := CheckResult{Violations: []Violation{}, Warnings: []Warning{}}
	for _, held := range heldRoles {
		if !held.IsActive || held.ID == candidateRole.ID {
			continue
		}
		if incompatible(held, candidateRole) {
			result.Violations = append(result.Violations, buildViolation(held, candidateRole))
		} else if pattern, ok := c.matchAntiPattern(held, candidateRole); ok {
			result.Warnings = append(result.Warnings, Warning{
				RoleA:   held.Name,
				RoleB:   candidateRole.Name,
				Pattern: pattern.Name,
				Detail:  pattern.Detail,
			})
		}
	}
	result.Allowed = len(result.Violations) == 0

	if !result.Allowed {
		c.recordViolations(ctx, actor, candidateRole, result.Violations)
	}
	return result, nil
}

// ScanAllUsers sweeps every active actor holding at least two roles and
// returns all pairwise violations. This is the periodic compliance sweep, not
// a per-request path.
func (c *Checker) ScanAllUsers(ctx context.Context) ([]ActorViolations, error) {
	actors, err := c.directory.ListActiveWithMultipleRoles(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]Violation, len(actors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range actors {
		i := i
		g.Go(func() error {
			roles, err := c.catalog.ListRolesByIDs(gctx, actors[i].RoleIDs)
			if err != nil {
				return err
			}
			results[i] = pairwiseViolations(roles)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var findings []ActorViolations
	for i, actor := range actors {
		if len(results[i]) == 0 {
			continue
		}
		findings = append(findings, ActorViolations{
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Violations: results[i],
		})
	}
	return findings, nil
}

func pairwiseViolations(roles []catalog.Role) []Violation {
	var violations []Violation
	for i := 0; i < len(roles); i++ {
		if !roles[i].IsActive {
			continue
		}
		for j := i + 1; j < len(roles); j++ {
			if !roles[j].IsActive {
				continue
			}
			if incompatible(roles[i], roles[j]) {
				violations = append(violations, buildViolation(roles[i], roles[j]))
			}
		}
	}
	return violations
}

// matchAntiPattern checks the advisory table in both directions.
func (c *Checker) matchAntiPattern(a, b catalog.Role) (antiPattern, bool) {
	for _, p := range c.antiPatterns {
		if (strings.EqualFold(p.CodeA, a.Code) && strings.EqualFold(p.CodeB, b.Code)) ||
			(strings.EqualFold(p.CodeA, b.Code) && strings.EqualFold(p.CodeB, a.Code)) {
			return p, true
		}
	}
	return antiPattern{}, false
}

func incompatible(a, b catalog.Role) bool {
	return listsCode(a.IncompatibleRoles, b.Code) || listsCode(b.IncompatibleRoles, a.Code)
}

func listsCode(codes []string, code string) bool {
	for _, c := range codes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

func buildViolation(a, b catalog.Role) Violation {
	return Violation{
		RoleA:     a.Name,
		RoleB:     b.Name,
		CodeA:     a.Code,
		CodeB:     b.Code,
		RiskLevel: violationRisk(a, b),
		Recommendations: []string{
			fmt.Sprintf("remove either %s or %s from the actor", a.Name, b.Name),
			fmt.Sprintf("delegate %s to a different actor with compensating review", b.Name),
			"document a compensating control if both roles are operationally required",
		},
	}
}

// violationRisk is CRITICAL when financial or system authority is involved,
// HIGH otherwise.
func violationRisk(a, b catalog.Role) string {
	for _, role := range []catalog.Role{a, b} {
		switch strings.ToLower(role.Category) {
		case "finance", "payroll", "system":
			return "CRITICAL"
		}
	}
	return "HIGH"
}

func (c *Checker) recordViolations(ctx context.Context, actor directory.Actor, candidate catalog.Role, violations []Violation) {
	for _, v := range violations {
		entry := shared.AccessEntry{
			ActorID:          actor.ID,
			Action:           "sod_violation",
			Entity:           "role",
			EntityID:         candidate.Code,
			Success:          false,
			RiskLevel:        v.RiskLevel,
			Reason:           fmt.Sprintf("%s conflicts with %s", v.CodeB, v.CodeA),
			FlaggedForReview: true,
		}
		if err := c.audit.Record(ctx, entry); err != nil {
			c.logger.Error("record sod violation", slog.Int64("actor_id", actor.ID), slog.Any("error", err))
		}
	}
}
