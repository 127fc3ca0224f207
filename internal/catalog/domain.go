package catalog

import "time"

// Scope is the unit attribute-based filtering operates on.
type Scope string

const (
	// ScopeSelf restricts records to the actor's own.
	ScopeSelf Scope = "self"
	// ScopeTeam restricts records to the actor's direct reports.
	ScopeTeam Scope = "team"
	// ScopeDepartment restricts records to the actor's department.
	ScopeDepartment Scope = "department"
	// ScopeOrg grants organisation-wide access.
	ScopeOrg Scope = "org"
	// ScopeSystem grants unrestricted system access.
	ScopeSystem Scope = "system"
)

// PolicyRules carries the ABAC-relevant refinements declared on a role.
type PolicyRules struct {
	AllowedCountries     []string `json:"allowed_countries,omitempty"`
	AllowedBusinessUnits []string `json:"allowed_business_units,omitempty"`
	// AllowedHoursStart/End bound access to a daily window in UTC hours.
	// Both zero means unrestricted.
	AllowedHoursStart int      `json:"allowed_hours_start,omitempty"`
	AllowedHoursEnd   int      `json:"allowed_hours_end,omitempty"`
	IPAllowList       []string `json:"ip_allow_list,omitempty"`
	FieldMask         []string `json:"field_mask,omitempty"`
}

// TimeRestricted reports whether the rules declare a daily access window.
func (p PolicyRules) TimeRestricted() bool {
	return p.AllowedHoursStart != 0 || p.AllowedHoursEnd != 0
}

// Role represents a named bundle of permissions. Roles are reference data:
// administrators edit them rarely and deactivate rather than delete.
type Role struct {
	ID                int64
	Code              string
	Name              string
	Category          string
	HierarchyLevel    int
	IncompatibleRoles []string
	RequiresApproval  bool
	RequiresMFA       bool
	IsDelegable       bool
	IsActive          bool
	Policy            PolicyRules
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Permission is the atomic grantable unit, unique on (feature, action, scope).
type Permission struct {
	ID         int64
	Feature    string
	Action     string
	Scope      Scope
	Conditions map[string]string
	IsActive   bool
}

// Key identifies a permission by its unique triple. Effective permission sets
// deduplicate on this.
func (p Permission) Key() string {
	return p.Feature + "/" + p.Action + "/" + string(p.Scope)
}

// Matches reports whether the permission grants the requested action on the
// requested resource.
func (p Permission) Matches(resource, action string) bool {
	return p.IsActive && p.Feature == resource && p.Action == action
}
