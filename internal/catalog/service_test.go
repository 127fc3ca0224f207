package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-authz/aegis/internal/shared"
)

type memCatalogRepo struct {
	roles map[int64]Role
	perms map[int64][]Permission
}

func (m *memCatalogRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (m *memCatalogRepo) GetRoleByCode(ctx context.Context, code string) (Role, error) {
	for _, role := range m.roles {
		if role.Code == code {
			return role, nil
		}
	}
	return Role{}, shared.ErrNotFound
}

func (m *memCatalogRepo) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	for _, role := range m.roles {
		out = append(out, role)
	}
	return out, nil
}

func (m *memCatalogRepo) ListRolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	var out []Role
	for _, id := range ids {
		if role, ok := m.roles[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

func (m *memCatalogRepo) ListPermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	return m.perms[roleID], nil
}

func (m *memCatalogRepo) ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	return nil, nil
}

func (m *memCatalogRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	return nil, nil
}

func (m *memCatalogRepo) DeactivateRole(ctx context.Context, id int64) error {
	role, ok := m.roles[id]
	if !ok {
		return shared.ErrNotFound
	}
	role.IsActive = false
	m.roles[id] = role
	return nil
}

func TestRolePermissionsDeduplicatesOnTriple(t *testing.T) {
	view := Permission{ID: 1, Feature: "payroll", Action: "view", Scope: ScopeOrg, IsActive: true}
	process := Permission{ID: 2, Feature: "payroll", Action: "process", Scope: ScopeOrg, IsActive: true}
	repo := &memCatalogRepo{
		roles: map[int64]Role{
			1: {ID: 1, Code: "PAYROLL_VIEWER", IsActive: true},
			2: {ID: 2, Code: "PAYROLL_ADMIN", IsActive: true},
		},
		perms: map[int64][]Permission{
			1: {view},
			2: {view, process},
		},
	}
	service := NewService(repo)

	grants, err := service.RolePermissions(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, grants, 2)
	// The first role listing the permission supplies it.
	assert.Equal(t, "PAYROLL_VIEWER", grants[0].Role.Code)
	assert.Equal(t, "view", grants[0].Permission.Action)
	assert.Equal(t, "process", grants[1].Permission.Action)
}

func TestRolePermissionsSkipsInactiveRoles(t *testing.T) {
	process := Permission{ID: 2, Feature: "payroll", Action: "process", Scope: ScopeOrg, IsActive: true}
	repo := &memCatalogRepo{
		roles: map[int64]Role{
			2: {ID: 2, Code: "PAYROLL_ADMIN", IsActive: false},
		},
		perms: map[int64][]Permission{2: {process}},
	}
	service := NewService(repo)

	grants, err := service.RolePermissions(context.Background(), []int64{2})
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestPermissionMatches(t *testing.T) {
	p := Permission{Feature: "payroll", Action: "process", Scope: ScopeOrg, IsActive: true}
	assert.True(t, p.Matches("payroll", "process"))
	assert.False(t, p.Matches("payroll", "view"))
	assert.False(t, p.Matches("banking", "process"))

	p.IsActive = false
	assert.False(t, p.Matches("payroll", "process"), "inactive permissions never match")
}

func TestPermissionKey(t *testing.T) {
	p := Permission{Feature: "payroll", Action: "process", Scope: ScopeOrg}
	assert.Equal(t, "payroll/process/org", p.Key())
}
