package catalog

import (
	"context"
)

// RepositoryPort defines data access methods for the catalog.
type RepositoryPort interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByCode(ctx context.Context, code string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ListRolesByIDs(ctx context.Context, ids []int64) ([]Role, error)
	ListPermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error)
	ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	DeactivateRole(ctx context.Context, id int64) error
}

// Service exposes catalog reads and the soft-deactivation write.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// GetRoleByCode fetches a role by code.
func (s *Service) GetRoleByCode(ctx context.Context, code string) (Role, error) {
	return s.repo.GetRoleByCode(ctx, code)
}

// ListRoles returns the whole role catalog.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListPermissionsByIDs resolves a set of permission ids.
func (s *Service) ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	return s.repo.ListPermissionsByIDs(ctx, ids)
}

// ListRolesByIDs resolves a set of role ids.
func (s *Service) ListRolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	return s.repo.ListRolesByIDs(ctx, ids)
}

// ListPermissions returns the whole permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// DeactivateRole soft-deactivates a role.
func (s *Service) DeactivateRole(ctx context.Context, id int64) error {
	return s.repo.DeactivateRole(ctx, id)
}

// RolePermissions returns active permissions for a set of role ids, keeping
// only active roles and deduplicating by the (feature, action, scope) triple.
// The granting role travels with each permission so policy rules and field
// masks can be applied downstream.
func (s *Service) RolePermissions(ctx context.Context, roleIDs []int64) ([]Grant, error) {
	roles, err := s.repo.ListRolesByIDs(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var grants []Grant
	for _, role := range roles {
		if !role.IsActive {
			continue
		}
		perms, err := s.repo.ListPermissionsForRole(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			if _, ok := seen[p.Key()]; ok {
				continue
			}
			seen[p.Key()] = struct{}{}
			grants = append(grants, Grant{Permission: p, Role: role})
		}
	}
	return grants, nil
}

// Grant pairs a permission with the role that supplies it.
type Grant struct {
	Permission Permission
	Role       Role
}
