package catalog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-authz/aegis/internal/shared"
)

// Repository provides PostgreSQL backed access to the role/permission catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, code, name, category, hierarchy_level, incompatible_roles, requires_approval, requires_mfa, is_delegable, is_active, policy_rules, created_at, updated_at`

// GetRole fetches a role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id=$1`, id)
	return scanRole(row)
}

// GetRoleByCode fetches a role by its machine code.
func (r *Repository) GetRoleByCode(ctx context.Context, code string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE code=$1`, code)
	return scanRole(row)
}

// ListRoles returns all roles ordered by code.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListRolesByIDs fetches the given roles, skipping unknown ids.
func (r *Repository) ListRolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ANY($1) ORDER BY code`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListPermissionsForRole returns the permissions attached to one role.
func (r *Repository) ListPermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.feature, p.action, p.scope, p.conditions, p.is_active
FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
WHERE rp.role_id = $1
ORDER BY p.feature, p.action`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// ListPermissionsByIDs fetches explicit permission subsets for delegations.
func (r *Repository) ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, feature, action, scope, conditions, is_active
FROM permissions WHERE id = ANY($1) ORDER BY feature, action`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// ListPermissions returns the whole permission catalog.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, feature, action, scope, conditions, is_active
FROM permissions ORDER BY feature, action, scope`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// DeactivateRole soft-deactivates a role. Returns shared.ErrNotFound when the
// role does not exist.
func (r *Repository) DeactivateRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET is_active=false, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	var policyJSON []byte
	err := row.Scan(&role.ID, &role.Code, &role.Name, &role.Category, &role.HierarchyLevel,
		&role.IncompatibleRoles, &role.RequiresApproval, &role.RequiresMFA, &role.IsDelegable,
		&role.IsActive, &policyJSON, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	if len(policyJSON) > 0 {
		if err := json.Unmarshal(policyJSON, &role.Policy); err != nil {
			return Role{}, err
		}
	}
	return role, nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		var p Permission
		var scope string
		var conditionsJSON []byte
		if err := rows.Scan(&p.ID, &p.Feature, &p.Action, &scope, &conditionsJSON, &p.IsActive); err != nil {
			return nil, err
		}
		p.Scope = Scope(scope)
		if len(conditionsJSON) > 0 {
			if err := json.Unmarshal(conditionsJSON, &p.Conditions); err != nil {
				return nil, err
			}
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
