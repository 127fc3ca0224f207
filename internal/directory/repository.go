package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-authz/aegis/internal/platform/db"
	"github.com/aegis-authz/aegis/internal/shared"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository provides PostgreSQL backed access to the actor directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetActor fetches an actor with its assigned role ids.
func (r *Repository) GetActor(ctx context.Context, id int64) (Actor, error) {
	var a Actor
	err := r.pool.QueryRow(ctx, `SELECT id, email, name, department, country, business_unit, manager_id, is_active, created_at, updated_at
FROM actors WHERE id=$1`, id).Scan(&a.ID, &a.Email, &a.Name, &a.Department, &a.Country, &a.BusinessUnit, &a.ManagerID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Actor{}, shared.ErrActorNotFound
		}
		return Actor{}, err
	}
	roleIDs, err := actorRoleIDs(ctx, r.pool, id)
	if err != nil {
		return Actor{}, err
	}
	a.RoleIDs = roleIDs
	return a, nil
}

// DirectReports returns the ids of actors reporting directly to managerID.
// Team-scoped permissions resolve to this set plus the manager.
func (r *Repository) DirectReports(ctx context.Context, managerID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM actors WHERE manager_id=$1 AND is_active`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListActiveWithMultipleRoles returns active actors holding at least two
// roles. The SoD compliance sweep only needs those. The listing and the
// per-actor role loads run in one RepeatableRead transaction so the sweep
// never sees an assignment set mid-change.
func (r *Repository) ListActiveWithMultipleRoles(ctx context.Context) ([]Actor, error) {
	var actors []Actor
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT a.id, a.email, a.name, a.department, a.country, a.business_unit, a.manager_id, a.is_active, a.created_at, a.updated_at
FROM actors a
JOIN actor_roles ar ON ar.actor_id = a.id
WHERE a.is_active
GROUP BY a.id
HAVING COUNT(ar.role_id) >= 2
ORDER BY a.id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a Actor
			if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.Department, &a.Country, &a.BusinessUnit, &a.ManagerID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
				return err
			}
			actors = append(actors, a)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range actors {
			roleIDs, err := actorRoleIDs(ctx, tx, actors[i].ID)
			if err != nil {
				return err
			}
			actors[i].RoleIDs = roleIDs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return actors, nil
}

func actorRoleIDs(ctx context.Context, q querier, actorID int64) ([]int64, error) {
	rows, err := q.Query(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=$1 ORDER BY role_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
