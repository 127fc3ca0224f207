package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-authz/aegis/internal/shared"
)

// ErrDuplicate indicates an identical delegation already exists.
var ErrDuplicate = errors.New("delegation: duplicate grant")

// Repository provides PostgreSQL backed persistence for delegations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const delegationColumns = `id, delegator_id, delegate_id, role_id, permission_ids, start_date, end_date, status, reason, scope_restrictions, auto_revoke, reminders_sent, approved_by, approved_at, rejection_reason, revoked_by, revoked_at, revoke_reason, created_at, updated_at`

// Create inserts a new delegation row.
func (r *Repository) Create(ctx context.Context, d RoleDelegation) error {
	restrictionsJSON, err := json.Marshal(d.ScopeRestrictions)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO role_delegations
(id, delegator_id, delegate_id, role_id, permission_ids, start_date, end_date, status, reason, scope_restrictions, auto_revoke, reminders_sent, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $12)`,
		d.ID, d.DelegatorID, d.DelegateID, d.RoleID, d.PermissionIDs, d.StartDate, d.EndDate,
		string(d.Status), d.Reason, restrictionsJSON, d.AutoRevoke, d.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("delegation: create: %w", err)
	}
	return nil
}

// Get fetches a delegation by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (RoleDelegation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+delegationColumns+` FROM role_delegations WHERE id=$1`, id)
	return scanDelegation(row)
}

// ListForDelegate returns all delegations granted to one delegate, newest
// first.
func (r *Repository) ListForDelegate(ctx context.Context, delegateID int64) ([]RoleDelegation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+delegationColumns+` FROM role_delegations
WHERE delegate_id=$1 ORDER BY created_at DESC`, delegateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDelegations(rows)
}

// ListActiveForDelegate returns delegations usable by the evaluation engine
// at instant at: status ACTIVE and at inside [start_date, end_date).
func (r *Repository) ListActiveForDelegate(ctx context.Context, delegateID int64, at time.Time) ([]RoleDelegation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+delegationColumns+` FROM role_delegations
WHERE delegate_id=$1 AND status='ACTIVE' AND start_date <= $2 AND end_date > $2
ORDER BY created_at`, delegateID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDelegations(rows)
}

// Approve transitions PENDING to ACTIVE. Returns shared.ErrDelegationNotPending
// when the row is in any other state.
func (r *Repository) Approve(ctx context.Context, id uuid.UUID, approverID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE role_delegations
SET status='ACTIVE', approved_by=$2, approved_at=$3, updated_at=$3
WHERE id=$1 AND status='PENDING'`, id, approverID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrDelegationNotPending
	}
	return nil
}

// Reject transitions PENDING to REVOKED, recording the rejection reason.
func (r *Repository) Reject(ctx context.Context, id uuid.UUID, approverID int64, reason string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE role_delegations
SET status='REVOKED', revoked_by=$2, revoked_at=$3, rejection_reason=$4, updated_at=$3
WHERE id=$1 AND status='PENDING'`, id, approverID, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrDelegationNotPending
	}
	return nil
}

// Revoke withdraws an ACTIVE or PENDING delegation.
func (r *Repository) Revoke(ctx context.Context, id uuid.UUID, revokedBy int64, reason string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE role_delegations
SET status='REVOKED', revoked_by=$2, revoked_at=$3, revoke_reason=$4, updated_at=$3
WHERE id=$1 AND status IN ('ACTIVE', 'PENDING')`, id, revokedBy, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrDelegationNotActive
	}
	return nil
}

// ExpireDue retires every ACTIVE auto-revoke delegation whose end date has
// passed. Each row flips in one atomic status-and-timestamp update, so a
// concurrent evaluation sees either ACTIVE or EXPIRED, never anything in
// between. Running it twice without time advancing is a no-op the second
// time.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) ([]RoleDelegation, error) {
	rows, err := r.pool.Query(ctx, `UPDATE role_delegations
SET status='EXPIRED', updated_at=$1
WHERE status='ACTIVE' AND end_date < $1 AND auto_revoke
RETURNING `+delegationColumns, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDelegations(rows)
}

// MarkReminded selects ACTIVE delegations expiring inside (now, until] that
// have not been reminded yet, incrementing reminders_sent in the same
// statement so each delegation is reminded at most once.
func (r *Repository) MarkReminded(ctx context.Context, now, until time.Time) ([]RoleDelegation, error) {
	rows, err := r.pool.Query(ctx, `UPDATE role_delegations
SET reminders_sent = reminders_sent + 1, updated_at=$1
WHERE status='ACTIVE' AND end_date > $1 AND end_date <= $2 AND reminders_sent = 0
RETURNING `+delegationColumns, now, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDelegations(rows)
}

func scanDelegation(row pgx.Row) (RoleDelegation, error) {
	var d RoleDelegation
	var status string
	var restrictionsJSON []byte
	err := row.Scan(&d.ID, &d.DelegatorID, &d.DelegateID, &d.RoleID, &d.PermissionIDs,
		&d.StartDate, &d.EndDate, &status, &d.Reason, &restrictionsJSON, &d.AutoRevoke,
		&d.RemindersSent, &d.ApprovedBy, &d.ApprovedAt, &d.RejectionReason,
		&d.RevokedBy, &d.RevokedAt, &d.RevokeReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleDelegation{}, shared.ErrNotFound
		}
		return RoleDelegation{}, err
	}
	d.Status = Status(status)
	if len(restrictionsJSON) > 0 {
		if err := json.Unmarshal(restrictionsJSON, &d.ScopeRestrictions); err != nil {
			return RoleDelegation{}, err
		}
	}
	return d, nil
}

func collectDelegations(rows pgx.Rows) ([]RoleDelegation, error) {
	var delegations []RoleDelegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		delegations = append(delegations, d)
	}
	return delegations, rows.Err()
}
