package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads access_audit_logs from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const auditColumns = `actor_id, action, entity, entity_id, success, risk_level, reason, flagged_for_review, delegation_id, before_snapshot, after_snapshot, occurred_at`

// TimelineWindow returns a filtered slice of the timeline, newest first.
func (r *PGRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	var clauses []string
	var args []any
	addClause := func(condition string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(condition, len(args)))
	}
	if !filters.From.IsZero() {
		addClause("occurred_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		addClause("occurred_at < $%d", filters.To)
	}
	if filters.ActorID != 0 {
		addClause("actor_id = $%d", filters.ActorID)
	}
	if filters.Entity != "" {
		addClause("entity = $%d", filters.Entity)
	}
	if filters.Action != "" {
		addClause("action = $%d", filters.Action)
	}
	if filters.FlaggedOnly {
		clauses = append(clauses, "flagged_for_review")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, offset, limit)
	query := fmt.Sprintf(`SELECT %s FROM access_audit_logs %s ORDER BY occurred_at DESC OFFSET $%d LIMIT $%d`,
		auditColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

// DelegationHistory returns all records referencing one delegation, oldest
// first.
func (r *PGRepository) DelegationHistory(ctx context.Context, delegationID uuid.UUID) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+auditColumns+` FROM access_audit_logs
WHERE delegation_id=$1 ORDER BY occurred_at ASC`, delegationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

func collectRows(rows pgx.Rows) ([]TimelineRow, error) {
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var delegationID *uuid.UUID
		var beforeJSON, afterJSON []byte
		if err := rows.Scan(&row.ActorID, &row.Action, &row.Entity, &row.EntityID, &row.Success,
			&row.RiskLevel, &row.Reason, &row.FlaggedForReview, &delegationID, &beforeJSON, &afterJSON, &row.At); err != nil {
			return nil, err
		}
		row.Actor = ActorLabel(row.ActorID)
		if delegationID != nil {
			row.DelegationID = delegationID.String()
		}
		if len(beforeJSON) > 0 {
			if err := json.Unmarshal(beforeJSON, &row.Before); err != nil {
				return nil, err
			}
		}
		if len(afterJSON) > 0 {
			if err := json.Unmarshal(afterJSON, &row.After); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
