package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SystemActor is the sentinel actor id for transitions driven by background
// sweeps rather than a person. Read views render it as "SYSTEM".
const SystemActor int64 = 0

// AccessEntry represents one immutable record in access_audit_logs. Rows are
// inserted once and never updated.
type AccessEntry struct {
	ActorID          int64
	Action           string
	Entity           string
	EntityID         string
	Success          bool
	RiskLevel        string
	Reason           string
	FlaggedForReview bool
	IP               string
	UserAgent        string
	URL              string
	DelegationID     *uuid.UUID
	Before           map[string]any
	After            map[string]any
	At               time.Time
}

// AccessAuditLogger appends records to access_audit_logs.
type AccessAuditLogger struct {
	pool *pgxpool.Pool
}

// NewAccessAuditLogger returns a new AccessAuditLogger.
func NewAccessAuditLogger(pool *pgxpool.Pool) *AccessAuditLogger {
	return &AccessAuditLogger{pool: pool}
}

// Record persists the entry. Concurrent writers never touch the same row, so
// a plain insert is the only storage guarantee this needs.
func (l *AccessAuditLogger) Record(ctx context.Context, e AccessEntry) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if e.Action == "" || e.Entity == "" {
		return errors.New("audit entry requires action/entity")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	beforeJSON, err := marshalSnapshot(e.Before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalSnapshot(e.After)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO access_audit_logs
(actor_id, action, entity, entity_id, success, risk_level, reason, flagged_for_review, ip, user_agent, url, delegation_id, before_snapshot, after_snapshot, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ActorID, e.Action, e.Entity, e.EntityID, e.Success, e.RiskLevel, e.Reason, e.FlaggedForReview,
		e.IP, e.UserAgent, e.URL, e.DelegationID, beforeJSON, afterJSON, e.At)
	return err
}

func marshalSnapshot(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
