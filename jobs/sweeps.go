package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aegis-authz/aegis/internal/delegation"
	"github.com/aegis-authz/aegis/internal/sod"
)

// Sweeps bundles the periodic maintenance handlers.
type Sweeps struct {
	Delegations    *delegation.Service
	SoD            *sod.Checker
	ReminderWindow time.Duration
	Logger         *slog.Logger
}

// HandleDelegationExpire processes TaskDelegationExpire tasks.
func (s *Sweeps) HandleDelegationExpire(ctx context.Context, t *asynq.Task) error {
	expired, err := s.Delegations.AutoExpire(ctx)
	if err != nil {
		return err
	}
	s.Logger.Info("delegation expiry sweep", slog.Int("expired", expired))
	return nil
}

// HandleDelegationReminders processes TaskDelegationReminders tasks.
func (s *Sweeps) HandleDelegationReminders(ctx context.Context, t *asynq.Task) error {
	window := s.ReminderWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	reminded, err := s.Delegations.SendExpirationReminders(ctx, window)
	if err != nil {
		return err
	}
	s.Logger.Info("delegation reminder sweep", slog.Int("reminded", reminded))
	return nil
}

// HandleSoDScan processes TaskSoDScan tasks.
func (s *Sweeps) HandleSoDScan(ctx context.Context, t *asynq.Task) error {
	findings, err := s.SoD.ScanAllUsers(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, f := range findings {
		total += len(f.Violations)
		s.Logger.Warn("sod sweep finding",
			slog.Int64("actor_id", f.ActorID),
			slog.String("actor", f.ActorName),
			slog.Int("violations", len(f.Violations)))
	}
	s.Logger.Info("sod compliance sweep", slog.Int("actors_flagged", len(findings)), slog.Int("violations", total))
	return nil
}
