package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/aegis-authz/aegis/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDelegationExpire sweeps elapsed delegations.
	TaskDelegationExpire = "delegation:expire"
	// TaskDelegationReminders notifies parties of delegations about to lapse.
	TaskDelegationReminders = "delegation:reminders"
	// TaskSoDScan runs the periodic separation-of-duties compliance sweep.
	TaskSoDScan = "sod:scan"
	// TaskNotifySend delivers one lifecycle notice.
	TaskNotifySend = "notify:send"
)

// NewDelegationExpireTask constructs the expiry sweep task.
func NewDelegationExpireTask() *asynq.Task {
	return asynq.NewTask(TaskDelegationExpire, nil)
}

// NewDelegationRemindersTask constructs the reminder sweep task.
func NewDelegationRemindersTask() *asynq.Task {
	return asynq.NewTask(TaskDelegationReminders, nil)
}

// NewSoDScanTask constructs the compliance sweep task.
func NewSoDScanTask() *asynq.Task {
	return asynq.NewTask(TaskSoDScan, nil)
}

// NewNoticeTask constructs a notice delivery task.
func NewNoticeTask(n notify.Notice) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifySend, data), nil
}

// HandleNoticeTask delivers TaskNotifySend tasks. Delivery is currently a
// structured log line; the outbound channel lives with the notification
// collaborator, not this core.
func HandleNoticeTask(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var n notify.Notice
		if err := json.Unmarshal(t.Payload(), &n); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("notice delivered",
			slog.Int64("actor_id", n.ActorID),
			slog.String("subject", n.Subject))
		return nil
	}
}
