// Package notify hands lifecycle notices to the external notification
// collaborator. Delivery is fire-and-forget: a failed send never rolls back
// the transition that produced it.
package notify

import (
	"context"
	"log/slog"
)

// Notice is a minimal outbound message for one actor.
type Notice struct {
	ActorID int64  `json:"actor_id"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Notifier delivers notices. Implementations must not block lifecycle
// transitions on delivery.
type Notifier interface {
	Send(ctx context.Context, n Notice)
}

// Enqueuer submits a notice to a background queue.
type Enqueuer interface {
	EnqueueNotice(ctx context.Context, n Notice) error
}

// QueueNotifier enqueues notices onto the job queue for async delivery.
type QueueNotifier struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(queue Enqueuer, logger *slog.Logger) *QueueNotifier {
	return &QueueNotifier{queue: queue, logger: logger}
}

// Send enqueues the notice, logging and swallowing any failure.
func (q *QueueNotifier) Send(ctx context.Context, n Notice) {
	if q == nil || q.queue == nil {
		return
	}
	if err := q.queue.EnqueueNotice(ctx, n); err != nil {
		q.logger.Warn("enqueue notice", slog.Int64("actor_id", n.ActorID), slog.String("subject", n.Subject), slog.Any("error", err))
	}
}

// NopNotifier drops all notices. Used in tests and when no queue is wired.
type NopNotifier struct{}

// Send implements Notifier.
func (NopNotifier) Send(ctx context.Context, n Notice) {}
