package verification

import (
	"context"

	"github.com/rs/zerolog"

	"examgate/internal/queue"
)

// Publisher is the write side of a queue.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// NotifyingAuditLog announces every successfully written attempt on a queue.
// Publish failures are logged and never fail the write.
type NotifyingAuditLog struct {
	next      AuditLogger
	publisher Publisher
	logger    zerolog.Logger
}

// NewNotifyingAuditLog wraps next.
func NewNotifyingAuditLog(next AuditLogger, publisher Publisher, logger zerolog.Logger) *NotifyingAuditLog {
	return &NotifyingAuditLog{
		next:      next,
		publisher: publisher,
		logger:    logger.With().Str("component", "audit_notifier").Logger(),
	}
}

// Record writes the attempt, then publishes its id.
func (l *NotifyingAuditLog) Record(ctx context.Context, attempt Attempt) error {
	if err := l.next.Record(ctx, attempt); err != nil {
		return err
	}
	msg := queue.Message{Type: queue.TypeAttemptRecorded, Body: []byte(attempt.ID)}
	if err := l.publisher.Publish(ctx, msg); err != nil {
		l.logger.Warn().Err(err).Str("attempt_id", attempt.ID).Msg("attempt event publish failed")
	}
	return nil
}
