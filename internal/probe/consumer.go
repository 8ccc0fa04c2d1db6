package probe

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"examgate/internal/queue"
	"examgate/internal/verification"
)

// AttemptLoader reads recorded attempts.
type AttemptLoader interface {
	GetAttempt(ctx context.Context, id string) (verification.Attempt, error)
}

// Consumer feeds attempt.recorded events to a Monitor.
type Consumer struct {
	queue    queue.Queue
	attempts AttemptLoader
	monitor  *Monitor
	logger   zerolog.Logger
}

func NewConsumer(q queue.Queue, attempts AttemptLoader, monitor *Monitor, logger zerolog.Logger) *Consumer {
	return &Consumer{
		queue:    q,
		attempts: attempts,
		monitor:  monitor,
		logger:   logger.With().Str("component", "probe_consumer").Logger(),
	}
}

// Run processes events until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.queue.Consume(ctx)
	if err != nil {
		return err
	}
	c.logger.Info().Msg("waiting for attempt events")
	for msg := range messages {
		if msg.Type != queue.TypeAttemptRecorded {
			continue
		}
		c.handle(ctx, string(msg.Body))
	}
	c.logger.Info().Msg("consumer stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, id string) {
	a, err := c.attempts.GetAttempt(ctx, id)
	if errors.Is(err, verification.ErrAttemptNotFound) {
		c.logger.Warn().Str("attempt_id", id).Msg("event for unknown attempt")
		return
	}
	if err != nil {
		c.logger.Error().Err(err).Str("attempt_id", id).Msg("fetch attempt failed")
		return
	}
	if _, err := c.monitor.Observe(ctx, a); err != nil {
		c.logger.Error().Err(err).Str("attempt_id", id).Msg("probe update failed")
	}
}
