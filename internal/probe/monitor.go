package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"examgate/internal/observability"
	"examgate/internal/verification"
)

const keyPrefix = "examgate:probe:"

// Monitor counts recent rejections per student and raises an alert when a
// student keeps failing. It only observes; verdicts are never changed.
type Monitor struct {
	client *redis.Client
	window time.Duration
	limit  int
	logger zerolog.Logger
}

// NewMonitor creates a monitor alerting after limit rejections within window.
func NewMonitor(client *redis.Client, window time.Duration, limit int, logger zerolog.Logger) *Monitor {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if limit <= 0 {
		limit = 5
	}
	return &Monitor{
		client: client,
		window: window,
		limit:  limit,
		logger: logger.With().Str("component", "probe_monitor").Logger(),
	}
}

func rejection(v verification.Verdict) bool {
	switch v {
	case verification.VerdictRejectedFace, verification.VerdictRejectedEnrollment, verification.VerdictRejectedFingerprint:
		return true
	}
	return false
}

// Observe feeds one recorded attempt. It reports whether this attempt made
// the student reach the alert limit.
func (m *Monitor) Observe(ctx context.Context, a verification.Attempt) (bool, error) {
	if a.StudentID == "" {
		return false, nil
	}
	key := keyPrefix + a.StudentID

	if a.Verdict == verification.VerdictApproved {
		if err := m.client.Del(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("reset probe counter: %w", err)
		}
		return false, nil
	}
	if !rejection(a.Verdict) {
		return false, nil
	}

	count, err := m.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr probe counter: %w", err)
	}
	if count == 1 {
		if err := m.client.Expire(ctx, key, m.window).Err(); err != nil {
			return false, fmt.Errorf("expire probe counter: %w", err)
		}
	}
	if count != int64(m.limit) {
		return false, nil
	}

	observability.ProbeAlert()
	m.logger.Warn().
		Str("student_id", a.StudentID).
		Str("kiosk_id", a.KioskID).
		Str("attempt_id", a.ID).
		Int64("rejections", count).
		Dur("window", m.window).
		Msg("repeated verification rejections")
	return true, nil
}
