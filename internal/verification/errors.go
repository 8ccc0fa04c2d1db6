package verification

import (
	"errors"
	"fmt"
)

var (
	ErrStudentNotFound        = errors.New("student not found")
	ErrAttemptNotFound        = errors.New("attempt not found")
	ErrMultipleActiveSessions = errors.New("more than one exam session is active")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrScorerUnavailable      = errors.New("scorer unavailable")
	ErrInvalidTransition      = errors.New("operation not allowed in current state")
	ErrAuditWrite             = errors.New("audit write failed")
	ErrDuplicateAttempt       = errors.New("attempt already recorded")
)

// AuditError reports that the verdict was computed but its record could not be
// written.
type AuditError struct {
	AttemptID string
	Err       error
}

func (e *AuditError) Error() string {
	return fmt.Sprintf("audit write for attempt %s failed: %v", e.AttemptID, e.Err)
}

func (e *AuditError) Unwrap() []error {
	return []error{ErrAuditWrite, e.Err}
}

func storeFault(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func scorerFault(err error) error {
	if errors.Is(err, ErrScorerUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrScorerUnavailable, err)
}

// faultReason maps a collaborator error to the reason recorded with a Faulted verdict.
func faultReason(err error) Reason {
	switch {
	case errors.Is(err, ErrMultipleActiveSessions):
		return ReasonMultipleActiveSessions
	case errors.Is(err, ErrScorerUnavailable):
		return ReasonScorerUnavailable
	default:
		return ReasonStoreUnavailable
	}
}
