package verification

import "context"

// EnrollmentValidator checks a student's enrollment against an exam session.
type EnrollmentValidator struct{}

// Validate returns nil when student may sit session. A nil or inactive session
// fails with SessionInactive; a missing or inactive enrollment with NotEnrolled.
func (EnrollmentValidator) Validate(student Student, session *ExamSession) *Failure {
	if session == nil || !session.Active {
		return failure(ReasonSessionInactive)
	}
	for _, e := range student.Enrollments {
		if e.CourseID == session.CourseID && e.IsActive() {
			return nil
		}
	}
	return failure(ReasonNotEnrolled)
}

// FingerprintConfirmer scores a live fingerprint against an identified student.
type FingerprintConfirmer struct {
	scorer Scorer
}

// NewFingerprintConfirmer creates a confirmer backed by scorer.
func NewFingerprintConfirmer(scorer Scorer) *FingerprintConfirmer {
	return &FingerprintConfirmer{scorer: scorer}
}

// Confirm returns the raw similarity. Threshold comparison is left to the caller.
func (c *FingerprintConfirmer) Confirm(ctx context.Context, student Student, live Descriptor) (float64, *Failure, error) {
	if len(student.FingerprintTemplate) == 0 {
		return 0, failure(ReasonNoEnrolledTemplate), nil
	}
	score, err := checkedScore(ctx, c.scorer, live, student.FingerprintTemplate)
	if err != nil {
		return 0, nil, err
	}
	return score, nil, nil
}
