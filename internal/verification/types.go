package verification

import (
	"context"
	"time"
)

// State is a step of a verification run.
type State string

const (
	StateIdle                 State = "idle"
	StateFaceSubmitted        State = "face_submitted"
	StateIdentified           State = "identified"
	StateEnrollmentChecked    State = "enrollment_checked"
	StateFingerprintSubmitted State = "fingerprint_submitted"
	StateDecided              State = "decided"
)

// Verdict is the terminal classification of an attempt.
type Verdict string

const (
	VerdictApproved            Verdict = "approved"
	VerdictRejectedFace        Verdict = "rejected_face"
	VerdictRejectedEnrollment  Verdict = "rejected_enrollment"
	VerdictRejectedFingerprint Verdict = "rejected_fingerprint"
	VerdictAborted             Verdict = "aborted"
	VerdictFaulted             Verdict = "faulted"
)

// Reason is a failure reason code. The zero value means no failure.
type Reason string

const (
	ReasonNoEnrolledTemplate     Reason = "no_enrolled_template"
	ReasonLowConfidenceMatch     Reason = "low_confidence_match"
	ReasonNoMatch                Reason = "no_match"
	ReasonAmbiguousMatch         Reason = "ambiguous_match"
	ReasonUnknownStudent         Reason = "unknown_student"
	ReasonConcurrentAttempt      Reason = "concurrent_attempt"
	ReasonNotEnrolled            Reason = "not_enrolled"
	ReasonSessionInactive        Reason = "session_inactive"
	ReasonMultipleActiveSessions Reason = "multiple_active_sessions"
	ReasonStoreUnavailable       Reason = "store_unavailable"
	ReasonScorerUnavailable      Reason = "scorer_unavailable"
	ReasonTimeout                Reason = "timeout"
	ReasonCancelled              Reason = "cancelled"
)

// Descriptor is a live biometric sample as produced by the capture layer.
type Descriptor []byte

// Template is a stored, previously enrolled biometric descriptor.
type Template []byte

// EnrollmentStatus is the lifecycle state of a course enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive   EnrollmentStatus = "active"
	EnrollmentInactive EnrollmentStatus = "inactive"
)

// Enrollment links a student to a course.
type Enrollment struct {
	CourseID string           `json:"course_id"`
	Status   EnrollmentStatus `json:"status"`
}

// IsActive reports whether the enrollment counts for exam admission.
// Stores that only know course ids leave Status empty.
func (e Enrollment) IsActive() bool {
	return e.Status == "" || e.Status == EnrollmentActive
}

// Student is the read-only view of an enrolled student.
type Student struct {
	ID                  string
	Name                string
	ClassName           string
	Department          string
	Faculty             string
	FaceTemplate        Template
	FingerprintTemplate Template
	Enrollments         []Enrollment
}

// EnrolledCourseIDs lists the course ids of all enrollments.
func (s Student) EnrolledCourseIDs() []string {
	ids := make([]string, 0, len(s.Enrollments))
	for _, e := range s.Enrollments {
		ids = append(ids, e.CourseID)
	}
	return ids
}

// Summary returns the display fields shown to the kiosk.
func (s Student) Summary() StudentSummary {
	return StudentSummary{
		ID:         s.ID,
		Name:       s.Name,
		ClassName:  s.ClassName,
		Department: s.Department,
		Faculty:    s.Faculty,
	}
}

// StudentSummary is the non-biometric part of a student.
type StudentSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ClassName  string `json:"class_name,omitempty"`
	Department string `json:"department,omitempty"`
	Faculty    string `json:"faculty,omitempty"`
}

// FaceTemplateEntry is one row of the open-identification gallery.
type FaceTemplateEntry struct {
	StudentID string   `json:"student_id"`
	Template  Template `json:"template"`
}

// ExamSession is a scheduled exam bound to a kiosk context.
type ExamSession struct {
	ID       string
	CourseID string
	KioskID  string
	StartsAt time.Time
	Duration time.Duration
	Location string
	Active   bool
}

// EndsAt is the end of the scheduled window.
func (s ExamSession) EndsAt() time.Time {
	return s.StartsAt.Add(s.Duration)
}

// Attempt is the audit record of one verification run. Empty strings and nil
// scores are persisted as NULL.
type Attempt struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	KioskID          string    `json:"kiosk_id"`
	ExamSessionID    string    `json:"exam_session_id,omitempty"`
	StudentID        string    `json:"student_id,omitempty"`
	FaceScore        *float64  `json:"face_score"`
	FingerprintScore *float64  `json:"fingerprint_score"`
	Verdict          Verdict   `json:"verdict"`
	Reason           Reason    `json:"reason,omitempty"`
	ErrorDetail      string    `json:"error_detail,omitempty"`
}

// Failure is a named rejection, optionally carrying the score that caused it.
type Failure struct {
	Reason Reason
	Score  *float64
}

func failure(reason Reason) *Failure {
	return &Failure{Reason: reason}
}

func failureWithScore(reason Reason, score float64) *Failure {
	return &Failure{Reason: reason, Score: &score}
}

// TemplateStore returns enrolled templates. GetStudentTemplates returns
// ErrStudentNotFound for unknown ids.
type TemplateStore interface {
	GetStudentTemplates(ctx context.Context, studentID string) (Student, error)
	ListAllFaceTemplates(ctx context.Context) ([]FaceTemplateEntry, error)
}

// SessionSource resolves the active exam session of a kiosk context. It returns
// nil when none is active and ErrMultipleActiveSessions when more than one is.
type SessionSource interface {
	GetActiveSession(ctx context.Context, kioskID string) (*ExamSession, error)
}

// Scorer returns a similarity in [0,1]; identical inputs give identical scores.
type Scorer interface {
	Score(ctx context.Context, live Descriptor, stored Template) (float64, error)
}

// AuditLogger appends attempt records.
type AuditLogger interface {
	Record(ctx context.Context, attempt Attempt) error
}

// Claimer guards against two open attempts for the same student.
type Claimer interface {
	Claim(studentID, kioskID string) bool
	Release(studentID, kioskID string)
}
