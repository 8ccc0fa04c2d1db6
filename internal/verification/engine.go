package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"examgate/internal/observability"
)

// DefaultStateTimeout bounds the wait for the next capture event.
const DefaultStateTimeout = 30 * time.Second

// Config tunes a verification run.
type Config struct {
	FingerprintThreshold float64
	// StateTimeout aborts the run when the next capture does not arrive in
	// time. Zero disables the timer.
	StateTimeout time.Duration
}

// Deps are the collaborators of an engine run.
type Deps struct {
	Resolver  *Resolver
	Validator EnrollmentValidator
	Confirmer *FingerprintConfirmer
	Sessions  SessionSource
	Audit     AuditLogger
	Claims    Claimer
	Logger    zerolog.Logger
	Now       func() time.Time
	NewID     func() string
}

// FaceResult is the outcome of SubmitFace.
type FaceResult struct {
	State     State           `json:"state"`
	Verdict   Verdict         `json:"verdict,omitempty"`
	Student   *StudentSummary `json:"student,omitempty"`
	FaceScore *float64        `json:"face_score,omitempty"`
	Reason    Reason          `json:"failure_reason,omitempty"`
	AttemptID string          `json:"attempt_id,omitempty"`
}

// EnrollmentResult is the outcome of CheckEnrollment.
type EnrollmentResult struct {
	State     State   `json:"state"`
	Verdict   Verdict `json:"verdict,omitempty"`
	Reason    Reason  `json:"failure_reason,omitempty"`
	AttemptID string  `json:"attempt_id,omitempty"`
}

// FingerprintResult is the outcome of SubmitFingerprint.
type FingerprintResult struct {
	State            State    `json:"state"`
	Verdict          Verdict  `json:"verdict,omitempty"`
	FingerprintScore *float64 `json:"fingerprint_score,omitempty"`
	Reason           Reason   `json:"failure_reason,omitempty"`
	AttemptID        string   `json:"attempt_id,omitempty"`
}

// AbortResult is the outcome of Abort.
type AbortResult struct {
	State     State   `json:"state"`
	Verdict   Verdict `json:"verdict"`
	AttemptID string  `json:"attempt_id"`
}

// Snapshot is a read-only view of a run.
type Snapshot struct {
	KioskID          string   `json:"kiosk_id"`
	State            State    `json:"state"`
	Verdict          Verdict  `json:"verdict,omitempty"`
	Reason           Reason   `json:"failure_reason,omitempty"`
	StudentID        string   `json:"student_id,omitempty"`
	ExamSessionID    string   `json:"exam_session_id,omitempty"`
	FaceScore        *float64 `json:"face_score,omitempty"`
	FingerprintScore *float64 `json:"fingerprint_score,omitempty"`
	AttemptID        string   `json:"attempt_id,omitempty"`
}

// Engine is one verification run for one kiosk: Idle → FaceSubmitted →
// Identified → EnrollmentChecked → FingerprintSubmitted → Decided. Exactly one
// Attempt is written, when the run reaches Decided.
type Engine struct {
	mu      sync.Mutex
	kioskID string
	deps    Deps
	cfg     Config
	log     zerolog.Logger

	state     State
	verdict   Verdict
	reason    Reason
	student   *Student
	session   *ExamSession
	faceScore *float64
	fpScore   *float64
	attempt   *Attempt
	claimed   bool

	timer *time.Timer
	gen   uint64
}

// NewEngine creates an engine in Idle.
func NewEngine(kioskID string, deps Deps, cfg Config) *Engine {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Engine{
		kioskID: kioskID,
		deps:    deps,
		cfg:     cfg,
		log:     deps.Logger.With().Str("component", "decision_engine").Str("kiosk_id", kioskID).Logger(),
		state:   StateIdle,
	}
}

// KioskID returns the kiosk context of the run.
func (e *Engine) KioskID() string { return e.kioskID }

// Terminal reports whether the run has been decided.
func (e *Engine) Terminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateDecided
}

// Snapshot returns the current run state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		KioskID:          e.kioskID,
		State:            e.state,
		Verdict:          e.verdict,
		Reason:           e.reason,
		FaceScore:        e.faceScore,
		FingerprintScore: e.fpScore,
	}
	if e.student != nil {
		s.StudentID = e.student.ID
	}
	if e.session != nil {
		s.ExamSessionID = e.session.ID
	}
	if e.attempt != nil {
		s.AttemptID = e.attempt.ID
	}
	return s
}

// Attempt returns the written record once the run is decided.
func (e *Engine) Attempt() (Attempt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attempt == nil {
		return Attempt{}, false
	}
	return *e.attempt, true
}

// SubmitFace resolves the live face. The kiosk must have exactly one active
// exam session; otherwise the run ends before any scoring.
func (e *Engine) SubmitFace(ctx context.Context, live Descriptor, assertedID string) (FaceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return FaceResult{}, fmt.Errorf("submit face in %s: %w", e.state, ErrInvalidTransition)
	}

	session, err := e.deps.Sessions.GetActiveSession(ctx, e.kioskID)
	if err != nil {
		if !errors.Is(err, ErrMultipleActiveSessions) {
			err = storeFault(err)
		}
		err = e.fault(ctx, err)
		return e.faceResult(), err
	}
	if session == nil {
		err = e.finish(ctx, VerdictRejectedEnrollment, ReasonSessionInactive, "")
		return e.faceResult(), err
	}
	e.session = session
	e.state = StateFaceSubmitted

	res, fail, err := e.deps.Resolver.Resolve(ctx, live, assertedID)
	if err != nil {
		err = e.fault(ctx, err)
		return e.faceResult(), err
	}
	if fail != nil {
		e.faceScore = fail.Score
		e.observeScore("face", fail.Score)
		err = e.finish(ctx, VerdictRejectedFace, fail.Reason, "")
		return e.faceResult(), err
	}

	student := res.Student
	score := res.Score
	e.student = &student
	e.faceScore = &score
	e.observeScore("face", &score)

	if e.deps.Claims != nil {
		if !e.deps.Claims.Claim(student.ID, e.kioskID) {
			err = e.finish(ctx, VerdictRejectedFace, ReasonConcurrentAttempt, "")
			return e.faceResult(), err
		}
		e.claimed = true
	}

	e.state = StateIdentified
	e.armTimer()
	return e.faceResult(), nil
}

// CheckEnrollment validates the identified student against sessionID, which
// must be the kiosk's active session.
func (e *Engine) CheckEnrollment(ctx context.Context, sessionID string) (EnrollmentResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdentified {
		return EnrollmentResult{}, fmt.Errorf("check enrollment in %s: %w", e.state, ErrInvalidTransition)
	}
	e.stopTimer()

	active, err := e.deps.Sessions.GetActiveSession(ctx, e.kioskID)
	if err != nil {
		if !errors.Is(err, ErrMultipleActiveSessions) {
			err = storeFault(err)
		}
		err = e.fault(ctx, err)
		return e.enrollmentResult(), err
	}

	var target *ExamSession
	if active != nil && active.ID == sessionID {
		target = active
		e.session = active
	}
	if fail := e.deps.Validator.Validate(*e.student, target); fail != nil {
		err = e.finish(ctx, VerdictRejectedEnrollment, fail.Reason, "")
		return e.enrollmentResult(), err
	}

	e.state = StateEnrollmentChecked
	e.armTimer()
	return e.enrollmentResult(), nil
}

// SubmitFingerprint confirms the already-identified student and decides the run.
func (e *Engine) SubmitFingerprint(ctx context.Context, live Descriptor) (FingerprintResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateEnrollmentChecked {
		return FingerprintResult{}, fmt.Errorf("submit fingerprint in %s: %w", e.state, ErrInvalidTransition)
	}
	e.stopTimer()
	e.state = StateFingerprintSubmitted

	score, fail, err := e.deps.Confirmer.Confirm(ctx, *e.student, live)
	if err != nil {
		err = e.fault(ctx, err)
		return e.fingerprintResult(), err
	}
	if fail != nil {
		err = e.finish(ctx, VerdictRejectedFingerprint, fail.Reason, "")
		return e.fingerprintResult(), err
	}
	e.fpScore = &score
	e.observeScore("fingerprint", &score)
	if score < e.cfg.FingerprintThreshold {
		err = e.finish(ctx, VerdictRejectedFingerprint, ReasonLowConfidenceMatch, "")
		return e.fingerprintResult(), err
	}
	err = e.finalize(ctx)
	return e.fingerprintResult(), err
}

// Abort cancels the run from any non-terminal state.
func (e *Engine) Abort(ctx context.Context) (AbortResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDecided {
		return AbortResult{}, fmt.Errorf("abort in %s: %w", e.state, ErrInvalidTransition)
	}
	err := e.finish(ctx, VerdictAborted, ReasonCancelled, "")
	return AbortResult{State: e.state, Verdict: e.verdict, AttemptID: e.attempt.ID}, err
}

func (e *Engine) finalize(ctx context.Context) error {
	if e.faceScore == nil || e.fpScore == nil || *e.faceScore < e.deps.Resolver.Threshold() || *e.fpScore < e.cfg.FingerprintThreshold {
		return e.fault(ctx, errors.New("finalize without both scores meeting their thresholds"))
	}
	return e.finish(ctx, VerdictApproved, "", "")
}

func (e *Engine) expire(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.state == StateDecided {
		return
	}
	e.timer = nil
	e.log.Warn().Str("state", string(e.state)).Msg("capture timed out")
	_ = e.finish(context.Background(), VerdictAborted, ReasonTimeout, "")
}

func (e *Engine) fault(ctx context.Context, err error) error {
	e.log.Error().Err(err).Str("state", string(e.state)).Msg("collaborator fault")
	return e.finish(ctx, VerdictFaulted, faultReason(err), err.Error())
}

// finish moves the run to Decided and writes its only attempt record. A
// failed write is returned but the verdict stands.
func (e *Engine) finish(ctx context.Context, verdict Verdict, reason Reason, detail string) error {
	e.stopTimer()
	e.state = StateDecided
	e.verdict = verdict
	e.reason = reason

	a := Attempt{
		ID:               e.deps.NewID(),
		Timestamp:        e.deps.Now().UTC(),
		KioskID:          e.kioskID,
		FaceScore:        e.faceScore,
		FingerprintScore: e.fpScore,
		Verdict:          verdict,
		Reason:           reason,
		ErrorDetail:      detail,
	}
	if e.session != nil {
		a.ExamSessionID = e.session.ID
	}
	if e.student != nil {
		a.StudentID = e.student.ID
	}
	e.attempt = &a

	if e.claimed {
		e.deps.Claims.Release(e.student.ID, e.kioskID)
		e.claimed = false
	}

	observability.ObserveAttempt(string(verdict), string(reason))
	e.log.Info().
		Str("attempt_id", a.ID).
		Str("verdict", string(verdict)).
		Str("reason", string(reason)).
		Str("student_id", a.StudentID).
		Msg("verification decided")

	if err := e.deps.Audit.Record(context.WithoutCancel(ctx), a); err != nil {
		observability.AuditFailure()
		e.log.Error().Err(err).Str("attempt_id", a.ID).Msg("audit write failed")
		return &AuditError{AttemptID: a.ID, Err: err}
	}
	return nil
}

func (e *Engine) armTimer() {
	e.stopTimer()
	if e.cfg.StateTimeout <= 0 {
		return
	}
	gen := e.gen
	e.timer = time.AfterFunc(e.cfg.StateTimeout, func() { e.expire(gen) })
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

func (e *Engine) observeScore(modality string, score *float64) {
	if score != nil {
		observability.ObserveScore(modality, *score)
	}
}

func (e *Engine) attemptID() string {
	if e.attempt == nil {
		return ""
	}
	return e.attempt.ID
}

func (e *Engine) faceResult() FaceResult {
	r := FaceResult{State: e.state, Verdict: e.verdict, FaceScore: e.faceScore, Reason: e.reason, AttemptID: e.attemptID()}
	if e.student != nil {
		summary := e.student.Summary()
		r.Student = &summary
	}
	return r
}

func (e *Engine) enrollmentResult() EnrollmentResult {
	return EnrollmentResult{State: e.state, Verdict: e.verdict, Reason: e.reason, AttemptID: e.attemptID()}
}

func (e *Engine) fingerprintResult() FingerprintResult {
	return FingerprintResult{State: e.state, Verdict: e.verdict, FingerprintScore: e.fpScore, Reason: e.reason, AttemptID: e.attemptID()}
}
