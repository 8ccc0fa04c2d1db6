package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type fakeTemplates struct {
	students map[string]Student
	err      error
}

func (f *fakeTemplates) GetStudentTemplates(_ context.Context, id string) (Student, error) {
	if f.err != nil {
		return Student{}, f.err
	}
	st, ok := f.students[id]
	if !ok {
		return Student{}, ErrStudentNotFound
	}
	return st, nil
}

func (f *fakeTemplates) ListAllFaceTemplates(context.Context) ([]FaceTemplateEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []FaceTemplateEntry
	for id, st := range f.students {
		if len(st.FaceTemplate) > 0 {
			out = append(out, FaceTemplateEntry{StudentID: id, Template: st.FaceTemplate})
		}
	}
	return out, nil
}

// tableScorer returns the score registered for the stored template.
type tableScorer struct {
	mu     sync.Mutex
	scores map[string]float64
	err    error
	calls  int
}

func (s *tableScorer) Score(_ context.Context, _ Descriptor, stored Template) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.scores[string(stored)], nil
}

func (s *tableScorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeSessions struct {
	mu      sync.Mutex
	session *ExamSession
	err     error
}

func (f *fakeSessions) GetActiveSession(context.Context, string) (*ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

type memoryAudit struct {
	mu       sync.Mutex
	attempts []Attempt
	err      error
}

func (m *memoryAudit) Record(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memoryAudit) All() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Attempt(nil), m.attempts...)
}

type claimSet struct {
	mu     sync.Mutex
	owners map[string]string
}

func newClaimSet() *claimSet { return &claimSet{owners: map[string]string{}} }

func (c *claimSet) Claim(studentID, kioskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := c.owners[studentID]; ok && owner != kioskID {
		return false
	}
	c.owners[studentID] = kioskID
	return true
}

func (c *claimSet) Release(studentID, kioskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owners[studentID] == kioskID {
		delete(c.owners, studentID)
	}
}

var errBackendDown = errors.New("connection refused")

// fixture wires an engine over fakes. Template bytes double as scorer keys.
type fixture struct {
	templates *fakeTemplates
	face      *tableScorer
	finger    *tableScorer
	sessions  *fakeSessions
	audit     *memoryAudit
	claims    *claimSet
	timeout   time.Duration
}

func newFixture() *fixture {
	return &fixture{
		templates: &fakeTemplates{students: map[string]Student{
			"s1": {
				ID:                  "s1",
				Name:                "Ada Obi",
				ClassName:           "CS-3A",
				FaceTemplate:        Template("face-s1"),
				FingerprintTemplate: Template("fp-s1"),
				Enrollments:         []Enrollment{{CourseID: "c1", Status: EnrollmentActive}},
			},
		}},
		face:   &tableScorer{scores: map[string]float64{"face-s1": 0.85}},
		finger: &tableScorer{scores: map[string]float64{"fp-s1": 0.72}},
		sessions: &fakeSessions{session: &ExamSession{
			ID:       "e1",
			CourseID: "c1",
			KioskID:  "k1",
			StartsAt: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
			Duration: 2 * time.Hour,
			Active:   true,
		}},
		audit:  &memoryAudit{},
		claims: newClaimSet(),
	}
}

func (f *fixture) engine(kioskID string) *Engine {
	n := 0
	return NewEngine(kioskID, Deps{
		Resolver:  NewResolver(f.templates, f.face, 0.70, DefaultAmbiguityMargin),
		Confirmer: NewFingerprintConfirmer(f.finger),
		Sessions:  f.sessions,
		Audit:     f.audit,
		Claims:    f.claims,
		Logger:    zerolog.Nop(),
		NewID: func() string {
			n++
			return kioskID + "-attempt-" + string(rune('0'+n))
		},
	}, Config{FingerprintThreshold: 0.70, StateTimeout: f.timeout})
}
