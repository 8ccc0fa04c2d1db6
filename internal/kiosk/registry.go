package kiosk

import (
	"errors"
	"sync"

	"examgate/internal/verification"
)

// ErrNoOpenAttempt is returned when a kiosk has never started a run.
var ErrNoOpenAttempt = errors.New("no verification attempt at this kiosk")

// Registry owns the current verification run of every kiosk context and the
// set of students with an open attempt.
//
// Lock order: Registry.mu, then Engine.mu, then Claims.mu.
type Registry struct {
	mu     sync.Mutex
	runs   map[string]*verification.Engine
	deps   verification.Deps
	cfg    verification.Config
	claims *Claims
}

// NewRegistry creates an empty registry. deps.Claims is replaced by the
// registry's own claim set.
func NewRegistry(deps verification.Deps, cfg verification.Config) *Registry {
	claims := NewClaims()
	deps.Claims = claims
	return &Registry{
		runs:   make(map[string]*verification.Engine),
		deps:   deps,
		cfg:    cfg,
		claims: claims,
	}
}

// Begin returns the kiosk's open run, starting a new one when there is none
// or the previous run is decided.
func (r *Registry) Begin(kioskID string) *verification.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.runs[kioskID]; ok && !e.Terminal() {
		return e
	}
	e := verification.NewEngine(kioskID, r.deps, r.cfg)
	r.runs[kioskID] = e
	return e
}

// Current returns the kiosk's latest run, which may already be decided.
func (r *Registry) Current(kioskID string) (*verification.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[kioskID]
	if !ok {
		return nil, ErrNoOpenAttempt
	}
	return e, nil
}

// Snapshot reports the kiosk's latest run, or an idle snapshot.
func (r *Registry) Snapshot(kioskID string) verification.Snapshot {
	e, err := r.Current(kioskID)
	if err != nil {
		return verification.Snapshot{KioskID: kioskID, State: verification.StateIdle}
	}
	return e.Snapshot()
}

// Claims reports which kiosk holds each student's open attempt.
func (r *Registry) Claims() *Claims { return r.claims }

// Claims maps student ids to the kiosk with their open attempt.
type Claims struct {
	mu     sync.Mutex
	owners map[string]string
}

func NewClaims() *Claims {
	return &Claims{owners: make(map[string]string)}
}

// Claim marks studentID as in progress at kioskID. It fails when another
// kiosk already holds the student.
func (c *Claims) Claim(studentID, kioskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := c.owners[studentID]; ok && owner != kioskID {
		return false
	}
	c.owners[studentID] = kioskID
	return true
}

func (c *Claims) Release(studentID, kioskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owners[studentID] == kioskID {
		delete(c.owners, studentID)
	}
}

// Holder returns the kiosk holding studentID.
func (c *Claims) Holder(studentID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.owners[studentID]
	return k, ok
}
