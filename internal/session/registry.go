// Package session tracks the lifecycle of replay, batch, and load test
// invocations.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/funnyzak/reqplay/internal/logger"
)

// Kind labels what a session is tracking.
type Kind string

const (
	KindSingle   Kind = "single"
	KindBatch    Kind = "batch"
	KindLoadTest Kind = "load_test"
)

// Status is the session state machine. RUNNING is initial; the other three
// are terminal and mutually exclusive.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session is one tracked invocation.
type Session struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitzero"`
}

// maxTerminalRetained bounds how many finished sessions stay listable.
const maxTerminalRetained = 100

// Registry is the shared session table. All mutations go through one lock so
// status transitions stay consistent under concurrent completions.
type Registry struct {
	mu       sync.Mutex
	counter  uint64
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc
	log      logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		cancels:  make(map[string]context.CancelFunc),
		log:      log,
	}
}

// Register creates a RUNNING session and returns its id.
// Identities are never reused within a process lifetime.
func (r *Registry) Register(kind Kind) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter++
	id := fmt.Sprintf("sess_%d", r.counter)
	r.sessions[id] = &Session{
		ID:        id,
		Kind:      kind,
		Status:    StatusRunning,
		StartTime: time.Now(),
	}
	r.pruneLocked()
	return id
}

// BindCancel associates a cancel function so cooperative callers can abort a
// session's outstanding work. Cancellation of the registry entry itself
// remains advisory.
func (r *Registry) BindCancel(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.Status == StatusRunning {
		r.cancels[id] = cancel
	}
}

// SetStatus transitions a session. Terminal states are sticky: once a
// session has finished, further transitions are rejected.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("unknown session %q", id)
	}
	if s.Status.Terminal() {
		return fmt.Errorf("session %q already %s", id, s.Status)
	}
	s.Status = status
	if status.Terminal() {
		s.EndTime = time.Now()
		delete(r.cancels, id)
	}
	return nil
}

// Get returns a snapshot of the session with the given id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// List returns every tracked session, newest first. Terminal sessions stay
// visible until pruned so callers can observe completion and cancellation.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Cancel flips a RUNNING session to CANCELLED and fires its bound cancel
// function, if any. It returns false for unknown or already-terminal
// sessions; it never interrupts work that has no bound cancel.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.Status != StatusRunning {
		r.mu.Unlock()
		return false
	}
	s.Status = StatusCancelled
	s.EndTime = time.Now()
	cancel := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if r.log != nil {
		r.log.Info("Session cancelled", "session_id", id)
	}
	return true
}

// pruneLocked drops the oldest terminal sessions beyond the retention cap.
func (r *Registry) pruneLocked() {
	var terminal []*Session
	for _, s := range r.sessions {
		if s.Status.Terminal() {
			terminal = append(terminal, s)
		}
	}
	if len(terminal) <= maxTerminalRetained {
		return
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].EndTime.Before(terminal[j].EndTime)
	})
	for _, s := range terminal[:len(terminal)-maxTerminalRetained] {
		delete(r.sessions, s.ID)
	}
}
