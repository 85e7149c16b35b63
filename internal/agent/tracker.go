package agent

import (
	"sync"
	"time"

	"nodeagent/internal/registration"
)

// Status is a point-in-time view of the registration history.
type Status struct {
	Cycles              uint64    `json:"cycles"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures uint64    `json:"consecutiveFailures"`
	LastAttempt         time.Time `json:"lastAttempt"`
	LastSuccess         time.Time `json:"lastSuccess"`
	LastAttempts        int       `json:"lastAttempts"`
	LastDuration        string    `json:"lastDuration"`
	LastError           string    `json:"lastError,omitempty"`
}

// Tracker keeps the latest cycle results for the status endpoints. The loop
// writes it; HTTP and RPC handlers read it from other goroutines.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record stores the result of a cycle.
func (t *Tracker) Record(out registration.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.status
	s.Cycles++
	s.LastAttempt = out.Started
	s.LastAttempts = out.Attempts
	s.LastDuration = out.Duration.String()
	if out.OK() {
		s.LastSuccess = out.Started.Add(out.Duration)
		s.ConsecutiveFailures = 0
		s.LastError = ""
		return
	}
	s.Failures++
	s.ConsecutiveFailures++
	s.LastError = out.Err.Error()
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Fresh reports whether the last success happened within ttl of now, i.e.
// whether the manager should still consider this node alive.
func (t *Tracker) Fresh(now time.Time, ttl time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.status.LastSuccess.IsZero() {
		return false
	}
	return now.Sub(t.status.LastSuccess) <= ttl
}
