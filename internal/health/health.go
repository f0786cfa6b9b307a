// Package health tracks service liveness for the health endpoint: a
// heartbeat from the housekeeping loop and the most recent error-level log
// event. The service reports degraded when errors are recent or the
// heartbeat goes stale.
package health

import (
	"sync"
	"time"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Status is the JSON document served by the health endpoint.
type Status struct {
	Status             string     `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	LastHousekeepingAt *time.Time `json:"last_housekeeping_at,omitempty"`
	LastErrorAt        *time.Time `json:"last_error_at,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
}

// Healthy reports whether the snapshot represents a passing check.
func (s Status) Healthy() bool { return s.Status == StatusOK }

// Tracker accumulates liveness signals. Safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	now         func() time.Time
	startedAt   time.Time
	lastBeat    time.Time
	lastErrorAt time.Time
	lastError   string
	errorWindow time.Duration
	staleAfter  time.Duration
}

// NewTracker starts tracking from now. errorWindow is how long an error
// keeps the status degraded; staleAfter is the longest tolerated gap
// between housekeeping heartbeats.
func NewTracker(errorWindow, staleAfter time.Duration) *Tracker {
	t := &Tracker{
		now:         time.Now,
		errorWindow: errorWindow,
		staleAfter:  staleAfter,
	}
	t.startedAt = t.now()
	return t
}

// Beat records a housekeeping heartbeat.
func (t *Tracker) Beat() {
	t.mu.Lock()
	t.lastBeat = t.now()
	t.mu.Unlock()
}

// RecordError notes an error-level event.
func (t *Tracker) RecordError(msg string) {
	t.mu.Lock()
	t.lastErrorAt = t.now()
	t.lastError = msg
	t.mu.Unlock()
}

// Snapshot returns the current status document.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	s := Status{Status: StatusOK, StartedAt: t.startedAt}
	if !t.lastBeat.IsZero() {
		beat := t.lastBeat
		s.LastHousekeepingAt = &beat
	}
	if !t.lastErrorAt.IsZero() {
		at := t.lastErrorAt
		s.LastErrorAt = &at
		s.LastError = t.lastError
		if now.Sub(t.lastErrorAt) < t.errorWindow {
			s.Status = StatusDegraded
		}
	}
	// A heartbeat is only expected once the service has been up long
	// enough for the first housekeeping cycle.
	if t.staleAfter > 0 && now.Sub(t.startedAt) > t.staleAfter {
		if t.lastBeat.IsZero() || now.Sub(t.lastBeat) > t.staleAfter {
			s.Status = StatusDegraded
		}
	}
	return s
}
