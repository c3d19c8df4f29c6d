// Package progress surfaces live campaign progress. Recipient status pushes are the
// primary signal; when they go quiet for too long a polling fallback takes over until
// pushes resume.
package progress

import (
	"sync"
	"time"
)

// Mode is the delivery state of the progress feed.
type Mode string

const (
	ModePushHealthy     Mode = "push-healthy"
	ModeDegradedPolling Mode = "degraded-polling"
)

// Health tracks time since the last push and decides whether polling is needed.
type Health struct {
	timeout time.Duration

	mu       sync.Mutex
	mode     Mode
	lastPush time.Time
	forced   bool
}

// NewHealth starts in push-healthy with the timeout measured from start.
func NewHealth(timeout time.Duration, start time.Time) *Health {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Health{timeout: timeout, mode: ModePushHealthy, lastPush: start}
}

// ObservePush records a push event. It restores push-healthy unless polling is forced.
func (h *Health) ObservePush(at time.Time) Mode {
	h.mu.Lock()
	defer h.mu.Unlock()

	if at.After(h.lastPush) {
		h.lastPush = at
	}
	if !h.forced {
		h.mode = ModePushHealthy
	}
	return h.mode
}

// Evaluate applies the timeout against now and returns the resulting mode.
func (h *Health) Evaluate(now time.Time) Mode {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.forced || now.Sub(h.lastPush) > h.timeout {
		h.mode = ModeDegradedPolling
	}
	return h.mode
}

// SetForcePolling pins the feed to polling regardless of pushes.
func (h *Health) SetForcePolling(force bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.forced = force
	if force {
		h.mode = ModeDegradedPolling
	}
}

// Mode returns the current mode without re-evaluating the timeout.
func (h *Health) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// LastPush returns the time of the most recent push.
func (h *Health) LastPush() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPush
}
