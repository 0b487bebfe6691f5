package proctor

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// AutoSubmitTrigger runs a completion function once after a fixed delay.
// A scheduled run cannot be cancelled; callers guard against scheduling twice.
type AutoSubmitTrigger struct {
	clock clockwork.Clock
	delay time.Duration

	mu      sync.Mutex
	pending bool
}

// NewAutoSubmitTrigger creates a trigger firing delay after Schedule.
func NewAutoSubmitTrigger(clock clockwork.Clock, delay time.Duration) *AutoSubmitTrigger {
	return &AutoSubmitTrigger{clock: clock, delay: delay}
}

// Schedule arms the one-shot timer and returns the time it will fire.
func (t *AutoSubmitTrigger) Schedule(fn func()) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = true
	t.clock.AfterFunc(t.delay, func() {
		t.mu.Lock()
		t.pending = false
		t.mu.Unlock()
		fn()
	})
	return t.clock.Now().Add(t.delay)
}

// Pending reports whether a scheduled run has not fired yet.
func (t *AutoSubmitTrigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Delay returns the configured delay.
func (t *AutoSubmitTrigger) Delay() time.Duration {
	return t.delay
}
