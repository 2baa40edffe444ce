// Package timer provides the single-pending one-shot timer used by the
// transmission controller.
package timer

import (
	"sync"
	"time"
)

// FireFunc is invoked on the runtime timer goroutine when an armed timer
// expires. It must only hand the token off (post a message) and return.
type FireFunc func(token uint64)

// Timer is the contract the controller consumes.
type Timer interface {
	Arm(d time.Duration, token uint64)
	Cancel() bool
	Armed() bool
}

// OneShot wraps time.AfterFunc so that at most one timer is pending per owner.
type OneShot struct {
	mu      sync.Mutex
	fire    FireFunc
	pending *time.Timer
	token   uint64
}

// Compile-time assertion that OneShot implements Timer
var _ Timer = (*OneShot)(nil)

// NewOneShot creates a timer that calls fire on expiry.
func NewOneShot(fire FireFunc) *OneShot {
	return &OneShot{fire: fire}
}

// Arm cancels any pending timer and schedules fire(token) after d.
func (t *OneShot) Arm(d time.Duration, token uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending.Stop()
	}

	t.token = token
	var self *time.Timer
	self = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.pending == self {
			t.pending = nil
		}
		t.mu.Unlock()

		t.fire(token)
	})
	t.pending = self
}

// Cancel stops the pending timer. It reports whether a timer was stopped
// before it fired and is safe to call when nothing is armed. A callback that
// had already started when Cancel ran still delivers its token.
func (t *OneShot) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		return false
	}
	stopped := t.pending.Stop()
	t.pending = nil
	return stopped
}

// Armed reports whether a timer is pending.
func (t *OneShot) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Token returns the token of the most recent Arm.
func (t *OneShot) Token() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}
