package activity

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// oneShot is a cancellable single-fire timer. Every arm or stop starts a new
// generation, and a callback belonging to an older generation is dropped, so
// a timer that was replaced can never fire late.
type oneShot struct {
	clock clockwork.Clock

	mu       sync.Mutex
	timer    clockwork.Timer
	gen      uint64
	pending  bool
	deadline time.Time
}

func newOneShot(clock clockwork.Clock) *oneShot {
	return &oneShot{clock: clock}
}

// arm cancels any pending countdown and starts a new one that calls fn after d.
func (o *oneShot) arm(d time.Duration, fn func()) {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	prev := o.timer
	o.timer = nil
	o.pending = true
	o.deadline = o.clock.Now().Add(d)
	o.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	t := o.clock.AfterFunc(d, func() { o.fire(gen, fn) })

	o.mu.Lock()
	if o.gen == gen {
		o.timer = t
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	t.Stop()
}

func (o *oneShot) fire(gen uint64, fn func()) {
	o.mu.Lock()
	if o.gen != gen || !o.pending {
		o.mu.Unlock()
		return
	}
	o.pending = false
	o.timer = nil
	o.mu.Unlock()

	fn()
}

// stop cancels the countdown. It reports whether one was pending.
func (o *oneShot) stop() bool {
	o.mu.Lock()
	wasPending := o.pending
	o.gen++
	o.pending = false
	t := o.timer
	o.timer = nil
	o.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	return wasPending
}

func (o *oneShot) state() (deadline time.Time, pending bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deadline, o.pending
}
