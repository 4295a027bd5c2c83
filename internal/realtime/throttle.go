package realtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var throttledUpdates = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleetdesk_realtime_throttled_updates_total",
	Help: "High-frequency updates coalesced by the throttle ledger.",
})

// Throttle bounds the per-subject update rate without ever dropping the
// latest value. The first update for a subject applies immediately; updates
// inside the minimum interval replace each other and the newest one flushes
// when the interval elapses. A stale value is never flushed over a newer one.
//
// Instances are owned by a Session and disposed with it; there is no
// process-wide throttle state.
type Throttle struct {
	interval time.Duration

	mu      sync.Mutex
	last    map[string]time.Time
	pending map[string]func()
	timers  map[string]*time.Timer
	stopped bool
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		last:     make(map[string]time.Time),
		pending:  make(map[string]func()),
		timers:   make(map[string]*time.Timer),
	}
}

// Do applies fn for the subject now, or defers the newest fn until the
// subject's interval elapses.
func (t *Throttle) Do(subject string, fn func()) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	now := time.Now()
	lastAt, seen := t.last[subject]
	if !seen || now.Sub(lastAt) >= t.interval {
		// Anything still pending for this subject is older than fn;
		// cancel it before the trailing flush can apply it.
		delete(t.pending, subject)
		if timer, scheduled := t.timers[subject]; scheduled {
			timer.Stop()
			delete(t.timers, subject)
		}
		t.last[subject] = now
		t.mu.Unlock()
		fn()
		return
	}

	// Inside the window: keep only the newest update.
	throttledUpdates.Inc()
	t.pending[subject] = fn
	if _, scheduled := t.timers[subject]; !scheduled {
		wait := t.interval - now.Sub(lastAt)
		t.timers[subject] = time.AfterFunc(wait, func() { t.flush(subject) })
	}
	t.mu.Unlock()
}

func (t *Throttle) flush(subject string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	fn, ok := t.pending[subject]
	delete(t.pending, subject)
	delete(t.timers, subject)
	if ok {
		t.last[subject] = time.Now()
	}
	t.mu.Unlock()

	if ok && fn != nil {
		fn()
	}
}

// Reset drops all throttle state. Pending updates are discarded, not
// flushed: after a reconnect their values are stale and the projections
// they would land in have been cleared anyway.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.last = make(map[string]time.Time)
	t.pending = make(map[string]func())
	t.timers = make(map[string]*time.Timer)
}

// Stop disposes the throttle permanently.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.pending = make(map[string]func())
	t.timers = make(map[string]*time.Timer)
}
