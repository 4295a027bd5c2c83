package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dedupSuppressed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleetdesk_realtime_dedup_suppressed_total",
	Help: "Redelivered new-item notifications suppressed by the dedup ledger.",
})

// Dedup enforces at-most-once counting of "new item" notifications per id
// for the lifetime of a session. Marking an id is irreversible within the
// session: the ledger deliberately survives channel reconnects so that
// redelivered notifications never re-notify.
type Dedup struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	count int
}

func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]struct{})}
}

// MarkSeen records the id and reports whether this was its first sighting.
func (d *Dedup) MarkSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		dedupSuppressed.Inc()
		return false
	}
	d.seen[id] = struct{}{}
	d.count++
	return true
}

// Seen reports whether the id has already been counted.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// Count returns the number of distinct ids counted this session.
func (d *Dedup) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}
