package realtime_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/config"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/events"
	"github.com/fleetdesk/fleetdesk-backend/internal/realtime"
)

// fakeChannel dispatches events synchronously, the way the real client's
// single read loop does.
type fakeChannel struct {
	mu        sync.Mutex
	handlers  map[string][]events.Handler
	reconnect []func()
	status    events.Status
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string][]events.Handler), status: events.StatusConnected}
}

func (f *fakeChannel) Subscribe(eventType string, h events.Handler) events.Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[eventType] = append(f.handlers[eventType], h)
	return func() {}
}

func (f *fakeChannel) OnReconnect(fn func()) events.Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnect = append(f.reconnect, fn)
	return func() {}
}

func (f *fakeChannel) Status() events.Status { return f.status }

func (f *fakeChannel) push(t *testing.T, eventType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	handlers := append([]events.Handler(nil), f.handlers[eventType]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(events.Event{Type: eventType, Timestamp: time.Now(), Payload: data})
	}
}

func (f *fakeChannel) simulateReconnect() {
	f.mu.Lock()
	fns := append([]func(){}, f.reconnect...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func newTestSession(t *testing.T, ch *fakeChannel, interval time.Duration) *realtime.Session {
	t.Helper()
	s := realtime.NewSession(config.RealtimeConfig{ThrottleInterval: interval}, ch, zaptest.NewLogger(t))
	t.Cleanup(s.Close)
	return s
}

func TestThrottleKeepsLatestValue(t *testing.T) {
	ch := newFakeChannel()
	s := newTestSession(t, ch, 200*time.Millisecond)
	driverID := uuid.New()

	// Two location events 100ms apart: the first applies immediately, the
	// second is coalesced and must win once the interval elapses.
	ch.push(t, events.EventDriverLocationUpdated, events.DriverLocationPayload{
		DriverID: driverID, Latitude: 14.55, Longitude: 121.02, At: time.Now(),
	})
	time.Sleep(100 * time.Millisecond)
	ch.push(t, events.EventDriverLocationUpdated, events.DriverLocationPayload{
		DriverID: driverID, Latitude: 14.56, Longitude: 121.03, At: time.Now(),
	})

	d, ok := s.Drivers.Get(driverID)
	require.True(t, ok)
	assert.InDelta(t, 14.55, d.Position.Latitude, 1e-9, "second event must not apply inside the window")

	require.Eventually(t, func() bool {
		d, ok := s.Drivers.Get(driverID)
		return ok && d.Position.Latitude == 14.56
	}, time.Second, 10*time.Millisecond, "latest fix must flush after the interval")
}

func TestThrottleIsPerSubject(t *testing.T) {
	ch := newFakeChannel()
	s := newTestSession(t, ch, 300*time.Millisecond)
	a, b := uuid.New(), uuid.New()

	ch.push(t, events.EventDriverLocationUpdated, events.DriverLocationPayload{DriverID: a, Latitude: 1})
	ch.push(t, events.EventDriverLocationUpdated, events.DriverLocationPayload{DriverID: b, Latitude: 2})

	da, _ := s.Drivers.Get(a)
	db, _ := s.Drivers.Get(b)
	assert.Equal(t, float64(1), da.Position.Latitude)
	assert.Equal(t, float64(2), db.Position.Latitude)
}

func TestStatusChangesBypassThrottle(t *testing.T) {
	ch := newFakeChannel()
	s := newTestSession(t, ch, time.Minute)
	driverID := uuid.New()

	ch.push(t, events.EventDriverStatusChanged, events.DriverStatusPayload{
		DriverID: driverID, Status: "available", Name: "M. Reyes",
	})
	ch.push(t, events.EventDriverStatusChanged, events.DriverStatusPayload{
		DriverID: driverID, Status: "on_trip",
	})

	d, ok := s.Drivers.Get(driverID)
	require.True(t, ok)
	assert.Equal(t, "on_trip", string(d.Status))
	assert.Equal(t, "M. Reyes", d.Name)
}

func TestIncidentRedeliveryCountsOnce(t *testing.T) {
	ch := newFakeChannel()
	s := newTestSession(t, ch, 100*time.Millisecond)
	incidentID := uuid.New()

	payload := events.IncidentCreatedPayload{
		IncidentID: incidentID, Type: "accident", Severity: "critical",
		Summary: "collision", At: time.Now(),
	}
	ch.push(t, events.EventIncidentCreated, payload)
	ch.push(t, events.EventIncidentCreated, payload) // network redelivery

	assert.Equal(t, 1, s.NewIncidents.Count())
	assert.Equal(t, 1, s.Incidents.Count())
	snapshot := s.Incidents.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, incidentID, snapshot[0].ID)
}

func TestReconnectClearsProjectionsButNotDedup(t *testing.T) {
	ch := newFakeChannel()
	s := newTestSession(t, ch, 100*time.Millisecond)
	incidentID := uuid.New()
	driverID := uuid.New()

	ch.push(t, events.EventDriverLocationUpdated, events.DriverLocationPayload{DriverID: driverID, Latitude: 10})
	ch.push(t, events.EventIncidentCreated, events.IncidentCreatedPayload{IncidentID: incidentID, Summary: "s"})
	ch.push(t, events.EventOrderCreated, events.OrderCreatedPayload{OrderID: uuid.New(), Status: "requested"})
	require.Equal(t, 1, s.Drivers.Count())
	require.Equal(t, 1, s.Incidents.Count())
	require.Equal(t, 1, s.Orders.Count())

	ch.simulateReconnect()

	// Stale positions are worse than no positions.
	assert.Equal(t, 0, s.Drivers.Count())
	assert.Equal(t, 0, s.Incidents.Count())
	assert.Equal(t, 0, s.Orders.Count())

	// The stream replays the incident after reconnect: it reappears in the
	// projection but is not re-counted as new.
	ch.push(t, events.EventIncidentCreated, events.IncidentCreatedPayload{IncidentID: incidentID, Summary: "s"})
	assert.Equal(t, 1, s.Incidents.Count())
	assert.Equal(t, 1, s.NewIncidents.Count())
}

func TestDedupLedger(t *testing.T) {
	d := realtime.NewDedup()
	assert.True(t, d.MarkSeen("x"))
	assert.False(t, d.MarkSeen("x"))
	assert.True(t, d.MarkSeen("y"))
	assert.Equal(t, 2, d.Count())
	assert.True(t, d.Seen("x"))
	assert.False(t, d.Seen("z"))
}

func TestThrottleNeverFlushesStaleOverNewer(t *testing.T) {
	const interval = 5 * time.Millisecond
	for i := 0; i < 100; i++ {
		th := realtime.NewThrottle(interval)
		var mu sync.Mutex
		var latest int
		apply := func(v int) func() {
			return func() {
				mu.Lock()
				latest = v
				mu.Unlock()
			}
		}

		th.Do("s", apply(1)) // immediate
		th.Do("s", apply(2)) // pending behind the trailing flush

		// Land the next event right as the trailing flush comes due. If it
		// takes the immediate path it must cancel the pending older value;
		// if the flush won the race, the newer value coalesces and flushes
		// after it. Either way the newest value is the one that sticks.
		time.Sleep(interval)
		th.Do("s", apply(3))

		time.Sleep(3 * interval)
		th.Stop()
		mu.Lock()
		v := latest
		mu.Unlock()
		require.Equal(t, 3, v, "iteration %d: stale pending value flushed over a newer one", i)
	}
}

func TestThrottleResetDiscardsPending(t *testing.T) {
	th := realtime.NewThrottle(200 * time.Millisecond)
	var mu sync.Mutex
	applied := []int{}
	apply := func(v int) func() {
		return func() {
			mu.Lock()
			applied = append(applied, v)
			mu.Unlock()
		}
	}

	th.Do("s", apply(1)) // immediate
	th.Do("s", apply(2)) // pending
	th.Reset()

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{1}, applied, "pending update must be discarded on reset")
	mu.Unlock()
}
