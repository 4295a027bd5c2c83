package events_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/config"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/events"
)

var upgrader = websocket.Upgrader{}

// pushServer is a scripted stand-in for the platform's push source.
type pushServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
	dials int
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conns = append(ps.conns, conn)
		ps.dials++
		ps.mu.Unlock()
		// Keep the read side alive so pings are answered.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) push(t *testing.T, event events.Event) {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	ps.mu.Lock()
	conn := ps.conns[len(ps.conns)-1]
	ps.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func (ps *pushServer) dropAll() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, conn := range ps.conns {
		conn.Close()
	}
}

func (ps *pushServer) dialCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.dials
}

func testConfig(url string) config.ChannelConfig {
	return config.ChannelConfig{
		URL:              url,
		HandshakeTimeout: 2 * time.Second,
		PingInterval:     50 * time.Millisecond,
		PongTimeout:      2 * time.Second,
		ReconnectMin:     10 * time.Millisecond,
		ReconnectMax:     100 * time.Millisecond,
		SendBufferSize:   16,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestChannelClientDispatchesByType(t *testing.T) {
	ps := newPushServer(t)
	client := events.NewChannelClient(testConfig(ps.url()), zaptest.NewLogger(t))

	var mu sync.Mutex
	var incidents, orders []events.Event
	client.Subscribe(events.EventIncidentCreated, func(e events.Event) {
		mu.Lock()
		incidents = append(incidents, e)
		mu.Unlock()
	})
	client.Subscribe(events.EventOrderCreated, func(e events.Event) {
		mu.Lock()
		orders = append(orders, e)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(t.Context()))
	defer client.Close()
	assert.Equal(t, events.StatusConnected, client.Status())

	ps.push(t, events.Event{Type: events.EventIncidentCreated, Timestamp: time.Now(), Payload: json.RawMessage(`{"incident_id":"a"}`)})
	ps.push(t, events.Event{Type: events.EventOrderCreated, Timestamp: time.Now(), Payload: json.RawMessage(`{}`)})
	ps.push(t, events.Event{Type: events.EventIncidentCreated, Timestamp: time.Now(), Payload: json.RawMessage(`{"incident_id":"b"}`)})

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(incidents) == 2 && len(orders) == 1
	}, "events to be dispatched")

	// Arrival order is preserved within a type.
	mu.Lock()
	assert.Contains(t, string(incidents[0].Payload), `"a"`)
	assert.Contains(t, string(incidents[1].Payload), `"b"`)
	mu.Unlock()
}

func TestChannelClientUnsubscribe(t *testing.T) {
	ps := newPushServer(t)
	client := events.NewChannelClient(testConfig(ps.url()), zaptest.NewLogger(t))

	var mu sync.Mutex
	count := 0
	unsub := client.Subscribe(events.EventDriverStatusChanged, func(events.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.NoError(t, client.Connect(t.Context()))
	defer client.Close()

	ps.push(t, events.Event{Type: events.EventDriverStatusChanged, Timestamp: time.Now()})
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, "first event")

	unsub()
	ps.push(t, events.Event{Type: events.EventDriverStatusChanged, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, count)
	mu.Unlock()
}

func TestChannelClientReconnects(t *testing.T) {
	ps := newPushServer(t)
	client := events.NewChannelClient(testConfig(ps.url()), zaptest.NewLogger(t))

	var mu sync.Mutex
	var statuses []events.Status
	reconnects := 0
	client.OnStatusChange(func(s events.Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})
	client.OnReconnect(func() {
		mu.Lock()
		reconnects++
		mu.Unlock()
	})

	require.NoError(t, client.Connect(t.Context()))
	defer client.Close()

	ps.dropAll()
	waitFor(t, 3*time.Second, func() bool { return ps.dialCount() >= 2 }, "redial")
	waitFor(t, 3*time.Second, func() bool { return client.Status() == events.StatusConnected }, "reconnected status")
	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reconnects >= 1
	}, "reconnect notification")

	mu.Lock()
	assert.Contains(t, statuses, events.StatusConnecting)
	assert.Contains(t, statuses, events.StatusDisconnected)
	assert.Contains(t, statuses, events.StatusConnected)
	mu.Unlock()

	// Events still flow on the new connection.
	got := make(chan struct{}, 1)
	client.Subscribe(events.EventIncidentCreated, func(events.Event) {
		select {
		case got <- struct{}{}:
		default:
		}
	})
	ps.push(t, events.Event{Type: events.EventIncidentCreated, Timestamp: time.Now()})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	client := events.NewChannelClient(testConfig("ws://127.0.0.1:1"), zaptest.NewLogger(t))
	err := client.Publish(events.Event{Type: events.EventOrderCreated})
	assert.ErrorIs(t, err, events.ErrChannelDown)
}
