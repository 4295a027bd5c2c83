package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/config"
)

// Event types pushed by the platform
const (
	EventDriverLocationUpdated = "driver.location.updated"
	EventDriverStatusChanged   = "driver.status.changed"
	EventOrderCreated          = "order.created"
	EventIncidentCreated       = "incident.created"
)

// Event is one message from the push channel. Payload stays raw until a
// subscriber decodes it into its typed view.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Status is the channel connection state
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Handler consumes one event. Handlers for the same subject are invoked
// from the single read loop, so per-subject arrival order is preserved.
type Handler func(Event)

// Unsubscribe tears down one subscription
type Unsubscribe func()

var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetdesk_channel_events_received_total",
		Help: "Events received from the push channel by type.",
	}, []string{"type"})
	channelReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetdesk_channel_reconnects_total",
		Help: "Reconnection attempts against the push channel.",
	})
)

// ChannelClient maintains the single logical connection to the push-event
// source. It dials, reads, dispatches by event-type name, and reconnects
// with exponential backoff when the connection drops. Consumers observe
// the connection status instead of receiving errors from reads.
type ChannelClient struct {
	cfg    config.ChannelConfig
	logger *zap.Logger
	dialer *websocket.Dialer

	mu          sync.RWMutex
	conn        *websocket.Conn
	status      Status
	subscribers map[string]map[int64]Handler
	statusSubs  map[int64]func(Status)
	reconnSubs  map[int64]func()
	nextSubID   int64

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChannelClient builds a client; Connect starts it.
func NewChannelClient(cfg config.ChannelConfig, logger *zap.Logger) *ChannelClient {
	return &ChannelClient{
		cfg:         cfg,
		logger:      logger,
		dialer:      &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		status:      StatusDisconnected,
		subscribers: make(map[string]map[int64]Handler),
		statusSubs:  make(map[int64]func(Status)),
		reconnSubs:  make(map[int64]func()),
	}
}

// Connect dials the channel and starts the read loop. It returns after the
// first dial attempt resolves; subsequent drops reconnect in the
// background until ctx is cancelled or Close is called.
func (c *ChannelClient) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	conn, err := c.dial(runCtx)
	if err != nil {
		c.setStatus(StatusDisconnected)
		go c.run(runCtx, nil)
		return err
	}
	go c.run(runCtx, conn)
	return nil
}

// Close tears the connection down and stops reconnecting.
func (c *ChannelClient) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current connection status
func (c *ChannelClient) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Subscribe registers a handler for one event-type name and returns its
// teardown handle.
func (c *ChannelClient) Subscribe(eventType string, handler Handler) Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	if c.subscribers[eventType] == nil {
		c.subscribers[eventType] = make(map[int64]Handler)
	}
	c.subscribers[eventType][id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers[eventType], id)
	}
}

// OnStatusChange observes connection-status transitions.
func (c *ChannelClient) OnStatusChange(fn func(Status)) Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.statusSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusSubs, id)
	}
}

// OnReconnect fires after a dropped connection is re-established, before
// any event from the new connection is dispatched. The synchronization
// layer uses this to clear throttle and projection state.
func (c *ChannelClient) OnReconnect(fn func()) Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.reconnSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.reconnSubs, id)
	}
}

// Publish writes one event to the channel (user-initiated commands ride
// the same connection).
func (c *ChannelClient) Publish(event Event) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrChannelDown
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *ChannelClient) dial(ctx context.Context) (*websocket.Conn, error) {
	c.setStatus(StatusConnecting)
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.logger.Warn("channel dial failed", zap.String("url", c.cfg.URL), zap.Error(err))
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	return conn, nil
}

// run owns the connection lifecycle: read until the connection drops, then
// back off and redial. Handlers run on this goroutine, which is what keeps
// per-subject events in arrival order.
func (c *ChannelClient) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)
	defer c.setStatus(StatusDisconnected)

	backoff := c.cfg.ReconnectMin
	firstConn := conn != nil

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			channelReconnects.Inc()
			var err error
			conn, err = c.dial(ctx)
			if err != nil {
				c.setStatus(StatusDisconnected)
				backoff = min(backoff*2, c.cfg.ReconnectMax)
				continue
			}
			backoff = c.cfg.ReconnectMin
			if firstConn {
				firstConn = false
			} else {
				c.notifyReconnect()
			}
		}
		firstConn = false

		stopPing := c.startPing(ctx, conn)
		c.readLoop(ctx, conn)
		stopPing()

		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn = nil

		select {
		case <-ctx.Done():
			return
		default:
			c.setStatus(StatusDisconnected)
		}
	}
}

func (c *ChannelClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("channel read failed", zap.Error(err))
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.Warn("dropping malformed channel message", zap.Error(err))
			continue
		}
		c.dispatch(event)
	}
}

func (c *ChannelClient) dispatch(event Event) {
	eventsReceived.WithLabelValues(event.Type).Inc()

	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.subscribers[event.Type]))
	for _, h := range c.subscribers[event.Type] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (c *ChannelClient) startPing(ctx context.Context, conn *websocket.Conn) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
	return func() { close(stop) }
}

func (c *ChannelClient) setStatus(status Status) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	subs := make([]func(Status), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}

func (c *ChannelClient) notifyReconnect() {
	c.mu.RLock()
	subs := make([]func(), 0, len(c.reconnSubs))
	for _, fn := range c.reconnSubs {
		subs = append(subs, fn)
	}
	c.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}

// ErrChannelDown is returned by Publish when there is no live connection.
var ErrChannelDown = &ChannelError{Code: "CH001", Message: "channel is not connected"}

// ChannelError is a channel-specific error
type ChannelError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ChannelError) Error() string {
	return e.Code + ": " + e.Message
}
