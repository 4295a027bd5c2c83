package realtime

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/config"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/events"
)

// Channel is the slice of the event channel client the session needs.
type Channel interface {
	Subscribe(eventType string, handler events.Handler) events.Unsubscribe
	OnReconnect(fn func()) events.Unsubscribe
	Status() events.Status
}

// Session owns one console session's synchronization state: the throttle
// and dedup ledgers and the live projections. It is constructed per
// session and disposed on logout, so nothing leaks across sessions.
//
// On reconnect the throttle and projections are cleared (a stale position
// is worse than no position) but the dedup ledger survives: items already
// notified must not re-notify when the stream replays.
type Session struct {
	logger *zap.Logger

	Throttle     *Throttle
	NewOrders    *Dedup
	NewIncidents *Dedup

	Drivers   *DriverStore
	Orders    *OrderStore
	Incidents *IncidentStore

	channel Channel
	unsubs  []events.Unsubscribe
}

// NewSession builds the session and subscribes it to the channel.
func NewSession(cfg config.RealtimeConfig, channel Channel, logger *zap.Logger) *Session {
	s := &Session{
		logger:       logger,
		Throttle:     NewThrottle(cfg.ThrottleInterval),
		NewOrders:    NewDedup(),
		NewIncidents: NewDedup(),
		Drivers:      NewDriverStore(),
		Orders:       NewOrderStore(),
		Incidents:    NewIncidentStore(),
		channel:      channel,
	}

	s.unsubs = append(s.unsubs,
		channel.Subscribe(events.EventDriverLocationUpdated, s.onDriverLocation),
		channel.Subscribe(events.EventDriverStatusChanged, s.onDriverStatus),
		channel.Subscribe(events.EventOrderCreated, s.onOrderCreated),
		channel.Subscribe(events.EventIncidentCreated, s.onIncidentCreated),
		channel.OnReconnect(s.onReconnect),
	)
	return s
}

// Close tears down subscriptions and disposes the ledgers.
func (s *Session) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.Throttle.Stop()
}

// ChannelStatus exposes the connectivity indicator for the console.
func (s *Session) ChannelStatus() events.Status {
	return s.channel.Status()
}

func (s *Session) onDriverLocation(e events.Event) {
	var p events.DriverLocationPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		s.logger.Warn("malformed driver location payload", zap.Error(err))
		return
	}
	// Telemetry is the high-frequency stream: coalesce per driver, always
	// keeping the newest fix.
	s.Throttle.Do(p.DriverID.String(), func() {
		s.Drivers.ApplyLocation(p)
	})
}

func (s *Session) onDriverStatus(e events.Event) {
	var p events.DriverStatusPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		s.logger.Warn("malformed driver status payload", zap.Error(err))
		return
	}
	// Status changes are rare and operationally significant; they bypass
	// the throttle.
	s.Drivers.ApplyStatus(p)
}

func (s *Session) onOrderCreated(e events.Event) {
	var p events.OrderCreatedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		s.logger.Warn("malformed order payload", zap.Error(err))
		return
	}
	s.Orders.ApplyCreated(p)
	s.NewOrders.MarkSeen(p.OrderID.String())
}

func (s *Session) onIncidentCreated(e events.Event) {
	var p events.IncidentCreatedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		s.logger.Warn("malformed incident payload", zap.Error(err))
		return
	}
	s.Incidents.ApplyCreated(p)
	s.NewIncidents.MarkSeen(p.IncidentID.String())
}

func (s *Session) onReconnect() {
	s.logger.Info("channel reconnected, clearing throttle and projections")
	s.Throttle.Reset()
	s.Drivers.Clear()
	s.Orders.Clear()
	s.Incidents.Clear()
	// Dedup ledgers intentionally survive: already-notified ids must not
	// re-notify on replay.
}
