package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/driver"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/order"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/events"
)

// The projection stores are per-session in-memory caches. They fold
// channel events into typed views and hold no authority over the source
// of truth: a reconnect clears them and the stream rebuilds them.

// DriverStore is the live driver roster view.
type DriverStore struct {
	mu      sync.RWMutex
	drivers map[uuid.UUID]*driver.Driver
}

func NewDriverStore() *DriverStore {
	return &DriverStore{drivers: make(map[uuid.UUID]*driver.Driver)}
}

func (s *DriverStore) upsert(id uuid.UUID) *driver.Driver {
	d, ok := s.drivers[id]
	if !ok {
		d = &driver.Driver{ID: id, Status: driver.StatusOffline}
		s.drivers[id] = d
	}
	return d
}

// ApplyLocation merges a telemetry fix into the driver's view.
func (s *DriverStore) ApplyLocation(p events.DriverLocationPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.upsert(p.DriverID)
	d.Position = &driver.Position{
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Heading:    p.Heading,
		SpeedKPH:   p.SpeedKPH,
		RecordedAt: p.At,
	}
	d.UpdatedAt = time.Now().UTC()
}

// ApplyStatus merges a roster status change into the driver's view.
func (s *DriverStore) ApplyStatus(p events.DriverStatusPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.upsert(p.DriverID)
	d.Status = driver.Status(p.Status)
	if p.Name != "" {
		d.Name = p.Name
	}
	d.UpdatedAt = time.Now().UTC()
}

// Get returns a copy of one driver's view.
func (s *DriverStore) Get(id uuid.UUID) (driver.Driver, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return driver.Driver{}, false
	}
	return *d, true
}

// Snapshot returns the materialized collection, ordered by id for stable
// rendering.
func (s *DriverStore) Snapshot() []driver.Driver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]driver.Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (s *DriverStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drivers)
}

func (s *DriverStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers = make(map[uuid.UUID]*driver.Driver)
}

// OrderStore is the live order feed view.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*order.Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[uuid.UUID]*order.Order)}
}

// ApplyCreated folds an order-created event into the view. Returns false
// when the order was already present (network redelivery).
func (s *OrderStore) ApplyCreated(p events.OrderCreatedPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[p.OrderID]; ok {
		return false
	}
	s.orders[p.OrderID] = &order.Order{
		ID:         p.OrderID,
		DriverID:   p.DriverID,
		CustomerID: p.CustomerID,
		Status:     order.Status(p.Status),
		PickupLat:  p.PickupLat,
		PickupLng:  p.PickupLng,
		CreatedAt:  p.At,
		UpdatedAt:  time.Now().UTC(),
	}
	return true
}

func (s *OrderStore) Snapshot() []order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *OrderStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *OrderStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[uuid.UUID]*order.Order)
}

// IncidentNotice is the console's lightweight view of a pushed incident;
// the full record lives in the persisted store.
type IncidentNotice struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	Severity string    `json:"severity"`
	Summary  string    `json:"summary"`
	At       time.Time `json:"at"`
}

// IncidentStore is the live incident feed view.
type IncidentStore struct {
	mu        sync.RWMutex
	incidents map[uuid.UUID]IncidentNotice
}

func NewIncidentStore() *IncidentStore {
	return &IncidentStore{incidents: make(map[uuid.UUID]IncidentNotice)}
}

// ApplyCreated folds an incident-created event into the view. Returns
// false on redelivery so the entry appears exactly once.
func (s *IncidentStore) ApplyCreated(p events.IncidentCreatedPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[p.IncidentID]; ok {
		return false
	}
	s.incidents[p.IncidentID] = IncidentNotice{
		ID:       p.IncidentID,
		Type:     p.Type,
		Severity: p.Severity,
		Summary:  p.Summary,
		At:       p.At,
	}
	return true
}

func (s *IncidentStore) Snapshot() []IncidentNotice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]IncidentNotice, 0, len(s.incidents))
	for _, n := range s.incidents {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func (s *IncidentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.incidents)
}

func (s *IncidentStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = make(map[uuid.UUID]IncidentNotice)
}
