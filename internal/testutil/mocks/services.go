package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/bond"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/incident"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/events"
)

// UnitOfWork runs the callback against the in-memory repositories. The
// doubles cannot roll back; atomicity itself is the Postgres
// implementation's contract and is exercised there.
type UnitOfWork struct {
	Incidents *IncidentRepo
	Bonds     *BondRepo
}

func (u *UnitOfWork) InTransaction(ctx context.Context, fn func(incidents incident.Repository, bonds bond.Repository) error) error {
	return fn(u.Incidents, u.Bonds)
}

// Capabilities is a capability checker with an optional deny list.
type Capabilities struct {
	mu     sync.Mutex
	Denied map[string]bool
}

func AllowAll() *Capabilities {
	return &Capabilities{Denied: make(map[string]bool)}
}

func (c *Capabilities) Deny(capability string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Denied[capability] = true
}

func (c *Capabilities) Allowed(_ context.Context, _ uuid.UUID, capability string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.Denied[capability]
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	Events []events.Event
}

func (p *Publisher) Publish(event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, event)
	return nil
}

func (p *Publisher) Published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.Events...)
}
