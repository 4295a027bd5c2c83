package order

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusAssigned  Status = "assigned"
	StatusEnRoute   Status = "en_route"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Order is the live view of a ride order, merged from channel events.
type Order struct {
	ID         uuid.UUID `json:"id"`
	DriverID   uuid.UUID `json:"driver_id,omitempty"`
	CustomerID uuid.UUID `json:"customer_id,omitempty"`
	Status     Status    `json:"status"`
	PickupLat  float64   `json:"pickup_lat,omitempty"`
	PickupLng  float64   `json:"pickup_lng,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
