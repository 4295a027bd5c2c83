package events

import (
	"time"

	"github.com/google/uuid"
)

// Typed payloads for the push-channel contract. The channel delivers them
// inside Event.Payload; the synchronization layer decodes per type.

type DriverLocationPayload struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   float64   `json:"heading,omitempty"`
	SpeedKPH  float64   `json:"speed_kph,omitempty"`
	At        time.Time `json:"at"`
}

type DriverStatusPayload struct {
	DriverID uuid.UUID `json:"driver_id"`
	Status   string    `json:"status"`
	Name     string    `json:"name,omitempty"`
	At       time.Time `json:"at"`
}

type OrderCreatedPayload struct {
	OrderID    uuid.UUID `json:"order_id"`
	DriverID   uuid.UUID `json:"driver_id,omitempty"`
	CustomerID uuid.UUID `json:"customer_id,omitempty"`
	Status     string    `json:"status"`
	PickupLat  float64   `json:"pickup_lat,omitempty"`
	PickupLng  float64   `json:"pickup_lng,omitempty"`
	At         time.Time `json:"at"`
}

type IncidentCreatedPayload struct {
	IncidentID uuid.UUID `json:"incident_id"`
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Summary    string    `json:"summary"`
	At         time.Time `json:"at"`
}
