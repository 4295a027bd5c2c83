package driver

import (
	"time"

	"github.com/google/uuid"
)

// Status mirrors the roster states pushed over the event channel.
type Status string

const (
	StatusOffline   Status = "offline"
	StatusAvailable Status = "available"
	StatusOnTrip    Status = "on_trip"
	StatusOnBreak   Status = "on_break"
	StatusSuspended Status = "suspended"
)

// Position is the last telemetry fix for a driver.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Heading    float64   `json:"heading,omitempty"`
	SpeedKPH   float64   `json:"speed_kph,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Driver is the live view of a rostered driver as seen by the console.
// It is a projection target: fields are merged from successive channel
// events and hold no authority over the roster store.
type Driver struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name,omitempty"`
	VehicleID   uuid.UUID `json:"vehicle_id,omitempty"`
	PlateNumber string    `json:"plate_number,omitempty"`
	Status      Status    `json:"status"`
	Position    *Position `json:"position,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
