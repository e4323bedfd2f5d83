package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an audit event
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	SpaceID  uuid.UUID `json:"spaceId" db:"space_id"`
	SerialID *SerialID `json:"serialId,omitempty" db:"serial_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Alarm events
	EventTypeSirenActivated EventType = "SIREN_ACTIVATED"
	EventTypeSirenSilenced  EventType = "SIREN_SILENCED"
	EventTypeSpaceArmed     EventType = "SPACE_ARMED"
	EventTypeSpaceDisarmed  EventType = "SPACE_DISARMED"

	// Adoption events
	EventTypeDeviceDiscovered EventType = "DEVICE_DISCOVERED"
	EventTypeDeviceAdopted    EventType = "DEVICE_ADOPTED"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelInfo     EventLevel = "INFO"
	EventLevelWarning  EventLevel = "WARNING"
	EventLevelCritical EventLevel = "CRITICAL"
)

// Audit event titles
const (
	TitleSirenActivated = "Siren activated"
	TitleSirenSilenced  = "Siren silenced"
	TitleSpaceArmed     = "Space armed"
	TitleSpaceDisarmed  = "Space disarmed"
	TitleDeviceAdopted  = "Device adopted"
)
