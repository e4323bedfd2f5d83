package models

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SerialID is the stable 8-byte identifier burned into every node.
// Byte 0 carries the device type tag.
type SerialID [8]byte

// ParseSerialID parses the 16 character hex form
func ParseSerialID(s string) (SerialID, error) {
	var id SerialID
	if len(s) != 16 {
		return id, fmt.Errorf("invalid serial id length")
	}

	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return id, fmt.Errorf("invalid serial id: %w", err)
	}

	copy(id[:], b)
	return id, nil
}

// String returns hex string representation
func (s SerialID) String() string {
	return hex.EncodeToString(s[:])
}

// Type decodes the device type tag
func (s SerialID) Type() DeviceType {
	switch s[0] {
	case 0x01:
		return DeviceTypeHub
	case 0x02:
		return DeviceTypeEntrySensor
	case 0x03:
		return DeviceTypeMotionSensor
	case 0x04:
		return DeviceTypeSiren
	default:
		return DeviceTypeUnknown
	}
}

// MarshalJSON implements json.Marshaler
func (s SerialID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (s *SerialID) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid serial id format")
	}

	id, err := ParseSerialID(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}

	*s = id
	return nil
}

// Value implements driver.Valuer
func (s SerialID) Value() (driver.Value, error) {
	return s.String(), nil
}

// Scan implements sql.Scanner
func (s *SerialID) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		id, err := ParseSerialID(v)
		if err != nil {
			return err
		}
		*s = id
		return nil
	case []byte:
		id, err := ParseSerialID(string(v))
		if err != nil {
			return err
		}
		*s = id
		return nil
	default:
		return fmt.Errorf("cannot scan %T into SerialID", value)
	}
}

// DeviceType is derived from the serial id tag
type DeviceType string

const (
	DeviceTypeHub          DeviceType = "hub"
	DeviceTypeEntrySensor  DeviceType = "entry_sensor"
	DeviceTypeMotionSensor DeviceType = "motion_sensor"
	DeviceTypeSiren        DeviceType = "siren"
	DeviceTypeUnknown      DeviceType = "unknown"
)

// AdoptionState is the lifecycle state of a pending device
type AdoptionState string

const (
	AdoptionAutoDiscovered          AdoptionState = "auto_discovered"
	AdoptionPendingIntroduce        AdoptionState = "pending_introduce"
	AdoptionPendingAcknowledgement  AdoptionState = "pending_acknowledgement"
	AdoptionWaitingUserConfirmation AdoptionState = "waiting_user_confirmation"

	// Terminal states. They are never persisted: confirmation replaces the
	// pending record with a Device, deletion removes it.
	AdoptionConfirmed AdoptionState = "confirmed"
	AdoptionDeleted   AdoptionState = "deleted"
)

// PendingDevice is a device seen by the backend but not yet trusted
type PendingDevice struct {
	SpaceModel

	SerialID     SerialID      `json:"serialId" db:"serial_id"`
	Type         DeviceType    `json:"type" db:"type"`
	State        AdoptionState `json:"state" db:"state"`
	PublicKeyPEM *string       `json:"publicKeyPem,omitempty" db:"public_key_pem"`
	HubSerialID  *SerialID     `json:"hubSerialId,omitempty" db:"hub_serial_id"`
}

// Device is a trusted, user-confirmed device
type Device struct {
	SpaceModel

	SerialID     SerialID   `json:"serialId" db:"serial_id"`
	Type         DeviceType `json:"type" db:"type"`
	PublicKeyPEM string     `json:"publicKeyPem" db:"public_key_pem"`
	Name         string     `json:"name" db:"name"`
	Description  string     `json:"description" db:"description"`
	HubSerialID  *SerialID  `json:"hubSerialId,omitempty" db:"hub_serial_id"`
	Metadata     Variables  `json:"metadata" db:"metadata"`
}

// Metadata keys
const (
	MetaTelemetry         = "telemetry"
	MetaBatteryPercentage = "batteryPercentage"
	MetaBatteryVoltage    = "batteryVoltage"
	MetaState             = "state"
	MetaLastHeartbeatAt   = "lastHeartbeatAt"
)

// TelemetryUpdate is a partial health report
type TelemetryUpdate struct {
	BatteryPercentage *float64               `json:"batteryPercentage,omitempty"`
	BatteryVoltage    *float64               `json:"batteryVoltage,omitempty"`
	State             *string                `json:"state,omitempty"`
	Telemetry         map[string]interface{} `json:"telemetry,omitempty"`
}

// ApplyTelemetry merges u into the metadata bag and stamps the heartbeat
func (d *Device) ApplyTelemetry(u TelemetryUpdate, now time.Time) {
	if d.Metadata == nil {
		d.Metadata = make(Variables)
	}

	if u.BatteryPercentage != nil {
		d.Metadata[MetaBatteryPercentage] = *u.BatteryPercentage
	}
	if u.BatteryVoltage != nil {
		d.Metadata[MetaBatteryVoltage] = *u.BatteryVoltage
	}
	if u.State != nil {
		d.Metadata[MetaState] = *u.State
	}
	if len(u.Telemetry) > 0 {
		d.Metadata[MetaTelemetry] = u.Telemetry
	}

	d.Metadata[MetaLastHeartbeatAt] = now.UTC().Format(time.RFC3339)
}

// CommandTarget returns the device whose session carries commands for d
func (d *Device) CommandTarget() SerialID {
	if d.HubSerialID != nil {
		return *d.HubSerialID
	}
	return d.SerialID
}

// NewPendingDevice builds a pending record with its type inferred from serial
func NewPendingDevice(serial SerialID, spaceID uuid.UUID, state AdoptionState) *PendingDevice {
	p := &PendingDevice{
		SerialID: serial,
		Type:     serial.Type(),
		State:    state,
	}
	p.SpaceID = spaceID
	return p
}
