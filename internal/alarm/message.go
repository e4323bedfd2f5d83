package alarm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
)

// Relay message kinds, the first field of a ';' separated message
const (
	kindState     = "state"
	kindTelemetry = "telemetry"
	kindCommand   = "command"
)

// RelayMessage is a decoded message a hub relayed from one of its nodes
type RelayMessage interface {
	Serial() models.SerialID
}

// StateMessage is "state;<serial>;<ts>;<bool>". For entry sensors true
// means closed, for sirens true means sounding.
type StateMessage struct {
	SerialID models.SerialID
	TS       int64
	Value    bool
}

// TelemetryMessage is "telemetry;<serial>;<batteryPercentage>;<batteryVoltage>"
type TelemetryMessage struct {
	SerialID          models.SerialID
	BatteryPercentage float64
	BatteryVoltage    float64
}

func (m StateMessage) Serial() models.SerialID     { return m.SerialID }
func (m TelemetryMessage) Serial() models.SerialID { return m.SerialID }

// ParseRelayMessage decodes a relayed node message
func ParseRelayMessage(msg string) (RelayMessage, error) {
	parts := strings.Split(strings.TrimSpace(msg), ";")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: relay message has %d fields", apperr.ErrBadRequest, len(parts))
	}

	serial, err := models.ParseSerialID(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err)
	}

	switch parts[0] {
	case kindState:
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timestamp", apperr.ErrBadRequest)
		}
		value, err := strconv.ParseBool(parts[3])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid state value", apperr.ErrBadRequest)
		}
		return StateMessage{SerialID: serial, TS: ts, Value: value}, nil

	case kindTelemetry:
		pct, err := strconv.ParseFloat(parts[2], 64)
		if err != nil || pct < 0 || pct > 100 {
			return nil, fmt.Errorf("%w: invalid battery percentage", apperr.ErrBadRequest)
		}
		volt, err := strconv.ParseFloat(parts[3], 64)
		if err != nil || volt < 0 {
			return nil, fmt.Errorf("%w: invalid battery voltage", apperr.ErrBadRequest)
		}
		return TelemetryMessage{SerialID: serial, BatteryPercentage: pct, BatteryVoltage: volt}, nil

	default:
		return nil, fmt.Errorf("%w: unknown relay message %q", apperr.ErrBadRequest, parts[0])
	}
}

// SirenCommand is the node message that switches a siren on or off
func SirenCommand(active bool) string {
	return kindCommand + ";siren;" + strconv.FormatBool(active)
}
