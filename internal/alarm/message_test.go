package alarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-security/hearth-server/internal/apperr"
)

func TestParseRelayMessage(t *testing.T) {
	msg, err := ParseRelayMessage("state;0200000000000001;1700000000;false")
	require.NoError(t, err)
	state, ok := msg.(StateMessage)
	require.True(t, ok)
	assert.Equal(t, "0200000000000001", state.Serial().String())
	assert.Equal(t, int64(1700000000), state.TS)
	assert.False(t, state.Value)

	msg, err = ParseRelayMessage("telemetry;0400000000000001;55;3.7\n")
	require.NoError(t, err)
	telemetry, ok := msg.(TelemetryMessage)
	require.True(t, ok)
	assert.Equal(t, 55.0, telemetry.BatteryPercentage)
	assert.Equal(t, 3.7, telemetry.BatteryVoltage)
}

func TestParseRelayMessageInvalid(t *testing.T) {
	tests := []string{
		"",
		"state;0200000000000001;1700000000",
		"state;02000000;1700000000;true",
		"state;0200000000000001;soon;true",
		"state;0200000000000001;1700000000;maybe",
		"telemetry;0200000000000001;101;3.7",
		"telemetry;0200000000000001;50;-1",
		"reboot;0200000000000001;1;1",
	}

	for _, tt := range tests {
		_, err := ParseRelayMessage(tt)
		assert.ErrorIs(t, err, apperr.ErrBadRequest, tt)
	}
}

func TestSirenCommand(t *testing.T) {
	assert.Equal(t, "command;siren;true", SirenCommand(true))
	assert.Equal(t, "command;siren;false", SirenCommand(false))
}
