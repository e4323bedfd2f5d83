package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialID_Type(t *testing.T) {
	tests := []struct {
		serial string
		want   DeviceType
	}{
		{"0100000000000001", DeviceTypeHub},
		{"0200000000000001", DeviceTypeEntrySensor},
		{"03000000000000ff", DeviceTypeMotionSensor},
		{"04ABCDEF00000001", DeviceTypeSiren},
		{"7f00000000000001", DeviceTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.serial, func(t *testing.T) {
			id, err := ParseSerialID(tt.serial)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.Type())
		})
	}
}

func TestParseSerialID_Invalid(t *testing.T) {
	for _, s := range []string{"", "01", "zz00000000000001", "010000000000000100"} {
		_, err := ParseSerialID(s)
		assert.Error(t, err, s)
	}
}

func TestSerialID_JSON(t *testing.T) {
	id, err := ParseSerialID("04ABCDEF00000001")
	require.NoError(t, err)

	data, err := json.Marshal(struct {
		ID SerialID `json:"id"`
	}{id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"04abcdef00000001"}`, string(data))

	var back struct {
		ID SerialID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back.ID)
}

func TestDevice_ApplyTelemetry(t *testing.T) {
	d := &Device{}
	pct := 87.5
	state := "closed"
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	d.ApplyTelemetry(TelemetryUpdate{BatteryPercentage: &pct, State: &state}, now)

	assert.Equal(t, 87.5, d.Metadata[MetaBatteryPercentage])
	assert.Equal(t, "closed", d.Metadata[MetaState])
	assert.Equal(t, "2026-01-02T03:04:05Z", d.Metadata[MetaLastHeartbeatAt])
	assert.NotContains(t, d.Metadata, MetaBatteryVoltage)
}

func TestDevice_CommandTarget(t *testing.T) {
	siren, _ := ParseSerialID("0400000000000001")
	hub, _ := ParseSerialID("0100000000000001")

	d := &Device{SerialID: siren}
	assert.Equal(t, siren, d.CommandTarget())

	d.HubSerialID = &hub
	assert.Equal(t, hub, d.CommandTarget())
}
