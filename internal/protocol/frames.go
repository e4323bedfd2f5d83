package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
	"github.com/hearth-security/hearth-server/internal/validation"
	"github.com/hearth-security/hearth-server/pkg/crypto"
)

// FrameType is the "type" member of every frame
type FrameType string

const (
	// Pre-authentication
	TypeTimestamp  FrameType = "timestamp"
	TypeHello      FrameType = "hello"
	TypeHelloAck   FrameType = "hello_ack"
	TypeSession    FrameType = "session"
	TypeSessionAck FrameType = "session_ack"

	// Device to server
	TypeDiscovery          FrameType = "discovery"
	TypeTelemetry          FrameType = "telemetry"
	TypeHubNodeAdoption    FrameType = "hub_node_adoption"
	TypeHubMessageFromNode FrameType = "hub_message_from_node"
	TypePing               FrameType = "ping"
	TypePong               FrameType = "pong"

	// Server to hub
	TypeEnableNodeAdoption FrameType = FrameType(models.CommandEnableNodeAdoption)
	TypeSendMessageToNode  FrameType = FrameType(models.CommandSendMessageToNode)
)

// Ack returns the acknowledgement type for t
func (t FrameType) Ack() FrameType {
	return t + "_ack"
}

// IsHandshake reports whether t may be sent before authentication
func (t FrameType) IsHandshake() bool {
	switch t {
	case TypeTimestamp, TypeHello, TypeSession:
		return true
	}
	return false
}

// Envelope is decoded first to route a raw frame by type
type Envelope struct {
	Type FrameType `json:"type"`
}

// ========== Handshake frames ==========

// TimestampFrame carries server time so a node can sync before signing
type TimestampFrame struct {
	Type FrameType `json:"type"`
	TS   int64     `json:"ts"`
}

// Hello is the first-contact handshake. The device presents a freshly
// generated public key and signs device_id‖ts‖nonce with it.
type Hello struct {
	Type         FrameType `json:"type"`
	DeviceID     string    `json:"device_id" validate:"required,serial"`
	TS           int64     `json:"ts" validate:"required"`
	Nonce        string    `json:"nonce" validate:"required"`
	Sig          string    `json:"sig" validate:"required"`
	PublicKeyPEM string    `json:"pubkey_pem" validate:"required,pem"`
}

// SignedData returns the bytes covered by Sig
func (h *Hello) SignedData() []byte {
	return handshakeTranscript(h.DeviceID, h.TS, h.Nonce)
}

// SessionRequest resumes a session for a device with a bound key
type SessionRequest struct {
	Type     FrameType `json:"type"`
	DeviceID string    `json:"device_id" validate:"required,serial"`
	TS       int64     `json:"ts" validate:"required"`
	Nonce    string    `json:"nonce" validate:"required"`
	Sig      string    `json:"sig" validate:"required"`
}

// SignedData returns the bytes covered by Sig
func (s *SessionRequest) SignedData() []byte {
	return handshakeTranscript(s.DeviceID, s.TS, s.Nonce)
}

// HandshakeAck answers hello and session. It carries the HKDF inputs and is
// signed with the server's static key.
type HandshakeAck struct {
	Type     FrameType `json:"type"`
	DeviceID string    `json:"device_id"`
	TS       int64     `json:"ts"`
	Nonce    string    `json:"nonce"`
	IKM      string    `json:"ikm"`
	Salt     string    `json:"salt"`
	Info     string    `json:"info"`
	Sig      string    `json:"sig"`
}

// NewHandshakeAck builds an unsigned ack from derived key material
func NewHandshakeAck(typ FrameType, deviceID string, ts int64, nonce string, m *crypto.SessionKeyMaterial) *HandshakeAck {
	return &HandshakeAck{
		Type:     typ,
		DeviceID: deviceID,
		TS:       ts,
		Nonce:    nonce,
		IKM:      base64.StdEncoding.EncodeToString(m.IKM),
		Salt:     base64.StdEncoding.EncodeToString(m.Salt),
		Info:     m.Info,
	}
}

// SignedData returns the bytes covered by Sig
func (a *HandshakeAck) SignedData() []byte {
	b := handshakeTranscript(a.DeviceID, a.TS, a.Nonce)
	b = append(b, a.IKM...)
	b = append(b, a.Salt...)
	return append(b, a.Info...)
}

// SessionKey repeats the server's derivation from the transmitted parameters
func (a *HandshakeAck) SessionKey() ([]byte, error) {
	ikm, err := base64.StdEncoding.DecodeString(a.IKM)
	if err != nil {
		return nil, fmt.Errorf("%w: ikm encoding", crypto.ErrAuthentication)
	}
	salt, err := base64.StdEncoding.DecodeString(a.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: salt encoding", crypto.ErrAuthentication)
	}
	return crypto.HKDFSHA256(ikm, salt, []byte(a.Info), crypto.SessionKeySize)
}

// Bootstrap is served over HTTP so a device can learn and check the
// server's signing identity before its first handshake
type Bootstrap struct {
	TS            int64  `json:"ts"`
	CertChainPEM  string `json:"cert_chain_pem"`
	PubSignKeyPEM string `json:"pub_sign_key_pem"`
	Sig           string `json:"sig"`
}

// SignedData returns the bytes covered by Sig
func (b *Bootstrap) SignedData() []byte {
	out := []byte(strconv.FormatInt(b.TS, 10))
	out = append(out, b.CertChainPEM...)
	return append(out, b.PubSignKeyPEM...)
}

func handshakeTranscript(deviceID string, ts int64, nonce string) []byte {
	b := make([]byte, 0, len(deviceID)+20+len(nonce))
	b = append(b, deviceID...)
	b = strconv.AppendInt(b, ts, 10)
	return append(b, nonce...)
}

// ========== Authenticated frames ==========

// Frame is the envelope of every post-handshake message
type Frame struct {
	Type    FrameType       `json:"type"`
	Seq     uint64          `json:"seq"`
	TS      int64           `json:"ts"`
	Nonce   string          `json:"nonce"`
	MAC     string          `json:"mac,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload is one of the typed frame bodies below
type Payload interface {
	frameType() FrameType
}

// DiscoveryPayload: a hub reports a newly seen radio peer. SharedSecret is
// set when the hub already paired the peer over its local radio.
type DiscoveryPayload struct {
	SerialID     string `json:"serial_id" validate:"required,serial"`
	SharedSecret string `json:"shared_secret,omitempty" validate:"max=256"`
}

// TelemetryPayload is a periodic health and state report. Members other
// than the named ones are kept in Extra.
type TelemetryPayload struct {
	BatteryPercentage *float64 `json:"battery_percentage,omitempty" validate:"omitempty,min=0,max=100"`
	BatteryVoltage    *float64 `json:"battery_voltage,omitempty" validate:"omitempty,min=0"`
	State             *string  `json:"state,omitempty"`

	Extra map[string]interface{} `json:"-"`
}

// UnmarshalJSON keeps unknown members in Extra
func (p *TelemetryPayload) UnmarshalJSON(data []byte) error {
	type known TelemetryPayload
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}

	var all map[string]interface{}
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	delete(all, "battery_percentage")
	delete(all, "battery_voltage")
	delete(all, "state")

	*p = TelemetryPayload(k)
	if len(all) > 0 {
		p.Extra = all
	}
	return nil
}

// Update converts the report into a metadata update
func (p *TelemetryPayload) Update() models.TelemetryUpdate {
	return models.TelemetryUpdate{
		BatteryPercentage: p.BatteryPercentage,
		BatteryVoltage:    p.BatteryVoltage,
		State:             p.State,
		Telemetry:         p.Extra,
	}
}

// HubNodeAdoptionPayload: the hub finished pairing a peer
type HubNodeAdoptionPayload struct {
	SerialID string `json:"serial_id" validate:"required,serial"`
}

// HubMessageFromNodePayload relays an opaque message from a proxied peer
type HubMessageFromNodePayload struct {
	SerialID string `json:"serial_id" validate:"required,serial"`
	Message  string `json:"message" validate:"required,max=1024"`
}

// PingPayload is the empty keep-alive body
type PingPayload struct{}

func (DiscoveryPayload) frameType() FrameType          { return TypeDiscovery }
func (TelemetryPayload) frameType() FrameType          { return TypeTelemetry }
func (HubNodeAdoptionPayload) frameType() FrameType    { return TypeHubNodeAdoption }
func (HubMessageFromNodePayload) frameType() FrameType { return TypeHubMessageFromNode }
func (PingPayload) frameType() FrameType               { return TypePing }

// AckPayload is the body of every <type>_ack frame
type AckPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// EnableNodeAdoptionPayload tells a hub to pair a peer
type EnableNodeAdoptionPayload struct {
	SerialID     string `json:"serial_id"`
	SharedSecret string `json:"shared_secret,omitempty"`
}

// SendMessageToNodePayload asks a hub to forward message to a peer
type SendMessageToNodePayload struct {
	SerialID string `json:"serial_id"`
	Message  string `json:"message"`
}

var validator = validation.NewValidator()

// DecodePayload decodes and validates the payload of an inbound frame
func DecodePayload(f *Frame) (Payload, error) {
	var p Payload
	switch f.Type {
	case TypeDiscovery:
		p = &DiscoveryPayload{}
	case TypeTelemetry:
		p = &TelemetryPayload{}
	case TypeHubNodeAdoption:
		p = &HubNodeAdoptionPayload{}
	case TypeHubMessageFromNode:
		p = &HubMessageFromNodePayload{}
	case TypePing:
		return &PingPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}

	if len(f.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s: missing payload", apperr.ErrBadRequest, f.Type)
	}
	if err := json.Unmarshal(f.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrBadRequest, f.Type, err)
	}
	if err := validator.Validate(p); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Type, err)
	}

	return p, nil
}

// ParseSerial parses a serial id taken from a validated payload
func ParseSerial(s string) (models.SerialID, error) {
	id, err := models.ParseSerialID(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err)
	}
	return id, nil
}
