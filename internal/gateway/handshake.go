package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
	"github.com/hearth-security/hearth-server/internal/protocol"
	"github.com/hearth-security/hearth-server/internal/session"
	"github.com/hearth-security/hearth-server/internal/validation"
	"github.com/hearth-security/hearth-server/pkg/crypto"
)

// ErrNotAuthenticated is returned for any non-handshake frame on an
// unauthenticated connection
var ErrNotAuthenticated = fmt.Errorf("frame before handshake: %w", apperr.ErrUnauthorized)

var validator = validation.NewValidator()

// handshake handles one frame of an unauthenticated connection. It returns
// a session once hello or session succeeds, nil after a timestamp exchange.
func (s *Server) handshake(ctx context.Context, c *conn, raw []byte) (*session.Session, error) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, protocol.ErrMalformedFrame
	}

	switch env.Type {
	case protocol.TypeTimestamp:
		return nil, c.sendJSON(protocol.TimestampFrame{
			Type: protocol.TypeTimestamp,
			TS:   s.now().Unix(),
		})

	case protocol.TypeHello:
		var hello protocol.Hello
		if err := decodeHandshake(raw, &hello); err != nil {
			return nil, err
		}
		return s.hello(ctx, c, &hello)

	case protocol.TypeSession:
		var req protocol.SessionRequest
		if err := decodeHandshake(raw, &req); err != nil {
			return nil, err
		}
		return s.resume(ctx, c, &req)

	default:
		return nil, fmt.Errorf("%w: %q", ErrNotAuthenticated, env.Type)
	}
}

func decodeHandshake(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return protocol.ErrMalformedFrame
	}
	return validator.Validate(v)
}

// hello binds a first-contact key. The signature is checked with the
// presented key before anything is sent to the application server.
func (s *Server) hello(ctx context.Context, c *conn, h *protocol.Hello) (*session.Session, error) {
	serial, err := protocol.ParseSerial(h.DeviceID)
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckTimestamp(h.TS, s.now(), s.config.MaxClockSkew); err != nil {
		return nil, err
	}
	if err := crypto.Verify(h.PublicKeyPEM, h.SignedData(), h.Sig); err != nil {
		return nil, fmt.Errorf("hello %s: %w", serial, err)
	}

	if err := s.collab.Introduce(ctx, serial, h.PublicKeyPEM); err != nil {
		return nil, fmt.Errorf("introduce %s: %w", serial, err)
	}

	// a hub has no hub to vouch for it, so it acknowledges itself
	if serial.Type() == models.DeviceTypeHub {
		if err := s.collab.Acknowledge(ctx, serial, &serial); err != nil {
			return nil, fmt.Errorf("acknowledge %s: %w", serial, err)
		}
	}

	return s.establish(c, serial, protocol.TypeHelloAck, h.Nonce)
}

// resume starts a new session for a device whose key is already bound
func (s *Server) resume(ctx context.Context, c *conn, req *protocol.SessionRequest) (*session.Session, error) {
	serial, err := protocol.ParseSerial(req.DeviceID)
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckTimestamp(req.TS, s.now(), s.config.MaxClockSkew); err != nil {
		return nil, err
	}

	key, err := s.collab.GetDevice(ctx, serial)
	if err != nil {
		return nil, fmt.Errorf("device key %s: %w", serial, err)
	}
	if err := crypto.Verify(key.PublicKeyPEM, req.SignedData(), req.Sig); err != nil {
		return nil, fmt.Errorf("session %s: %w", serial, err)
	}

	return s.establish(c, serial, protocol.TypeSessionAck, req.Nonce)
}

// establish derives a fresh key, registers the session and sends the signed
// ack. The ack echoes the device's nonce so it cannot be replayed to
// another handshake.
func (s *Server) establish(c *conn, serial models.SerialID, typ protocol.FrameType, nonce string) (*session.Session, error) {
	material, err := crypto.DeriveSessionKey()
	if err != nil {
		return nil, err
	}

	ack := protocol.NewHandshakeAck(typ, serial.String(), s.now().Unix(), nonce, material)
	if err := s.identity.SignAck(ack); err != nil {
		return nil, err
	}

	sess := s.sessions.Create(serial, c, material.Key)
	if err := c.sendJSON(ack); err != nil {
		s.sessions.Release(sess)
		return nil, fmt.Errorf("send %s: %w", typ, err)
	}

	log.Debug().
		Str("conn_id", c.id).
		Str("device_id", serial.String()).
		Str("frame_type", string(typ)).
		Msg("Handshake acknowledged")

	return sess, nil
}
