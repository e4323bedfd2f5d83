package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
	"github.com/hearth-security/hearth-server/internal/protocol"
	"github.com/hearth-security/hearth-server/internal/session"
)

// ErrHubOnly is acked for hub frames sent by a plain node
var ErrHubOnly = fmt.Errorf("frame is only accepted from hubs: %w", apperr.ErrUnauthorized)

// handleFrame authenticates and dispatches one frame of an established
// session. A returned error ends the session. Handler errors do not: they
// are reported to the device in the ack.
func (s *Server) handleFrame(ctx context.Context, sess *session.Session, raw []byte) error {
	f, err := s.channel.Open(sess, raw)
	if err != nil {
		return err
	}

	payload, err := protocol.DecodePayload(f)
	if errors.Is(err, protocol.ErrUnknownFrame) {
		return err
	}
	if err == nil {
		err = s.dispatch(ctx, sess, payload)
	}

	if _, ok := payload.(*protocol.PingPayload); ok {
		return s.reply(sess, protocol.TypePong, nil)
	}

	if err != nil {
		log.Warn().Err(err).
			Str("device_id", sess.DeviceID.String()).
			Str("frame_type", string(f.Type)).
			Msg("Frame handler failed")
	}

	return s.reply(sess, f.Type.Ack(), protocol.Ack(err))
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, payload protocol.Payload) error {
	switch p := payload.(type) {
	case *protocol.PingPayload:
		return nil
	case *protocol.TelemetryPayload:
		return s.collab.UpdateTelemetry(ctx, sess.DeviceID, p.Update())
	case *protocol.DiscoveryPayload:
		return s.onDiscovery(ctx, sess, p)
	case *protocol.HubNodeAdoptionPayload:
		return s.onNodeAdoption(ctx, sess, p)
	case *protocol.HubMessageFromNodePayload:
		return s.onNodeMessage(ctx, sess, p)
	default:
		return fmt.Errorf("%w: %T", protocol.ErrUnknownFrame, payload)
	}
}

func (s *Server) onDiscovery(ctx context.Context, sess *session.Session, p *protocol.DiscoveryPayload) error {
	if sess.DeviceID.Type() != models.DeviceTypeHub {
		return ErrHubOnly
	}
	serial, err := protocol.ParseSerial(p.SerialID)
	if err != nil {
		return err
	}

	status, err := s.collab.ReportDiscovery(ctx, sess.DeviceID, serial)
	if err != nil {
		return err
	}

	log.Info().
		Str("device_id", sess.DeviceID.String()).
		Str("serial_id", serial.String()).
		Str("state", string(status.State)).
		Msg("Discovery reported")

	if p.SharedSecret == "" || status.PendingDeviceID == nil {
		return nil
	}

	// a locally paired peer still waits for the user's adopt
	switch status.State {
	case models.AdoptionPendingIntroduce:
		return s.collab.Adopt(ctx, sess.DeviceID, *status.PendingDeviceID, serial, p.SharedSecret)
	case models.AdoptionAutoDiscovered:
		log.Info().
			Str("device_id", sess.DeviceID.String()).
			Str("serial_id", serial.String()).
			Msg("Paired peer awaiting user authorization")
	}

	return nil
}

func (s *Server) onNodeAdoption(ctx context.Context, sess *session.Session, p *protocol.HubNodeAdoptionPayload) error {
	if sess.DeviceID.Type() != models.DeviceTypeHub {
		return ErrHubOnly
	}
	serial, err := protocol.ParseSerial(p.SerialID)
	if err != nil {
		return err
	}

	hub := sess.DeviceID
	return s.collab.Acknowledge(ctx, serial, &hub)
}

func (s *Server) onNodeMessage(ctx context.Context, sess *session.Session, p *protocol.HubMessageFromNodePayload) error {
	if sess.DeviceID.Type() != models.DeviceTypeHub {
		return ErrHubOnly
	}
	serial, err := protocol.ParseSerial(p.SerialID)
	if err != nil {
		return err
	}

	return s.collab.RelayMessage(ctx, sess.DeviceID, serial, p.Message)
}

// reply seals and sends one frame on sess
func (s *Server) reply(sess *session.Session, typ protocol.FrameType, payload interface{}) error {
	data, err := s.channel.Seal(sess, typ, payload)
	if err != nil {
		return err
	}
	if err := sess.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}
