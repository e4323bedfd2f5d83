package gateway

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
	"github.com/hearth-security/hearth-server/internal/protocol"
)

// ErrHubOffline is returned when a command targets a hub with no session
var ErrHubOffline = fmt.Errorf("hub not connected: %w", apperr.ErrNotFound)

// Deliver pushes a command to the live session of its hub
func (s *Server) Deliver(ctx context.Context, cmd *models.NodeCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var payload interface{}
	switch cmd.Type {
	case models.CommandEnableNodeAdoption:
		payload = protocol.EnableNodeAdoptionPayload{
			SerialID:     cmd.SerialID.String(),
			SharedSecret: cmd.SharedSecret,
		}
	case models.CommandSendMessageToNode:
		if cmd.Message == "" {
			return fmt.Errorf("%w: empty message", apperr.ErrBadRequest)
		}
		payload = protocol.SendMessageToNodePayload{
			SerialID: cmd.SerialID.String(),
			Message:  cmd.Message,
		}
	default:
		return fmt.Errorf("%w: unknown command %q", apperr.ErrBadRequest, cmd.Type)
	}

	sess, ok := s.sessions.Get(cmd.HubSerialID)
	if !ok {
		return fmt.Errorf("%s: %w", cmd.HubSerialID, ErrHubOffline)
	}

	if err := s.reply(sess, protocol.FrameType(cmd.Type), payload); err != nil {
		// a session that cannot be written to is dead
		s.sessions.Release(sess)
		return err
	}

	log.Debug().
		Str("device_id", cmd.HubSerialID.String()).
		Str("serial_id", cmd.SerialID.String()).
		Str("frame_type", string(cmd.Type)).
		Msg("Command sent to hub")

	return nil
}
