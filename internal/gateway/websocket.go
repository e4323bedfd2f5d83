package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/session"
)

// maxFrameSize bounds a single inbound websocket message
const maxFrameSize = 64 * 1024

// handleWebSocket upgrades a device connection and serves it until it closes
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	c := newConn(ws, s.config.WriteTimeout)
	defer c.Close()

	log.Debug().Str("conn_id", c.id).Str("remote", r.RemoteAddr).Msg("Device connected")
	s.serve(c)
}

// serve runs one connection: Unauthenticated until a handshake frame
// succeeds, then Established until the first failure or close.
func (s *Server) serve(c *conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := log.With().Str("conn_id", c.id).Logger()

	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(s.now().Add(s.config.HandshakeTimeout))

	var sess *session.Session
	defer func() {
		if sess != nil {
			s.sessions.Release(sess)
			logger.Info().Str("device_id", sess.DeviceID.String()).Msg("Session closed")
		}
	}()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if !c.Closing() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("Websocket read ended")
			}
			return
		}

		if sess == nil {
			sess, err = s.handshake(ctx, c, raw)
			if err != nil {
				logger.Warn().Err(err).Msg("Handshake failed")
				return
			}
			if sess != nil {
				c.ws.SetReadDeadline(time.Time{})
				logger.Info().Str("device_id", sess.DeviceID.String()).Msg("Session established")
			}
			continue
		}

		if err := s.handleFrame(ctx, sess, raw); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Str("device_id", sess.DeviceID.String()).Msg("Frame rejected, closing session")
			}
			return
		}
	}
}
