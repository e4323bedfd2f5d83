package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/auth"
	"github.com/hearth-security/hearth-server/internal/config"
	"github.com/hearth-security/hearth-server/internal/models"
	"github.com/hearth-security/hearth-server/internal/protocol"
	"github.com/hearth-security/hearth-server/internal/session"
)

// Collaborator is the application server as seen from the gateway
type Collaborator interface {
	ReportDiscovery(ctx context.Context, hub, serial models.SerialID) (*models.DiscoveryStatus, error)
	Introduce(ctx context.Context, serial models.SerialID, publicKeyPEM string) error
	Acknowledge(ctx context.Context, serial models.SerialID, hub *models.SerialID) error
	Adopt(ctx context.Context, hub models.SerialID, pendingID uuid.UUID, serial models.SerialID, sharedSecret string) error
	GetDevice(ctx context.Context, serial models.SerialID) (*models.DeviceKey, error)
	UpdateTelemetry(ctx context.Context, serial models.SerialID, update models.TelemetryUpdate) error
	RelayMessage(ctx context.Context, hub, node models.SerialID, message string) error
}

// Server terminates device websockets and runs the handshake and the
// authenticated channel on them
type Server struct {
	config      *config.GatewayConfig
	identity    *Identity
	sessions    *session.Store
	channel     *protocol.Channel
	collab      Collaborator
	serviceAuth *auth.ServiceAuth
	upgrader    websocket.Upgrader
	router      chi.Router
	server      *http.Server
	now         func() time.Time
}

// NewServer creates a gateway server
func NewServer(cfg *config.GatewayConfig, identity *Identity, sessions *session.Store, collab Collaborator, serviceAuth *auth.ServiceAuth) *Server {
	s := &Server{
		config:      cfg,
		identity:    identity,
		sessions:    sessions,
		channel:     protocol.NewChannel(sessions, cfg.MaxClockSkew),
		collab:      collab,
		serviceAuth: serviceAuth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// devices are not browsers
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		router: chi.NewRouter(),
		now:    time.Now,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/bootstrap", s.handleBootstrap)
	s.router.Get("/ws", s.handleWebSocket)

	s.router.Route("/internal", func(r chi.Router) {
		r.Use(auth.ServiceMiddleware(s.serviceAuth, s.respondErr))
		r.Post("/commands", s.handleCommand)
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server and the idle session sweeper
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.server.Addr = addr

	go s.sweepSessions(ctx)

	log.Info().Str("addr", addr).Msg("Starting device gateway")
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and closes every live session
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	n := s.sessions.CloseAll()
	log.Info().Int("sessions", n).Msg("Closed device sessions")
	return err
}

// sweepSessions drops sessions that have gone quiet
func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(s.config.IdleTimeout); n > 0 {
				log.Info().Int("sessions", n).Msg("Idle sessions closed")
			}
		}
	}
}

// ========== HTTP handlers ==========

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"sessions": s.sessions.Count(),
		"time":     s.now().UTC(),
	})
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	b, err := s.identity.Bootstrap(s.now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build bootstrap document")
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

// handleCommand is the HTTP twin of the NATS command subject
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd models.NodeCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.respondErr(w, fmt.Errorf("%w: invalid request body", apperr.ErrBadRequest))
		return
	}

	if err := s.Deliver(r.Context(), &cmd); err != nil {
		s.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	s.respondJSON(w, status, map[string]string{"error": message})
}
