package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/adoption"
	"github.com/hearth-security/hearth-server/internal/alarm"
	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/auth"
	"github.com/hearth-security/hearth-server/internal/config"
	"github.com/hearth-security/hearth-server/internal/storage"
	"github.com/hearth-security/hearth-server/internal/validation"
)

// RESTServer represents the REST API server
type RESTServer struct {
	config      *config.Config
	store       storage.Store
	adoption    *adoption.Service
	alarm       *alarm.Engine
	auth        *auth.JWTManager
	serviceAuth *auth.ServiceAuth
	validator   *validation.Validator
	router      chi.Router
	server      *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, adoptionService *adoption.Service, engine *alarm.Engine) *RESTServer {
	s := &RESTServer{
		config:      cfg,
		store:       store,
		adoption:    adoptionService,
		alarm:       engine,
		auth:        auth.NewJWTManager(&cfg.JWT),
		serviceAuth: auth.NewServiceAuth(&cfg.Internal),
		validator:   validation.NewValidator(),
		router:      chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// Internal routes, called by the device gateway only
	s.router.Route("/internal/v1", func(r chi.Router) {
		r.Use(auth.ServiceMiddleware(s.serviceAuth, s.respondErr))
		s.setupInternalRoutes(r)
	})

	// User API
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.API.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		s.setupAPIRoutes(r)
	})
}

// Handler returns the HTTP handler
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ========== Response helpers ==========

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
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

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondErr maps err onto a status code. Internal errors are logged and
// not echoed.
func (s *RESTServer) respondErr(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
		s.respondError(w, status, "internal server error")
		return
	}
	s.respondError(w, status, err.Error())
}

// decode reads and validates a JSON body
func (s *RESTServer) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", apperr.ErrBadRequest)
	}
	return s.validator.Validate(v)
}
