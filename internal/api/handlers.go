package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/auth"
	"github.com/hearth-security/hearth-server/internal/models"
)

// ========== System handlers ==========

// HandleHealth handles health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// HandleRoot handles root endpoint
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "Hearth Application Server",
		"version": "1.0.0",
	})
}

// ========== Request helpers ==========

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", apperr.ErrBadRequest, name)
	}
	return id, nil
}

func pathSerial(r *http.Request, name string) (models.SerialID, error) {
	serial, err := models.ParseSerialID(chi.URLParam(r, name))
	if err != nil {
		return models.SerialID{}, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err)
	}
	return serial, nil
}

// authorizeSpace fails unless the caller's token covers spaceID. A space the
// caller cannot see is reported as missing.
func authorizeSpace(r *http.Request, spaceID uuid.UUID) error {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return fmt.Errorf("%w: missing claims", apperr.ErrUnauthorized)
	}
	if !claims.CanAccessSpace(spaceID) {
		return fmt.Errorf("space %s: %w", spaceID, apperr.ErrNotFound)
	}
	return nil
}
