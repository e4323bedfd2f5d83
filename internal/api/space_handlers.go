package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/auth"
	"github.com/hearth-security/hearth-server/internal/models"
	"github.com/hearth-security/hearth-server/internal/storage"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 100
)

// HandleCreateSpace creates a space. Admin only.
func (s *RESTServer) HandleCreateSpace(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || !claims.IsAdmin {
		s.respondErr(w, fmt.Errorf("%w: admin token required", apperr.ErrUnauthorized))
		return
	}

	var req struct {
		Name string `json:"name" validate:"required,max=128"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	space := &models.Space{Name: req.Name}
	if err := s.store.CreateSpace(r.Context(), space); err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, space)
}

// HandleGetSpace gets a space
func (s *RESTServer) HandleGetSpace(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathUUID(r, "id")
	if err == nil {
		err = authorizeSpace(r, spaceID)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	space, err := s.store.GetSpace(r.Context(), spaceID)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, space)
}

// HandleRegisterHub adds a hub to a space by serial
func (s *RESTServer) HandleRegisterHub(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathUUID(r, "id")
	if err == nil {
		err = authorizeSpace(r, spaceID)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var req struct {
		SerialID string `json:"serialId" validate:"required,serial"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	serial, err := models.ParseSerialID(req.SerialID)
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err))
		return
	}

	pending, err := s.adoption.RegisterHub(r.Context(), spaceID, serial)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, pending)
}

// HandleListPendingDevices lists the devices of a space awaiting adoption
func (s *RESTServer) HandleListPendingDevices(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathUUID(r, "id")
	if err == nil {
		err = authorizeSpace(r, spaceID)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	pending, err := s.adoption.ListPending(r.Context(), spaceID)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"pendingDevices": pending,
		"total":          len(pending),
	})
}

// HandleListDevices lists the trusted devices of a space
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathUUID(r, "id")
	if err == nil {
		err = authorizeSpace(r, spaceID)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	devices, err := s.adoption.ListDevices(r.Context(), spaceID)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   len(devices),
	})
}

// HandleArm arms a space
func (s *RESTServer) HandleArm(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathUUID(r, "id")
	if err == nil {
		err = authorizeSpace(r, spaceID)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	space, err := s.alarm.Arm(r.Context(), spaceID)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, space)
}

// HandleDisarm disarms a space and silences its sirens
func (s *RESTServer) HandleDisarm(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathUUID(r, "id")
	if err == nil {
		err = authorizeSpace(r, spaceID)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	space, err := s.alarm.Disarm(r.Context(), spaceID)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, space)
}

// HandleListEvents lists the audit events of a space, newest first
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathUUID(r, "id")
	if err == nil {
		err = authorizeSpace(r, spaceID)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	query := r.URL.Query()
	filters := storage.EventLogFilters{SpaceID: &spaceID}

	if v := query.Get("type"); v != "" {
		t := models.EventType(v)
		filters.Type = &t
	}
	if v := query.Get("level"); v != "" {
		l := models.EventLevel(v)
		filters.Level = &l
	}
	if v := query.Get("serialId"); v != "" {
		serial, err := models.ParseSerialID(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid serialId")
			return
		}
		filters.SerialID = &serial
	}
	if v := query.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		filters.StartTime = &t
	}
	if v := query.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end time")
			return
		}
		filters.EndTime = &t
	}

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	events, total, err := s.store.ListEventLogs(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}
