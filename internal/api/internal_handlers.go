package api

import (
	"fmt"
	"net/http"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
)

// ========== Gateway collaborator handlers ==========

// HandleReportDiscovery records that a hub saw a device and returns the
// device's adoption status
func (s *RESTServer) HandleReportDiscovery(w http.ResponseWriter, r *http.Request) {
	serial, err := pathSerial(r, "id")
	if err != nil {
		s.respondErr(w, err)
		return
	}

	hub, err := models.ParseSerialID(r.URL.Query().Get("hubSerialId"))
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: invalid hubSerialId", apperr.ErrBadRequest))
		return
	}

	status, err := s.adoption.ReportDiscovery(r.Context(), hub, serial)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, status)
}

// HandleIntroduce binds the public key a device presented in hello
func (s *RESTServer) HandleIntroduce(w http.ResponseWriter, r *http.Request) {
	serial, err := pathSerial(r, "id")
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var req models.IntroduceRequest
	if err := s.decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	if err := s.adoption.Introduce(r.Context(), serial, req.PublicKeyPEM); err != nil {
		s.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleAcknowledge records the acknowledgement of an introduced device
func (s *RESTServer) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	serial, err := pathSerial(r, "id")
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var req models.AcknowledgeRequest
	if err := s.decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	if err := s.adoption.Acknowledge(r.Context(), serial, req.HubSerialID); err != nil {
		s.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleAdoptPaired forwards the shared secret of a device its hub already
// paired locally
func (s *RESTServer) HandleAdoptPaired(w http.ResponseWriter, r *http.Request) {
	pendingID, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var req models.AdoptRequest
	if err := s.decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	serial, err := models.ParseSerialID(req.SerialID)
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err))
		return
	}
	hub, err := models.ParseSerialID(req.HubSerialID)
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err))
		return
	}

	pending, err := s.adoption.AdoptPaired(r.Context(), hub, pendingID, serial, req.SharedSecret)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, pending)
}

// HandleGetDeviceKey returns the public key bound to a device
func (s *RESTServer) HandleGetDeviceKey(w http.ResponseWriter, r *http.Request) {
	serial, err := pathSerial(r, "serialId")
	if err != nil {
		s.respondErr(w, err)
		return
	}

	key, err := s.adoption.DeviceKey(r.Context(), serial)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, key)
}

// HandleUpdateTelemetry merges a telemetry report into device metadata
func (s *RESTServer) HandleUpdateTelemetry(w http.ResponseWriter, r *http.Request) {
	serial, err := pathSerial(r, "serialId")
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var update models.TelemetryUpdate
	if err := s.decode(r, &update); err != nil {
		s.respondErr(w, err)
		return
	}

	if _, err := s.adoption.RecordTelemetry(r.Context(), serial, update); err != nil {
		s.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleRelayMessage feeds a message a hub relayed from one of its nodes to
// the alarm engine
func (s *RESTServer) HandleRelayMessage(w http.ResponseWriter, r *http.Request) {
	hub, err := pathSerial(r, "serialId")
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var req models.RelayRequest
	if err := s.decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	node, err := models.ParseSerialID(req.SerialID)
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err))
		return
	}

	if err := s.alarm.HandleRelay(r.Context(), hub, node, req.Message); err != nil {
		s.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
