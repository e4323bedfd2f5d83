package api

import (
	"net/http"

	"github.com/hearth-security/hearth-server/internal/models"
)

// ========== Pending devices ==========

// loadPending fetches the pending device named in the path and checks that
// the caller may act on its space
func (s *RESTServer) loadPending(r *http.Request) (*models.PendingDevice, error) {
	pendingID, err := pathUUID(r, "id")
	if err != nil {
		return nil, err
	}

	pending, err := s.adoption.GetPending(r.Context(), pendingID)
	if err != nil {
		return nil, err
	}
	if err := authorizeSpace(r, pending.SpaceID); err != nil {
		return nil, err
	}

	return pending, nil
}

// HandleGetPendingDevice gets a pending device
func (s *RESTServer) HandleGetPendingDevice(w http.ResponseWriter, r *http.Request) {
	pending, err := s.loadPending(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, pending)
}

// HandleAdoptRequest authorizes pairing of a discovered device
func (s *RESTServer) HandleAdoptRequest(w http.ResponseWriter, r *http.Request) {
	pending, err := s.loadPending(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	pending, err = s.adoption.Adopt(r.Context(), pending.ID)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, pending)
}

// HandleConfirm turns an acknowledged pending device into a trusted device
func (s *RESTServer) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	pending, err := s.loadPending(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var req struct {
		Name        string `json:"name" validate:"required,max=128"`
		Description string `json:"description" validate:"max=1024"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	device, err := s.adoption.Confirm(r.Context(), pending.ID, req.Name, req.Description)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, device)
}

// HandleDeletePendingDevice abandons an adoption
func (s *RESTServer) HandleDeletePendingDevice(w http.ResponseWriter, r *http.Request) {
	pending, err := s.loadPending(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	if err := s.adoption.Delete(r.Context(), pending.ID); err != nil {
		s.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ========== Devices ==========

func (s *RESTServer) loadDevice(r *http.Request) (*models.Device, error) {
	serial, err := pathSerial(r, "serialId")
	if err != nil {
		return nil, err
	}

	device, err := s.adoption.GetDevice(r.Context(), serial)
	if err != nil {
		return nil, err
	}
	if err := authorizeSpace(r, device.SpaceID); err != nil {
		return nil, err
	}

	return device, nil
}

// HandleGetDevice gets a device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.loadDevice(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleUpdateDevice updates the user-facing settings of a device
func (s *RESTServer) HandleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.loadDevice(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var req struct {
		Name        string `json:"name" validate:"required,max=128"`
		Description string `json:"description" validate:"max=1024"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	device, err = s.adoption.UpdateDeviceSettings(r.Context(), device.SerialID, req.Name, req.Description)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}
