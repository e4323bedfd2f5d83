package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/hearth-security/hearth-server/internal/auth"
)

// setupInternalRoutes sets up the routes the device gateway calls
func (s *RESTServer) setupInternalRoutes(r chi.Router) {
	// {id} is a serial for discovery, introduce and acknowledge and a
	// pending device id for adopt
	r.Route("/pending_devices/{id}", func(r chi.Router) {
		r.Get("/discovery", s.HandleReportDiscovery)
		r.Post("/introduce", s.HandleIntroduce)
		r.Post("/acknowledge", s.HandleAcknowledge)
		r.Post("/adopt", s.HandleAdoptPaired)
	})

	r.Route("/devices/{serialId}", func(r chi.Router) {
		r.Get("/", s.HandleGetDeviceKey)
		r.Patch("/telemetry", s.HandleUpdateTelemetry)
		r.Post("/message", s.HandleRelayMessage)
	})
}

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.UserMiddleware(s.auth, s.respondErr))

		// Spaces
		r.Post("/spaces", s.HandleCreateSpace)
		r.Route("/spaces/{id}", func(r chi.Router) {
			r.Get("/", s.HandleGetSpace)
			r.Post("/hubs", s.HandleRegisterHub)
			r.Get("/pending_devices", s.HandleListPendingDevices)
			r.Get("/devices", s.HandleListDevices)
			r.Post("/arm", s.HandleArm)
			r.Post("/disarm", s.HandleDisarm)
			r.Get("/events", s.HandleListEvents)
		})

		// Pending devices
		r.Route("/pending_devices/{id}", func(r chi.Router) {
			r.Get("/", s.HandleGetPendingDevice)
			r.Delete("/", s.HandleDeletePendingDevice)
			r.Post("/adopt_request", s.HandleAdoptRequest)
			r.Post("/confirm", s.HandleConfirm)
		})

		// Devices
		r.Route("/devices/{serialId}", func(r chi.Router) {
			r.Get("/", s.HandleGetDevice)
			r.Put("/", s.HandleUpdateDevice)
		})
	})
}
