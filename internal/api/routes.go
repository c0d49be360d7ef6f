package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	r.Get("/health", s.HandleHealth)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/me", s.HandleGetCurrentUser)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.HandleListDevices)
			r.Post("/", s.HandleCreateDevice)
			r.Route("/{dev_eui}", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Delete("/", s.HandleDeleteDevice)
				r.Put("/keys", s.HandleSetDeviceKeys)
			})
		})

		r.Get("/device-configs/{dev_addr}", s.HandleGetDeviceConfig)
	})
}
