package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service      *scheduling.Service
	Availability *scheduling.AvailabilityService
	Health       *HealthHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	h := newHandlers(cfg.Service, cfg.Availability)

	r.Route("/clinics/{clinicID}", func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.createAppointment)
			r.Post("/recurring", h.createRecurring)
			r.Post("/recurring/check", h.checkRecurring)

			r.Route("/{appointmentID}", func(r chi.Router) {
				r.Get("/", h.getAppointment)
				r.Patch("/", h.updateAppointment)
				r.Post("/preview", h.previewEdit)
				r.Post("/cancel", h.cancelAppointment)
				r.With(StaffOnly).Put("/resources", h.setResourceAllocation)
				r.With(StaffOnly).Post("/notification-requirements", h.notificationRequirements)
			})
		})

		r.Post("/conflicts/check", h.checkConflicts)
		r.Post("/conflicts/check-batch", h.checkConflictsBatch)

		r.Get("/slots", h.availableSlots)
		r.Get("/slots/batch-dates", h.availableSlotsByDate)
		r.Get("/slots/batch-practitioners", h.availableSlotsByPractitioner)

		r.Group(func(r chi.Router) {
			r.Use(StaffOnly)

			r.Post("/auto-assign", h.autoAssign)
			r.Get("/resources/availability", h.resourceAvailability)

			r.Route("/practitioners/{practitionerID}", func(r chi.Router) {
				r.Get("/availability", h.listDefaultAvailability)
				r.Put("/availability/{weekday}", h.setDefaultAvailability)
				r.Post("/exceptions", h.createException)
				r.Delete("/exceptions/{eventID}", h.deleteException)
				r.Get("/calendar", h.listCalendar)
			})
		})
	})

	return r
}
