package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRouter creates and configures a Chi router with all API routes
func (s *Server) SetupRouter() http.Handler {
	r := chi.NewRouter()

	// Built-in Chi middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Custom middleware
	r.Use(s.LoggingMiddleware)

	// Health check endpoint
	r.Get("/api/health", s.HealthHandler)

	// Modem routes
	r.Route("/api/modems", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Get("/", s.ListModemsHandler)

		r.Route("/{modemID}", func(r chi.Router) {
			r.Use(s.modemCtx)
			r.Get("/", s.GetModemHandler)
			r.Post("/enable", s.EnableHandler)
			r.Post("/disable", s.DisableHandler)
			r.Post("/reset", s.ResetHandler)
			r.Post("/factory-reset", s.FactoryResetHandler)
			r.Post("/reload", s.ReloadCapabilitiesHandler)
			r.Post("/pin", s.SendPinHandler)
			r.Post("/puk", s.SendPukHandler)
			r.Post("/register", s.RegisterHandler)
			r.Post("/registration-check", s.RegistrationCheckHandler)
			r.Put("/modes", s.SetModesHandler)
			r.Put("/bands", s.SetBandsHandler)
			r.Get("/events", s.ModemEventsHandler)
			r.Delete("/events", s.ClearModemEventsHandler)

			// Bearer routes
			r.Route("/bearers", func(r chi.Router) {
				r.Get("/", s.ListBearersHandler)
				r.Post("/", s.CreateBearerHandler)

				r.Route("/{bearerID}", func(r chi.Router) {
					r.Use(s.bearerCtx)
					r.Get("/", s.GetBearerHandler)
					r.Delete("/", s.DeleteBearerHandler)
					r.Post("/connect", s.ConnectBearerHandler)
					r.Post("/disconnect", s.DisconnectBearerHandler)
				})
			})
		})
	})

	// Event journal and stream routes
	r.Route("/api/events", func(r chi.Router) {
		r.Get("/", s.ListEventsHandler)
		if s.cfg.EventStream {
			r.Get("/stream", s.EventStreamHandler)
		}
		r.Get("/{eventID}", s.GetEventHandler)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	return s.corsHandler(r)
}
