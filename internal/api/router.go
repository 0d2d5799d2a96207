package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/savegress/telecare/internal/config"
	"github.com/savegress/telecare/internal/devices"
	"github.com/savegress/telecare/internal/devicetypes"
	"github.com/savegress/telecare/internal/scheduler"
	"github.com/savegress/telecare/internal/storage"
	"github.com/savegress/telecare/internal/transmit"
)

// Server represents the API server standing in for the hosting UI shell
type Server struct {
	config   *config.Config
	router   chi.Router
	handlers *Handlers
	hub      *Hub
}

// NewServer creates a new API server. runCtx is the context a transmission
// run inherits, so shutdown cancels in-flight runs; deviceTypes and store
// may be nil when the corresponding backend is not configured.
func NewServer(
	cfg *config.Config,
	runCtx context.Context,
	registry *devices.Registry,
	selection *transmit.SelectionRegistry,
	orch *transmit.Orchestrator,
	sched *scheduler.Scheduler,
	deviceTypes *devicetypes.Repository,
	store *storage.Store,
) *Server {
	hub := NewHub()
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		handlers: NewHandlers(runCtx, registry, selection, orch, sched, deviceTypes, store),
		hub:      hub,
	}

	// Push state transitions and selection changes to connected UIs
	orch.Subscribe(func(status transmit.Status) {
		hub.Broadcast("transmit_status", status)
	})
	selection.SetEnableCallback(func(enabled bool) {
		hub.Broadcast("transmit_enabled", map[string]bool{"enabled": enabled})
	})

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HealthCheck)
	s.router.Get("/ws", s.hub.HandleWS)

	s.router.Route("/api/v1/telecare", func(r chi.Router) {
		// Sources and selection
		r.Get("/sources", s.handlers.ListSources)
		r.Get("/status", s.handlers.GetStatus)

		// Schedule
		r.Route("/schedule", func(r chi.Router) {
			r.Get("/events", s.handlers.ListScheduleEvents)
			r.Get("/running", s.handlers.GetScheduleRunning)
		})

		// Device type metadata
		r.Route("/device-types", func(r chi.Router) {
			r.Get("/", s.handlers.ListDeviceTypes)
			r.Get("/lookup", s.handlers.LookupDeviceType)
		})

		// Mutating routes require authentication
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.config.Server.JWTSecret))

			r.Put("/sources/{id}/selection", s.handlers.ToggleSelection)
			r.Post("/sources/{id}/readings", s.handlers.RecordReading)
			r.Post("/transmit", s.handlers.Transmit)
			r.Post("/device-types", s.handlers.CreateDeviceType)
		})
	})
}

// Router returns the chi router
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases websocket clients
func (s *Server) Close() {
	s.hub.Close()
}
