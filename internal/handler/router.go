package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tripwise/planner/backend/internal/handler/chat"
	"github.com/tripwise/planner/backend/internal/handler/persona"
	"github.com/tripwise/planner/backend/internal/handler/stream"
	"github.com/tripwise/planner/backend/internal/logger"
	"github.com/tripwise/planner/backend/internal/metrics"
	middlewarePkg "github.com/tripwise/planner/backend/internal/middleware"
	personaModel "github.com/tripwise/planner/backend/internal/model/persona"
	chatService "github.com/tripwise/planner/backend/internal/service/chat"
	"github.com/tripwise/planner/backend/internal/service/inference"
	"github.com/tripwise/planner/backend/pkg/utils"
)

// StatusReporter reports the model state for health checks.
type StatusReporter interface {
	Status() inference.Status
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Backend     string `json:"backend,omitempty"`
	InFlight    int    `json:"in_flight"`
	Queued      int    `json:"queued"`
}

// NewRouter wires HTTP routes to core services.
func NewRouter(log zerolog.Logger, chatSvc *chatService.Service, personas personaModel.Store, status StatusReporter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Requests(log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/", handleHealth(status, "running"))
	r.Get("/health", handleHealth(status, "healthy"))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(api chi.Router) {
		persona.New(personas).RegisterRoutes(api)

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.RequireUser)
			chat.New(chatSvc).RegisterRoutes(authed)
			stream.New(chatSvc).RegisterRoutes(authed)
		})
	})

	return r
}

// handleHealth always answers 200; model_loaded carries the model state.
func handleHealth(reporter StatusReporter, label string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := reporter.Status()
		resp := healthResponse{
			Status:      label,
			ModelLoaded: s.Loaded && s.Available,
			Backend:     s.Backend,
			InFlight:    s.InFlight,
			Queued:      s.Queued,
		}
		utils.RespondJSON(w, http.StatusOK, resp)
	}
}
