// Package httpapi wires the loopback-bound HTTP surface named in spec.md
// §6. Route plumbing is intentionally trivial over the core, per spec.md
// §1 — grounded on the teacher's main.go chi.Router wiring and
// handler/handler.go constructor shape.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"jobrunner/internal/hub"
	"jobrunner/internal/queue"
	"jobrunner/internal/repo"
	"jobrunner/internal/scheduler"
	"jobrunner/internal/state"
)

// Handler holds every dependency the route methods need.
type Handler struct {
	jobs      *repo.Jobs
	runs      *repo.Runs
	state     *state.Engine
	queue     *queue.Engine
	scheduler *scheduler.Scheduler
	hub       *hub.Hub
	log       *zap.Logger
	startedAt time.Time
}

func New(jobs *repo.Jobs, runs *repo.Runs, st *state.Engine, q *queue.Engine, sched *scheduler.Scheduler, h *hub.Hub, log *zap.Logger) *Handler {
	return &Handler{
		jobs:      jobs,
		runs:      runs,
		state:     st,
		queue:     q,
		scheduler: sched,
		hub:       h,
		log:       log,
		startedAt: time.Now(),
	}
}

// NewRouter builds the chi.Router exposing every route in spec.md §6 plus
// the supplemental queue/state/events endpoints added in SPEC_FULL.md.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))
	// Loopback-only per spec.md §6, but operators occasionally front it
	// with a local dashboard on another port; allow-all is harmless here
	// since there is no session/cookie auth to leak cross-origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.ListJobs)
		r.Post("/", h.CreateJob)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetJob)
			r.Get("/runs", h.ListRuns)
			r.Post("/run", h.RunJob)
			r.Post("/enable", h.EnableJob)
			r.Post("/disable", h.DisableJob)
		})
	})

	r.Route("/queues", func(r chi.Router) {
		r.Get("/{id}/items", h.PeekQueue)
	})

	r.Route("/state", func(r chi.Router) {
		r.Get("/{ns}/{key}", h.GetState)
		r.Put("/{ns}/{key}", h.PutState)
		r.Delete("/{ns}/{key}", h.DeleteState)
	})

	r.Get("/events", h.hub.HandleConnect)

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("duration", time.Since(start)))
		})
	}
}
