// Package api exposes the queue over HTTP.
//
// Routes are versioned under /v1. Caller identity arrives in gateway
// headers (auth.UserHeader, auth.OperatorHeader); the identity
// middleware resolves it once per request and handlers read it from
// the context. Worker and operator routes sit behind the operator
// gate, which replies 401 rather than 404 so a worker holding a stale
// token can tell the difference.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scribely/tierq/auth"
	"github.com/scribely/tierq/engine"
)

// API wires the HTTP handlers over an Engine.
type API struct {
	eng    *engine.Engine
	secret auth.OperatorSecret
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithOperatorSecret sets the shared secret that grants operator
// status. Without one, operator routes refuse every request.
func WithOperatorSecret(s auth.OperatorSecret) Option {
	return func(a *API) {
		a.secret = s
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		a.logger = l
	}
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:    eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(a.recoverer)
	r.Use(a.requestLogger)
	r.Use(a.identity)

	r.Get("/healthz", a.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", a.submitJob)
		r.Get("/jobs/{jobID}", a.getJob)
		r.Post("/jobs/{jobID}/cancel", a.cancelJob)
		r.Get("/jobs/{jobID}/position", a.jobPosition)

		// Worker and operator surface.
		r.Group(func(r chi.Router) {
			r.Use(a.operatorOnly)
			r.Get("/jobs", a.listJobs)
			r.Get("/stats", a.stats)
			r.Post("/admit", a.admit)
			r.Post("/jobs/{jobID}/status", a.markStatus)
			r.Post("/jobs/{jobID}/finish", a.finishJob)
		})
	})

	return r
}
