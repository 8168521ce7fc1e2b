// Package controlapi implements the REST API of the Bifrost control plane:
// triggering builds, serving published datafiles and inspecting allocations.
package controlapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/builder"
	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/state"
)

// defaultBuildTimeout applies when Options.BuildTimeout is zero.
const defaultBuildTimeout = 2 * time.Minute

// Builder is the part of builder.Service the API drives.
type Builder interface {
	Build(ctx context.Context, opts builder.Options) (*builder.Result, error)
}

// Options configures an API.
type Options struct {
	// APIKeyHash is the hex SHA-256 of the accepted API key.
	APIKeyHash string

	// SkipAuth disables authentication (tests and local development only).
	SkipAuth bool

	// BuildTimeout bounds a build triggered over HTTP.
	BuildTimeout time.Duration

	Logger *slog.Logger
}

// API holds the dependencies and the router of the control plane.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	builds    Builder
	datafiles cache.Source
	states    state.Store
	logger    *slog.Logger

	apiKeyHash   string
	skipAuth     bool
	buildTimeout time.Duration
}

// NewAPI creates an API with authentication enabled.
// Panics if apiKeyHash is empty.
func NewAPI(builds Builder, datafiles cache.Source, states state.Store, apiKeyHash string) *API {
	return NewAPIWithConfig(builds, datafiles, states, Options{APIKeyHash: apiKeyHash})
}

// NewAPIWithConfig creates an API with explicit options.
//
// Panics if a dependency is nil or if authentication is enabled without a key hash.
func NewAPIWithConfig(builds Builder, datafiles cache.Source, states state.Store, opts Options) *API {
	if builds == nil {
		panic("controlapi: builder cannot be nil")
	}
	if datafiles == nil {
		panic("controlapi: datafile source cannot be nil")
	}
	if states == nil {
		panic("controlapi: state store cannot be nil")
	}
	if !opts.SkipAuth && opts.APIKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = defaultBuildTimeout
	}

	api := &API{
		Router:       chi.NewRouter(),
		builds:       builds,
		datafiles:    datafiles,
		states:       states,
		logger:       opts.Logger,
		apiKeyHash:   opts.APIKeyHash,
		skipAuth:     opts.SkipAuth,
		buildTimeout: opts.BuildTimeout,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the middleware stack and the endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.RequestLogger)
	a.Router.Use(Metrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Route not found")
	})

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Post("/builds", a.handleTriggerBuild)

		r.Route("/datafiles/{environment}/{tag}", func(r chi.Router) {
			r.Get("/", a.handleGetDatafile)
			r.Get("/explain", a.handleExplain)
		})

		r.Get("/state/{environment}/features/{key}", a.handleGetFeatureState)
	})
}

// handleHealthCheck reports that the server is serving HTTP.
// Dependency checks live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
