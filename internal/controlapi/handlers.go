package controlapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/builder"
	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/datafile"
	"github.com/rafaeljc/bifrost/internal/definitions"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/state"
)

// handleTriggerBuild processes POST /api/v1/builds. The build runs
// synchronously and the response carries its result.
func (a *API) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req BuildRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// The build outlives a disconnected client but not the server's timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), a.buildTimeout)
	defer cancel()

	res, err := a.builds.Build(ctx, builder.Options{Environments: req.Environments})
	if err != nil {
		var lintErr *definitions.LintError
		switch {
		case errors.As(err, &lintErr):
			details := make([]ErrorDetail, 0, len(lintErr.Problems()))
			for _, p := range lintErr.Problems() {
				details = append(details, ErrorDetail{Field: "definitions", Issue: p.Error()})
			}
			writeError(w, r, http.StatusUnprocessableEntity, "ERR_INVALID_DEFINITIONS", "Definitions failed lint", details...)
		case errors.Is(err, builder.ErrUnknownEnvironment):
			writeError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", err.Error())
		case errors.Is(err, builder.ErrBuildInProgress):
			writeError(w, r, http.StatusConflict, "ERR_BUILD_IN_PROGRESS", "A build is already running")
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, r, http.StatusGatewayTimeout, "ERR_BUILD_TIMEOUT", "Build did not finish in time")
		default:
			log.Error("build failed", slog.String("error", err.Error()))
			writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Build failed")
		}
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, res)
}

// handleGetDatafile processes GET /api/v1/datafiles/{environment}/{tag} and
// returns the published datafile bytes unchanged.
func (a *API) handleGetDatafile(w http.ResponseWriter, r *http.Request) {
	environment, tag, ok := datafileParams(w, r)
	if !ok {
		return
	}

	data, ok := a.fetchDatafile(w, r, environment, tag)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleExplain processes GET /api/v1/datafiles/{environment}/{tag}/explain?feature=&key=.
func (a *API) handleExplain(w http.ResponseWriter, r *http.Request) {
	environment, tag, ok := datafileParams(w, r)
	if !ok {
		return
	}
	feature := r.URL.Query().Get("feature")
	if d := validateSlug("feature", feature); d != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", "Invalid query parameter", *d)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", "Invalid query parameter", ErrorDetail{Field: "key", Issue: "is required"})
		return
	}

	data, ok := a.fetchDatafile(w, r, environment, tag)
	if !ok {
		return
	}
	df, err := datafile.Decode(data)
	if err != nil {
		logger.FromContext(r.Context()).Error("stored datafile is unreadable", slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Stored datafile is unreadable")
		return
	}

	explanation, err := df.Explain(feature, key)
	if errors.Is(err, datafile.ErrUnknownFeature) {
		writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Feature not found in datafile")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Explain failed")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, explanation)
}

// handleGetFeatureState processes GET /api/v1/state/{environment}/features/{key}.
func (a *API) handleGetFeatureState(w http.ResponseWriter, r *http.Request) {
	environment := chi.URLParam(r, "environment")
	key := chi.URLParam(r, "key")
	for _, d := range []*ErrorDetail{validateSlug("environment", environment), validateSlug("key", key)} {
		if d != nil {
			writeError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", "Invalid path parameter", *d)
			return
		}
	}

	snap, err := a.states.Load(r.Context(), environment)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to load state", slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Failed to load state")
		return
	}
	if snap == nil {
		writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Environment has never been built")
		return
	}

	feature, err := snap.Lookup(key)
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Feature not found in state")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, FeatureStateResponse{
		Environment: environment,
		Revision:    snap.Revision,
		Feature:     key,
		Snapshot:    feature,
	})
}

// datafileParams validates the {environment} and {tag} path parameters.
func datafileParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	environment := chi.URLParam(r, "environment")
	tag := chi.URLParam(r, "tag")
	for _, d := range []*ErrorDetail{validateSlug("environment", environment), validateSlug("tag", tag)} {
		if d != nil {
			writeError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", "Invalid path parameter", *d)
			return "", "", false
		}
	}
	return environment, tag, true
}

// fetchDatafile reads a datafile from the source and writes the error response on failure.
func (a *API) fetchDatafile(w http.ResponseWriter, r *http.Request, environment, tag string) ([]byte, bool) {
	data, err := a.datafiles.Fetch(r.Context(), environment, tag)
	if cache.IsMiss(err) {
		writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "Datafile not published")
		return nil, false
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to fetch datafile", slog.String("error", err.Error()))
		writeError(w, r, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "Datafile store unavailable")
		return nil, false
	}
	return data, true
}
