package controlapi

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/traffic"
)

// slugRegex matches environment, tag and feature keys. Environments and tags
// become file names and Redis keys, so anything else is rejected up front.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// validateSlug checks one path or body parameter.
func validateSlug(field, value string) *ErrorDetail {
	if value == "" {
		return &ErrorDetail{Field: field, Issue: "is required"}
	}
	if len(value) > 255 || !slugRegex.MatchString(value) {
		return &ErrorDetail{Field: field, Issue: "must be lowercase letters, numbers, '-' or '_'"}
	}
	return nil
}

// BuildRequest is the optional body of POST /api/v1/builds.
type BuildRequest struct {
	// Environments limits the build. Empty builds every configured environment.
	Environments []string `json:"environments,omitempty"`
}

// Sanitize trims and lowercases the environment names.
func (r *BuildRequest) Sanitize() {
	for i, env := range r.Environments {
		r.Environments[i] = strings.ToLower(strings.TrimSpace(env))
	}
}

// Validate returns a structured error for malformed environment names.
func (r *BuildRequest) Validate() *ErrorResponse {
	var details []ErrorDetail
	for _, env := range r.Environments {
		if d := validateSlug("environments", env); d != nil {
			details = append(details, *d)
		}
	}
	if len(details) > 0 {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Invalid environment name", Details: details}
	}
	return nil
}

// FeatureStateResponse is the stored history of one feature in one environment.
type FeatureStateResponse struct {
	Environment string                  `json:"environment"`
	Revision    int                     `json:"revision"`
	Feature     string                  `json:"feature"`
	Snapshot    traffic.FeatureSnapshot `json:"snapshot"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// writeError renders an ErrorResponse with status.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details ...ErrorDetail) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message, Details: details})
}
