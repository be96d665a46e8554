package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/media"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
	"github.com/jonathan/lesson-video-pipeline/internal/workspace"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrRunNotFound indicates the ledger has no row for a run id
type ErrRunNotFound struct {
	RunID string
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// ErrorBody is the JSON body of a failed pipeline request.
type ErrorBody struct {
	Error   string `json:"error"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var validation *ErrValidation
	var notFound *ErrRunNotFound
	var contract *media.ContractViolation
	var unavailable *ledger.UnavailableError
	var script *scripting.ScriptError

	switch {
	case errors.As(err, &validation),
		errors.As(err, &script),
		errors.Is(err, ledger.ErrInvalidRunID):
		return http.StatusBadRequest
	case errors.As(err, &notFound),
		errors.Is(err, workspace.ErrNoRunFolder),
		errors.Is(err, pipeline.ErrNoScenes),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.As(err, &contract),
		errors.Is(err, pipeline.ErrNoFinalVideo),
		errors.Is(err, pipeline.ErrNoRenderedPairs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNotConfigured):
		return http.StatusNotImplemented
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorKind is a short machine-readable name for err.
func errorKind(err error) string {
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "merge_failed"
	case http.StatusNotImplemented:
		return "not_configured"
	case http.StatusServiceUnavailable:
		return "ledger_unavailable"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		return "pipeline_failed"
	}
}

// NewErrorBody builds the {error, stage, message} body for err.
func NewErrorBody(err error) ErrorBody {
	body := ErrorBody{Error: errorKind(err), Message: err.Error()}
	var se *pipeline.StageError
	if errors.As(err, &se) {
		body.Stage = se.Stage
	}
	return body
}
