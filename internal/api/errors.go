package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"stacking-explainer/internal/features"
	"stacking-explainer/internal/ml"

	"github.com/rs/zerolog/log"
)

// errBadRequest marks malformed requests that never reached the model.
var errBadRequest = errors.New("bad request")

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string        { return e.msg }
func (e *badRequestError) Is(target error) bool { return target == errBadRequest }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// classify maps an error to its HTTP status and failure-metric reason.
func classify(err error) (int, string) {
	var (
		failure      *ml.LearnerFailure
		shape        *ml.ShapeMismatchError
		incompatible *ml.ArtifactIncompatibleError
	)
	switch {
	case errors.Is(err, features.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &failure):
		return http.StatusInternalServerError, "learner_failure"
	case errors.As(err, &shape):
		return http.StatusInternalServerError, "shape_mismatch"
	case errors.As(err, &incompatible):
		return http.StatusConflict, "artifact_incompatible"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	resp := ErrorResponse{RequestID: requestID(r.Context()), Error: err.Error()}
	if status == http.StatusUnprocessableEntity {
		resp.Problems = features.Problems(err)
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", resp.RequestID).Str("route", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, resp)
}
