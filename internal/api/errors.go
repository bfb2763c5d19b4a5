package api

import (
	"errors"
	"net/http"

	"duck-flight/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var duplicate *domain.DuplicateKeyError
	var transition *domain.InvalidTransitionError
	var notReady *domain.NotReadyError
	var failed *domain.JobFailedError
	var gone *domain.CacheInconsistencyError
	var capacity *domain.CapacityExceededError
	var execution *domain.ExecutionError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &duplicate), errors.As(err, &transition), errors.As(err, &notReady):
		return http.StatusConflict
	case errors.As(err, &failed), errors.As(err, &execution):
		return http.StatusUnprocessableEntity
	case errors.As(err, &gone):
		return http.StatusGone
	case errors.As(err, &capacity), errors.Is(err, domain.ErrSchedulerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func errorBodyFor(err error) (int, errorBody) {
	code := httpStatusFromDomainError(err)
	body := errorBody{Code: code, Message: err.Error()}
	if code == http.StatusInternalServerError {
		body.Message = "internal server error"
	}

	var notReady *domain.NotReadyError
	var failed *domain.JobFailedError
	switch {
	case errors.As(err, &notReady):
		body.JobID = notReady.JobID
	case errors.As(err, &failed):
		body.JobID = failed.JobID
		body.Detail = failed.Detail
	}
	return code, body
}
