package api

import (
	"context"
	"errors"
	"net/http"

	"peer-validation/internal/models"
)

// StatusError carries the HTTP status and client-facing message of a failure.
type StatusError interface {
	error
	Status() int
	UserMessage() string
}

type restError struct {
	status      int
	userMessage string
	err         error
}

func newRestError(status int, msg string, err error) *restError {
	return &restError{status: status, userMessage: msg, err: err}
}

func badRequest(err error) *restError {
	return newRestError(http.StatusBadRequest, err.Error(), err)
}

func (e *restError) Error() string       { return e.err.Error() }
func (e *restError) Unwrap() error       { return e.err }
func (e *restError) Status() int         { return e.status }
func (e *restError) UserMessage() string { return e.userMessage }

// toStatusError maps the engine's error taxonomy onto HTTP.
func toStatusError(err error) StatusError {
	var se StatusError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, models.ErrNotFound):
		return newRestError(http.StatusNotFound, err.Error(), err)
	case errors.Is(err, models.ErrAlreadyFinalized),
		errors.Is(err, models.ErrDuplicateVote),
		errors.Is(err, models.ErrPeriodAlreadyFinalized):
		return newRestError(http.StatusConflict, err.Error(), err)
	case errors.Is(err, models.ErrSelfValidation):
		return newRestError(http.StatusForbidden, err.Error(), err)
	case errors.Is(err, models.ErrEmptyCohort):
		return newRestError(http.StatusUnprocessableEntity, err.Error(), err)
	case errors.Is(err, models.ErrInvalidArgument):
		return newRestError(http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, models.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return newRestError(http.StatusServiceUnavailable, "temporarily unavailable, retry", err)
	default:
		return newRestError(http.StatusInternalServerError, "internal error", err)
	}
}
