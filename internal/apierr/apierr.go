// Package apierr defines the error taxonomy shared by the hub's request
// handlers. Each error carries the HTTP status it maps to.
package apierr

import (
	"errors"
	"net/http"
)

// AuthError means the caller's credentials were missing or wrong.
type AuthError struct{ Msg string }

func (e *AuthError) Error() string { return e.Msg }

// ValidationError means the request was malformed.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError means a referenced entity does not exist or is not visible
// to the caller.
type NotFoundError struct{ Msg string }

func (e *NotFoundError) Error() string { return e.Msg }

// ConflictError means the entity is in the wrong state for the operation.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return e.Msg }

// UpstreamError wraps a failure of an external dependency.
type UpstreamError struct {
	Msg string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StatusOf maps err to an HTTP status code. Unrecognized errors map to 500.
func StatusOf(err error) int {
	var (
		auth     *AuthError
		invalid  *ValidationError
		notFound *NotFoundError
		conflict *ConflictError
		upstream *UpstreamError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show a client. Internal errors are
// reduced to a generic message.
func PublicMessage(err error) string {
	if StatusOf(err) == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}
