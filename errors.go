package main

import (
	"errors"
	"net/http"
)

// Kind tags a bridgeError with the taxonomy from spec.md §7: a closed set
// of response-code buckets rather than a hierarchy of exception classes.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindNotFound
	KindConflict
	KindBackendError
	KindTransportError
)

// StatusCode maps a Kind to the HTTP status the Mode Dispatcher writes.
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusNoContent
	case KindBackendError:
		return http.StatusInternalServerError
	case KindTransportError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// bridgeError is the single error type for every response-code-bearing
// failure in the core, generalizing the teacher's respondWith(rw, err,
// status) pattern from a status int to a typed Kind.
type bridgeError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *bridgeError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *bridgeError) Unwrap() error { return e.Err }

func newBridgeError(kind Kind, msg string, cause error) *bridgeError {
	return &bridgeError{Kind: kind, Msg: msg, Err: cause}
}

func badRequest(msg string, cause error) *bridgeError {
	return newBridgeError(KindBadRequest, msg, cause)
}

func unauthorized(msg string) *bridgeError {
	return newBridgeError(KindUnauthorized, msg, nil)
}

func notFound(msg string) *bridgeError {
	return newBridgeError(KindNotFound, msg, nil)
}

func conflict(msg string) *bridgeError {
	return newBridgeError(KindConflict, msg, nil)
}

func backendError(cause error) *bridgeError {
	return newBridgeError(KindBackendError, "backend error", cause)
}

func transportError(cause error) *bridgeError {
	return newBridgeError(KindTransportError, "transport error", cause)
}

// asBridgeError unwraps err into a *bridgeError, defaulting unrecognized
// errors to BackendError so the dispatcher always has a Kind to branch on.
func asBridgeError(err error) *bridgeError {
	var be *bridgeError
	if errors.As(err, &be) {
		return be
	}
	return backendError(err)
}
