// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restdata

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/diffeo/go-webprint/ssrf"
	"github.com/diffeo/go-webprint/webprint"
)

// ErrorStatus describes errors that correspond to specific HTTP
// status codes.
type ErrorStatus interface {
	// HTTPStatus returns the HTTP status code for this error.
	HTTPStatus() int
}

// ErrUnsupportedMediaType is returned from Decode() if the provided
// Content-Type: is unrecognized.  This translates directly into the
// equivalent HTTP 415 error.
type ErrUnsupportedMediaType struct {
	Type string
}

func (e ErrUnsupportedMediaType) Error() string {
	return fmt.Sprintf("Unsupported media type %q", e.Type)
}

// HTTPStatus returns a fixed 415 Unsupported Media Type error code.
func (e ErrUnsupportedMediaType) HTTPStatus() int {
	return http.StatusUnsupportedMediaType
}

// ErrNotFound is a wrapper error that indicates that, due to the
// embedded error, a REST service should return a 404 Not Found error.
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return e.Err.Error()
}

// HTTPStatus returns a fixed 404 Not Found error code.
func (e ErrNotFound) HTTPStatus() int {
	return http.StatusNotFound
}

// ErrBadRequest is returned as an error when there is a problem
// decoding or validating the request.
type ErrBadRequest struct {
	Err error
}

func (e ErrBadRequest) Error() string {
	return e.Err.Error()
}

// HTTPStatus returns a fixed 400 Bad Request HTTP status code.
func (e ErrBadRequest) HTTPStatus() int {
	return http.StatusBadRequest
}

// ErrServiceUnavailable is returned when a required collaborator
// (the database) is unreachable.
type ErrServiceUnavailable struct {
	Err error
}

func (e ErrServiceUnavailable) Error() string {
	return e.Err.Error()
}

// HTTPStatus returns a fixed 503 Service Unavailable status code.
func (e ErrServiceUnavailable) HTTPStatus() int {
	return http.StatusServiceUnavailable
}

// StatusForError picks the HTTP status code an error maps to: its
// own, if it knows one, 400 for the well-known validation errors, 404
// for missing objects, and 500 otherwise.
func StatusForError(err error) int {
	if errS, hasStatus := err.(ErrorStatus); hasStatus {
		return errS.HTTPStatus()
	}
	switch err.(type) {
	case webprint.ErrInvalidURL, ssrf.BlockedError:
		return http.StatusBadRequest
	case webprint.ErrNoSuchJob, webprint.ErrNoSuchWorker:
		return http.StatusNotFound
	}
	switch err {
	case webprint.ErrEmptyURL, webprint.ErrMetadataTooLarge:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// FromError populates an ErrorResponse based on an error value,
// remapping the well-known webprint errors to stable error tokens.
func (e *ErrorResponse) FromError(err error) {
	e.Error = "error"
	e.Detail = err.Error()
	switch err.(type) {
	case webprint.ErrInvalidURL:
		e.Error = "InvalidURL"
	case ssrf.BlockedError:
		e.Error = "SSRFBlocked"
	case webprint.ErrNoSuchJob:
		e.Error = "NoSuchJob"
	case webprint.ErrNoSuchWorker:
		e.Error = "NoSuchWorker"
	}
	switch err {
	case webprint.ErrEmptyURL:
		e.Error = "InvalidURL"
	case webprint.ErrMetadataTooLarge:
		e.Error = "MetadataTooLarge"
	}
	switch et := err.(type) {
	case ErrNotFound:
		// Discard this wrapper and keep the embedded error
		e.FromError(et.Err)
	case ErrBadRequest:
		e.FromError(et.Err)
	case ErrServiceUnavailable:
		e.Error = "unhealthy"
	}
}

// FromPanic populates an error response based on a panic.  The stack
// goes to the caller's log, not the response body.
func (e *ErrorResponse) FromPanic(obj interface{}) string {
	e.Error = "panic"
	if recoveredError, isError := obj.(error); isError {
		e.Detail = recoveredError.Error()
	} else {
		e.Detail = fmt.Sprintf("%+v", obj)
	}
	var stack [4096]byte
	n := runtime.Stack(stack[:], false)
	return string(stack[:n])
}
