// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

// This file contains a small REST skeleton: a resource handler that
// concentrates body decoding, error-to-status mapping, and panic
// recovery, so the per-resource handler functions deal only in
// restdata values.

import (
	"net/http"
	"reflect"

	"github.com/diffeo/go-webprint/restdata"
	"github.com/sirupsen/logrus"
)

// responseAccepted is returned as a value response from handler
// functions that queued work rather than completing it; it maps to
// HTTP 202.
type responseAccepted struct {
	// Body contains the object sent in the body of the response.
	Body interface{}
}

type resourceHandler struct {
	// Representation is an object representing this resource.  A
	// value of its type is decoded from the request body for
	// POST.
	Representation interface{}

	// Context reads an HTTP request and produces a context
	// object.
	Context func(req *http.Request) (*context, error)

	// Get, if non-nil, returns a representation of the object.
	Get func(*context) (interface{}, error)

	// Post, if non-nil, takes some arbitrary action.  The
	// interface parameter is guaranteed to be the same type as
	// Representation.  The return can be any useful return value,
	// including responseAccepted.
	Post func(*context, interface{}) (interface{}, error)
}

func (h *resourceHandler) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	var (
		ctx     *context
		in, out interface{}
		err     error
		status  int
	)

	// Recover from panics by sending an HTTP error.
	defer func() {
		if recovered := recover(); recovered != nil {
			response := restdata.ErrorResponse{}
			stack := response.FromPanic(recovered)
			logrus.WithField("stack", stack).Errorf("panic in request handler: %v", recovered)
			writeJSON(resp, http.StatusInternalServerError, response)
		}
	}()

	// Get bits from URL parameters
	ctx, err = h.Context(req)

	// Read the JSON body, if it's there
	if err == nil && req.Method == "POST" {
		// Make a new object of the same type as
		// h.Representation, and decode the message body into
		// it
		target := reflect.New(reflect.TypeOf(h.Representation))
		decodeErr := restdata.Decode(req.Header.Get("Content-Type"), req.Body, target.Interface())
		if decodeErr != nil {
			if _, hasStatus := decodeErr.(restdata.ErrorStatus); hasStatus {
				err = decodeErr
			} else {
				err = restdata.ErrBadRequest{Err: decodeErr}
			}
		}
		in = target.Elem().Interface()
	}

	// Actually call the handler method
	if err == nil {
		err = errMethodNotAllowed{Method: req.Method}
		switch req.Method {
		case "GET", "HEAD":
			if h.Get != nil {
				out, err = h.Get(ctx)
			}
		case "POST":
			if h.Post != nil {
				out, err = h.Post(ctx, in)
			}
		}
	}

	// Fix up the final result based on what we know.
	if err != nil {
		status = restdata.StatusForError(err)
		if status == http.StatusInternalServerError {
			logrus.WithError(err).Error("internal error in request handler")
		}
		response := restdata.ErrorResponse{}
		response.FromError(err)
		out = response
	} else if accepted, isAccepted := out.(responseAccepted); isAccepted {
		status = http.StatusAccepted
		out = accepted.Body
	} else if out == nil {
		status = http.StatusNoContent
	} else {
		status = http.StatusOK
	}

	if req.Method == "HEAD" {
		resp.WriteHeader(status)
		return
	}
	writeJSON(resp, status, out)
}

// errMethodNotAllowed flags an HTTP method with no handler on a
// resource.
type errMethodNotAllowed struct {
	Method string
}

func (e errMethodNotAllowed) Error() string {
	return "Method " + e.Method + " not allowed"
}

func (e errMethodNotAllowed) HTTPStatus() int {
	return http.StatusMethodNotAllowed
}

// writeJSON sends any value as a JSON response body.
func writeJSON(resp http.ResponseWriter, status int, out interface{}) {
	if out == nil {
		resp.WriteHeader(status)
		return
	}
	resp.Header().Set("Content-Type", restdata.JSONMediaType)
	resp.WriteHeader(status)
	if err := restdata.Encode(resp, out); err != nil {
		// The status line is gone already; all we can do is
		// log it
		logrus.WithError(err).Error("cannot encode response body")
	}
}
