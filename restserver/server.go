// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package restserver provides the HTTP surface of the webpage-to-PDF
// service: job submission, status, file download, and health, all as
// a thin translation layer over a webprint Queue.
package restserver

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-webprint/restdata"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/gorilla/mux"
	"github.com/urfave/negroni"
)

// Options configures the API surface.
type Options struct {
	// Defaults is the configuration snapshot applied to
	// submissions that do not override it.
	Defaults webprint.JobConfig

	// Guard validates submitted URLs.  If nil, SSRF validation is
	// skipped; only tests should do that.
	Guard webprint.URLGuard

	// StoragePath is the directory rendered PDFs are served from.
	StoragePath string

	// WorkerID is the worker identity the health resource reports
	// on.
	WorkerID string

	// Clock defines a time source for heartbeat freshness.  Only
	// test code should need to set this.
	Clock clock.Clock
}

// New creates the complete HTTP stack: the API router wrapped in
// recovery and request-logging middleware.
func New(q webprint.Queue, opts Options) http.Handler {
	n := negroni.New(negroni.NewRecovery(), negroni.NewLogger())
	n.UseHandler(NewRouter(q, opts))
	return n
}

// NewRouter creates a new HTTP handler that processes all API
// requests, without any middleware.  Tests generally want this.
func NewRouter(q webprint.Queue, opts Options) http.Handler {
	r := mux.NewRouter()
	PopulateRouter(r, q, opts)
	return r
}

// PopulateRouter adds the API routes to an existing
// github.com/gorilla/mux router object.  This can be used, for
// instance, to place the API under a subpath.
func PopulateRouter(r *mux.Router, q webprint.Queue, opts Options) {
	if opts.WorkerID == "" {
		opts.WorkerID = "worker-1"
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	api := &restAPI{Queue: q, Router: r, Options: opts}

	r.Path("/").Name("root").Handler(&resourceHandler{
		Representation: restdata.RootData{},
		Context:        api.Context,
		Get:            api.RootDocument,
	})
	r.Path("/healthz").Name("health").Handler(&resourceHandler{
		Representation: restdata.HealthResponse{},
		Context:        api.Context,
		Get:            api.Health,
	})
	r.Path("/v1/pdf-jobs").Name("jobs").Handler(&resourceHandler{
		Representation: restdata.JobRequest{},
		Context:        api.Context,
		Post:           api.JobsPost,
	})
	r.Path("/v1/pdf-jobs/{job_id}").Name("job").Handler(&resourceHandler{
		Representation: restdata.JobStatus{},
		Context:        api.Context,
		Get:            api.JobGet,
	})
	r.Path("/v1/pdf-jobs/{job_id}/file").Name("jobFile").Methods("GET", "HEAD").
		HandlerFunc(api.FileGet)
}

// restAPI holds the persistent state for the REST API.
type restAPI struct {
	Queue   webprint.Queue
	Router  *mux.Router
	Options Options
}
