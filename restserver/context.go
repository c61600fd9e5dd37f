// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	gocontext "context"
	"net/http"
	"net/url"

	"github.com/diffeo/go-webprint/restdata"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/gorilla/mux"
)

// context holds all of the information and objects that can be
// extracted from URL parameters.
type context struct {
	// Ctx is the request's own context, for cancellation.
	Ctx gocontext.Context

	// Job is the job named in the URL, if the route has a job_id.
	Job webprint.Job

	// HasJob reports whether Job is set.
	HasJob bool

	QueryParams url.Values
}

func (api *restAPI) Context(req *http.Request) (ctx *context, err error) {
	ctx = &context{Ctx: req.Context()}
	ctx.QueryParams = req.URL.Query()
	vars := mux.Vars(req)

	if jobID, present := vars["job_id"]; present {
		ctx.Job, err = api.Queue.Job(jobID)
		if err == nil {
			ctx.HasJob = true
		}
		// In all cases, if there is a job key in the URL and
		// that names an absent job, it's a missing URL and we
		// should return 404
		if _, missing := err.(webprint.ErrNoSuchJob); missing {
			err = restdata.ErrNotFound{Err: err}
		}
	}

	return
}
