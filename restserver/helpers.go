// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"fmt"
	"strings"
)

// The API has exactly one URL parameter, the job ID; these helpers
// turn the router's named routes into concrete URLs and into RFC 6570
// URI templates over that parameter for the root document.

// templateMark is a placeholder value routed through mux's URL
// builder and then rewritten as the {job_id} template parameter.  It
// only needs to survive URL encoding unchanged.
const templateMark = "---"

// routeURL builds the URL of a named route.  pairs are mux parameter
// pairs, and for this API either empty or ("job_id", <id>).
func (api *restAPI) routeURL(name string, pairs ...string) (string, error) {
	route := api.Router.Get(name)
	if route == nil {
		return "", fmt.Errorf("no such route %q", name)
	}
	u, err := route.URL(pairs...)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// jobURL builds the URL of a job-scoped route for a concrete job ID.
func (api *restAPI) jobURL(name, jobID string) (string, error) {
	return api.routeURL(name, "job_id", jobID)
}

// jobTemplate builds a URI template for a job-scoped route, with the
// job ID left as a {job_id} parameter.
func (api *restAPI) jobTemplate(name string) (string, error) {
	u, err := api.jobURL(name, templateMark)
	if err != nil {
		return "", err
	}
	return strings.Replace(u, templateMark, "{job_id}", 1), nil
}
