// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"errors"
	"time"

	"github.com/diffeo/go-webprint/restdata"
	"github.com/diffeo/go-webprint/webprint"
)

// timeFormat renders heartbeat ages for the health resource.
const timeFormat = time.RFC3339

// errUnmarshal is returned if the post contract is violated and a
// handler function is passed the wrong type.
var errUnmarshal = restdata.ErrBadRequest{
	Err: errors.New("Invalid input format"),
}

// RootDocument describes the API's resources, with URI templates for
// the parameterized ones.
func (api *restAPI) RootDocument(ctx *context) (interface{}, error) {
	var (
		resp restdata.RootData
		err  error
	)
	resp.JobsURL, err = api.routeURL("jobs")
	if err == nil {
		resp.JobURL, err = api.jobTemplate("job")
	}
	if err == nil {
		resp.JobFileURL, err = api.jobTemplate("jobFile")
	}
	if err == nil {
		resp.HealthURL, err = api.routeURL("health")
	}
	return resp, err
}

// Health reports database reachability and worker-heartbeat
// freshness.  An unreachable database maps to a 503; a missing or
// stale worker merely degrades the reported status.
func (api *restAPI) Health(ctx *context) (interface{}, error) {
	if err := api.Queue.Ping(); err != nil {
		return nil, restdata.ErrServiceUnavailable{Err: err}
	}

	resp := restdata.HealthResponse{Database: "connected"}
	beat, err := api.Queue.WorkerStatus(api.Options.WorkerID)
	if _, missing := err.(webprint.ErrNoSuchWorker); missing {
		resp.Worker.Status = "missing"
		resp.Status = "degraded"
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	age := api.Options.Clock.Now().Sub(beat.LastHeartbeat)
	resp.Worker.Status = "healthy"
	resp.Status = "healthy"
	if age > webprint.StaleHeartbeat {
		resp.Worker.Status = "stale"
		resp.Status = "degraded"
	}
	resp.Worker.LastHeartbeat = beat.LastHeartbeat.Format(timeFormat)
	resp.Worker.AgeSeconds = age.Seconds()
	resp.Worker.State = string(beat.State)
	resp.Worker.CurrentJob = beat.CurrentJobID
	return resp, nil
}

// JobsPost accepts a submission and queues (or deduplicates) a job.
func (api *restAPI) JobsPost(ctx *context, in interface{}) (interface{}, error) {
	req, valid := in.(restdata.JobRequest)
	if !valid {
		return nil, errUnmarshal
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := webprint.NewSubmission(ctx.Ctx, req.URL, req.Config(api.Options.Defaults),
		req.Metadata, api.Options.Guard)
	if err != nil {
		return nil, err
	}
	job, deduplicated, err := api.Queue.Submit(sub)
	if err != nil {
		return nil, err
	}

	return responseAccepted{Body: restdata.JobResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Deduplicated: deduplicated,
	}}, nil
}

// JobGet returns the full status representation of one job.
func (api *restAPI) JobGet(ctx *context) (interface{}, error) {
	resp := restdata.JobStatus{}
	resp.FromJob(ctx.Job)
	if ctx.Job.Status == webprint.Succeeded {
		fileURL, err := api.jobURL("jobFile", ctx.Job.ID)
		if err != nil {
			return nil, err
		}
		resp.FileURL = fileURL
	}
	return resp, nil
}
