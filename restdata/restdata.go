// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package restdata defines common data structures shared between the
// restserver and restclient packages.  JSON encodings of these are
// passed across the wire.
//
// # API usage
//
// HTTP GET the root document at its specified URL.  This will return
// a JSON serialization of the RootData object.  That serialization
// has links to the other resources; follow these links, possibly
// filling in template values, to get to them.
//
// Several of the URL fields are RFC 6570 URI templates: URL strings
// with a {parameter} in curly braces.  If the system is rooted at /,
// a serialization of RootData will look like
//
//	{
//	    "jobs_url": "/v1/pdf-jobs",
//	    "job_url": "/v1/pdf-jobs/{job_id}",
//	    "job_file_url": "/v1/pdf-jobs/{job_id}/file",
//	    "health_url": "/healthz"
//	}
//
// While the URL structure is predictable and formulaic, it is not
// actually part of the API contract.  The only specific guarantee is
// that retrieving the root resource will return a serialization of
// RootData.
package restdata

import (
	"time"

	"github.com/diffeo/go-webprint/webprint"
)

// JSONMediaType is the MIME type of request and response bodies.
const JSONMediaType = "application/json"

// PDFMediaType is the MIME type of downloaded render output.
const PDFMediaType = "application/pdf"

// RootData is returned from the root resource and describes where
// everything else lives.
type RootData struct {
	// JobsURL is the URL of the job collection; POST a JobRequest
	// to it.
	JobsURL string `json:"jobs_url"`

	// JobURL is a URI template for a single job's status,
	// parameterized on job_id.
	JobURL string `json:"job_url"`

	// JobFileURL is a URI template for a job's rendered PDF,
	// parameterized on job_id.
	JobFileURL string `json:"job_file_url"`

	// HealthURL is the URL of the health resource.
	HealthURL string `json:"health_url"`
}

// JobRequest is the submission body.  Optional fields default from
// the server configuration.
type JobRequest struct {
	URL                      string                 `json:"url"`
	RenderMode               *webprint.RenderMode   `json:"render_mode,omitempty"`
	NavigationTimeoutSeconds *int                   `json:"navigation_timeout_seconds,omitempty"`
	JobTimeoutSeconds        *int                   `json:"job_timeout_seconds,omitempty"`
	MaxDomainWaitSeconds     *int                   `json:"max_domain_wait_seconds,omitempty"`
	MaxRetries               *int                   `json:"max_retries,omitempty"`
	Metadata                 map[string]interface{} `json:"metadata,omitempty"`
}

// JobResponse acknowledges a submission.
type JobResponse struct {
	JobID        string          `json:"job_id"`
	Status       webprint.Status `json:"status"`
	Deduplicated bool            `json:"deduplicated"`
}

// JobStatus is the full representation of a job.
type JobStatus struct {
	JobID                    string                 `json:"job_id"`
	URL                      string                 `json:"url"`
	MainDomain               string                 `json:"main_domain"`
	Status                   webprint.Status        `json:"status"`
	Attempts                 int                    `json:"attempts"`
	CreatedAt                string                 `json:"created_at"`
	StartedAt                string                 `json:"started_at,omitempty"`
	FinishedAt               string                 `json:"finished_at,omitempty"`
	ErrorCode                string                 `json:"error_code,omitempty"`
	ErrorMessage             string                 `json:"error_message,omitempty"`
	RenderMode               webprint.RenderMode    `json:"render_mode"`
	NavigationTimeoutSeconds int                    `json:"navigation_timeout_seconds"`
	JobTimeoutSeconds        int                    `json:"job_timeout_seconds"`
	MaxDomainWaitSeconds     int                    `json:"max_domain_wait_seconds"`
	MaxRetries               int                    `json:"max_retries"`
	Deduplicated             bool                   `json:"deduplicated"`
	SubmissionDate           string                 `json:"submission_date"`
	Metadata                 map[string]interface{} `json:"metadata,omitempty"`

	// FileURL points at the rendered PDF once the job has
	// succeeded.
	FileURL string `json:"file_url,omitempty"`
}

// FromJob fills a JobStatus from a queue job.  Timestamps render as
// RFC 3339 UTC strings; unset times are omitted.
func (status *JobStatus) FromJob(job webprint.Job) {
	status.JobID = job.ID
	status.URL = job.URL
	status.MainDomain = job.MainDomain
	status.Status = job.Status
	status.Attempts = job.Attempts
	status.CreatedAt = formatTime(job.CreatedAt)
	status.StartedAt = formatTime(job.StartedAt)
	status.FinishedAt = formatTime(job.FinishedAt)
	status.ErrorCode = string(job.ErrorCode)
	status.ErrorMessage = job.ErrorMessage
	status.RenderMode = job.Config.RenderMode
	status.NavigationTimeoutSeconds = int(job.Config.NavigationTimeout.Seconds())
	status.JobTimeoutSeconds = int(job.Config.JobTimeout.Seconds())
	status.MaxDomainWaitSeconds = int(job.Config.MaxDomainWait.Seconds())
	status.MaxRetries = job.Config.MaxRetries
	status.Deduplicated = job.Deduplicated
	status.SubmissionDate = job.SubmissionDate
	status.Metadata = job.Metadata
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// HealthWorker reports worker-heartbeat freshness.
type HealthWorker struct {
	// Status is "healthy" for a recent heartbeat, "stale" for an
	// old one, or "missing" if the worker has never beaten.
	Status string `json:"status"`

	LastHeartbeat string  `json:"last_heartbeat,omitempty"`
	AgeSeconds    float64 `json:"age_seconds,omitempty"`
	State         string  `json:"state,omitempty"`
	CurrentJob    string  `json:"current_job,omitempty"`
}

// HealthResponse is the health resource body.
type HealthResponse struct {
	// Status is "healthy" or "degraded"; a body is only produced
	// when the database is reachable ("unhealthy" turns into a
	// 503 ErrorResponse instead).
	Status   string       `json:"status"`
	Database string       `json:"database"`
	Worker   HealthWorker `json:"worker"`
}

// ErrorResponse is the body of any error status.
type ErrorResponse struct {
	// Error is a short token naming the error class.
	Error string `json:"error"`

	// Detail is a human-readable description.
	Detail string `json:"detail,omitempty"`
}
