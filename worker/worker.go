// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package worker provides the process that executes webprint jobs:
// it claims work from the queue, validates redirects, drives the
// renderer, classifies failures, and reports heartbeats.
package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-webprint/render"
	"github.com/diffeo/go-webprint/ssrf"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/sirupsen/logrus"
)

// Worker runs jobs from a Queue.  Fill in the exported fields and
// call Run; zero fields get reasonable defaults.
type Worker struct {
	// Queue is the job queue to execute from.  This field is
	// required.
	Queue webprint.Queue

	// Renderer converts pages to PDF files.  This field is
	// required.
	Renderer render.Renderer

	// Guard revalidates URLs and their redirect chains before
	// rendering.  If nil, pre-render validation is skipped; only
	// tests should do that.
	Guard *ssrf.Guard

	// StoragePath is the directory receiving rendered PDFs, one
	// {job_id}.pdf per job.  Created if absent.
	StoragePath string

	// WorkerID names this worker in heartbeats.  If unset, uses
	// "worker-1", matching the single-worker deployment.
	WorkerID string

	// PollInterval states how often the worker should try to get
	// more work if the previous claim returned nothing.  If
	// unset, defaults to 2 seconds.
	PollInterval time.Duration

	// HeartbeatInterval states how often the worker should report
	// its status.  If unset, defaults to 10 seconds.
	HeartbeatInterval time.Duration

	// ErrorHandler is called when an error occurs in the worker
	// main loop.
	ErrorHandler func(error)

	// Clock defines a time source for the worker.  If the queue
	// backend was created with an alternate time source, this
	// should match that time source.  Only test code should need
	// to set this.
	Clock clock.Clock

	// Log receives worker activity.  If unset, uses the standard
	// logrus logger.
	Log *logrus.Logger

	// currentJobID is the job being processed, for heartbeats.
	mu           sync.Mutex
	currentJobID string
}

// setDefaults sets default values for any Worker fields that are
// uninitialized.
func (w *Worker) setDefaults() {
	if w.WorkerID == "" {
		w.WorkerID = "worker-1"
	}
	if w.PollInterval == time.Duration(0) {
		w.PollInterval = time.Duration(2) * time.Second
	}
	if w.HeartbeatInterval == time.Duration(0) {
		w.HeartbeatInterval = time.Duration(10) * time.Second
	}
	if w.Clock == nil {
		w.Clock = clock.New()
	}
	if w.Log == nil {
		w.Log = logrus.StandardLogger()
	}
}

// Run executes jobs until the provided context is cancelled.  On
// startup it reconciles jobs stranded by a previous crash; on
// shutdown the in-flight job is finished (or cancelled if its context
// expires) before Run returns.  Errors while claiming or executing
// individual jobs are reported to ErrorHandler and do not stop the
// loop.
func (w *Worker) Run(ctx context.Context) error {
	w.setDefaults()
	if err := os.MkdirAll(w.StoragePath, 0755); err != nil {
		return err
	}

	// Reconcile anything a crashed predecessor left running.
	recovered, err := w.Queue.RecoverRunning()
	if err != nil {
		return err
	}
	if recovered > 0 {
		w.Log.WithField("jobs", recovered).Warn("recovered stranded running jobs")
	}

	heartbeater := w.Clock.Ticker(w.HeartbeatInterval)
	defer heartbeater.Stop()
	poller := w.Clock.Ticker(w.PollInterval)
	defer poller.Stop()

	w.beat()
	w.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			w.Log.Info("worker shutting down")
			return nil
		case <-poller.C:
			w.drain(ctx)
		case <-heartbeater.C:
			w.beat()
		}
	}
}

// drain claims and executes jobs until the queue reports no work (or
// the context ends).
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.Queue.ClaimNext()
		if err != nil {
			w.handleError(err)
			return
		}
		if job == nil {
			return
		}
		w.process(ctx, *job)
	}
}

// process runs a single claimed job through to completion or
// requeueing.
func (w *Worker) process(ctx context.Context, job webprint.Job) {
	w.setCurrent(job.ID)
	defer w.setCurrent("")
	w.beat()

	log := w.Log.WithFields(logrus.Fields{
		"job_id":       job.ID,
		"url":          job.URL,
		"domain":       job.MainDomain,
		"attempt":      job.Attempts,
		"max_attempts": job.Config.MaxRetries + 1,
	})
	log.Info("processing job")

	outcome := w.execute(ctx, job)

	var err error
	switch {
	case outcome.Success:
		log.Info("job succeeded")
		err = w.Queue.Complete(job.ID, outcome)
	case w.shouldRetry(job, outcome.Code):
		log.WithField("error_code", outcome.Code).Info("requeueing job for retry")
		err = w.Queue.Requeue(job.ID)
	default:
		log.WithFields(logrus.Fields{
			"error_code":    outcome.Code,
			"error_message": outcome.Message,
		}).Warn("job failed permanently")
		err = w.Queue.Complete(job.ID, outcome)
	}
	if err != nil {
		w.handleError(err)
	}
}

// execute performs the render pipeline for one job: pre-render
// redirect validation, then the render itself under the job's outer
// deadline.
func (w *Worker) execute(ctx context.Context, job webprint.Job) webprint.Outcome {
	jobCtx, cancel := context.WithTimeout(ctx, job.Config.JobTimeout)
	defer cancel()

	finalURL := job.URL
	if w.Guard != nil {
		var err error
		finalURL, err = w.Guard.ResolveRedirects(jobCtx, job.URL)
		if err != nil {
			return webprint.Outcome{
				Code:    webprint.CodeSSRFBlocked,
				Message: err.Error(),
			}
		}
	}

	outputPath := filepath.Join(w.StoragePath, job.ID+".pdf")
	err := w.Renderer.Render(jobCtx, finalURL, job.Config.RenderMode, job.Config.NavigationTimeout, outputPath)
	if err != nil {
		code, message := render.Classify(jobCtx, err)
		return webprint.Outcome{Code: code, Message: message}
	}
	return webprint.Outcome{Success: true}
}

// shouldRetry applies the retry policy: the error class must be
// retryable and the just-finished attempt must leave budget for
// another.  Attempts are counted on claim, so the first attempt sees
// attempts=1 and a job runs at most MaxRetries+1 times.
func (w *Worker) shouldRetry(job webprint.Job, code webprint.ErrorCode) bool {
	if !code.Retryable() {
		return false
	}
	return job.Attempts < job.Config.MaxRetries+1
}

// beat reports the current status of the worker.
func (w *Worker) beat() {
	current := w.current()
	state := webprint.WorkerIdle
	if current != "" {
		state = webprint.WorkerWorking
	}
	if err := w.Queue.Heartbeat(w.WorkerID, state, current); err != nil {
		w.handleError(err)
	}
}

func (w *Worker) setCurrent(jobID string) {
	w.mu.Lock()
	w.currentJobID = jobID
	w.mu.Unlock()
}

func (w *Worker) current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentJobID
}

func (w *Worker) handleError(err error) {
	w.Log.WithError(err).Error("worker loop error")
	if w.ErrorHandler != nil {
		w.ErrorHandler(err)
	}
}
