// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package memstore provides an in-process, in-memory implementation
// of the webprint job queue.  There is no persistence.  The entire
// store is behind a single global mutex to protect against concurrent
// updates; in some cases this can limit performance in the name of
// correctness.
//
// This is mostly intended as a simple reference implementation that
// can be used for testing, including in-process testing of
// higher-level components.  It is tuned for correctness, not
// performance or scalability.
package memstore

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// New creates a new Queue that operates purely in memory.
func New() webprint.Queue {
	return NewWithClock(clock.New())
}

// NewWithClock returns a new in-memory Queue with an explicitly
// specified time source.  This is intended for use in tests.
func NewWithClock(clk clock.Clock) webprint.Queue {
	return &memQueue{
		clock:       clk,
		jobs:        make(map[string]*webprint.Job),
		fingerprint: make(map[string]string),
		locks:       make(map[string]string),
		heartbeats:  make(map[string]webprint.Heartbeat),
	}
}

type memQueue struct {
	sem   sync.Mutex
	clock clock.Clock

	// jobs maps job ID to the authoritative job record.
	jobs map[string]*webprint.Job

	// order holds job IDs in creation order; created_at ties
	// resolve by insertion.
	order []string

	// fingerprint maps normalized_url|submission_date to job ID,
	// standing in for the unique index.
	fingerprint map[string]string

	// locks maps main_domain to the ID of the holding job.
	locks map[string]string

	heartbeats map[string]webprint.Heartbeat
}

func fingerprintKey(normalizedURL, submissionDate string) string {
	return normalizedURL + "|" + submissionDate
}

func (q *memQueue) Submit(sub webprint.Submission) (webprint.Job, bool, error) {
	q.sem.Lock()
	defer q.sem.Unlock()

	now := q.clock.Now().UTC()
	key := fingerprintKey(sub.NormalizedURL, webprint.SubmissionDate(now))
	if id, present := q.fingerprint[key]; present {
		existing := q.jobs[id]
		existing.Deduplicated = true
		return copyJob(existing), true, nil
	}

	job := &webprint.Job{
		ID:             uuid.NewV4().String(),
		URL:            sub.NormalizedURL,
		MainDomain:     sub.MainDomain,
		Status:         webprint.Queued,
		CreatedAt:      now,
		Config:         sub.Config,
		SubmissionDate: webprint.SubmissionDate(now),
		Metadata:       sub.Metadata,
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.fingerprint[key] = job.ID
	return copyJob(job), false, nil
}

func (q *memQueue) Job(jobID string) (webprint.Job, error) {
	q.sem.Lock()
	defer q.sem.Unlock()

	job := q.jobs[jobID]
	if job == nil {
		return webprint.Job{}, webprint.ErrNoSuchJob{ID: jobID}
	}
	return copyJob(job), nil
}

func (q *memQueue) ClaimNext() (*webprint.Job, error) {
	q.sem.Lock()
	defer q.sem.Unlock()

	job := q.oldest(webprint.Queued)
	if job == nil {
		job = q.oldest(webprint.WaitingDomainLock)
	}
	if job == nil {
		return nil, nil
	}

	now := q.clock.Now().UTC()
	if holder, locked := q.locks[job.MainDomain]; locked && holder != job.ID {
		if now.Sub(job.CreatedAt) > job.Config.MaxDomainWait {
			job.Status = webprint.Failed
			job.ErrorCode = webprint.CodeDomainWaitTimeout
			job.ErrorMessage = "exceeded max domain wait"
			job.FinishedAt = now
			return nil, nil
		}
		job.Status = webprint.WaitingDomainLock
		return nil, nil
	}

	q.locks[job.MainDomain] = job.ID
	job.Status = webprint.Running
	job.StartedAt = now
	job.Attempts++
	claimed := copyJob(job)
	return &claimed, nil
}

// oldest returns the earliest-created job in the given status, or
// nil.
func (q *memQueue) oldest(status webprint.Status) *webprint.Job {
	for _, id := range q.order {
		if job := q.jobs[id]; job.Status == status {
			return job
		}
	}
	return nil
}

func (q *memQueue) Complete(jobID string, outcome webprint.Outcome) error {
	q.sem.Lock()
	defer q.sem.Unlock()

	job := q.jobs[jobID]
	if job == nil {
		return webprint.ErrNoSuchJob{ID: jobID}
	}
	if job.Status != webprint.Running {
		logrus.WithFields(logrus.Fields{
			"job_id": jobID,
			"status": job.Status,
		}).Warn("complete on non-running job ignored")
		return nil
	}

	if outcome.Success {
		job.Status = webprint.Succeeded
		job.ErrorCode = ""
		job.ErrorMessage = ""
	} else {
		job.Status = webprint.Failed
		job.ErrorCode = outcome.Code
		job.ErrorMessage = outcome.Message
	}
	job.FinishedAt = q.clock.Now().UTC()
	delete(q.locks, job.MainDomain)
	return nil
}

func (q *memQueue) Requeue(jobID string) error {
	q.sem.Lock()
	defer q.sem.Unlock()

	job := q.jobs[jobID]
	if job == nil {
		return webprint.ErrNoSuchJob{ID: jobID}
	}
	if job.Status != webprint.Running {
		logrus.WithFields(logrus.Fields{
			"job_id": jobID,
			"status": job.Status,
		}).Warn("requeue on non-running job ignored")
		return nil
	}

	delete(q.locks, job.MainDomain)
	job.Status = webprint.Queued
	job.StartedAt = time.Time{}
	job.ErrorCode = ""
	job.ErrorMessage = ""
	return nil
}

func (q *memQueue) RecoverRunning() (int, error) {
	q.sem.Lock()
	defer q.sem.Unlock()

	count := 0
	now := q.clock.Now().UTC()
	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status != webprint.Running {
			continue
		}
		delete(q.locks, job.MainDomain)
		if job.Attempts < job.Config.MaxRetries+1 {
			job.Status = webprint.Queued
			job.StartedAt = time.Time{}
		} else {
			job.Status = webprint.Failed
			job.ErrorCode = webprint.CodeWorkerCrashed
			job.ErrorMessage = "worker crashed while job was running"
			job.FinishedAt = now
		}
		count++
	}
	return count, nil
}

func (q *memQueue) Heartbeat(workerID string, state webprint.WorkerState, currentJobID string) error {
	q.sem.Lock()
	defer q.sem.Unlock()

	q.heartbeats[workerID] = webprint.Heartbeat{
		WorkerID:      workerID,
		LastHeartbeat: q.clock.Now().UTC(),
		State:         state,
		CurrentJobID:  currentJobID,
	}
	return nil
}

func (q *memQueue) WorkerStatus(workerID string) (webprint.Heartbeat, error) {
	q.sem.Lock()
	defer q.sem.Unlock()

	heartbeat, present := q.heartbeats[workerID]
	if !present {
		return webprint.Heartbeat{}, webprint.ErrNoSuchWorker{WorkerID: workerID}
	}
	return heartbeat, nil
}

func (q *memQueue) Summarize() (webprint.Summary, error) {
	q.sem.Lock()
	defer q.sem.Unlock()

	counts := make(map[webprint.Status]int)
	for _, job := range q.jobs {
		counts[job.Status]++
	}
	var summary webprint.Summary
	for _, status := range []webprint.Status{
		webprint.Queued, webprint.WaitingDomainLock, webprint.Running,
		webprint.Succeeded, webprint.Failed,
	} {
		if counts[status] > 0 {
			summary = append(summary, webprint.SummaryRecord{Status: status, Count: counts[status]})
		}
	}
	return summary, nil
}

func (q *memQueue) Ping() error {
	return nil
}

// copyJob returns a defensive copy so callers cannot mutate the
// authoritative record.
func copyJob(job *webprint.Job) webprint.Job {
	out := *job
	if job.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(job.Metadata))
		for k, v := range job.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
