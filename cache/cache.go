// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package cache provides read caching in front of a webprint queue.
//
// The cache wraps some other Queue backend.  All mutating operations
// simply pass through to the underlying queue; Job() lookups of jobs
// in a terminal state are answered from an in-process cache with LRU
// eviction.  Terminal jobs are never mutated again, which is what
// makes this safe: a job observed as Succeeded or Failed has reached
// its final representation.  Non-terminal jobs are never cached, so
// status polling always sees fresh claim and retry transitions.
//
// The status-poll traffic pattern this serves is many GETs per job
// between submission and download, concentrated after the job
// finishes.
package cache

import (
	"container/list"
	"sync"

	"github.com/diffeo/go-webprint/webprint"
)

// defaultSize bounds the number of terminal jobs remembered.
const defaultSize = 1024

// queueCache is a Queue implementation that passes everything through
// to another backend, caching terminal jobs.  It is safe for
// concurrent use.
type queueCache struct {
	backend webprint.Queue
	size    int

	// mu guards the two structures below.  recency orders cached
	// job IDs oldest-first; entries maps a job ID to its recency
	// element, whose value is the finished Job itself.
	mu      sync.Mutex
	recency *list.List
	entries map[string]*list.Element
}

// cached is the recency-list payload.
type cached struct {
	jobID string
	job   webprint.Job
}

// New creates a caching wrapper around another queue.
func New(backend webprint.Queue) webprint.Queue {
	return NewWithSize(backend, defaultSize)
}

// NewWithSize creates a caching wrapper with an explicit capacity.
func NewWithSize(backend webprint.Queue, size int) webprint.Queue {
	return &queueCache{
		backend: backend,
		size:    size,
		recency: list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *queueCache) Job(jobID string) (webprint.Job, error) {
	if job, hit := c.lookup(jobID); hit {
		return job, nil
	}
	job, err := c.backend.Job(jobID)
	if err == nil && job.Status.Terminal() {
		c.remember(job)
	}
	return job, err
}

// lookup finds a cached terminal job and refreshes its recency.
func (c *queueCache) lookup(jobID string) (webprint.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, present := c.entries[jobID]
	if !present {
		return webprint.Job{}, false
	}
	c.recency.MoveToBack(element)
	return element.Value.(cached).job, true
}

// remember stores a terminal job, evicting the least recently used
// entries if the cache is over capacity.
func (c *queueCache) remember(job webprint.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, present := c.entries[job.ID]; present {
		// Terminal jobs never change, so there is nothing to
		// update; just note the use.
		c.recency.MoveToBack(element)
		return
	}
	c.entries[job.ID] = c.recency.PushBack(cached{jobID: job.ID, job: job})
	for len(c.entries) > c.size {
		oldest := c.recency.Front()
		delete(c.entries, oldest.Value.(cached).jobID)
		c.recency.Remove(oldest)
	}
}

// Pass-through operations:

func (c *queueCache) Submit(sub webprint.Submission) (webprint.Job, bool, error) {
	return c.backend.Submit(sub)
}

func (c *queueCache) ClaimNext() (*webprint.Job, error) {
	return c.backend.ClaimNext()
}

func (c *queueCache) Complete(jobID string, outcome webprint.Outcome) error {
	return c.backend.Complete(jobID, outcome)
}

func (c *queueCache) Requeue(jobID string) error {
	return c.backend.Requeue(jobID)
}

func (c *queueCache) RecoverRunning() (int, error) {
	return c.backend.RecoverRunning()
}

func (c *queueCache) Heartbeat(workerID string, state webprint.WorkerState, currentJobID string) error {
	return c.backend.Heartbeat(workerID, state, currentJobID)
}

func (c *queueCache) WorkerStatus(workerID string) (webprint.Heartbeat, error) {
	return c.backend.WorkerStatus(workerID)
}

func (c *queueCache) Summarize() (webprint.Summary, error) {
	return c.backend.Summarize()
}

func (c *queueCache) Ping() error {
	return c.backend.Ping()
}
