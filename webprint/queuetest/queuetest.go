// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package queuetest provides generic functional tests for the
// webprint Queue interface.  These are implemented via the
// http://labix.org/gocheck support library, so a typical backend test
// module will look like
//
//	package mybackend
//
//	import (
//	    "testing"
//	    "github.com/benbjohnson/clock"
//	    "github.com/diffeo/go-webprint/webprint"
//	    "github.com/diffeo/go-webprint/webprint/queuetest"
//	    "gopkg.in/check.v1"
//	)
//
//	// Test is the top-level entry point to run tests.
//	func Test(t *testing.T) { check.TestingT(t) }
//
//	var _ = check.Suite(&queuetest.Suite{
//	    NewQueue: func(clk clock.Clock) (webprint.Queue, error) {
//	        return NewWithClock(clk), nil
//	    },
//	})
package queuetest

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-webprint/webprint"
	"gopkg.in/check.v1"
)

// Suite is a gocheck-compatible test suite for Queue backends.
type Suite struct {
	// NewQueue creates a fresh, empty queue against the provided
	// time source.  It is called once per test.  Backends with
	// external state should clear it here.
	NewQueue func(clk clock.Clock) (webprint.Queue, error)

	// Queue is the queue under test, valid during a test
	// execution.
	Queue webprint.Queue

	// Clock is the mock time source backing Queue.
	Clock *clock.Mock
}

// SetUpTest creates a fresh queue per test.
func (s *Suite) SetUpTest(c *check.C) {
	s.Clock = clock.NewMock()
	var err error
	s.Queue, err = s.NewQueue(s.Clock)
	if err != nil {
		c.Fatal(err)
	}
}

// defaultConfig is the configuration snapshot used by the helpers,
// mirroring the documented defaults.
func defaultConfig() webprint.JobConfig {
	return webprint.JobConfig{
		RenderMode:        webprint.PrintToPDF,
		NavigationTimeout: 45 * time.Second,
		JobTimeout:        120 * time.Second,
		MaxDomainWait:     600 * time.Second,
		MaxRetries:        2,
	}
}

// submit prepares and submits a URL with the default configuration,
// failing the test on any error.
func (s *Suite) submit(c *check.C, rawURL string) webprint.Job {
	job, _, err := s.submitDeduped(c, rawURL)
	c.Assert(err, check.IsNil)
	return job
}

// submitConfig submits a URL with an explicit configuration.
func (s *Suite) submitConfig(c *check.C, rawURL string, cfg webprint.JobConfig) webprint.Job {
	sub, err := webprint.NewSubmission(context.Background(), rawURL, cfg, nil, nil)
	c.Assert(err, check.IsNil)
	job, _, err := s.Queue.Submit(sub)
	c.Assert(err, check.IsNil)
	return job
}

// submitDeduped submits a URL and also returns the deduplication
// flag.
func (s *Suite) submitDeduped(c *check.C, rawURL string) (webprint.Job, bool, error) {
	sub, err := webprint.NewSubmission(context.Background(), rawURL, defaultConfig(), nil, nil)
	c.Assert(err, check.IsNil)
	return s.Queue.Submit(sub)
}

// claim performs one ClaimNext call, asserting no error.
func (s *Suite) claim(c *check.C) *webprint.Job {
	job, err := s.Queue.ClaimNext()
	c.Assert(err, check.IsNil)
	return job
}

// claimSpecific claims until the named job comes back, tolerating the
// bounded number of no-work calls a parked candidate causes.  Any
// claim returning a different job fails the test.
func (s *Suite) claimSpecific(c *check.C, jobID string) *webprint.Job {
	for i := 0; i < 3; i++ {
		job := s.claim(c)
		if job == nil {
			continue
		}
		c.Assert(job.ID, check.Equals, jobID)
		return job
	}
	c.Fatalf("job %v never became claimable", jobID)
	return nil
}

// checkStatus asserts the stored status of a job.
func (s *Suite) checkStatus(c *check.C, jobID string, status webprint.Status) webprint.Job {
	job, err := s.Queue.Job(jobID)
	c.Assert(err, check.IsNil)
	c.Check(job.Status, check.Equals, status)
	return job
}
