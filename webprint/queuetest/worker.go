// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queuetest

// This file tests worker heartbeats and status summaries.

import (
	"time"

	"github.com/diffeo/go-webprint/webprint"
	"gopkg.in/check.v1"
)

// TestWorkerStatusMissing verifies the error for a never-seen
// worker.
func (s *Suite) TestWorkerStatusMissing(c *check.C) {
	_, err := s.Queue.WorkerStatus("worker-1")
	c.Assert(err, check.DeepEquals, webprint.ErrNoSuchWorker{WorkerID: "worker-1"})
}

// TestHeartbeatRoundTrip verifies that the first beat creates the row
// and later beats update it.
func (s *Suite) TestHeartbeatRoundTrip(c *check.C) {
	err := s.Queue.Heartbeat("worker-1", webprint.WorkerIdle, "")
	c.Assert(err, check.IsNil)

	beat, err := s.Queue.WorkerStatus("worker-1")
	c.Assert(err, check.IsNil)
	c.Check(beat.WorkerID, check.Equals, "worker-1")
	c.Check(beat.State, check.Equals, webprint.WorkerIdle)
	c.Check(beat.CurrentJobID, check.Equals, "")
	first := beat.LastHeartbeat

	s.Clock.Add(10 * time.Second)
	err = s.Queue.Heartbeat("worker-1", webprint.WorkerWorking, "some-job")
	c.Assert(err, check.IsNil)

	beat, err = s.Queue.WorkerStatus("worker-1")
	c.Assert(err, check.IsNil)
	c.Check(beat.State, check.Equals, webprint.WorkerWorking)
	c.Check(beat.CurrentJobID, check.Equals, "some-job")
	c.Check(beat.LastHeartbeat.After(first), check.Equals, true)
}

// TestSummarize verifies status counts across a mixed population.
func (s *Suite) TestSummarize(c *check.C) {
	s.submit(c, "https://example.com/a")
	s.Clock.Add(time.Second)
	s.submit(c, "https://example.com/b")
	s.Clock.Add(time.Second)
	s.submit(c, "https://other.com/c")

	// Finish the first job, then leave its same-domain peer
	// running.
	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)
	err := s.Queue.Complete(claimed.ID, webprint.Outcome{Success: true})
	c.Assert(err, check.IsNil)
	claimed = s.claim(c)
	c.Assert(claimed, check.NotNil)

	summary, err := s.Queue.Summarize()
	c.Assert(err, check.IsNil)
	counts := make(map[webprint.Status]int)
	for _, record := range summary {
		counts[record.Status] += record.Count
	}
	c.Check(counts[webprint.Succeeded], check.Equals, 1)
	c.Check(counts[webprint.Running], check.Equals, 1)
	c.Check(counts[webprint.Queued], check.Equals, 1)
	total := 0
	for _, count := range counts {
		total += count
	}
	c.Check(total, check.Equals, 3)
}

// TestPing verifies store reachability reporting.
func (s *Suite) TestPing(c *check.C) {
	c.Check(s.Queue.Ping(), check.IsNil)
}
