// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queuetest

// This file tests claiming, domain serialization, completion,
// requeueing, and crash recovery.

import (
	"time"

	"github.com/diffeo/go-webprint/webprint"
	"gopkg.in/check.v1"
)

// TestClaimEmpty verifies that claiming from an empty queue returns
// no work and no error.
func (s *Suite) TestClaimEmpty(c *check.C) {
	job := s.claim(c)
	c.Check(job, check.IsNil)
}

// TestClaimSimple verifies the Queued -> Running transition.
func (s *Suite) TestClaimSimple(c *check.C) {
	submitted := s.submit(c, "https://example.com/test")

	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.ID, check.Equals, submitted.ID)
	c.Check(claimed.Status, check.Equals, webprint.Running)
	c.Check(claimed.Attempts, check.Equals, 1)
	c.Check(claimed.StartedAt.IsZero(), check.Equals, false)

	s.checkStatus(c, submitted.ID, webprint.Running)
}

// TestClaimOldestFirst verifies strict created_at ordering across
// domains.
func (s *Suite) TestClaimOldestFirst(c *check.C) {
	first := s.submit(c, "https://example.com/p1")
	s.Clock.Add(time.Second)
	second := s.submit(c, "https://other.com/q")

	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.ID, check.Equals, first.ID)

	claimed = s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.ID, check.Equals, second.ID)
}

// TestDomainSerialization verifies that at most one job per
// registrable domain runs at a time, and that other domains are not
// held up behind it.
func (s *Suite) TestDomainSerialization(c *check.C) {
	p1 := s.submit(c, "https://example.com/p1")
	s.Clock.Add(time.Second)
	p2 := s.submit(c, "https://example.com/p2")
	s.Clock.Add(time.Second)
	q := s.submit(c, "https://other.com/q")

	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.ID, check.Equals, p1.ID)

	// p2 is the oldest queued candidate; it parks as waiting and
	// this call yields nothing.
	c.Check(s.claim(c), check.IsNil)
	s.checkStatus(c, p2.ID, webprint.WaitingDomainLock)

	// The next claim skips past the parked job to the other
	// domain.
	claimed = s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.ID, check.Equals, q.ID)

	// p2 stays blocked while p1 runs.
	c.Check(s.claim(c), check.IsNil)

	err := s.Queue.Complete(p1.ID, webprint.Outcome{Success: true})
	c.Assert(err, check.IsNil)

	claimed = s.claimSpecific(c, p2.ID)
	c.Check(claimed.Status, check.Equals, webprint.Running)
}

// TestDomainWaitTimeout verifies that a job blocked past its
// MaxDomainWait budget fails with CodeDomainWaitTimeout.
func (s *Suite) TestDomainWaitTimeout(c *check.C) {
	cfg := defaultConfig()
	cfg.MaxDomainWait = time.Second
	s.submitConfig(c, "https://example.com/p1", cfg)
	s.Clock.Add(time.Millisecond)
	p2 := s.submitConfig(c, "https://example.com/p2", cfg)

	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)

	s.Clock.Add(2 * time.Second)

	c.Check(s.claim(c), check.IsNil)
	failed := s.checkStatus(c, p2.ID, webprint.Failed)
	c.Check(failed.ErrorCode, check.Equals, webprint.CodeDomainWaitTimeout)
	c.Check(failed.FinishedAt.IsZero(), check.Equals, false)
	c.Check(failed.StartedAt.IsZero(), check.Equals, true)
}

// TestCompleteSuccess verifies the Running -> Succeeded transition
// and domain lock release.
func (s *Suite) TestCompleteSuccess(c *check.C) {
	job := s.submit(c, "https://example.com/test")
	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)

	err := s.Queue.Complete(job.ID, webprint.Outcome{Success: true})
	c.Assert(err, check.IsNil)

	done := s.checkStatus(c, job.ID, webprint.Succeeded)
	c.Check(done.ErrorCode, check.Equals, webprint.ErrorCode(""))
	c.Check(done.FinishedAt.IsZero(), check.Equals, false)
	c.Check(done.FinishedAt.Before(done.StartedAt), check.Equals, false)

	// The domain lock is gone: a same-domain peer claims
	// immediately.
	peer := s.submit(c, "https://example.com/peer")
	claimed = s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.ID, check.Equals, peer.ID)
}

// TestCompleteFailure verifies the Running -> Failed transition with
// error details.
func (s *Suite) TestCompleteFailure(c *check.C) {
	job := s.submit(c, "https://example.com/test")
	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)

	err := s.Queue.Complete(job.ID, webprint.Outcome{
		Code:    webprint.CodeRenderFailed,
		Message: "navigation failed",
	})
	c.Assert(err, check.IsNil)

	failed := s.checkStatus(c, job.ID, webprint.Failed)
	c.Check(failed.ErrorCode, check.Equals, webprint.CodeRenderFailed)
	c.Check(failed.ErrorMessage, check.Equals, "navigation failed")
}

// TestCompleteIdempotent verifies that completing a terminal job is a
// no-op, not an error, and does not disturb the terminal state.
func (s *Suite) TestCompleteIdempotent(c *check.C) {
	job := s.submit(c, "https://example.com/test")
	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)

	err := s.Queue.Complete(job.ID, webprint.Outcome{Success: true})
	c.Assert(err, check.IsNil)
	err = s.Queue.Complete(job.ID, webprint.Outcome{
		Code: webprint.CodeRenderFailed, Message: "late failure",
	})
	c.Assert(err, check.IsNil)

	s.checkStatus(c, job.ID, webprint.Succeeded)
}

// TestCompleteQueuedIgnored verifies that completing a never-claimed
// job is a no-op.
func (s *Suite) TestCompleteQueuedIgnored(c *check.C) {
	job := s.submit(c, "https://example.com/test")
	err := s.Queue.Complete(job.ID, webprint.Outcome{Success: true})
	c.Assert(err, check.IsNil)
	s.checkStatus(c, job.ID, webprint.Queued)
}

// TestRequeue verifies the Running -> Queued retry transition.
func (s *Suite) TestRequeue(c *check.C) {
	job := s.submit(c, "https://example.com/test")
	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.Attempts, check.Equals, 1)

	err := s.Queue.Requeue(job.ID)
	c.Assert(err, check.IsNil)

	requeued := s.checkStatus(c, job.ID, webprint.Queued)
	c.Check(requeued.Attempts, check.Equals, 1)
	c.Check(requeued.StartedAt.IsZero(), check.Equals, true)

	claimed = s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.ID, check.Equals, job.ID)
	c.Check(claimed.Attempts, check.Equals, 2)
}

// TestRequeueReleasesLock verifies that a requeued job's domain can
// be claimed again, by the requeued job itself first and by its
// same-domain peer once that job completes.
func (s *Suite) TestRequeueReleasesLock(c *check.C) {
	job := s.submit(c, "https://example.com/p1")
	s.Clock.Add(time.Second)
	peer := s.submit(c, "https://example.com/p2")

	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.ID, check.Equals, job.ID)

	err := s.Queue.Requeue(job.ID)
	c.Assert(err, check.IsNil)

	// Oldest-first: the original job wins the next claim, then
	// the peer is blocked again behind it.
	claimed = s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.ID, check.Equals, job.ID)
	err = s.Queue.Complete(job.ID, webprint.Outcome{Success: true})
	c.Assert(err, check.IsNil)
	claimed = s.claimSpecific(c, peer.ID)
	c.Check(claimed.Attempts, check.Equals, 1)
}

// TestRequeueNonRunningIgnored verifies the no-op contract.
func (s *Suite) TestRequeueNonRunningIgnored(c *check.C) {
	job := s.submit(c, "https://example.com/test")
	err := s.Queue.Requeue(job.ID)
	c.Assert(err, check.IsNil)
	s.checkStatus(c, job.ID, webprint.Queued)
}

// TestRecoverRunningRequeues verifies startup reconciliation of a
// crashed attempt with budget remaining.
func (s *Suite) TestRecoverRunningRequeues(c *check.C) {
	job := s.submit(c, "https://example.com/test")
	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)

	count, err := s.Queue.RecoverRunning()
	c.Assert(err, check.IsNil)
	c.Check(count, check.Equals, 1)

	recovered := s.checkStatus(c, job.ID, webprint.Queued)
	c.Check(recovered.Attempts, check.Equals, 1)
	c.Check(recovered.StartedAt.IsZero(), check.Equals, true)

	// The domain lock was released too.
	claimed = s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.ID, check.Equals, job.ID)
	c.Check(claimed.Attempts, check.Equals, 2)
}

// TestRecoverRunningExhausted verifies that a crashed job with no
// remaining budget fails with CodeWorkerCrashed.
func (s *Suite) TestRecoverRunningExhausted(c *check.C) {
	cfg := defaultConfig()
	cfg.MaxRetries = 0
	job := s.submitConfig(c, "https://example.com/test", cfg)
	claimed := s.claim(c)
	c.Assert(claimed, check.NotNil)
	c.Check(claimed.Attempts, check.Equals, 1)

	count, err := s.Queue.RecoverRunning()
	c.Assert(err, check.IsNil)
	c.Check(count, check.Equals, 1)

	failed := s.checkStatus(c, job.ID, webprint.Failed)
	c.Check(failed.ErrorCode, check.Equals, webprint.CodeWorkerCrashed)
}

// TestAttemptsNeverExceedBudget exercises the retry loop to its cap
// and checks the attempts invariant.
func (s *Suite) TestAttemptsNeverExceedBudget(c *check.C) {
	cfg := defaultConfig()
	cfg.MaxRetries = 1
	job := s.submitConfig(c, "https://example.com/test", cfg)

	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		claimed := s.claim(c)
		c.Assert(claimed, check.NotNil)
		c.Check(claimed.Attempts, check.Equals, attempt)
		if attempt <= cfg.MaxRetries {
			err := s.Queue.Requeue(job.ID)
			c.Assert(err, check.IsNil)
		}
	}

	err := s.Queue.Complete(job.ID, webprint.Outcome{
		Code: webprint.CodeRenderFailed, Message: "still broken",
	})
	c.Assert(err, check.IsNil)
	failed := s.checkStatus(c, job.ID, webprint.Failed)
	c.Check(failed.Attempts, check.Equals, cfg.MaxRetries+1)
}
