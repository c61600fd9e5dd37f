// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queuetest

// This file tests submission and same-day deduplication.

import (
	"context"
	"time"

	"github.com/diffeo/go-webprint/webprint"
	"gopkg.in/check.v1"
)

// TestSubmitCreates verifies the shape of a freshly created job.
func (s *Suite) TestSubmitCreates(c *check.C) {
	job, deduped, err := s.submitDeduped(c, "https://example.com/test")
	c.Assert(err, check.IsNil)
	c.Check(deduped, check.Equals, false)
	c.Check(job.ID, check.Not(check.Equals), "")
	c.Check(job.Status, check.Equals, webprint.Queued)
	c.Check(job.Attempts, check.Equals, 0)
	c.Check(job.URL, check.Equals, "https://example.com/test")
	c.Check(job.MainDomain, check.Equals, "example.com")
	c.Check(job.SubmissionDate, check.Equals, webprint.SubmissionDate(s.Clock.Now()))
	c.Check(job.CreatedAt.IsZero(), check.Equals, false)
	c.Check(job.StartedAt.IsZero(), check.Equals, true)
	c.Check(job.FinishedAt.IsZero(), check.Equals, true)
}

// TestDedupSameDay verifies that a second submission of the same URL
// on the same UTC day returns the first job.
func (s *Suite) TestDedupSameDay(c *check.C) {
	first := s.submit(c, "https://example.com/test")

	second, deduped, err := s.submitDeduped(c, "https://example.com/test")
	c.Assert(err, check.IsNil)
	c.Check(deduped, check.Equals, true)
	c.Check(second.ID, check.Equals, first.ID)
}

// TestDedupNormalized verifies that differences erased by
// normalization (case, trailing slash, fragment) deduplicate.
func (s *Suite) TestDedupNormalized(c *check.C) {
	first := s.submit(c, "https://example.com/a")

	second, deduped, err := s.submitDeduped(c, "HTTPS://EXAMPLE.COM/a/#frag")
	c.Assert(err, check.IsNil)
	c.Check(deduped, check.Equals, true)
	c.Check(second.ID, check.Equals, first.ID)
}

// TestDedupDayBoundary verifies that the deduplication window is the
// UTC calendar day: the same URL submitted on the next day creates a
// distinct job.
func (s *Suite) TestDedupDayBoundary(c *check.C) {
	first := s.submit(c, "https://example.com/test")

	s.Clock.Add(24 * time.Hour)

	second, deduped, err := s.submitDeduped(c, "https://example.com/test")
	c.Assert(err, check.IsNil)
	c.Check(deduped, check.Equals, false)
	c.Check(second.ID, check.Not(check.Equals), first.ID)
}

// TestDedupRecordsFlag verifies that a deduplicated hit is visible on
// the stored job afterwards.
func (s *Suite) TestDedupRecordsFlag(c *check.C) {
	first := s.submit(c, "https://example.com/test")
	c.Check(first.Deduplicated, check.Equals, false)

	_, _, err := s.submitDeduped(c, "https://example.com/test")
	c.Assert(err, check.IsNil)

	stored, err := s.Queue.Job(first.ID)
	c.Assert(err, check.IsNil)
	c.Check(stored.Deduplicated, check.Equals, true)
}

// TestJobMissing verifies the not-found error shape.
func (s *Suite) TestJobMissing(c *check.C) {
	_, err := s.Queue.Job("no-such-job")
	c.Assert(err, check.DeepEquals, webprint.ErrNoSuchJob{ID: "no-such-job"})
}

// TestMetadataRoundTrip verifies that caller metadata survives
// storage.
func (s *Suite) TestMetadataRoundTrip(c *check.C) {
	sub, err := webprint.NewSubmission(context.Background(), "https://example.com/meta", defaultConfig(),
		map[string]interface{}{"requested_by": "ingest", "priority": "low"}, nil)
	c.Assert(err, check.IsNil)
	job, _, err := s.Queue.Submit(sub)
	c.Assert(err, check.IsNil)

	stored, err := s.Queue.Job(job.ID)
	c.Assert(err, check.IsNil)
	c.Check(stored.Metadata["requested_by"], check.Equals, "ingest")
	c.Check(stored.Metadata["priority"], check.Equals, "low")
}
