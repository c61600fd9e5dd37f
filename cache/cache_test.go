// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-webprint/memstore"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/stretchr/testify/assert"
)

func submit(t *testing.T, q webprint.Queue, rawURL string) webprint.Job {
	cfg := webprint.JobConfig{
		RenderMode:        webprint.PrintToPDF,
		NavigationTimeout: 45 * time.Second,
		JobTimeout:        120 * time.Second,
		MaxDomainWait:     600 * time.Second,
		MaxRetries:        2,
	}
	sub, err := webprint.NewSubmission(context.Background(), rawURL, cfg, nil, nil)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	job, _, err := q.Submit(sub)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return job
}

func TestNonTerminalNotCached(t *testing.T) {
	backend := memstore.NewWithClock(clock.NewMock())
	cached := New(backend)
	job := submit(t, cached, "https://example.com/a")

	// A queued job must always be read fresh
	got, err := cached.Job(job.ID)
	assert.NoError(t, err)
	assert.Equal(t, webprint.Queued, got.Status)

	claimed, err := cached.ClaimNext()
	assert.NoError(t, err)
	assert.NotNil(t, claimed)

	got, err = cached.Job(job.ID)
	assert.NoError(t, err)
	assert.Equal(t, webprint.Running, got.Status)
}

func TestTerminalCached(t *testing.T) {
	backend := memstore.NewWithClock(clock.NewMock())
	cached := New(backend)
	job := submit(t, cached, "https://example.com/a")

	claimed, err := cached.ClaimNext()
	assert.NoError(t, err)
	err = cached.Complete(claimed.ID, webprint.Outcome{Success: true})
	assert.NoError(t, err)

	got, err := cached.Job(job.ID)
	assert.NoError(t, err)
	assert.Equal(t, webprint.Succeeded, got.Status)

	// Served from cache now; identical result
	again, err := cached.Job(job.ID)
	assert.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestEviction(t *testing.T) {
	backend := memstore.NewWithClock(clock.NewMock())
	cached := NewWithSize(backend, 1)
	inner := cached.(*queueCache)

	first := submit(t, cached, "https://example.com/a")
	second := submit(t, cached, "https://other.com/b")
	for _, job := range []webprint.Job{first, second} {
		claimed, err := cached.ClaimNext()
		assert.NoError(t, err)
		if !assert.NotNil(t, claimed) {
			return
		}
		err = cached.Complete(claimed.ID, webprint.Outcome{Success: true})
		assert.NoError(t, err)
		_, err = cached.Job(job.ID)
		assert.NoError(t, err)
	}

	// Capacity one: only the most recently read job is retained
	_, hit := inner.lookup(first.ID)
	assert.False(t, hit)
	_, hit = inner.lookup(second.ID)
	assert.True(t, hit)

	// The evicted job is still served, from the backend
	got, err := cached.Job(first.ID)
	assert.NoError(t, err)
	assert.Equal(t, webprint.Succeeded, got.Status)
}

func TestRecency(t *testing.T) {
	backend := memstore.NewWithClock(clock.NewMock())
	inner := NewWithSize(backend, 2).(*queueCache)

	inner.remember(webprint.Job{ID: "a", Status: webprint.Succeeded})
	inner.remember(webprint.Job{ID: "b", Status: webprint.Succeeded})
	// Touch "a" so "b" becomes the eviction candidate
	_, hit := inner.lookup("a")
	assert.True(t, hit)
	inner.remember(webprint.Job{ID: "c", Status: webprint.Succeeded})

	_, hit = inner.lookup("a")
	assert.True(t, hit)
	_, hit = inner.lookup("b")
	assert.False(t, hit)
	_, hit = inner.lookup("c")
	assert.True(t, hit)
}

func TestMissingJobNotCached(t *testing.T) {
	backend := memstore.NewWithClock(clock.NewMock())
	cached := New(backend)

	_, err := cached.Job("no-such-job")
	assert.Equal(t, webprint.ErrNoSuchJob{ID: "no-such-job"}, err)
}
