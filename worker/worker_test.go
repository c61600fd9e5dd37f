// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-webprint/memstore"
	"github.com/diffeo/go-webprint/render"
	"github.com/diffeo/go-webprint/ssrf"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/stretchr/testify/assert"
)

// fakeRenderer returns scripted results and records its calls.
type fakeRenderer struct {
	mu    sync.Mutex
	calls []string
	errs  []error
}

func (r *fakeRenderer) Render(ctx context.Context, url string, mode webprint.RenderMode, navigationTimeout time.Duration, outputPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, url)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return err
		}
	}
	return os.WriteFile(outputPath, []byte("%PDF-1.4 fake"), 0644)
}

func (r *fakeRenderer) Close() error { return nil }

func (r *fakeRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixture struct {
	Clock    *clock.Mock
	Queue    webprint.Queue
	Renderer *fakeRenderer
	Worker   *Worker
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		Clock:    clock.NewMock(),
		Renderer: &fakeRenderer{},
	}
	f.Queue = memstore.NewWithClock(f.Clock)
	f.Worker = &Worker{
		Queue:       f.Queue,
		Renderer:    f.Renderer,
		StoragePath: t.TempDir(),
		Clock:       f.Clock,
	}
	f.Worker.setDefaults()
	return f
}

func (f *fixture) submit(t *testing.T, rawURL string, maxRetries int) webprint.Job {
	cfg := webprint.JobConfig{
		RenderMode:        webprint.PrintToPDF,
		NavigationTimeout: 45 * time.Second,
		JobTimeout:        120 * time.Second,
		MaxDomainWait:     600 * time.Second,
		MaxRetries:        maxRetries,
	}
	sub, err := webprint.NewSubmission(context.Background(), rawURL, cfg, nil, nil)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	job, _, err := f.Queue.Submit(sub)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return job
}

func (f *fixture) claim(t *testing.T) webprint.Job {
	job, err := f.Queue.ClaimNext()
	if !assert.NoError(t, err) || !assert.NotNil(t, job) {
		t.FailNow()
	}
	return *job
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t)
	submitted := f.submit(t, "https://example.com/a", 2)
	claimed := f.claim(t)

	f.Worker.process(context.Background(), claimed)

	job, err := f.Queue.Job(submitted.ID)
	if assert.NoError(t, err) {
		assert.Equal(t, webprint.Succeeded, job.Status)
		assert.Equal(t, 1, job.Attempts)
	}

	contents, err := os.ReadFile(filepath.Join(f.Worker.StoragePath, submitted.ID+".pdf"))
	if assert.NoError(t, err) {
		assert.Contains(t, string(contents), "%PDF")
	}
}

func TestRetryThenSuccess(t *testing.T) {
	f := newFixture(t)
	submitted := f.submit(t, "https://example.com/flaky", 1)
	f.Renderer.errs = []error{
		render.Error{Code: webprint.CodeRenderFailed, Message: "transient"},
	}

	f.Worker.process(context.Background(), f.claim(t))
	job, err := f.Queue.Job(submitted.ID)
	if assert.NoError(t, err) {
		assert.Equal(t, webprint.Queued, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.Equal(t, webprint.ErrorCode(""), job.ErrorCode)
	}

	f.Worker.process(context.Background(), f.claim(t))
	job, err = f.Queue.Job(submitted.ID)
	if assert.NoError(t, err) {
		assert.Equal(t, webprint.Succeeded, job.Status)
		assert.Equal(t, 2, job.Attempts)
	}
}

func TestNonRetryableIsTerminal(t *testing.T) {
	f := newFixture(t)
	submitted := f.submit(t, "https://example.com/gone", 5)
	f.Renderer.errs = []error{
		render.Error{Code: webprint.CodeHTTP4xx, Message: "server returned Not Found"},
	}

	f.Worker.process(context.Background(), f.claim(t))

	job, err := f.Queue.Job(submitted.ID)
	if assert.NoError(t, err) {
		assert.Equal(t, webprint.Failed, job.Status)
		assert.Equal(t, webprint.CodeHTTP4xx, job.ErrorCode)
		assert.Equal(t, 1, job.Attempts)
	}
	assert.Equal(t, 1, f.Renderer.callCount())
}

func TestRetryBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	submitted := f.submit(t, "https://example.com/broken", 0)
	f.Renderer.errs = []error{
		render.Error{Code: webprint.CodeRenderFailed, Message: "still broken"},
	}

	f.Worker.process(context.Background(), f.claim(t))

	job, err := f.Queue.Job(submitted.ID)
	if assert.NoError(t, err) {
		assert.Equal(t, webprint.Failed, job.Status)
		assert.Equal(t, webprint.CodeRenderFailed, job.ErrorCode)
	}
}

func TestRedirectToPrivateAddressFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://127.0.0.1/internal", http.StatusFound)
	}))
	defer server.Close()

	f := newFixture(t)
	f.Worker.Guard = &ssrf.Guard{}
	submitted := f.submit(t, server.URL+"/page", 5)

	f.Worker.process(context.Background(), f.claim(t))

	job, err := f.Queue.Job(submitted.ID)
	if assert.NoError(t, err) {
		assert.Equal(t, webprint.Failed, job.Status)
		assert.Equal(t, webprint.CodeSSRFBlocked, job.ErrorCode)
	}
	// The renderer never ran.
	assert.Equal(t, 0, f.Renderer.callCount())
}

func TestShouldRetry(t *testing.T) {
	f := newFixture(t)
	job := webprint.Job{Attempts: 1, Config: webprint.JobConfig{MaxRetries: 2}}

	assert.True(t, f.Worker.shouldRetry(job, webprint.CodeRenderFailed))
	assert.True(t, f.Worker.shouldRetry(job, webprint.CodeJobTimeout))
	assert.False(t, f.Worker.shouldRetry(job, webprint.CodeHTTP4xx))
	assert.False(t, f.Worker.shouldRetry(job, webprint.CodeSSRFBlocked))
	assert.False(t, f.Worker.shouldRetry(job, webprint.CodeCaptchaDetected))

	job.Attempts = 3
	assert.False(t, f.Worker.shouldRetry(job, webprint.CodeRenderFailed))
}

func TestHeartbeatWhileWorking(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "https://example.com/a", 2)
	claimed := f.claim(t)

	f.Worker.setCurrent(claimed.ID)
	f.Worker.beat()
	beat, err := f.Queue.WorkerStatus("worker-1")
	if assert.NoError(t, err) {
		assert.Equal(t, webprint.WorkerWorking, beat.State)
		assert.Equal(t, claimed.ID, beat.CurrentJobID)
	}

	f.Worker.setCurrent("")
	f.Worker.beat()
	beat, err = f.Queue.WorkerStatus("worker-1")
	if assert.NoError(t, err) {
		assert.Equal(t, webprint.WorkerIdle, beat.State)
	}
}

func TestRunRecoversAndDrains(t *testing.T) {
	// Use the wall clock here: Run's tickers and the queue can
	// share it without choreography.
	queue := memstore.New()
	renderer := &fakeRenderer{}
	w := &Worker{
		Queue:             queue,
		Renderer:          renderer,
		StoragePath:       t.TempDir(),
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	}

	cfg := webprint.JobConfig{
		RenderMode:        webprint.PrintToPDF,
		NavigationTimeout: time.Second,
		JobTimeout:        time.Second,
		MaxDomainWait:     time.Minute,
		MaxRetries:        2,
	}
	sub, err := webprint.NewSubmission(context.Background(), "https://example.com/run", cfg, nil, nil)
	assert.NoError(t, err)
	submitted, _, err := queue.Submit(sub)
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- w.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		job, err := queue.Job(submitted.ID)
		assert.NoError(t, err)
		if job.Status == webprint.Succeeded {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not shut down")
	}

	_, err = queue.WorkerStatus("worker-1")
	assert.NoError(t, err)
}
