// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-webprint/memstore"
	"github.com/diffeo/go-webprint/ssrf"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/stretchr/testify/assert"
)

type apiFixture struct {
	Clock   *clock.Mock
	Queue   webprint.Queue
	Server  *httptest.Server
	Storage string
}

func newAPIFixture(t *testing.T) *apiFixture {
	f := &apiFixture{
		Clock:   clock.NewMock(),
		Storage: t.TempDir(),
	}
	f.Queue = memstore.NewWithClock(f.Clock)
	handler := NewRouter(f.Queue, Options{
		Defaults: webprint.JobConfig{
			RenderMode:        webprint.PrintToPDF,
			NavigationTimeout: 45 * time.Second,
			JobTimeout:        120 * time.Second,
			MaxDomainWait:     600 * time.Second,
			MaxRetries:        2,
		},
		StoragePath: f.Storage,
		Clock:       f.Clock,
	})
	f.Server = httptest.NewServer(handler)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *apiFixture) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	encoded, err := json.Marshal(body)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	resp, err := http.Post(f.Server.URL+path, "application/json", bytes.NewReader(encoded))
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return resp, decodeBody(t, resp)
}

func (f *apiFixture) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	resp, err := http.Get(f.Server.URL + path)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	defer resp.Body.Close()
	var body map[string]interface{}
	err := json.NewDecoder(resp.Body).Decode(&body)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return body
}

func TestSubmitHappyPath(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.post(t, "/v1/pdf-jobs", map[string]interface{}{
		"url": "https://example.com/a",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, false, body["deduplicated"])
	assert.NotEmpty(t, body["job_id"])
}

func TestSubmitDeduplicates(t *testing.T) {
	f := newAPIFixture(t)
	_, first := f.post(t, "/v1/pdf-jobs", map[string]interface{}{
		"url": "https://example.com/a",
	})
	resp, second := f.post(t, "/v1/pdf-jobs", map[string]interface{}{
		"url": "HTTPS://EXAMPLE.COM/a/#frag",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, first["job_id"], second["job_id"])
	assert.Equal(t, true, second["deduplicated"])
}

func TestSubmitInvalidURL(t *testing.T) {
	f := newAPIFixture(t)
	for _, url := range []string{"", "ftp://example.com/x", "example.com"} {
		resp, body := f.post(t, "/v1/pdf-jobs", map[string]interface{}{"url": url})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, url)
		assert.NotEmpty(t, body["error"], url)
	}
}

func TestSubmitSSRFBlocked(t *testing.T) {
	f := newAPIFixture(t)
	// Recreate the handler with a real guard; the metadata check
	// needs no resolver.
	handler := NewRouter(f.Queue, Options{
		Guard:       &ssrf.Guard{},
		StoragePath: f.Storage,
		Clock:       f.Clock,
	})
	f.Server.Close()
	f.Server = httptest.NewServer(handler)
	t.Cleanup(f.Server.Close)

	resp, body := f.post(t, "/v1/pdf-jobs", map[string]interface{}{
		"url": "http://169.254.169.254/latest/meta-data/",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "SSRFBlocked", body["error"])

	// No job row was created.
	summary, err := f.Queue.Summarize()
	assert.NoError(t, err)
	assert.Len(t, summary, 0)
}

func TestSubmitRangeValidation(t *testing.T) {
	f := newAPIFixture(t)
	cases := []map[string]interface{}{
		{"url": "https://example.com/a", "navigation_timeout_seconds": 1},
		{"url": "https://example.com/a", "job_timeout_seconds": 5000},
		{"url": "https://example.com/a", "max_domain_wait_seconds": 2},
		{"url": "https://example.com/a", "max_retries": 9},
	}
	for _, body := range cases {
		resp, _ := f.post(t, "/v1/pdf-jobs", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestStatusNotFound(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.get(t, "/v1/pdf-jobs/no-such-job")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NoSuchJob", body["error"])
}

func TestStatusLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	_, submitted := f.post(t, "/v1/pdf-jobs", map[string]interface{}{
		"url":      "https://example.com/a",
		"metadata": map[string]interface{}{"requested_by": "tests"},
	})
	jobID := submitted["job_id"].(string)

	resp, body := f.get(t, "/v1/pdf-jobs/"+jobID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, float64(0), body["attempts"])
	assert.Nil(t, body["file_url"])

	claimed, err := f.Queue.ClaimNext()
	assert.NoError(t, err)
	if assert.NotNil(t, claimed) {
		err = f.Queue.Complete(claimed.ID, webprint.Outcome{Success: true})
		assert.NoError(t, err)
	}

	_, body = f.get(t, "/v1/pdf-jobs/"+jobID)
	assert.Equal(t, "succeeded", body["status"])
	assert.Equal(t, "/v1/pdf-jobs/"+jobID+"/file", body["file_url"])
	metadata, _ := body["metadata"].(map[string]interface{})
	assert.Equal(t, "tests", metadata["requested_by"])
}

func TestFileDownload(t *testing.T) {
	f := newAPIFixture(t)
	_, submitted := f.post(t, "/v1/pdf-jobs", map[string]interface{}{
		"url": "https://example.com/a",
	})
	jobID := submitted["job_id"].(string)

	// Queued job: not downloadable yet
	resp, _ := f.get(t, "/v1/pdf-jobs/"+jobID+"/file")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	claimed, err := f.Queue.ClaimNext()
	assert.NoError(t, err)
	err = f.Queue.Complete(claimed.ID, webprint.Outcome{Success: true})
	assert.NoError(t, err)

	// Succeeded but the file is gone (swept)
	resp, _ = f.get(t, "/v1/pdf-jobs/"+jobID+"/file")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	err = os.WriteFile(filepath.Join(f.Storage, jobID+".pdf"), []byte("%PDF-1.4 content"), 0644)
	assert.NoError(t, err)
	resp, err = http.Get(f.Server.URL + "/v1/pdf-jobs/" + jobID + "/file")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	worker, _ := body["worker"].(map[string]interface{})
	assert.Equal(t, "missing", worker["status"])

	err := f.Queue.Heartbeat("worker-1", webprint.WorkerIdle, "")
	assert.NoError(t, err)
	_, body = f.get(t, "/healthz")
	assert.Equal(t, "healthy", body["status"])
	worker, _ = body["worker"].(map[string]interface{})
	assert.Equal(t, "healthy", worker["status"])
	assert.Equal(t, "idle", worker["state"])

	f.Clock.Add(45 * time.Second)
	_, body = f.get(t, "/healthz")
	assert.Equal(t, "degraded", body["status"])
	worker, _ = body["worker"].(map[string]interface{})
	assert.Equal(t, "stale", worker["status"])
}

func TestRootDocument(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/v1/pdf-jobs", body["jobs_url"])
	assert.Equal(t, "/v1/pdf-jobs/{job_id}", body["job_url"])
	assert.Equal(t, "/v1/pdf-jobs/{job_id}/file", body["job_file_url"])
	assert.Equal(t, "/healthz", body["health_url"])
}
