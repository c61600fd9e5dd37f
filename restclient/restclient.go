// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package restclient provides a Go client for the webprint REST API.
//
// The client is driven by the API's root document: it fetches the
// URL (and URI template) catalog once and expands templates locally,
// so it keeps working if the server relocates its resources.
package restclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/diffeo/go-webprint/restdata"
	"github.com/jtacoma/uritemplates"
)

// Client talks to one webprint API server.
type Client struct {
	// BaseURL is the root of the API, e.g. "http://localhost:8000/".
	BaseURL string

	// HTTPClient issues the requests.  If nil, uses
	// http.DefaultClient.
	HTTPClient *http.Client

	root *restdata.RootData
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

// ErrAPI is returned when the server answers with an error status.
type ErrAPI struct {
	Status   int
	Response restdata.ErrorResponse
}

func (err ErrAPI) Error() string {
	detail := err.Response.Detail
	if detail == "" {
		detail = err.Response.Error
	}
	return fmt.Sprintf("%v (HTTP %v)", detail, err.Status)
}

// HTTPStatus returns the server's status code.
func (err ErrAPI) HTTPStatus() int {
	return err.Status
}

// Root fetches (and caches) the API root document.
func (c *Client) Root() (restdata.RootData, error) {
	if c.root != nil {
		return *c.root, nil
	}
	var root restdata.RootData
	err := c.getJSON(c.BaseURL, &root)
	if err != nil {
		return root, err
	}
	c.root = &root
	return root, nil
}

// Submit queues (or deduplicates) a conversion job.
func (c *Client) Submit(req restdata.JobRequest) (restdata.JobResponse, error) {
	var resp restdata.JobResponse
	root, err := c.Root()
	if err != nil {
		return resp, err
	}

	var body bytes.Buffer
	if err = restdata.Encode(&body, req); err != nil {
		return resp, err
	}
	httpResp, err := c.client().Post(c.resolve(root.JobsURL), restdata.JSONMediaType, &body)
	if err != nil {
		return resp, err
	}
	err = decodeResponse(httpResp, &resp)
	return resp, err
}

// Status fetches the full representation of one job.
func (c *Client) Status(jobID string) (restdata.JobStatus, error) {
	var status restdata.JobStatus
	root, err := c.Root()
	if err != nil {
		return status, err
	}
	target, err := expand(root.JobURL, jobID)
	if err != nil {
		return status, err
	}
	err = c.getJSON(c.resolve(target), &status)
	return status, err
}

// Download fetches the rendered PDF of a succeeded job.
func (c *Client) Download(jobID string) ([]byte, error) {
	root, err := c.Root()
	if err != nil {
		return nil, err
	}
	target, err := expand(root.JobFileURL, jobID)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.client().Get(c.resolve(target))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(httpResp)
	}
	return io.ReadAll(httpResp.Body)
}

// Health fetches the service health document.
func (c *Client) Health() (restdata.HealthResponse, error) {
	var health restdata.HealthResponse
	root, err := c.Root()
	if err != nil {
		return health, err
	}
	err = c.getJSON(c.resolve(root.HealthURL), &health)
	return health, err
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// resolve makes a server-relative URL absolute against BaseURL.
func (c *Client) resolve(target string) string {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return base.ResolveReference(ref).String()
}

// expand fills the job_id parameter of an RFC 6570 URI template.
func expand(template, jobID string) (string, error) {
	parsed, err := uritemplates.Parse(template)
	if err != nil {
		return "", err
	}
	return parsed.Expand(map[string]interface{}{"job_id": jobID})
}

func (c *Client) getJSON(target string, out interface{}) error {
	httpResp, err := c.client().Get(target)
	if err != nil {
		return err
	}
	return decodeResponse(httpResp, out)
}

// decodeResponse decodes a JSON body, translating error statuses to
// ErrAPI.
func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errorFromResponse(resp)
	}
	return restdata.Decode(resp.Header.Get("Content-Type"), resp.Body, out)
}

// errorFromResponse turns an error response into an ErrAPI.
func errorFromResponse(resp *http.Response) error {
	apiErr := ErrAPI{Status: resp.StatusCode}
	// A failed decode leaves an empty response body in the error;
	// the status code is the important part
	_ = restdata.Decode(resp.Header.Get("Content-Type"), resp.Body, &apiErr.Response)
	return apiErr
}
