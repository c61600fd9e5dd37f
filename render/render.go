// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package render converts web pages to PDF files with a headless
// browser.
//
// The Renderer interface hides the browser behind a narrow contract
// so that the worker can be tested with a deterministic fake.  The
// production implementation, Chrome, keeps one long-lived browser
// allocator and launches a separate headless Chrome process for each
// job, shutting it down when that render ends; no browser process is
// kept running between jobs.
package render

import (
	"context"
	"time"

	"github.com/diffeo/go-webprint/webprint"
)

// Renderer converts one URL to one PDF file.
type Renderer interface {
	// Render fetches url and writes a PDF to outputPath.
	// navigationTimeout bounds the page-load step; the context
	// carries the job's outer deadline and cancels the render on
	// worker shutdown.
	Render(ctx context.Context, url string, mode webprint.RenderMode, navigationTimeout time.Duration, outputPath string) error

	// Close releases the browser and any other held resources.
	Close() error
}

// Error is a render failure with an error-taxonomy classification.
type Error struct {
	Code    webprint.ErrorCode
	Message string
}

func (err Error) Error() string {
	return err.Message
}

// Classify maps an error from Render to the job error taxonomy.  An
// expired outer deadline is the job timeout; an Error carries its own
// code; anything else is a generic retryable render failure.
func Classify(ctx context.Context, err error) (webprint.ErrorCode, string) {
	if ctx.Err() == context.DeadlineExceeded {
		return webprint.CodeJobTimeout, "job deadline exceeded"
	}
	if rerr, isRender := err.(Error); isRender {
		return rerr.Code, rerr.Message
	}
	return webprint.CodeRenderFailed, err.Error()
}
