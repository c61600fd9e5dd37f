// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package webprint

import (
	"context"
	"encoding/json"

	"github.com/diffeo/go-webprint/urlkey"
)

// MaxMetadataBytes bounds the JSON-encoded size of a submission's
// metadata map.
const MaxMetadataBytes = 2048

// URLGuard validates that a URL is safe to fetch from this host.  The
// ssrf package provides the production implementation; tests can
// substitute a permissive one.
type URLGuard interface {
	// Check returns an error if the URL must not be fetched.
	Check(ctx context.Context, rawURL string) error
}

// Submission is a fully prepared request to create a job: the URL has
// been validated, normalized, and SSRF-checked, and the configuration
// snapshot is complete.  Build one with NewSubmission; Queue
// implementations trust its fields.
type Submission struct {
	// NormalizedURL is the deduplication fingerprint.
	NormalizedURL string

	// MainDomain is the registrable domain scoping the domain
	// lock.
	MainDomain string

	// Config is the complete configuration snapshot for the new
	// job.  The caller resolves defaults before building the
	// submission.
	Config JobConfig

	// Metadata is the caller-provided opaque map, if any.
	Metadata map[string]interface{}
}

// NewSubmission validates rawURL and prepares a Submission from it.
// Format violations are reported as ErrInvalidURL; SSRF violations are
// reported as whatever error the guard returns.  DNS failures inside
// the guard are not fatal here: rendering will fail on its own later,
// and the pre-render redirect walk checks any redirect targets with
// fresher answers.
func NewSubmission(ctx context.Context, rawURL string, cfg JobConfig, metadata map[string]interface{}, guard URLGuard) (Submission, error) {
	var sub Submission
	if rawURL == "" {
		return sub, ErrEmptyURL
	}

	normalized, err := urlkey.Normalize(rawURL)
	if err == nil {
		sub.NormalizedURL = normalized
		sub.MainDomain, err = urlkey.MainDomain(rawURL)
	}
	if invalid, isInvalid := err.(urlkey.ErrInvalid); isInvalid {
		return sub, ErrInvalidURL{Reason: invalid.Reason}
	}
	if err == nil && guard != nil {
		err = guard.Check(ctx, rawURL)
	}
	if err == nil && metadata != nil {
		var encoded []byte
		encoded, err = json.Marshal(metadata)
		if err == nil && len(encoded) > MaxMetadataBytes {
			err = ErrMetadataTooLarge
		}
	}
	if err != nil {
		return Submission{}, err
	}

	sub.Config = cfg
	sub.Metadata = metadata
	return sub, nil
}
