// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package webprint

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// refusingGuard rejects everything; acceptingGuard accepts
// everything.
type refusingGuard struct{}

func (refusingGuard) Check(ctx context.Context, rawURL string) error {
	return errors.New("blocked")
}

type acceptingGuard struct{}

func (acceptingGuard) Check(ctx context.Context, rawURL string) error {
	return nil
}

func TestNewSubmission(t *testing.T) {
	cfg := JobConfig{MaxRetries: 2}
	sub, err := NewSubmission(context.Background(), "HTTPS://Sub.Example.COM/Path/", cfg, nil, acceptingGuard{})
	if assert.NoError(t, err) {
		assert.Equal(t, "https://sub.example.com/path", sub.NormalizedURL)
		assert.Equal(t, "example.com", sub.MainDomain)
		assert.Equal(t, cfg, sub.Config)
	}
}

func TestNewSubmissionEmpty(t *testing.T) {
	_, err := NewSubmission(context.Background(), "", JobConfig{}, nil, nil)
	assert.Equal(t, ErrEmptyURL, err)
}

func TestNewSubmissionBadFormat(t *testing.T) {
	for _, rawURL := range []string{"ftp://example.com/x", "example.com", "https://"} {
		_, err := NewSubmission(context.Background(), rawURL, JobConfig{}, nil, nil)
		if assert.Error(t, err, rawURL) {
			_, isInvalid := err.(ErrInvalidURL)
			assert.True(t, isInvalid, rawURL)
		}
	}
}

func TestNewSubmissionGuardRefusal(t *testing.T) {
	_, err := NewSubmission(context.Background(), "https://example.com/x", JobConfig{}, nil, refusingGuard{})
	assert.Error(t, err)
}

func TestNewSubmissionMetadataBound(t *testing.T) {
	metadata := map[string]interface{}{"blob": strings.Repeat("x", MaxMetadataBytes)}
	_, err := NewSubmission(context.Background(), "https://example.com/x", JobConfig{}, metadata, nil)
	assert.Equal(t, ErrMetadataTooLarge, err)

	small := map[string]interface{}{"requested_by": "tests"}
	sub, err := NewSubmission(context.Background(), "https://example.com/x", JobConfig{}, small, nil)
	if assert.NoError(t, err) {
		assert.Equal(t, small, sub.Metadata)
	}
}

func TestSubmissionDate(t *testing.T) {
	// 2021-06-01 23:30 in UTC-5 is already 2021-06-02 in UTC
	loc := time.FixedZone("UTC-5", -5*60*60)
	when := time.Date(2021, 6, 1, 23, 30, 0, 0, loc)
	assert.Equal(t, "2021-06-02", SubmissionDate(when))
}
