// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restdata

import (
	"fmt"
	"time"

	"github.com/diffeo/go-webprint/webprint"
)

// Validation bounds for the numeric request fields.
const (
	MinNavigationTimeoutSeconds = 5
	MaxNavigationTimeoutSeconds = 300
	MinJobTimeoutSeconds        = 10
	MaxJobTimeoutSeconds        = 600
	MinMaxDomainWaitSeconds     = 10
	MaxMaxDomainWaitSeconds     = 3600
	MinMaxRetries               = 0
	MaxMaxRetries               = 5
)

// rangeError reports an out-of-bounds numeric field.
func rangeError(field string, value, min, max int) error {
	return ErrBadRequest{Err: fmt.Errorf("%v must be between %v and %v, got %v", field, min, max, value)}
}

// checkRange validates one optional numeric field.
func checkRange(field string, value *int, min, max int) error {
	if value == nil {
		return nil
	}
	if *value < min || *value > max {
		return rangeError(field, *value, min, max)
	}
	return nil
}

// Validate range-checks the optional numeric fields of a request.
// The URL itself is validated later by the submission pipeline.
func (req *JobRequest) Validate() error {
	if err := checkRange("navigation_timeout_seconds", req.NavigationTimeoutSeconds,
		MinNavigationTimeoutSeconds, MaxNavigationTimeoutSeconds); err != nil {
		return err
	}
	if err := checkRange("job_timeout_seconds", req.JobTimeoutSeconds,
		MinJobTimeoutSeconds, MaxJobTimeoutSeconds); err != nil {
		return err
	}
	if err := checkRange("max_domain_wait_seconds", req.MaxDomainWaitSeconds,
		MinMaxDomainWaitSeconds, MaxMaxDomainWaitSeconds); err != nil {
		return err
	}
	return checkRange("max_retries", req.MaxRetries,
		MinMaxRetries, MaxMaxRetries)
}

// Config resolves the request's overrides against server defaults,
// producing the job's immutable configuration snapshot.
func (req *JobRequest) Config(defaults webprint.JobConfig) webprint.JobConfig {
	cfg := defaults
	if req.RenderMode != nil {
		cfg.RenderMode = *req.RenderMode
	}
	if req.NavigationTimeoutSeconds != nil {
		cfg.NavigationTimeout = time.Duration(*req.NavigationTimeoutSeconds) * time.Second
	}
	if req.JobTimeoutSeconds != nil {
		cfg.JobTimeout = time.Duration(*req.JobTimeoutSeconds) * time.Second
	}
	if req.MaxDomainWaitSeconds != nil {
		cfg.MaxDomainWait = time.Duration(*req.MaxDomainWaitSeconds) * time.Second
	}
	if req.MaxRetries != nil {
		cfg.MaxRetries = *req.MaxRetries
	}
	return cfg
}
