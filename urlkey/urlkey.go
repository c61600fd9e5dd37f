// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package urlkey turns raw URLs into the two keys the queue schedules
// by: the normalized URL used as a deduplication fingerprint, and the
// registrable domain (eTLD+1) used to scope domain locks.
package urlkey

import (
	"net/url"
	"strings"
)

// ErrInvalid is returned when a URL cannot produce a key: it does not
// parse, its scheme is not http or https, or it has no authority.
type ErrInvalid struct {
	Reason string
}

func (err ErrInvalid) Error() string {
	return "invalid URL: " + err.Reason
}

// Normalize produces the canonical form of a URL used as a
// deduplication fingerprint.  The entire URL is lowercased before
// parsing, the fragment is discarded, trailing slashes are stripped
// from the path (unless the path is exactly "/"), and the query string
// is preserved verbatim.  Determinism is the only correctness
// property: Normalize is a pure function and a fixed point of itself.
//
// Query parameters are deliberately not sorted; two URLs differing
// only in parameter order produce distinct fingerprints.
func Normalize(rawURL string) (string, error) {
	if rawURL == "" {
		return "", ErrInvalid{Reason: "empty URL"}
	}

	u, err := url.Parse(strings.ToLower(rawURL))
	if err != nil {
		return "", ErrInvalid{Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalid{Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return "", ErrInvalid{Reason: "missing authority"}
	}

	path := u.EscapedPath()
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteString("@")
	}
	b.WriteString(u.Host)
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}
