// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package urlkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTrailingSlash(t *testing.T) {
	normalized, err := Normalize("https://example.com/path/")
	if assert.NoError(t, err) {
		assert.Equal(t, "https://example.com/path", normalized)
	}
}

func TestNormalizeLowercase(t *testing.T) {
	normalized, err := Normalize("HTTPS://EXAMPLE.COM/PATH")
	if assert.NoError(t, err) {
		assert.Equal(t, "https://example.com/path", normalized)
	}
}

func TestNormalizeFragment(t *testing.T) {
	normalized, err := Normalize("https://example.com/path#section")
	if assert.NoError(t, err) {
		assert.Equal(t, "https://example.com/path", normalized)
	}
}

func TestNormalizePreservesQuery(t *testing.T) {
	normalized, err := Normalize("https://example.com/path?key=value")
	if assert.NoError(t, err) {
		assert.Equal(t, "https://example.com/path?key=value", normalized)
	}
}

func TestNormalizeQueryOrder(t *testing.T) {
	// Parameter order is preserved, so these are distinct
	// fingerprints.
	first, err := Normalize("https://example.com/p?a=1&b=2")
	assert.NoError(t, err)
	second, err := Normalize("https://example.com/p?b=2&a=1")
	assert.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNormalizeRootPath(t *testing.T) {
	normalized, err := Normalize("https://example.com/")
	if assert.NoError(t, err) {
		assert.Equal(t, "https://example.com/", normalized)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, rawURL := range []string{
		"https://example.com/a/",
		"https://example.com/a//",
		"HTTPS://EXAMPLE.COM/a/#frag",
		"https://example.com/p?b=2&a=1",
		"https://example.com/",
	} {
		once, err := Normalize(rawURL)
		if !assert.NoError(t, err, rawURL) {
			continue
		}
		twice, err := Normalize(once)
		if assert.NoError(t, err, rawURL) {
			assert.Equal(t, once, twice, rawURL)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, rawURL := range []string{
		"",
		"ftp://example.com",
		"example.com",
		"https://",
	} {
		_, err := Normalize(rawURL)
		assert.Error(t, err, rawURL)
	}
}

func TestNormalizeEquivalence(t *testing.T) {
	// Differences in trailing slash, case, and fragment do not
	// change the fingerprint.
	base, err := Normalize("https://example.com/a")
	assert.NoError(t, err)
	other, err := Normalize("HTTPS://EXAMPLE.COM/a/#frag")
	if assert.NoError(t, err) {
		assert.Equal(t, base, other)
	}
}
