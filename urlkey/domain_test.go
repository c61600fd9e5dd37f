// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package urlkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMainDomain(t *testing.T) {
	cases := []struct {
		url    string
		domain string
	}{
		{"https://example.com/path", "example.com"},
		{"https://www.example.com/path", "example.com"},
		{"https://a.b.example.com/path", "example.com"},
		{"https://example.co.uk/path", "example.co.uk"},
		{"https://www.example.co.uk/path", "example.co.uk"},
		{"HTTPS://EXAMPLE.COM/PATH", "example.com"},
	}
	for _, c := range cases {
		domain, err := MainDomain(c.url)
		if assert.NoError(t, err, c.url) {
			assert.Equal(t, c.domain, domain, c.url)
		}
	}
}

func TestMainDomainIPLiteral(t *testing.T) {
	domain, err := MainDomain("http://192.0.2.10:8080/x")
	if assert.NoError(t, err) {
		assert.Equal(t, "192.0.2.10", domain)
	}
}

func TestMainDomainNoHostname(t *testing.T) {
	_, err := MainDomain("https://")
	assert.Error(t, err)
}
