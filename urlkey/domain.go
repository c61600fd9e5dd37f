// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package urlkey

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// MainDomain extracts the registrable domain (eTLD+1) from a URL:
// "example.com" for https://a.b.example.com/x, "example.co.uk" for
// https://www.example.co.uk/.  If the host is an IP literal, or the
// public-suffix dataset yields no registrable domain, the lowercase
// hostname is returned unchanged.  A URL with no parseable hostname is
// invalid.
func MainDomain(rawURL string) (string, error) {
	u, err := url.Parse(strings.ToLower(rawURL))
	if err != nil {
		return "", ErrInvalid{Reason: err.Error()}
	}
	hostname := u.Hostname()
	if hostname == "" {
		return "", ErrInvalid{Reason: "missing hostname"}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return hostname, nil
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		// The hostname is itself a public suffix, or is not
		// covered by the dataset; fall back to the full
		// hostname.
		return hostname, nil
	}
	return domain, nil
}
