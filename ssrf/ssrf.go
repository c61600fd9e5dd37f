// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package ssrf guards the renderer against server-side request
// forgery.  A URL is rejected if it points at a cloud metadata
// endpoint, localhost, or an address in a private, loopback, or
// link-local range, whether directly or via DNS.
//
// The check runs synchronously at submission, and again immediately
// before rendering on every redirect target: the guard walks the URL's
// redirect chain and validates each hop it is sent to.  The starting
// URL itself is not checked again before rendering.  DNS resolution
// failures are deliberately not fatal at either point; rendering will
// fail on its own, and swallowing them avoids TOCTOU-flavored false
// rejects.
package ssrf

import (
	"context"
	"net"
	"net/url"
	"strings"
)

// metadataHosts are well-known cloud metadata endpoints, blocked by
// name before any address check.
var metadataHosts = map[string]struct{}{
	"169.254.169.254":          {},
	"metadata.google.internal": {},
}

// localhostNames are hostname spellings of the local machine, blocked
// by name.
var localhostNames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
}

// BlockedError is returned when a URL is rejected by the guard.
type BlockedError struct {
	Host   string
	Reason string
}

func (err BlockedError) Error() string {
	return "SSRF protection: " + err.Reason
}

// Resolver resolves hostnames to addresses.  *net.Resolver satisfies
// it; tests substitute a canned one.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard performs SSRF validation.  The zero value is usable and uses
// the default resolver and HTTP client.
type Guard struct {
	// Resolver resolves hostnames during Check.  If nil, uses
	// net.DefaultResolver.
	Resolver Resolver

	// Client issues the HEAD requests for ResolveRedirects.  If
	// nil, each call builds a client that does not follow
	// redirects.
	Client HTTPDoer

	// MaxRedirects bounds the redirect walk in ResolveRedirects.
	// If zero, defaults to 5.
	MaxRedirects int
}

// Check validates a URL for submission.  It rejects metadata hosts,
// localhost, IP literals in forbidden ranges, and hostnames any of
// whose resolved addresses fall in a forbidden range.  Resolution
// errors are swallowed; before rendering, only the URL's redirect
// targets are checked again.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return BlockedError{Reason: "unparseable URL"}
	}
	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return BlockedError{Reason: "missing hostname"}
	}

	if _, blocked := metadataHosts[hostname]; blocked {
		return BlockedError{Host: hostname, Reason: "access to metadata endpoints is blocked"}
	}
	if _, blocked := localhostNames[hostname]; blocked {
		return BlockedError{Host: hostname, Reason: "access to localhost is blocked"}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if forbiddenIP(ip) {
			return BlockedError{Host: hostname, Reason: "access to private IP ranges is blocked"}
		}
		return nil
	}

	resolver := g.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		// DNS failure: not fatal here
		return nil
	}
	for _, addr := range addrs {
		if forbiddenIP(addr.IP) {
			return BlockedError{Host: hostname, Reason: "hostname resolves to private IP " + addr.IP.String()}
		}
	}
	return nil
}

// forbiddenIP reports whether an address falls in any of the blocked
// ranges: 10/8, 172.16/12, 192.168/16, 127/8, 169.254/16, ::1/128,
// fc00::/7, fe80::/10.
func forbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
