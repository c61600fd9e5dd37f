// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package ssrf

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// cannedResolver resolves every hostname to a fixed set of addresses.
type cannedResolver struct {
	addrs []net.IPAddr
	err   error
}

func (r cannedResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return r.addrs, r.err
}

func resolverFor(addrs ...string) cannedResolver {
	r := cannedResolver{}
	for _, addr := range addrs {
		r.addrs = append(r.addrs, net.IPAddr{IP: net.ParseIP(addr)})
	}
	return r
}

func TestForbiddenIP(t *testing.T) {
	for _, addr := range []string{
		"127.0.0.1", "10.0.0.1", "192.168.1.1", "172.16.0.1",
		"169.254.1.1", "::1", "fc00::1", "fe80::1",
	} {
		assert.True(t, forbiddenIP(net.ParseIP(addr)), addr)
	}
	for _, addr := range []string{"8.8.8.8", "1.1.1.1", "2001:4860:4860::8888"} {
		assert.False(t, forbiddenIP(net.ParseIP(addr)), addr)
	}
}

func TestCheckLocalhost(t *testing.T) {
	guard := &Guard{Resolver: resolverFor("8.8.8.8")}
	err := guard.Check(context.Background(), "http://localhost/")
	assert.Error(t, err)
	err = guard.Check(context.Background(), "http://localhost.localdomain/")
	assert.Error(t, err)
}

func TestCheckPrivateIPLiteral(t *testing.T) {
	guard := &Guard{Resolver: resolverFor("8.8.8.8")}
	err := guard.Check(context.Background(), "http://127.0.0.1/")
	assert.Error(t, err)
	err = guard.Check(context.Background(), "http://10.1.2.3/x")
	assert.Error(t, err)
}

func TestCheckMetadataEndpoint(t *testing.T) {
	guard := &Guard{Resolver: resolverFor("8.8.8.8")}
	err := guard.Check(context.Background(), "http://169.254.169.254/latest/meta-data/")
	assert.Error(t, err)
	err = guard.Check(context.Background(), "http://metadata.google.internal/")
	assert.Error(t, err)
}

func TestCheckResolvedPrivate(t *testing.T) {
	guard := &Guard{Resolver: resolverFor("93.184.216.34", "10.0.0.7")}
	err := guard.Check(context.Background(), "https://example.com/")
	if assert.Error(t, err) {
		blocked, isBlocked := err.(BlockedError)
		if assert.True(t, isBlocked) {
			assert.Equal(t, "example.com", blocked.Host)
		}
	}
}

func TestCheckPublic(t *testing.T) {
	guard := &Guard{Resolver: resolverFor("93.184.216.34")}
	err := guard.Check(context.Background(), "https://example.com/")
	assert.NoError(t, err)
}

func TestCheckDNSFailureNotFatal(t *testing.T) {
	guard := &Guard{Resolver: cannedResolver{err: errors.New("no such host")}}
	err := guard.Check(context.Background(), "https://example.invalid/")
	assert.NoError(t, err)
}

func TestResolveRedirectsNoRedirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	guard := &Guard{Resolver: resolverFor("93.184.216.34")}
	final, err := guard.ResolveRedirects(context.Background(), server.URL+"/page")
	if assert.NoError(t, err) {
		assert.Equal(t, server.URL+"/page", final)
	}
}

func TestResolveRedirectsBlockedHop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://127.0.0.1/secret", http.StatusFound)
	}))
	defer server.Close()

	guard := &Guard{Resolver: resolverFor("93.184.216.34")}
	_, err := guard.ResolveRedirects(context.Background(), server.URL+"/page")
	assert.Error(t, err)
	_, isBlocked := err.(BlockedError)
	assert.True(t, isBlocked)
}

func TestResolveRedirectsRelative(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/b")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	// The relative hop resolves against the test server, whose
	// host is a loopback literal, so hop validation must see the
	// absolute URL and reject it.
	guard := &Guard{Resolver: resolverFor("93.184.216.34")}
	_, err := guard.ResolveRedirects(context.Background(), server.URL+"/a")
	assert.Error(t, err)
}

func TestResolveRedirectsNetworkErrorNotFatal(t *testing.T) {
	guard := &Guard{
		Resolver: resolverFor("93.184.216.34"),
		Client: &http.Client{Transport: failingTransport{}},
	}
	final, err := guard.ResolveRedirects(context.Background(), "https://example.com/x")
	if assert.NoError(t, err) {
		assert.Equal(t, "https://example.com/x", final)
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}
