// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeHTTP runs an HTTP server on the specified local address,
// serving the API handler plus the prometheus scrape endpoint.  It
// returns when the context is cancelled, after a bounded graceful
// shutdown.
func ServeHTTP(ctx context.Context, handler http.Handler, laddr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler)

	server := &http.Server{
		Addr:    laddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
