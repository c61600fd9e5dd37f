// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package backend provides a standard way to construct a webprint
// queue based on command-line flags or configuration strings.
package backend

import (
	"errors"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-webprint/memstore"
	"github.com/diffeo/go-webprint/sqlstore"
	"github.com/diffeo/go-webprint/webprint"
)

// Backend describes user-visible parameters to store queue data.
// This implements the flag.Value interface, and so a typical use is
//
//	func main() {
//	    backend := backend.Backend{Implementation: "sqlite", Address: "./data/app.db"}
//	    flag.Var(&backend, "backend", "impl:address of queue storage")
//	    flag.Parse()
//	    queue, err := backend.Queue()
//	}
type Backend struct {
	// Implementation holds the name of the implementation: one of
	// "memory", "sqlite", or "postgres".
	Implementation string

	// Address holds some backend-specific address: a database
	// file path for "sqlite", a connection string for "postgres".
	Address string
}

// Queue creates a new queue interface.  This generally should be only
// called once.  If the backend has in-process state, such as a
// database connection pool or an in-memory store, calling this
// multiple times will create multiple copies of that state.  In
// particular, if b.Implementation is "memory", multiple calls to this
// will create multiple independent queue "worlds".
func (b *Backend) Queue() (webprint.Queue, error) {
	return b.QueueWithClock(clock.New())
}

// QueueWithClock creates a new queue interface with an explicit time
// source; see Queue.  This entry point is intended for tests.
func (b *Backend) QueueWithClock(clk clock.Clock) (webprint.Queue, error) {
	switch b.Implementation {
	case "memory":
		return memstore.NewWithClock(clk), nil
	case "sqlite":
		return sqlstore.NewWithClock("sqlite3", sqliteDSN(b.Address), clk)
	case "postgres":
		return sqlstore.NewWithClock("postgres", b.Address, clk)
	default:
		return nil, errors.New("unknown queue backend " + b.Implementation)
	}
}

// sqliteDSN decorates a database file path with the connection
// parameters the queue wants: WAL journaling, a generous busy
// timeout, and UTC interpretation of stored timestamps.
func sqliteDSN(path string) string {
	if path == "" {
		path = "./data/app.db"
	}
	if strings.Contains(path, ":memory:") {
		return path
	}
	return "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_loc=UTC"
}

// String renders a backend description as a string.
func (b *Backend) String() string {
	if b.Address == "" {
		return b.Implementation
	}
	return b.Implementation + ":" + b.Address
}

// Set parses a string into an existing backend description.  The
// string should be of the form "implementation:address", where
// address can be any string.
//
// This is part of the flag.Value interface.  Note that neither this
// function nor String() attempts to validate the b.Address part of
// the string or attempts to actually make a connection.
func (b *Backend) Set(param string) (err error) {
	parts := strings.SplitN(param, ":", 2)
	switch len(parts) {
	case 0:
		err = errors.New("must specify a backend type")
	case 1:
		b.Implementation = parts[0]
		b.Address = ""
	case 2:
		b.Implementation = parts[0]
		b.Address = parts[1]
	default:
		err = errors.New("strings.SplitN did something odd")
	}
	return
}
