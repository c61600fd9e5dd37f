// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package sqlstore provides a durable implementation of the webprint
// job queue on top of database/sql.  It speaks two dialects: SQLite
// (the default deployment, a single WAL file on disk) and PostgreSQL.
//
// All multi-row mutations (claim, complete, requeue) run inside a
// single transaction.  On PostgreSQL, candidate selection uses FOR
// UPDATE SKIP LOCKED so that additional workers never fight over one
// row; SQLite serializes writers on its own, and claims fall back to
// an optimistic UPDATE ... WHERE status=... check.
package sqlstore

import (
	"database/sql"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-webprint/webprint"

	// Both database drivers register themselves on import.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// dialect selects driver-specific SQL behavior.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore is the root object of the SQL-backed queue.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	clock   clock.Clock
}

// New creates a webprint Queue against the given database.  driver is
// "sqlite3" or "postgres"; dsn is the driver-specific connection
// string.  The schema is created or upgraded as needed.
//
// The returned Queue carries a connection pool with it and should be
// shared across the application; call New sparingly, ideally exactly
// once.
func New(driver, dsn string) (webprint.Queue, error) {
	return NewWithClock(driver, dsn, clock.New())
}

// NewWithClock creates a webprint Queue using an explicit time
// source.  Most application code should call New and use the real
// clock; this entry point is intended for tests that need to inject a
// mock time source.
func NewWithClock(driver, dsn string, clk clock.Clock) (webprint.Queue, error) {
	var d dialect
	switch driver {
	case "postgres":
		d = dialectPostgres
	default:
		d = dialectSQLite
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if d == dialectSQLite {
		// SQLite handles exactly one writer; let database/sql
		// enforce that rather than colliding in the driver.
		db.SetMaxOpenConns(1)
	}
	if err = Upgrade(db, driver); err != nil {
		return nil, err
	}
	return &sqlStore{db: db, dialect: d, clock: clk}, nil
}

func (st *sqlStore) Ping() error {
	return st.db.Ping()
}

// forUpdate appends the row-claiming lock clause where the dialect
// supports it.
func (st *sqlStore) forUpdate(query string) string {
	if st.dialect == dialectPostgres {
		return query + " FOR UPDATE SKIP LOCKED"
	}
	return query
}
