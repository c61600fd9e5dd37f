// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package sqlstore

// This file contains the generic database plumbing: withTx() to do
// work in a transaction that is retried on transient concurrency
// errors, the driver-error classifiers, and rebind() to translate the
// package's ?-placeholder statements into each dialect's syntax.

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// withTx calls some function with a database/sql transaction object.
// If f panics or returns a non-nil error, rolls the transaction back;
// otherwise commits it before returning.  Returns the error value from
// f, or some other error related to transaction management.
//
// The work is repeated if the database reports a serialization
// failure (PostgreSQL) or a busy/locked table (SQLite), so f must be
// safe to run more than once.
func (st *sqlStore) withTx(f func(*sql.Tx) error) (err error) {
	var (
		tx   *sql.Tx
		done bool
	)

	// If we have a failure, roll back; and if that rollback fails
	// and we don't yet have an error, set the error
	defer func() {
		if tx != nil && !done {
			err2 := tx.Rollback()
			if err == nil {
				err = err2
			}
		}
	}()

	// Run in a loop, repeating the work on serialization errors
	for {
		tx, err = st.db.Begin()
		if err != nil {
			return
		}

		err = f(tx)

		// If that succeeded, commit
		if err == nil {
			err = tx.Commit()
			done = true
		}

		if retryableTxError(err) {
			err = tx.Rollback()
			if err == sql.ErrTxDone {
				// We want to roll back, but we can't,
				// because we've already rolled back;
				// not an error
				err = nil
			} else if err != nil {
				return
			}
			tx = nil
			done = false
			continue
		}

		break
	}

	return
}

// retryableTxError recognizes transient concurrency errors that a
// fresh transaction can get past.
func retryableTxError(err error) bool {
	if pqerr, isPq := err.(*pq.Error); isPq {
		// serialization_failure
		return pqerr.Code == "40001"
	}
	if sqerr, isSqlite := err.(sqlite3.Error); isSqlite {
		return sqerr.Code == sqlite3.ErrBusy || sqerr.Code == sqlite3.ErrLocked
	}
	return false
}

// isUniqueViolation recognizes a unique-constraint failure in either
// dialect; the submit path treats it as "somebody else got there
// first".
func isUniqueViolation(err error) bool {
	if pqerr, isPq := err.(*pq.Error); isPq {
		return pqerr.Code == "23505"
	}
	if sqerr, isSqlite := err.(sqlite3.Error); isSqlite {
		return sqerr.Code == sqlite3.ErrConstraint
	}
	return false
}

// rebind rewrites a statement's ? placeholders for the store's
// dialect: numbered $1, $2, ... on PostgreSQL, unchanged on SQLite.
// The queries in this package never put a literal question mark
// inside a string constant, which keeps this a plain scan.
func (st *sqlStore) rebind(query string) string {
	if st.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
