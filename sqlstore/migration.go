// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package sqlstore

import (
	"database/sql"
	"fmt"

	"github.com/rubenv/sql-migrate"
)

// This file maintains the database migration code.  See
// https://github.com/rubenv/sql-migrate for details of what goes in
// here.  The schema is small enough to keep in source as a memory
// migration source rather than generated assets.

// migrationSource builds the migration list for a dialect.  The only
// dialect-specific detail is the binary column type for metadata
// blobs.
func migrationSource(driver string) migrate.MigrationSource {
	blobType := "BLOB"
	if driver == "postgres" {
		blobType = "BYTEA"
	}
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "001-jobs",
				Up: []string{
					fmt.Sprintf(`CREATE TABLE job (
    id TEXT PRIMARY KEY,
    normalized_url TEXT NOT NULL,
    main_domain TEXT NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    error_code TEXT,
    error_message TEXT,
    render_mode TEXT NOT NULL,
    navigation_timeout_seconds INTEGER NOT NULL,
    job_timeout_seconds INTEGER NOT NULL,
    max_domain_wait_seconds INTEGER NOT NULL,
    max_retries INTEGER NOT NULL,
    deduplicated BOOLEAN NOT NULL DEFAULT FALSE,
    submission_date TEXT NOT NULL,
    metadata %v
)`, blobType),
					`CREATE UNIQUE INDEX job_dedup ON job(normalized_url, submission_date)`,
					`CREATE INDEX job_status_created ON job(status, created_at)`,
					`CREATE INDEX job_main_domain ON job(main_domain)`,
				},
				Down: []string{
					`DROP TABLE job`,
				},
			},
			{
				Id: "002-domain-locks",
				Up: []string{
					`CREATE TABLE domain_lock (
    main_domain TEXT PRIMARY KEY,
    job_id TEXT NOT NULL,
    locked_at TIMESTAMP NOT NULL,
    max_wait_seconds INTEGER NOT NULL
)`,
				},
				Down: []string{
					`DROP TABLE domain_lock`,
				},
			},
			{
				Id: "003-worker-heartbeats",
				Up: []string{
					`CREATE TABLE worker_heartbeat (
    worker_id TEXT PRIMARY KEY,
    last_heartbeat TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    current_job_id TEXT
)`,
				},
				Down: []string{
					`DROP TABLE worker_heartbeat`,
				},
			},
		},
	}
}

// Upgrade upgrades a database to the latest database schema version.
func Upgrade(db *sql.DB, driver string) error {
	_, err := migrate.Exec(db, driver, migrationSource(driver), migrate.Up)
	return err
}

// Drop clears a database by running all of the migrations in reverse,
// ultimately resulting in dropping all of the tables.
func Drop(db *sql.DB, driver string) error {
	_, err := migrate.Exec(db, driver, migrationSource(driver), migrate.Down)
	return err
}
