// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package sqlstore

// Every SQL statement the store issues, as plain constants with ?
// placeholders; rebind() translates them per dialect at call sites.
// The status-conditioned UPDATEs are what enforce the state machine:
// a transition only lands if the row is still in the state the caller
// observed.

// jobColumns lists every job column, in the order scanJob expects.
const jobColumns = `id, normalized_url, main_domain, status, attempts,
	created_at, started_at, finished_at, error_code, error_message,
	render_mode, navigation_timeout_seconds, job_timeout_seconds,
	max_domain_wait_seconds, max_retries, deduplicated,
	submission_date, metadata`

const (
	selectJobByID = `SELECT ` + jobColumns + ` FROM job WHERE id=?`

	selectJobByFingerprint = `SELECT ` + jobColumns + ` FROM job
		WHERE normalized_url=? AND submission_date=?`

	// The claim candidate: oldest job in a status, with the job ID
	// as a stable tie-break.  forUpdate() appends the row lock on
	// dialects that have one.
	selectCandidate = `SELECT ` + jobColumns + ` FROM job
		WHERE status=? ORDER BY created_at, id LIMIT 1`

	selectRunningJobs = `SELECT ` + jobColumns + ` FROM job WHERE status=?`

	insertJobRow = `INSERT INTO job(
		id, normalized_url, main_domain, status, attempts, created_at,
		render_mode, navigation_timeout_seconds, job_timeout_seconds,
		max_domain_wait_seconds, max_retries, deduplicated,
		submission_date, metadata
	) VALUES(?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	markJobDeduplicated = `UPDATE job SET deduplicated=? WHERE id=?`

	// Claim transition; also clears any error left by a previous
	// attempt.
	markJobRunning = `UPDATE job
		SET status=?, started_at=?, attempts=attempts+1,
		    error_code=NULL, error_message=NULL
		WHERE id=? AND status=?`

	markJobWaiting = `UPDATE job SET status=? WHERE id=? AND status=?`

	succeedJob = `UPDATE job
		SET status=?, error_code=NULL, error_message=NULL, finished_at=?
		WHERE id=? AND status=?`

	failJob = `UPDATE job
		SET status=?, error_code=?, error_message=?, finished_at=?
		WHERE id=? AND status=?`

	requeueJob = `UPDATE job
		SET status=?, started_at=NULL, error_code=NULL, error_message=NULL
		WHERE id=? AND status=?`

	summarizeJobs = `SELECT status, COUNT(*) FROM job
		GROUP BY status ORDER BY status`

	selectLockHolder = `SELECT job_id FROM domain_lock WHERE main_domain=?`

	insertDomainLock = `INSERT INTO domain_lock(
		main_domain, job_id, locked_at, max_wait_seconds
	) VALUES(?, ?, ?, ?)`

	deleteDomainLock = `DELETE FROM domain_lock WHERE main_domain=?`

	updateHeartbeat = `UPDATE worker_heartbeat
		SET last_heartbeat=?, status=?, current_job_id=?
		WHERE worker_id=?`

	insertHeartbeat = `INSERT INTO worker_heartbeat(
		worker_id, last_heartbeat, status, current_job_id
	) VALUES(?, ?, ?, ?)`

	selectHeartbeat = `SELECT worker_id, last_heartbeat, status, current_job_id
		FROM worker_heartbeat WHERE worker_id=?`
)
