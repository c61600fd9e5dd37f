// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package sqlstore

import (
	"database/sql"

	"github.com/diffeo/go-webprint/webprint"
	"github.com/sirupsen/logrus"
)

// RecoverRunning reconciles jobs stranded in Running by a process
// crash.  Each stranded job's domain lock is released; the job is
// requeued if it still has attempt budget, and otherwise failed with
// CodeWorkerCrashed.  Recovery runs in one transaction so a half-done
// reconciliation never becomes visible.
//
// The crashed attempt counts as consumed: a job is requeued only
// while attempts < max_retries+1, which keeps the attempts invariant
// intact across the next claim.
func (st *sqlStore) RecoverRunning() (int, error) {
	count := 0
	err := st.withTx(func(tx *sql.Tx) error {
		count = 0
		stranded, err := st.runningJobs(tx)
		if err != nil {
			return err
		}

		now := st.clock.Now().UTC()
		running := statusText(webprint.Running)
		for _, job := range stranded {
			if err = st.deleteLock(tx, job.MainDomain); err != nil {
				return err
			}
			if job.Attempts < job.Config.MaxRetries+1 {
				_, err = tx.Exec(st.rebind(requeueJob),
					statusText(webprint.Queued), job.ID, running)
			} else {
				_, err = tx.Exec(st.rebind(failJob),
					statusText(webprint.Failed),
					string(webprint.CodeWorkerCrashed),
					"worker crashed while job was running",
					now,
					job.ID,
					running)
			}
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"job_id":   job.ID,
				"attempts": job.Attempts,
			}).Warn("reconciled job stranded in running state")
			count++
		}
		return nil
	})
	return count, err
}

// runningJobs fetches every Running job, completely draining the
// result set before the caller issues further statements on the same
// connection.
func (st *sqlStore) runningJobs(tx *sql.Tx) ([]webprint.Job, error) {
	rows, err := tx.Query(st.rebind(selectRunningJobs), statusText(webprint.Running))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []webprint.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
