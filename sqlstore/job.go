// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package sqlstore

import (
	"database/sql"
	"errors"
	"time"

	"github.com/diffeo/go-webprint/webprint"
	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// errClaimRace flags an optimistic claim that lost to a concurrent
// worker.  The transaction rolls back (undoing the lock insert) and
// the claim call reports no work.
var errClaimRace = errors.New("job claimed by another worker")

func (st *sqlStore) Submit(sub webprint.Submission) (webprint.Job, bool, error) {
	now := st.clock.Now().UTC()
	date := webprint.SubmissionDate(now)

	job, found, err := st.findFingerprint(sub.NormalizedURL, date)
	if err != nil {
		return webprint.Job{}, false, err
	}
	if found {
		return job, true, nil
	}

	job = webprint.Job{
		ID:             uuid.NewV4().String(),
		URL:            sub.NormalizedURL,
		MainDomain:     sub.MainDomain,
		Status:         webprint.Queued,
		CreatedAt:      now,
		Config:         sub.Config,
		SubmissionDate: date,
		Metadata:       sub.Metadata,
	}
	err = st.insertJob(job)
	if isUniqueViolation(err) {
		// Dedup race: another submitter inserted the same
		// fingerprint between our SELECT and INSERT.  The
		// unique index is the source of truth; re-read and
		// return the winner.
		job, found, err = st.findFingerprint(sub.NormalizedURL, date)
		if err == nil && !found {
			err = errors.New("job missing after unique violation")
		}
		if err != nil {
			return webprint.Job{}, false, err
		}
		return job, true, nil
	}
	if err != nil {
		return webprint.Job{}, false, err
	}
	return job, false, nil
}

// findFingerprint looks up the job for a (normalized_url,
// submission_date) pair.  A hit also records the deduplication on the
// stored row.
func (st *sqlStore) findFingerprint(normalizedURL, date string) (job webprint.Job, found bool, err error) {
	err = st.withTx(func(tx *sql.Tx) error {
		found = false
		row := tx.QueryRow(st.rebind(selectJobByFingerprint), normalizedURL, date)
		job, err = scanJob(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if !job.Deduplicated {
			job.Deduplicated = true
			_, err = tx.Exec(st.rebind(markJobDeduplicated), true, job.ID)
			return err
		}
		return nil
	})
	return
}

// insertJob adds a brand-new queued job row.
func (st *sqlStore) insertJob(job webprint.Job) error {
	metadata, err := mapToBytes(job.Metadata)
	if err != nil {
		return err
	}
	return st.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(st.rebind(insertJobRow),
			job.ID,
			job.URL,
			job.MainDomain,
			statusText(job.Status),
			job.CreatedAt,
			modeText(job.Config.RenderMode),
			int64(job.Config.NavigationTimeout.Seconds()),
			int64(job.Config.JobTimeout.Seconds()),
			int64(job.Config.MaxDomainWait.Seconds()),
			job.Config.MaxRetries,
			false,
			job.SubmissionDate,
			metadata,
		)
		return err
	})
}

func (st *sqlStore) Job(jobID string) (webprint.Job, error) {
	var job webprint.Job
	err := st.withTx(func(tx *sql.Tx) error {
		var err error
		job, err = scanJob(tx.QueryRow(st.rebind(selectJobByID), jobID))
		return err
	})
	if err == sql.ErrNoRows {
		return webprint.Job{}, webprint.ErrNoSuchJob{ID: jobID}
	}
	return job, err
}

func (st *sqlStore) ClaimNext() (*webprint.Job, error) {
	var claimed *webprint.Job
	err := st.withTx(func(tx *sql.Tx) error {
		claimed = nil

		job, found, err := st.candidate(tx, webprint.Queued)
		if err == nil && !found {
			job, found, err = st.candidate(tx, webprint.WaitingDomainLock)
		}
		if err != nil || !found {
			return err
		}

		now := st.clock.Now().UTC()
		locked, err := st.domainLocked(tx, job.MainDomain)
		if err != nil {
			return err
		}
		if locked {
			// Domain busy: park the candidate, or fail it if
			// it has waited out its budget.
			if now.Sub(job.CreatedAt) > job.Config.MaxDomainWait {
				return st.failWaitTimeout(tx, job, now)
			}
			if job.Status != webprint.WaitingDomainLock {
				_, err = tx.Exec(st.rebind(markJobWaiting),
					statusText(webprint.WaitingDomainLock),
					job.ID,
					statusText(webprint.Queued))
				return err
			}
			return nil
		}

		if err = st.insertLock(tx, job, now); err != nil {
			return err
		}
		if err = st.markRunning(tx, &job, now); err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if err == errClaimRace {
		err = nil
	}
	return claimed, err
}

// candidate selects the oldest job in the given status, locking the
// row where the dialect supports it.
func (st *sqlStore) candidate(tx *sql.Tx, status webprint.Status) (webprint.Job, bool, error) {
	query := st.forUpdate(st.rebind(selectCandidate))
	job, err := scanJob(tx.QueryRow(query, statusText(status)))
	if err == sql.ErrNoRows {
		return webprint.Job{}, false, nil
	}
	if err != nil {
		return webprint.Job{}, false, err
	}
	return job, true, nil
}

// domainLocked reports whether a domain lock row exists.
func (st *sqlStore) domainLocked(tx *sql.Tx, mainDomain string) (bool, error) {
	var holder string
	err := tx.QueryRow(st.rebind(selectLockHolder), mainDomain).Scan(&holder)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// insertLock acquires the domain lock for a job.
func (st *sqlStore) insertLock(tx *sql.Tx, job webprint.Job, now time.Time) error {
	_, err := tx.Exec(st.rebind(insertDomainLock),
		job.MainDomain,
		job.ID,
		now,
		int64(job.Config.MaxDomainWait.Seconds()))
	return err
}

// deleteLock releases the domain lock.
func (st *sqlStore) deleteLock(tx *sql.Tx, mainDomain string) error {
	_, err := tx.Exec(st.rebind(deleteDomainLock), mainDomain)
	return err
}

// markRunning optimistically transitions a candidate into Running,
// stamping its start time and incrementing its attempt count.  The
// status condition catches a concurrent worker having gotten there
// first.
func (st *sqlStore) markRunning(tx *sql.Tx, job *webprint.Job, now time.Time) error {
	result, err := tx.Exec(st.rebind(markJobRunning),
		statusText(webprint.Running),
		now,
		job.ID,
		statusText(job.Status))
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return errClaimRace
	}
	job.Status = webprint.Running
	job.StartedAt = now
	job.Attempts++
	job.ErrorCode = ""
	job.ErrorMessage = ""
	return nil
}

// failWaitTimeout fails a candidate whose domain wait budget is
// exhausted.
func (st *sqlStore) failWaitTimeout(tx *sql.Tx, job webprint.Job, now time.Time) error {
	_, err := tx.Exec(st.rebind(failJob),
		statusText(webprint.Failed),
		string(webprint.CodeDomainWaitTimeout),
		"exceeded max domain wait",
		now,
		job.ID,
		statusText(job.Status))
	return err
}

func (st *sqlStore) Complete(jobID string, outcome webprint.Outcome) error {
	return st.terminate(jobID, outcome, false)
}

func (st *sqlStore) Requeue(jobID string) error {
	return st.terminate(jobID, webprint.Outcome{}, true)
}

// terminate implements Complete and Requeue: both require a Running
// job, release its domain lock, and rewrite its status row.
func (st *sqlStore) terminate(jobID string, outcome webprint.Outcome, requeue bool) error {
	missing := false
	err := st.withTx(func(tx *sql.Tx) error {
		missing = false
		job, err := scanJob(tx.QueryRow(st.rebind(selectJobByID), jobID))
		if err == sql.ErrNoRows {
			missing = true
			return nil
		}
		if err != nil {
			return err
		}
		if job.Status != webprint.Running {
			op := "complete"
			if requeue {
				op = "requeue"
			}
			logrus.WithFields(logrus.Fields{
				"job_id": jobID,
				"status": statusText(job.Status),
			}).Warnf("%v on non-running job ignored", op)
			return nil
		}

		if err = st.deleteLock(tx, job.MainDomain); err != nil {
			return err
		}

		now := st.clock.Now().UTC()
		running := statusText(webprint.Running)
		switch {
		case requeue:
			_, err = tx.Exec(st.rebind(requeueJob),
				statusText(webprint.Queued), jobID, running)
		case outcome.Success:
			_, err = tx.Exec(st.rebind(succeedJob),
				statusText(webprint.Succeeded), now, jobID, running)
		default:
			_, err = tx.Exec(st.rebind(failJob),
				statusText(webprint.Failed),
				string(outcome.Code),
				outcome.Message,
				now,
				jobID,
				running)
		}
		return err
	})
	if err == nil && missing {
		return webprint.ErrNoSuchJob{ID: jobID}
	}
	return err
}
