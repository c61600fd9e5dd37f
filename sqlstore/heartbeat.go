// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package sqlstore

import (
	"database/sql"

	"github.com/diffeo/go-webprint/webprint"
)

func (st *sqlStore) Heartbeat(workerID string, state webprint.WorkerState, currentJobID string) error {
	return st.withTx(func(tx *sql.Tx) error {
		now := st.clock.Now().UTC()
		result, err := tx.Exec(st.rebind(updateHeartbeat),
			now, string(state), nullableString(currentJobID), workerID)
		if err != nil {
			return err
		}
		count, err := result.RowsAffected()
		if err != nil || count > 0 {
			return err
		}

		// First beat for this worker; create the row
		_, err = tx.Exec(st.rebind(insertHeartbeat),
			workerID, now, string(state), nullableString(currentJobID))
		return err
	})
}

func (st *sqlStore) WorkerStatus(workerID string) (webprint.Heartbeat, error) {
	var beat webprint.Heartbeat
	err := st.withTx(func(tx *sql.Tx) error {
		var (
			state        string
			currentJobID sql.NullString
		)
		err := tx.QueryRow(st.rebind(selectHeartbeat), workerID).Scan(
			&beat.WorkerID, &beat.LastHeartbeat, &state, &currentJobID)
		if err != nil {
			return err
		}
		beat.LastHeartbeat = beat.LastHeartbeat.UTC()
		beat.State = webprint.WorkerState(state)
		beat.CurrentJobID = nullStringToString(currentJobID)
		return nil
	})
	if err == sql.ErrNoRows {
		return webprint.Heartbeat{}, webprint.ErrNoSuchWorker{WorkerID: workerID}
	}
	return beat, err
}

// nullableString maps "" to a SQL NULL.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
