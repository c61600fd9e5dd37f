// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Statistics generation for everything that needs it.

package sqlstore

import (
	"database/sql"

	"github.com/diffeo/go-webprint/webprint"
)

// Summarize counts jobs by status in a single grouped query.  This
// feeds the prometheus observer and operational tooling.
func (st *sqlStore) Summarize() (webprint.Summary, error) {
	var result webprint.Summary
	err := st.withTx(func(tx *sql.Tx) error {
		result = nil
		rows, err := tx.Query(summarizeJobs)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				record webprint.SummaryRecord
				status string
			)
			if err := rows.Scan(&status, &record.Count); err != nil {
				return err
			}
			if err := record.Status.UnmarshalText([]byte(status)); err != nil {
				return err
			}
			result = append(result, record)
		}
		return rows.Err()
	})
	if err != nil {
		return webprint.Summary{}, err
	}
	return result, nil
}
