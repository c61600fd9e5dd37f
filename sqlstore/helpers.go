// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package sqlstore

import (
	"database/sql"
	"time"

	"github.com/diffeo/go-webprint/webprint"
	"github.com/ugorji/go/codec"
)

// dictionary <-> binary encoders

// mapToBytes encodes a metadata map as CBOR for the blob column.  A
// nil or empty map becomes a SQL NULL.
func mapToBytes(in map[string]interface{}) (out []byte, err error) {
	if len(in) == 0 {
		return nil, nil
	}
	cbor := new(codec.CborHandle)
	encoder := codec.NewEncoderBytes(&out, cbor)
	err = encoder.Encode(in)
	return
}

// bytesToMap decodes a CBOR metadata blob.
func bytesToMap(in []byte) (out map[string]interface{}, err error) {
	if len(in) == 0 {
		return nil, nil
	}
	cbor := new(codec.CborHandle)
	decoder := codec.NewDecoderBytes(in, cbor)
	err = decoder.Decode(&out)
	return
}

// other SQL decoders

// nullTimeToTime decodes a NullTime to a time, by mapping a null
// value to zero time.  Some stores hand back naive timestamps, so the
// result is forced to UTC.
func nullTimeToTime(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time.UTC()
	}
	return time.Time{}
}

// nullStringToString decodes a NullString, mapping null to "".
func nullStringToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// statusText renders a status as its storage string.
func statusText(status webprint.Status) string {
	text, err := status.MarshalText()
	if err != nil {
		// Only reachable with a corrupted status value
		panic(err)
	}
	return string(text)
}

// modeText renders a render mode as its storage string.
func modeText(mode webprint.RenderMode) string {
	text, err := mode.MarshalText()
	if err != nil {
		panic(err)
	}
	return string(text)
}

// rowScanner is the common surface of *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob reads one row of jobColumns into a Job.
func scanJob(row rowScanner) (webprint.Job, error) {
	var (
		job          webprint.Job
		status       string
		createdAt    time.Time
		startedAt    sql.NullTime
		finishedAt   sql.NullTime
		errorCode    sql.NullString
		errorMessage sql.NullString
		renderMode   string
		navSeconds   int64
		jobSeconds   int64
		waitSeconds  int64
		metadata     []byte
	)
	err := row.Scan(
		&job.ID,
		&job.URL,
		&job.MainDomain,
		&status,
		&job.Attempts,
		&createdAt,
		&startedAt,
		&finishedAt,
		&errorCode,
		&errorMessage,
		&renderMode,
		&navSeconds,
		&jobSeconds,
		&waitSeconds,
		&job.Config.MaxRetries,
		&job.Deduplicated,
		&job.SubmissionDate,
		&metadata,
	)
	if err != nil {
		return webprint.Job{}, err
	}
	if err = job.Status.UnmarshalText([]byte(status)); err != nil {
		return webprint.Job{}, err
	}
	if err = job.Config.RenderMode.UnmarshalText([]byte(renderMode)); err != nil {
		return webprint.Job{}, err
	}
	job.CreatedAt = createdAt.UTC()
	job.StartedAt = nullTimeToTime(startedAt)
	job.FinishedAt = nullTimeToTime(finishedAt)
	job.ErrorCode = webprint.ErrorCode(nullStringToString(errorCode))
	job.ErrorMessage = nullStringToString(errorMessage)
	job.Config.NavigationTimeout = time.Duration(navSeconds) * time.Second
	job.Config.JobTimeout = time.Duration(jobSeconds) * time.Second
	job.Config.MaxDomainWait = time.Duration(waitSeconds) * time.Second
	job.Metadata, err = bytesToMap(metadata)
	if err != nil {
		return webprint.Job{}, err
	}
	return job, nil
}
