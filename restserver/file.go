// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/diffeo/go-webprint/restdata"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/gorilla/mux"
)

// FileGet streams a succeeded job's rendered PDF.  A job that is not
// terminal-succeeded is a client error; a swept or never-written file
// is a 404.
func (api *restAPI) FileGet(resp http.ResponseWriter, req *http.Request) {
	jobID := mux.Vars(req)["job_id"]
	job, err := api.Queue.Job(jobID)
	if err != nil {
		writeError(resp, err)
		return
	}
	if job.Status != webprint.Succeeded {
		writeError(resp, restdata.ErrBadRequest{
			Err: errors.New("job has not succeeded"),
		})
		return
	}

	path := filepath.Join(api.Options.StoragePath, jobID+".pdf")
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		writeError(resp, restdata.ErrNotFound{
			Err: errors.New("PDF file not found (may have been cleaned up)"),
		})
		return
	}
	if err != nil {
		writeError(resp, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(resp, err)
		return
	}
	resp.Header().Set("Content-Type", restdata.PDFMediaType)
	resp.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.pdf"`)
	http.ServeContent(resp, req, jobID+".pdf", info.ModTime(), file)
}

// writeError sends an error with its mapped status and JSON body.
func writeError(resp http.ResponseWriter, err error) {
	response := restdata.ErrorResponse{}
	response.FromError(err)
	writeJSON(resp, restdata.StatusForError(err), response)
}
