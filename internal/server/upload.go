package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/formdata"
	"github.com/joseph-ayodele/ihm-parser/internal/pdftext"
)

const defaultFilename = "uploaded.pdf"

type upload struct {
	filename string
	model    string
	pdf      []byte
}

type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

func badUpload(msg string) *uploadError {
	return &uploadError{status: http.StatusBadRequest, message: msg}
}

// readUpload validates a multipart PDF upload. Both upload endpoints share it.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, *uploadError) {
	ct := r.Header.Get("Content-Type")
	if !strings.Contains(ct, "multipart/form-data") {
		return nil, badUpload("Content-Type must be multipart/form-data")
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &uploadError{
				status:  http.StatusRequestEntityTooLarge,
				message: fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit),
			}
		}
		return nil, badUpload("Failed to read request body")
	}
	if len(body) == 0 {
		return nil, badUpload("Empty request body")
	}

	form, err := formdata.Decode(ct, body)
	if err != nil {
		return nil, badUpload("Failed to parse form data: " + common.PublicMessage(err))
	}

	fld, ok := form["file"]
	if !ok {
		return nil, badUpload("Missing required field 'file'. Please upload a PDF file.")
	}
	if !fld.IsFile() {
		return nil, badUpload("Invalid file upload")
	}
	if !pdftext.HasSignature(fld.Data) {
		return nil, badUpload("Invalid file format. Please upload a valid PDF file.")
	}

	filename := fld.Filename
	if filename == "" {
		filename = defaultFilename
	}
	model := strings.TrimSpace(form.Text("model", s.defaultModel))
	if model == "" {
		model = s.defaultModel
	}
	return &upload{filename: filename, model: model, pdf: fld.Data}, nil
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	up, uerr := s.readUpload(w, r)
	if uerr != nil {
		s.logger.Warn("http.upload.rejected", "reason", uerr.message)
		writeError(w, uerr.status, uerr.message)
		return
	}

	s.logger.Info("http.upload.start", "filename", up.filename, "model", up.model, "bytes", len(up.pdf))
	res, err := s.jobs.Run(r.Context(), up.filename, up.model, up.pdf)
	if err != nil {
		status, msg := pipelineError(err)
		s.logger.Error("http.upload.failed", "filename", up.filename, "error", err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type startUploadResponse struct {
	Success bool      `json:"success"`
	JobID   uuid.UUID `json:"jobId"`
	Message string    `json:"message"`
}

func (s *Server) startUpload(w http.ResponseWriter, r *http.Request) {
	up, uerr := s.readUpload(w, r)
	if uerr != nil {
		s.logger.Warn("http.start_upload.rejected", "reason", uerr.message)
		writeError(w, uerr.status, uerr.message)
		return
	}

	id, err := s.jobs.Submit(r.Context(), up.filename, up.model, up.pdf)
	if err != nil {
		s.logger.Error("http.start_upload.failed", "filename", up.filename, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create job: "+common.PublicMessage(err))
		return
	}
	s.logger.Info("http.start_upload.created", "job_id", id, "filename", up.filename)
	writeJSON(w, http.StatusOK, startUploadResponse{
		Success: true,
		JobID:   id,
		Message: "Job created. Poll /api/status?id=<jobId> for results.",
	})
}
