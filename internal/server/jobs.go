package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/jobs"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	wsWriteTimeout  = 10 * time.Second
	maxProcessBody  = 1 << 16
)

// jobID reads the id query parameter; jobId is accepted as an alias.
func jobID(r *http.Request) (string, bool) {
	q := r.URL.Query()
	id := strings.TrimSpace(q.Get("id"))
	if id == "" {
		id = strings.TrimSpace(q.Get("jobId"))
	}
	return id, id != ""
}

// lookupID validates the id query parameter and writes the error response itself.
func lookupID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := jobID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing required parameter: id")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found: "+raw)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) jobError(w http.ResponseWriter, id uuid.UUID, err error) {
	status := common.HTTPStatus(err)
	switch status {
	case http.StatusNotFound:
		writeError(w, status, "Job not found: "+id.String())
	case http.StatusInternalServerError:
		s.logger.Error("http.job.failed", "job_id", id, "error", err)
		writeError(w, status, "Internal server error: "+common.PublicMessage(err))
	default:
		writeError(w, status, common.PublicMessage(err))
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	id, ok := lookupID(w, r)
	if !ok {
		return
	}
	view, err := s.jobs.Status(r.Context(), id)
	if err != nil {
		s.jobError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type processRequest struct {
	JobID string `json:"jobId"`
}

type processResponse struct {
	Success bool         `json:"success"`
	JobID   uuid.UUID    `json:"jobId"`
	Result  *jobs.Result `json:"result"`
}

// process runs a submitted job to completion. A job that is already done answers with
// its stored result.
func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxProcessBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "Empty request body")
		return
	}
	var req processRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	raw := strings.TrimSpace(req.JobID)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Missing jobId")
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found: "+raw)
		return
	}

	res, err := s.jobs.Execute(r.Context(), id)
	if err != nil {
		status := common.HTTPStatus(err)
		switch status {
		case http.StatusNotFound:
			writeError(w, status, "Job not found: "+raw)
		case http.StatusBadRequest:
			writeError(w, status, common.PublicMessage(err))
		default:
			s.logger.Error("http.process.failed", "job_id", id, "error", err)
			writeError(w, status, "Processing failed: "+common.PublicMessage(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, processResponse{Success: true, JobID: id, Result: res})
}

// watch upgrades to a websocket and pushes the status view on every change until the
// job reaches a terminal state.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	id, ok := lookupID(w, r)
	if !ok {
		return
	}
	if _, err := s.jobs.Status(r.Context(), id); err != nil {
		s.jobError(w, id, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("http.watch.upgrade_failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go func() {
		// Reads only detect the client going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	err = s.jobs.Watch(ctx, id, func(v *jobs.StatusView) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	})
	switch {
	case err == nil:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
			time.Now().Add(wsWriteTimeout))
	case errors.Is(err, context.Canceled):
		s.logger.Debug("http.watch.client_gone", "job_id", id)
	default:
		s.logger.Warn("http.watch.failed", "job_id", id, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "watch failed"),
			time.Now().Add(wsWriteTimeout))
	}
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	id, ok := lookupID(w, r)
	if !ok {
		return
	}
	b, name, err := s.jobs.Export(r.Context(), id)
	if err != nil {
		s.jobError(w, id, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
