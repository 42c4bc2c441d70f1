package jobs

import (
	"context"
	"path"
	"strings"

	"github.com/joseph-ayodele/ihm-parser/internal/async"
)

// HandleTask adapts Execute to an async.Handler for queue workers.
func (s *Service) HandleTask(ctx context.Context, task async.Task) error {
	if task.RequestID != "" {
		s.logger.Debug("jobs.task.received", "job_id", task.JobID, "request_id", task.RequestID)
	}
	_, err := s.Execute(ctx, task.JobID)
	return err
}

func exportName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" || stem == "." || stem == "/" {
		stem = "ihm"
	}
	return stem + "_ewc.xlsx"
}
