// Package jobs runs the IHM pipeline, either inline for a request or as a persisted job
// handed to queue workers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ihm-parser/internal/async"
	"github.com/joseph-ayodele/ihm-parser/internal/classify"
	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/export"
	"github.com/joseph-ayodele/ihm-parser/internal/extraction"
	"github.com/joseph-ayodele/ihm-parser/internal/repository"
)

const noPayloadMessage = "No PDF data in job"

type Service struct {
	pages    PageExtractor
	rows     RowExtractor
	classify Classifier
	codes    CodeProvider
	repo     repository.JobRepository
	queue    async.Queue
	exporter *export.Service
	recorder Recorder
	logger   *slog.Logger

	signalTimeout time.Duration
	watchInterval time.Duration
}

type Option func(*Service)

// WithQueue sets where Submit hands jobs off. Without one, jobs wait for an explicit Execute.
func WithQueue(q async.Queue) Option {
	return func(s *Service) { s.queue = q }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithExporter(e *export.Service) Option {
	return func(s *Service) { s.exporter = e }
}

// WithSignalTimeout bounds the enqueue step of Submit, not the work itself.
func WithSignalTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.signalTimeout = d
		}
	}
}

func WithWatchInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.watchInterval = d
		}
	}
}

func NewService(pages PageExtractor, rows RowExtractor, cls Classifier, codes CodeProvider,
	repo repository.JobRepository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		pages:         pages,
		rows:          rows,
		classify:      cls,
		codes:         codes,
		repo:          repo,
		logger:        logger,
		signalTimeout: 2 * time.Second,
		watchInterval: 2 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.exporter == nil {
		s.exporter = export.NewService(logger)
	}
	return s
}

// Run executes the whole pipeline for one document and returns the classified result.
func (s *Service) Run(ctx context.Context, filename, model string, pdf []byte) (*Result, error) {
	start := time.Now()
	res, err := s.pipeline(ctx, filename, model, pdf)
	s.record(res, err, time.Since(start))
	return res, err
}

func (s *Service) pipeline(ctx context.Context, filename, model string, pdf []byte) (*Result, error) {
	log := s.logger.With("filename", filename, "model", model)
	if id := common.JobIDFromContext(ctx); id != "" {
		log = log.With("job_id", id)
	}

	doc, err := s.pages.Extract(ctx, pdf)
	if err != nil {
		return nil, err
	}
	log.Info("jobs.pipeline.text", "pages", doc.PagesTotal, "chars", len(doc.Text))

	extracted, err := s.rows.Extract(ctx, doc.Text, doc.PagesTotal, model)
	if err != nil {
		return nil, err
	}

	rows := extracted.Rows
	if rows == nil {
		rows = []extraction.Row{}
	}
	if len(rows) > 0 {
		codes, err := s.codes.Get(ctx)
		if err != nil {
			return nil, common.NewAppError("CLASSIFICATION_FAILED", "reference codes unavailable",
				fmt.Errorf("%w: %v", common.ErrClassificationFailed, err))
		}
		cls, err := s.classify.Classify(ctx, rows, codes, model)
		if err != nil {
			return nil, err
		}
		classify.Apply(rows, cls)
	}
	log.Info("jobs.pipeline.done", "rows", len(rows))

	return &Result{
		Success:      true,
		Filename:     filename,
		ModelUsed:    model,
		DocumentMeta: extracted.DocumentMeta,
		Rows:         rows,
		TotalItems:   len(rows),
	}, nil
}

// Submit records a processing job and signals a worker. A failed signal is logged only:
// the job stays pollable and can be triggered again through Execute.
func (s *Service) Submit(ctx context.Context, filename, model string, pdf []byte) (uuid.UUID, error) {
	job, err := s.repo.Create(ctx, filename, model, pdf)
	if err != nil {
		return uuid.Nil, err
	}
	if s.queue == nil {
		return job.ID, nil
	}

	sigCtx, cancel := context.WithTimeout(ctx, s.signalTimeout)
	defer cancel()
	task := async.Task{JobID: job.ID, SubmittedAt: time.Now(), RequestID: common.RequestIDFromContext(ctx)}
	if err := s.queue.Enqueue(sigCtx, task); err != nil {
		s.logger.Warn("jobs.submit.signal_failed", "job_id", job.ID, "error", err)
	}
	return job.ID, nil
}

// Execute drives a job to a terminal state. A done job returns its stored result without
// running the pipeline again; a failed job returns its stored error.
func (s *Service) Execute(ctx context.Context, id uuid.UUID) (res *Result, err error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case repository.StatusDone:
		s.logger.Info("jobs.execute.already_done", "job_id", id)
		return decodeResult(job.Result)
	case repository.StatusError:
		return nil, common.NewAppError("JOB_FAILED", job.Error, common.ErrJobFailed)
	}

	if len(job.Payload) == 0 {
		s.fail(ctx, id, noPayloadMessage)
		return nil, common.Malformed(noPayloadMessage)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("jobs.execute.panic", "job_id", id, "panic", r)
			err = common.NewAppError("INTERNAL", "internal error while processing job",
				fmt.Errorf("%w: panic: %v", common.ErrJobFailed, r))
			res = nil
			s.fail(context.WithoutCancel(ctx), id, common.PublicMessage(err))
			s.record(nil, err, time.Since(start))
		}
	}()

	s.logger.Info("jobs.execute.start", "job_id", id, "filename", job.Filename, "model", job.Model)
	res, err = s.pipeline(common.WithJobID(ctx, id.String()), job.Filename, job.Model, job.Payload)
	s.record(res, err, time.Since(start))
	if err != nil {
		s.fail(context.WithoutCancel(ctx), id, common.PublicMessage(err))
		return nil, err
	}

	body, err := json.Marshal(res)
	if err != nil {
		s.fail(context.WithoutCancel(ctx), id, "encode result: "+err.Error())
		return nil, fmt.Errorf("encode result: %w", err)
	}
	changed, err := s.repo.Complete(context.WithoutCancel(ctx), id, body)
	if err != nil {
		s.fail(context.WithoutCancel(ctx), id, "store result: "+err.Error())
		return nil, err
	}
	if !changed {
		s.logger.Warn("jobs.execute.already_terminal", "job_id", id)
	}
	s.logger.Info("jobs.execute.done", "job_id", id, "rows", res.TotalItems, "took", time.Since(start))
	return res, nil
}

// fail writes the terminal error state. It runs detached from request cancellation so a
// timed-out job still leaves processing.
func (s *Service) fail(ctx context.Context, id uuid.UUID, message string) {
	if _, err := s.repo.Fail(ctx, id, message); err != nil {
		s.logger.Error("jobs.fail.write_failed", "job_id", id, "error", err)
	}
}

func (s *Service) record(res *Result, err error, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}
	if err != nil {
		s.recorder.JobFinished(repository.StatusError, 0, elapsed)
		return
	}
	s.recorder.JobFinished(repository.StatusDone, res.TotalItems, elapsed)
}

func (s *Service) Status(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		Success:   true,
		JobID:     job.ID,
		Status:    job.Status,
		Filename:  job.Filename,
		CreatedAt: job.CreatedAt,
	}
	switch job.Status {
	case repository.StatusDone:
		res, err := decodeResult(job.Result)
		if err != nil {
			return nil, err
		}
		view.Result = res
	case repository.StatusError:
		view.Error = job.Error
	}
	return view, nil
}

// Watch polls the job and calls fn whenever its status changes, starting with the current
// one. It returns nil after reporting a terminal status.
func (s *Service) Watch(ctx context.Context, id uuid.UUID, fn func(*StatusView) error) error {
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	last := ""
	for {
		view, err := s.Status(ctx, id)
		if err != nil {
			return err
		}
		if view.Status != last {
			if err := fn(view); err != nil {
				return err
			}
			last = view.Status
		}
		if view.Status == repository.StatusDone || view.Status == repository.StatusError {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Export renders a done job as an XLSX workbook and returns it with a download name.
func (s *Service) Export(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != repository.StatusDone {
		return nil, "", common.Malformed(fmt.Sprintf("Job is %s; only completed jobs can be exported", job.Status))
	}
	res, err := decodeResult(job.Result)
	if err != nil {
		return nil, "", err
	}
	b, err := s.exporter.XLSX(export.Workbook{
		Filename: res.Filename,
		Model:    res.ModelUsed,
		Meta:     res.DocumentMeta,
		Rows:     res.Rows,
	})
	if err != nil {
		return nil, "", err
	}
	return b, exportName(res.Filename), nil
}

func decodeResult(raw json.RawMessage) (*Result, error) {
	if len(raw) == 0 {
		return nil, errors.New("job has no stored result")
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode stored result: %w", err)
	}
	if res.Rows == nil {
		res.Rows = []extraction.Row{}
	}
	return &res, nil
}
