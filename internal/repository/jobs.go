package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
)

// Job statuses. A job starts processing and moves to exactly one terminal status.
const (
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

type Job struct {
	ID         uuid.UUID
	Status     string
	Filename   string
	Model      string
	Payload    []byte
	Result     json.RawMessage
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

func (j *Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusError
}

type JobRepository interface {
	Create(ctx context.Context, filename, model string, payload []byte) (*Job, error)
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	// Complete and Fail only touch a job still processing; they report whether it changed.
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, message string) (bool, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type jobRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewJobRepository(db *DB, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

var jobColumns = []string{"id", "status", "filename", "model", "payload", "result", "error", "created_at", "updated_at", "finished_at"}

func (r *jobRepo) Create(ctx context.Context, filename, model string, payload []byte) (*Job, error) {
	now := r.now()
	job := &Job{
		ID:        uuid.New(),
		Status:    StatusProcessing,
		Filename:  filename,
		Model:     model,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if job.Payload == nil {
		job.Payload = []byte{}
	}
	query, args := entsql.Dialect(r.db.Dialect()).
		Insert(JobsTable).
		Columns("id", "status", "filename", "model", "payload", "created_at", "updated_at").
		Values(job.ID.String(), job.Status, job.Filename, job.Model, job.Payload, job.CreatedAt, job.UpdatedAt).
		Query()
	if err := r.db.drv.Exec(ctx, query, args, nil); err != nil {
		r.log.Error("jobs.create_failed", "filename", filename, "error", err)
		return nil, fmt.Errorf("create job: %w", err)
	}
	r.log.Info("jobs.created", "job_id", job.ID, "filename", filename, "model", model, "bytes", len(payload))
	return job, nil
}

func (r *jobRepo) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	b := entsql.Dialect(r.db.Dialect())
	query, args := b.Select(jobColumns...).
		From(b.Table(JobsTable)).
		Where(entsql.EQ("id", id.String())).
		Query()

	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get job: %w", err)
		}
		return nil, common.NewAppError("NOT_FOUND", "Job not found", common.ErrNotFound)
	}

	var (
		job      Job
		idText   string
		result   sql.NullString
		errText  sql.NullString
		finished sql.NullTime
	)
	if err := rows.Scan(&idText, &job.Status, &job.Filename, &job.Model, &job.Payload, &result,
		&errText, &job.CreatedAt, &job.UpdatedAt, &finished); err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	parsed, err := uuid.Parse(idText)
	if err != nil {
		return nil, fmt.Errorf("scan job id: %w", err)
	}
	job.ID = parsed
	if result.Valid && result.String != "" {
		job.Result = json.RawMessage(result.String)
	}
	job.Error = errText.String
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

func (r *jobRepo) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) (bool, error) {
	now := r.now()
	query, args := entsql.Dialect(r.db.Dialect()).
		Update(JobsTable).
		Set("status", StatusDone).
		Set("result", string(result)).
		SetNull("payload").
		Set("updated_at", now).
		Set("finished_at", now).
		Where(entsql.And(entsql.EQ("id", id.String()), entsql.EQ("status", StatusProcessing))).
		Query()
	changed, err := r.exec(ctx, query, args)
	if err != nil {
		r.log.Error("jobs.complete_failed", "job_id", id, "error", err)
		return false, fmt.Errorf("complete job: %w", err)
	}
	if changed {
		r.log.Info("jobs.done", "job_id", id)
	}
	return changed, nil
}

func (r *jobRepo) Fail(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	now := r.now()
	query, args := entsql.Dialect(r.db.Dialect()).
		Update(JobsTable).
		Set("status", StatusError).
		Set("error", message).
		SetNull("payload").
		Set("updated_at", now).
		Set("finished_at", now).
		Where(entsql.And(entsql.EQ("id", id.String()), entsql.EQ("status", StatusProcessing))).
		Query()
	changed, err := r.exec(ctx, query, args)
	if err != nil {
		r.log.Error("jobs.fail_failed", "job_id", id, "error", err)
		return false, fmt.Errorf("fail job: %w", err)
	}
	if changed {
		r.log.Warn("jobs.error", "job_id", id, "error", message)
	}
	return changed, nil
}

func (r *jobRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	b := entsql.Dialect(r.db.Dialect())
	query, args := b.Select("status", entsql.Count("*")).
		From(b.Table(JobsTable)).
		GroupBy("status").
		Query()

	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r *jobRepo) exec(ctx context.Context, query string, args []any) (bool, error) {
	var res sql.Result
	if err := r.db.drv.Exec(ctx, query, args, &res); err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
