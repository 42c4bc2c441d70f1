package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ihm-parser/internal/async"
	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/extraction"
	"github.com/joseph-ayodele/ihm-parser/internal/pdftext"
	"github.com/joseph-ayodele/ihm-parser/internal/refcodes"
	"github.com/joseph-ayodele/ihm-parser/internal/repository"
)

var pdfBytes = []byte("%PDF-1.4 fake")

type fakePages struct{ err error }

func (f fakePages) Extract(_ context.Context, b []byte) (pdftext.Document, error) {
	if f.err != nil {
		return pdftext.Document{}, f.err
	}
	return pdftext.Document{Text: pdftext.Marker(1) + "\n" + string(b), PagesTotal: 1}, nil
}

type fakeRows struct {
	calls atomic.Int32
	rows  []extraction.Row
	err   error
	block chan struct{}
	panic bool
}

func (f *fakeRows) Extract(_ context.Context, _ string, pagesTotal int, _ string) (extraction.Result, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return extraction.Result{}, f.err
	}
	rows := append([]extraction.Row(nil), f.rows...)
	return extraction.Result{
		DocumentMeta: extraction.DocumentMeta{Title: extraction.DocumentTitle, PagesTotal: pagesTotal},
		Rows:         rows,
	}, nil
}

type fakeClassifier struct{ calls atomic.Int32 }

func (f *fakeClassifier) Classify(_ context.Context, rows []extraction.Row, _ refcodes.Set, _ string) ([]extraction.Classification, error) {
	f.calls.Add(1)
	out := make([]extraction.Classification, len(rows))
	for i := range out {
		out[i] = extraction.Classification{EWCCode: "160601", EWCCandidates: []string{}}
	}
	return out, nil
}

type fakeCodes struct{ calls atomic.Int32 }

func (f *fakeCodes) Get(context.Context) (refcodes.Set, error) {
	f.calls.Add(1)
	return refcodes.NewSet([]refcodes.Code{{Code: "160601", Chapter: "16", EntryType: "AH", Priority: true}}), nil
}

type recorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *recorder) JobFinished(status string, _ int, _ time.Duration) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
}

type fixture struct {
	svc   *Service
	repo  repository.JobRepository
	rows  *fakeRows
	cls   *fakeClassifier
	codes *fakeCodes
	rec   *recorder
}

func newFixture(t *testing.T, rows *fakeRows, opts ...Option) *fixture {
	t.Helper()
	db, err := repository.Open(context.Background(), repository.Config{
		Driver: repository.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "jobs.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))

	f := &fixture{
		repo:  repository.NewJobRepository(db, nil),
		rows:  rows,
		cls:   &fakeClassifier{},
		codes: &fakeCodes{},
		rec:   &recorder{},
	}
	opts = append([]Option{WithRecorder(f.rec), WithWatchInterval(10 * time.Millisecond)}, opts...)
	f.svc = NewService(fakePages{}, rows, f.cls, f.codes, f.repo, nil, opts...)
	return f
}

func oneRow() []extraction.Row {
	return []extraction.Row{{Chapter: "PART I", Material: "Lead battery", Location: "Bridge", Page: 1}}
}

func TestRunNoRowsSkipsClassification(t *testing.T) {
	f := newFixture(t, &fakeRows{})

	res, err := f.svc.Run(context.Background(), "empty.pdf", "gpt-5", pdfBytes)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.TotalItems)
	assert.NotNil(t, res.Rows)
	assert.Equal(t, "gpt-5", res.ModelUsed)
	assert.Equal(t, extraction.DocumentTitle, res.DocumentMeta.Title)
	assert.Zero(t, f.cls.calls.Load())
	assert.Zero(t, f.codes.calls.Load())

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"rows":[]`)
	assert.Contains(t, string(b), `"total_items":0`)
}

func TestRunClassifiesRows(t *testing.T) {
	f := newFixture(t, &fakeRows{rows: oneRow()})

	res, err := f.svc.Run(context.Background(), "ship.pdf", "gpt-5", pdfBytes)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.NotNil(t, res.Rows[0].Classification)
	assert.Equal(t, "160601", res.Rows[0].EWCCode)
	assert.Equal(t, 1, res.TotalItems)
	assert.Equal(t, []string{repository.StatusDone}, f.rec.statuses)
}

func TestRunPropagatesExtractionFailure(t *testing.T) {
	f := newFixture(t, &fakeRows{err: common.ErrExtractionFailed})
	_, err := f.svc.Run(context.Background(), "ship.pdf", "gpt-5", pdfBytes)
	assert.ErrorIs(t, err, common.ErrExtractionFailed)
	assert.Equal(t, []string{repository.StatusError}, f.rec.statuses)
}

func TestSubmitThenPollProcessing(t *testing.T) {
	f := newFixture(t, &fakeRows{})
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, "ship.pdf", "gpt-5", pdfBytes)
	require.NoError(t, err)

	view, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusProcessing, view.Status)

	var body map[string]any
	b, err := json.Marshal(view)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &body))
	assert.NotContains(t, body, "result")
	assert.NotContains(t, body, "error")
	assert.Equal(t, id.String(), body["jobId"])
	assert.Equal(t, "ship.pdf", body["filename"])
}

func TestExecuteFailureRecordsError(t *testing.T) {
	fail := common.NewAppError("EXTRACTION_FAILED", "extraction failed on chunk 2 of 3", common.ErrExtractionFailed)
	f := newFixture(t, &fakeRows{err: fail})
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, "ship.pdf", "gpt-5", pdfBytes)
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, id)
	assert.ErrorIs(t, err, common.ErrExtractionFailed)

	view, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusError, view.Status)
	assert.Equal(t, "extraction failed on chunk 2 of 3", view.Error)
	assert.Nil(t, view.Result)

	b, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"result"`)

	// Re-executing a failed job reports the stored error without recomputing.
	_, err = f.svc.Execute(ctx, id)
	assert.ErrorIs(t, err, common.ErrJobFailed)
	assert.Equal(t, int32(1), f.rows.calls.Load())
}

func TestExecuteDoneIsIdempotent(t *testing.T) {
	f := newFixture(t, &fakeRows{rows: oneRow()})
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, "ship.pdf", "gpt-5", pdfBytes)
	require.NoError(t, err)

	first, err := f.svc.Execute(ctx, id)
	require.NoError(t, err)
	second, err := f.svc.Execute(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.rows.calls.Load(), "model not re-invoked for a done job")
	assert.Equal(t, int32(1), f.cls.calls.Load())
	assert.Equal(t, first.TotalItems, second.TotalItems)
	assert.Equal(t, first.Rows[0].EWCCode, second.Rows[0].EWCCode)

	job, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, job.Payload, "payload cleared once done")

	view, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, view.Result)
	assert.Equal(t, 1, view.Result.TotalItems)
	assert.Empty(t, view.Error)
}

func TestExecuteMissingPayload(t *testing.T) {
	f := newFixture(t, &fakeRows{})
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, "ship.pdf", "gpt-5", nil)
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, id)
	assert.ErrorIs(t, err, common.ErrMalformedRequest)

	view, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusError, view.Status)
	assert.Equal(t, noPayloadMessage, view.Error)
	assert.Zero(t, f.rows.calls.Load())
}

func TestExecutePanicLeavesTerminalState(t *testing.T) {
	f := newFixture(t, &fakeRows{panic: true})
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, "ship.pdf", "gpt-5", pdfBytes)
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, id)
	assert.ErrorIs(t, err, common.ErrJobFailed)

	view, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusError, view.Status)
	assert.NotEmpty(t, view.Error)
}

// flakyStore fails every Complete write and delegates everything else.
type flakyStore struct {
	repository.JobRepository
}

func (flakyStore) Complete(context.Context, uuid.UUID, json.RawMessage) (bool, error) {
	return false, errors.New("transient db error")
}

func TestExecuteStoreFailureLeavesTerminalState(t *testing.T) {
	f := newFixture(t, &fakeRows{rows: oneRow()})
	svc := NewService(fakePages{}, f.rows, f.cls, f.codes, flakyStore{f.repo}, nil)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "ship.pdf", "gpt-5", pdfBytes)
	require.NoError(t, err)

	_, err = svc.Execute(ctx, id)
	require.Error(t, err)

	job, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusError, job.Status)
	assert.Equal(t, "store result: transient db error", job.Error)
	assert.Empty(t, job.Payload)
}

func TestExecuteUnknownJob(t *testing.T) {
	f := newFixture(t, &fakeRows{})
	_, err := f.svc.Execute(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

type failingQueue struct{ calls int }

func (q *failingQueue) Enqueue(context.Context, async.Task) error {
	q.calls++
	return errors.New("broker down")
}

func (q *failingQueue) Shutdown(context.Context) {}

func TestSubmitSignalFailureIsNotAnError(t *testing.T) {
	q := &failingQueue{}
	f := newFixture(t, &fakeRows{}, WithQueue(q))

	id, err := f.svc.Submit(context.Background(), "ship.pdf", "gpt-5", pdfBytes)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, 1, q.calls)
}

func TestSubmitWithWorkersAndWatch(t *testing.T) {
	rows := &fakeRows{rows: oneRow(), block: make(chan struct{})}
	f := newFixture(t, rows)
	q := async.NewProcessorQueue(f.svc.HandleTask, nil, async.WithWorkers(1))
	f.svc.queue = q
	t.Cleanup(func() { q.Shutdown(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := f.svc.Submit(ctx, "ship.pdf", "gpt-5", pdfBytes)
	require.NoError(t, err)

	var seen []string
	err = f.svc.Watch(ctx, id, func(v *StatusView) error {
		seen = append(seen, v.Status)
		if v.Status == repository.StatusProcessing {
			close(rows.block)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{repository.StatusProcessing, repository.StatusDone}, seen)
}

func TestExport(t *testing.T) {
	f := newFixture(t, &fakeRows{rows: oneRow()})
	ctx := context.Background()

	id, err := f.svc.Submit(ctx, "C:\\docs\\MV Example IHM.pdf", "gpt-5", pdfBytes)
	require.NoError(t, err)

	_, _, err = f.svc.Export(ctx, id)
	assert.ErrorIs(t, err, common.ErrMalformedRequest, "processing jobs cannot be exported")

	_, err = f.svc.Execute(ctx, id)
	require.NoError(t, err)

	b, name, err := f.svc.Export(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "MV Example IHM_ewc.xlsx", name)
	assert.Equal(t, []byte("PK"), b[:2])
}
