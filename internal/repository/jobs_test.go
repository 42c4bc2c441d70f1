package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/refcodes"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ihm.db")
	db, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestSQLiteDSN(t *testing.T) {
	mem := sqliteDSN(":memory:")
	assert.True(t, strings.HasPrefix(mem, "file:mem-"))
	assert.Contains(t, mem, "mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	assert.NotEqual(t, mem, sqliteDSN(":memory:"), "each in-memory database is private")

	assert.Equal(t, "file:ihm.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("ihm.db"))
	assert.Equal(t, "file:x.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(100)",
		sqliteDSN("file:x.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(100)"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewJobRepository(db, nil)

	job, err := repo.Create(ctx, "ship.pdf", "gpt-5", []byte("%PDF-1.4 body"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "ship.pdf", got.Filename)
	assert.Equal(t, "gpt-5", got.Model)
	assert.Equal(t, []byte("%PDF-1.4 body"), got.Payload)
	assert.Nil(t, got.FinishedAt)
	assert.False(t, got.Terminal())

	changed, err := repo.Complete(ctx, job.ID, json.RawMessage(`{"success":true,"rows":[]}`))
	require.NoError(t, err)
	assert.True(t, changed)

	done, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, done.Status)
	assert.JSONEq(t, `{"success":true,"rows":[]}`, string(done.Result))
	assert.Empty(t, done.Payload, "payload cleared on completion")
	require.NotNil(t, done.FinishedAt)
	assert.True(t, done.Terminal())

	// A second terminal write is a no-op.
	changed, err = repo.Fail(ctx, job.ID, "late failure")
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = repo.Complete(ctx, job.ID, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, changed)

	again, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, again.Status)
	assert.Empty(t, again.Error)
}

func TestJobFail(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(openTestDB(t), nil)

	job, err := repo.Create(ctx, "broken.pdf", "gpt-5", []byte("%PDF"))
	require.NoError(t, err)

	changed, err := repo.Fail(ctx, job.ID, "Unreadable PDF")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "Unreadable PDF", got.Error)
	assert.Nil(t, got.Result)
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(openTestDB(t), nil)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	for i := 0; i < 3; i++ {
		job, err := repo.Create(ctx, "ship.pdf", "gpt-5", []byte("%PDF"))
		require.NoError(t, err)
		if i == 0 {
			_, err = repo.Fail(ctx, job.ID, "bad")
			require.NoError(t, err)
		}
	}

	counts, err = repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{StatusProcessing: 2, StatusError: 1}, counts)
}

func TestGetMissingJob(t *testing.T) {
	repo := NewJobRepository(openTestDB(t), nil)
	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEWCCodesTableServesRefCodes(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	src := refcodes.SQLSource{DB: db.SQL(), Table: EWCCodesTable, Placeholder: db.Placeholder()}
	n, err := src.Upsert(ctx, []refcodes.Code{
		{Code: "160601", Description: "lead batteries", Chapter: "16", EntryType: "AH", Hazardous: true, Priority: true},
		{Code: "200199", Description: "other fractions", Chapter: "20", EntryType: "AN"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	codes, err := src.Load(ctx)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.True(t, codes[0].Priority)
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background(), 0))
}
