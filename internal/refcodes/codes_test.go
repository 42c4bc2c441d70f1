package refcodes

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func sample() []Code {
	return []Code{
		{Code: "200199", Description: "other fractions", Chapter: "20", EntryType: "AN"},
		{Code: "160601", Description: "lead batteries", Chapter: "16", EntryType: "AH", Hazardous: true, Priority: true},
		{Code: "130701", Description: "fuel oil and diesel", Chapter: "13", EntryType: "AH", Hazardous: true, Priority: true},
		{Code: "080112", Description: "waste paint", Chapter: "08", EntryType: "MN"},
		{Code: "160601", Description: "duplicate"},
	}
}

func TestNewSetOrdering(t *testing.T) {
	s := NewSet(sample())

	var got []string
	for _, c := range s.Codes() {
		got = append(got, c.Code)
	}
	assert.Equal(t, []string{"130701", "160601", "080112", "200199"}, got)
	assert.Equal(t, 2, s.PriorityCount())
	assert.True(t, s.Valid("080112"))
	assert.False(t, s.Valid("999999"))
	assert.Equal(t, "lead batteries", s.Codes()[1].Description, "first occurrence wins")
}

func TestParseYAMLShapes(t *testing.T) {
	list := `
- code: "160601"
  description: lead batteries
  chapter: 16
  entry_type: AH
  hazardous: true
  priority: true
`
	codes, err := ParseYAML([]byte(list))
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "16", codes[0].Chapter)
	assert.True(t, codes[0].Priority)

	wrapped := `{"codes": [{"code": "130701", "description": "fuel oil", "chapter": "13", "entry_type": "AH", "hazardous": true, "priority": false}]}`
	codes, err = ParseYAML([]byte(wrapped))
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "130701", codes[0].Code)

	_, err = ParseYAML([]byte(`"just a string"`))
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"code":"140601","description":"HFCs","chapter":"14","entry_type":"AH","hazardous":true,"priority":true}]`), 0o600))

	codes, err := FileSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "AH", codes[0].EntryType)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Load(context.Background())
	assert.Error(t, err)
}

func TestSQLSourceRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE ewc_codes (
		code TEXT PRIMARY KEY,
		description TEXT,
		chapter TEXT,
		entry_type TEXT,
		hazardous BOOLEAN,
		priority BOOLEAN
	)`)
	require.NoError(t, err)

	src := SQLSource{DB: db, Table: "ewc_codes", Placeholder: sq.Question}
	n, err := src.Upsert(context.Background(), NewSet(sample()).Codes())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// upsert again with a changed description
	_, err = src.Upsert(context.Background(), []Code{{Code: "200199", Description: "renamed", Chapter: "20", EntryType: "AN"}})
	require.NoError(t, err)

	codes, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, codes, 4)
	assert.Equal(t, "080112", codes[0].Code)
	assert.Equal(t, "renamed", codes[3].Description)

	set := NewSet(codes)
	assert.Equal(t, "130701", set.Codes()[0].Code)
	assert.True(t, set.Codes()[0].Hazardous)
}

type flakySource struct {
	calls int
}

func (f *flakySource) Load(context.Context) ([]Code, error) {
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("db down")
	}
	return sample(), nil
}

func TestCacheRetriesAfterFailure(t *testing.T) {
	src := &flakySource{}
	c := NewCache(src, nil)

	_, err := c.Get(context.Background())
	require.Error(t, err)

	s, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, s.Len())

	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}
