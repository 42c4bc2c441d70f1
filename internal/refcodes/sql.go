package refcodes

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var columns = []string{"code", "description", "chapter", "entry_type", "hazardous", "priority"}

// SQLSource reads the ewc_codes table.
type SQLSource struct {
	DB    *sql.DB
	Table string
	// Dollar placeholders for Postgres, Question for SQLite.
	Placeholder sq.PlaceholderFormat
}

func (s SQLSource) builder() sq.StatementBuilderType {
	ph := s.Placeholder
	if ph == nil {
		ph = sq.Question
	}
	return sq.StatementBuilder.PlaceholderFormat(ph)
}

func (s SQLSource) Load(ctx context.Context) ([]Code, error) {
	query, args, err := s.builder().
		Select(columns...).
		From(s.Table).
		OrderBy("code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.Table, err)
	}
	defer rows.Close()

	var codes []Code
	for rows.Next() {
		var (
			c           Code
			description sql.NullString
			chapter     sql.NullString
			entryType   sql.NullString
			hazardous   sql.NullBool
			priority    sql.NullBool
		)
		if err := rows.Scan(&c.Code, &description, &chapter, &entryType, &hazardous, &priority); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.Table, err)
		}
		c.Description = description.String
		c.Chapter = chapter.String
		c.EntryType = entryType.String
		c.Hazardous = hazardous.Bool
		c.Priority = priority.Bool
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.Table, err)
	}
	return codes, nil
}

// Upsert writes codes into the table, replacing rows with the same code.
func (s SQLSource) Upsert(ctx context.Context, codes []Code) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	ins := s.builder().Insert(s.Table).Columns(columns...)
	for _, c := range codes {
		ins = ins.Values(c.Code, c.Description, c.Chapter, c.EntryType, c.Hazardous, c.Priority)
	}
	query, args, err := ins.Suffix(
		"ON CONFLICT (code) DO UPDATE SET description = excluded.description, chapter = excluded.chapter, " +
			"entry_type = excluded.entry_type, hazardous = excluded.hazardous, priority = excluded.priority",
	).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", s.Table, err)
	}
	return len(codes), nil
}
