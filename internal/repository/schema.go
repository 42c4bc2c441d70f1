package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	JobsTable     = "jobs"
	EWCCodesTable = "ewc_codes"
)

var (
	jobsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "filename", Type: field.TypeString, Size: 512},
		{Name: "model", Type: field.TypeString, Size: 128},
		{Name: "payload", Type: field.TypeBytes, Nullable: true},
		{Name: "result", Type: field.TypeJSON, Nullable: true},
		{Name: "error", Type: field.TypeString, Size: 2048, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "finished_at", Type: field.TypeTime, Nullable: true},
	}
	jobsTable = schema.NewTable(JobsTable).
			AddPrimary(jobsColumns[0]).
			AddColumn(jobsColumns[1]).
			AddColumn(jobsColumns[2]).
			AddColumn(jobsColumns[3]).
			AddColumn(jobsColumns[4]).
			AddColumn(jobsColumns[5]).
			AddColumn(jobsColumns[6]).
			AddColumn(jobsColumns[7]).
			AddColumn(jobsColumns[8]).
			AddColumn(jobsColumns[9]).
			AddIndex("jobs_status_created_at", false, []string{"status", "created_at"})

	ewcCodesColumns = []*schema.Column{
		{Name: "code", Type: field.TypeString, Size: 16},
		{Name: "description", Type: field.TypeString, Size: 1024, Nullable: true},
		{Name: "chapter", Type: field.TypeString, Size: 8, Nullable: true},
		{Name: "entry_type", Type: field.TypeString, Size: 4, Nullable: true},
		{Name: "hazardous", Type: field.TypeBool, Default: false},
		{Name: "priority", Type: field.TypeBool, Default: false},
	}
	ewcCodesTable = schema.NewTable(EWCCodesTable).
			AddPrimary(ewcCodesColumns[0]).
			AddColumn(ewcCodesColumns[1]).
			AddColumn(ewcCodesColumns[2]).
			AddColumn(ewcCodesColumns[3]).
			AddColumn(ewcCodesColumns[4]).
			AddColumn(ewcCodesColumns[5])
)

// Migrate creates or updates the jobs and ewc_codes tables.
func (d *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(d.drv)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Create(ctx, jobsTable, ewcCodesTable); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	d.logger.Info("db.migrated", "tables", []string{JobsTable, EWCCodesTable})
	return nil
}
