package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/logging"
	"github.com/joseph-ayodele/ihm-parser/internal/refcodes"
	repo "github.com/joseph-ayodele/ihm-parser/internal/repository"
)

// ewc-seed loads a YAML or JSON reference list into the ewc_codes table.
func main() {
	configPath := flag.String("config", "", "optional YAML config file (defaults to $IHM_CONFIG)")
	file := flag.String("file", "", "reference code file (defaults to EWC_CODES_FILE)")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if *file == "" {
		*file = cfg.RefCodes.Path
	}
	if *file == "" {
		logger.Error("usage: ewc-seed -file codes.yaml (or set EWC_CODES_FILE)")
		os.Exit(2)
	}
	if cfg.Database.DSN == "" {
		logger.Error("DB_URL env var is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codes, err := refcodes.FileSource{Path: *file}.Load(ctx)
	if err != nil {
		logger.Error("failed to read codes", "file", *file, "error", err)
		os.Exit(1)
	}
	set := refcodes.NewSet(codes)

	db, err := repo.Open(ctx, repo.Config(cfg.Database), logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.HealthCheck(ctx, 3*time.Second); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	table := cfg.RefCodes.Table
	if table == "" {
		table = repo.EWCCodesTable
	}
	src := refcodes.SQLSource{DB: db.SQL(), Table: table, Placeholder: db.Placeholder()}
	n, err := src.Upsert(ctx, set.Codes())
	if err != nil {
		logger.Error("failed to seed codes", "table", table, "error", err)
		os.Exit(1)
	}
	logger.Info("ewc codes seeded", "table", table, "written", n, "distinct", set.Len(), "priority", set.PriorityCount())
}
