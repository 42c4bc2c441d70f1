package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/ihm-parser/internal/async"
	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/logging"
	"github.com/joseph-ayodele/ihm-parser/internal/metrics"
	"github.com/joseph-ayodele/ihm-parser/internal/pipeline"
	repo "github.com/joseph-ayodele/ihm-parser/internal/repository"
)

// ihm-worker executes jobs submitted by ihmd when QUEUE_BACKEND=redis.
func main() {
	configPath := flag.String("config", "", "optional YAML config file (defaults to $IHM_CONFIG)")
	workers := flag.Int("workers", 0, "concurrent jobs (defaults to JOB_WORKERS)")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}
	if cfg.Queue.RedisURL == "" {
		logger.Error("REDIS_URL env var is required")
		os.Exit(2)
	}
	if *workers <= 0 {
		*workers = cfg.Jobs.Workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.Open(ctx, repo.Config(cfg.Database), logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	client, err := async.DialRedis(ctx, cfg.Queue.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	proc, err := pipeline.NewProcessor(cfg, logger, pipeline.WithDB(db), pipeline.WithMetrics(metrics.New()))
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	svc := proc.Jobs(repo.NewJobRepository(db, logger))

	queue := async.NewRedisQueue(client, cfg.Queue.RedisKey, logger)
	queue.Consume(ctx, svc.HandleTask, *workers, cfg.Jobs.ProcessTimeout)
	logger.Info("ihm-worker consuming", "redis_key", cfg.Queue.RedisKey, "workers", *workers)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
}
