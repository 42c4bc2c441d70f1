package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/ihm-parser/internal/async"
	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/jobs"
	"github.com/joseph-ayodele/ihm-parser/internal/logging"
	"github.com/joseph-ayodele/ihm-parser/internal/metrics"
	"github.com/joseph-ayodele/ihm-parser/internal/pipeline"
	repo "github.com/joseph-ayodele/ihm-parser/internal/repository"
	"github.com/joseph-ayodele/ihm-parser/internal/server"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file (defaults to $IHM_CONFIG)")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.Open(ctx, repo.Config(cfg.Database), logger)
	if err != nil {
		logger.Error("failed to open database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.HealthCheck(ctx, 5*time.Second); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	proc, err := pipeline.NewProcessor(cfg, logger, pipeline.WithDB(db), pipeline.WithMetrics(m))
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	jobOpts := []jobs.Option{
		jobs.WithSignalTimeout(cfg.Jobs.SignalTimeout),
		jobs.WithWatchInterval(cfg.Jobs.WatchInterval),
	}

	// svc is assigned once the queue exists; the in-process handler forwards to it.
	var svc *jobs.Service
	var queue async.Queue
	switch cfg.Queue.Backend {
	case "redis":
		client, err := async.DialRedis(ctx, cfg.Queue.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		queue = async.NewRedisQueue(client, cfg.Queue.RedisKey, logger)
		logger.Info("jobs handed to external workers", "redis_key", cfg.Queue.RedisKey)
	default:
		queue = async.NewProcessorQueue(func(ctx context.Context, t async.Task) error {
			return svc.HandleTask(ctx, t)
		}, logger,
			async.WithWorkers(cfg.Jobs.Workers),
			async.WithQueueSize(cfg.Jobs.QueueSize),
			async.WithProcessTimeout(cfg.Jobs.ProcessTimeout),
		)
	}
	svc = proc.Jobs(repo.NewJobRepository(db, logger), append(jobOpts, jobs.WithQueue(queue))...)

	api := server.New(svc, logger,
		server.WithDB(db),
		server.WithMetrics(m, m.Handler()),
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		server.WithRequestTimeout(cfg.Server.RequestTimeout),
		server.WithProcessTimeout(cfg.Jobs.ProcessTimeout),
		server.WithDefaultModel(cfg.LLM.DefaultModel),
	)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gh := server.NewGRPCHealth(db, logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go gh.Monitor(ctx, 15*time.Second)
	go func() {
		if err := gh.Server.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
		}
	}()

	go func() {
		logger.Info("ihmd listening", "http_addr", cfg.Server.HTTPAddr, "grpc_addr", cfg.Server.GRPCAddr,
			"queue", cfg.Queue.Backend, "ewc_source", cfg.RefCodes.Source)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	queue.Shutdown(shutdownCtx)
	gh.Server.GracefulStop()
	logger.Info("stopped")
}
