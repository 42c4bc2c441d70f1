package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const pingTimeout = 2 * time.Second

type healthBody struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok", Timestamp: time.Now().Format(time.RFC3339)}
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context(), pingTimeout); err != nil {
			body.Status = "unavailable"
			body.Error = "database unreachable"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// GRPCHealth serves the standard gRPC health service for orchestrator probes, reporting
// NOT_SERVING while the database does not answer pings.
type GRPCHealth struct {
	Server *grpc.Server
	hs     *health.Server
	db     Pinger
	logger *slog.Logger
}

func NewGRPCHealth(db Pinger, logger *slog.Logger) *GRPCHealth {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &GRPCHealth{Server: srv, hs: hs, db: db, logger: logger}
}

// Check pings the database once and updates the serving status.
func (g *GRPCHealth) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if g.db != nil {
		if err := g.db.HealthCheck(ctx, pingTimeout); err != nil {
			g.logger.Warn("health.db.unreachable", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	g.hs.SetServingStatus("", status)
	return status
}

// Monitor runs Check every interval until ctx is done, then marks the service as
// shutting down.
func (g *GRPCHealth) Monitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		g.Check(ctx)
		select {
		case <-ctx.Done():
			g.hs.Shutdown()
			return
		case <-t.C:
		}
	}
}
