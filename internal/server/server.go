// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/jobs"
)

const defaultMaxUploadBytes = 50 << 20

// Jobs is the slice of jobs.Service the handlers depend on.
type Jobs interface {
	Run(ctx context.Context, filename, model string, pdf []byte) (*jobs.Result, error)
	Submit(ctx context.Context, filename, model string, pdf []byte) (uuid.UUID, error)
	Execute(ctx context.Context, id uuid.UUID) (*jobs.Result, error)
	Status(ctx context.Context, id uuid.UUID) (*jobs.StatusView, error)
	Watch(ctx context.Context, id uuid.UUID, fn func(*jobs.StatusView) error) error
	Export(ctx context.Context, id uuid.UUID) ([]byte, string, error)
}

type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// RequestRecorder receives one observation per finished HTTP request.
type RequestRecorder interface {
	HTTPRequest(route, method string, code int)
}

type Server struct {
	jobs     Jobs
	db       Pinger
	recorder RequestRecorder
	metrics  http.Handler
	logger   *slog.Logger

	router         *chi.Mux
	upgrader       websocket.Upgrader
	maxUploadBytes int64
	requestTimeout time.Duration
	processTimeout time.Duration
	defaultModel   string
}

type Option func(*Server)

func WithDB(p Pinger) Option { return func(s *Server) { s.db = p } }

// WithMetrics records every request on rec and serves h at /metrics.
func WithMetrics(rec RequestRecorder, h http.Handler) Option {
	return func(s *Server) {
		s.recorder = rec
		s.metrics = h
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithRequestTimeout bounds the synchronous upload.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithProcessTimeout bounds POST /api/process. It should match the queue workers' budget.
func WithProcessTimeout(d time.Duration) Option {
	return func(s *Server) { s.processTimeout = d }
}

func WithDefaultModel(model string) Option {
	return func(s *Server) {
		if model != "" {
			s.defaultModel = model
		}
	}
}

func New(j Jobs, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		jobs:           j,
		logger:         logger,
		router:         chi.NewRouter(),
		maxUploadBytes: defaultMaxUploadBytes,
		defaultModel:   common.DefaultModel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestContext)
	r.Use(s.cors)
	r.Use(s.observe)
	r.Use(s.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.With(deadline(s.requestTimeout)).Post("/api/upload", s.upload)
	r.With(deadline(s.processTimeout)).Post("/api/process", s.process)
	r.Post("/api/start-upload", s.startUpload)
	r.Get("/api/status", s.status)
	r.Get("/api/status/watch", s.watch)
	r.Get("/api/export", s.export)
	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

// requestContext copies chi's request id into the context key the pipeline logs with.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(common.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer turns a handler panic into the JSON 500 every other error path returns.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("http.panic",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
				"request_id", middleware.GetReqID(r.Context()),
				"stack", string(debug.Stack()),
			)
			if !websocket.IsWebSocketUpgrade(r) {
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// deadline puts a timeout on the request context and leaves the response to the handler.
// Zero disables it.
func deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if s.recorder != nil {
			s.recorder.HTTPRequest(route, r.Method, code)
		}
		s.logger.Info("http.request",
			"method", r.Method,
			"route", route,
			"status", strconv.Itoa(code),
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
