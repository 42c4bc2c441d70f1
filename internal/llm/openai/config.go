package openai

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Config for the OpenAI client.
type Config struct {
	APIKey       string
	BaseURL      string  // default https://api.openai.com/v1
	DefaultModel string  // used when a request names no model
	Temperature  float32 // 0 leaves the provider default; reasoning models reject other values
	Timeout      time.Duration
	// BreakerFailures consecutive failures open the circuit for BreakerCooldown. 0 disables it.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
	// observe is called once per completed call; wired to metrics by the caller.
	observe func(stage, outcome string, elapsed time.Duration)
}

type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithObserver registers a per-call callback for metrics.
func WithObserver(fn func(stage, outcome string, elapsed time.Duration)) Option {
	return func(c *Client) {
		if fn != nil {
			c.observe = fn
		}
	}
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-5"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Minute
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		observe: func(string, string, time.Duration) {},
	}
	if cfg.BreakerFailures > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openai",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			IsSuccessful: isBreakerSuccess,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("llm.breaker.state_change", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	for _, o := range opts {
		o(c)
	}
	return c
}
