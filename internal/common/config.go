package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Queue      QueueConfig      `yaml:"queue"`
	RefCodes   RefCodesConfig   `yaml:"ref_codes"`
	Log        LogConfig        `yaml:"log"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // postgres | sqlite
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	APIKey       string        `yaml:"-"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	Temperature  float32       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
	// Consecutive failures before the breaker opens; 0 disables it.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type ExtractionConfig struct {
	ChunkChars         int           `yaml:"chunk_chars"`
	MaxSingleCallChars int           `yaml:"max_single_call_chars"`
	ChunkRetries       int           `yaml:"chunk_retries"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
}

type JobsConfig struct {
	SignalTimeout  time.Duration `yaml:"signal_timeout"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	WatchInterval  time.Duration `yaml:"watch_interval"`
}

type QueueConfig struct {
	Backend  string `yaml:"backend"` // memory | redis
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
}

// RefCodesConfig selects where the EWC reference list is read from.
type RefCodesConfig struct {
	Source string `yaml:"source"` // file | db
	Path   string `yaml:"path"`
	Table  string `yaml:"table"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

const DefaultModel = "gpt-5"

// Defaults returns the configuration used before any file or environment overrides.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			MaxUploadBytes:  50 << 20,
			RequestTimeout:  5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:         "https://api.openai.com/v1",
			DefaultModel:    DefaultModel,
			Timeout:         4 * time.Minute,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Extraction: ExtractionConfig{
			ChunkChars:     12000,
			RetryBaseDelay: 2 * time.Second,
		},
		Jobs: JobsConfig{
			SignalTimeout:  2 * time.Second,
			ProcessTimeout: 10 * time.Minute,
			Workers:        4,
			QueueSize:      256,
			WatchInterval:  2 * time.Second,
		},
		Queue: QueueConfig{
			Backend:  "memory",
			RedisKey: "ihm:jobs",
		},
		RefCodes: RefCodesConfig{
			Source: "db",
			Table:  "ewc_codes",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig builds the configuration: .env, defaults, optional YAML file, then environment.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewAppError("CONFIG_ERROR", "read .env", errors.Join(ErrConfiguration, err))
	}

	cfg := Defaults()

	if path == "" {
		path = os.Getenv("IHM_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError("CONFIG_ERROR", "read config file "+path, errors.Join(ErrConfiguration, err))
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "parse config file "+path, errors.Join(ErrConfiguration, err))
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Server.HTTPAddr = normalizeAddr(getEnv("HTTP_ADDR", c.Server.HTTPAddr))
	c.Server.GRPCAddr = normalizeAddr(getEnv("GRPC_ADDR", c.Server.GRPCAddr))
	c.Server.MaxUploadBytes = int64(getEnvAsInt("MAX_UPLOAD_BYTES", int(c.Server.MaxUploadBytes)))
	c.Server.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
	c.LLM.DefaultModel = getEnv("OPENAI_MODEL", c.LLM.DefaultModel)
	c.LLM.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvAsDuration("OPENAI_TIMEOUT", c.LLM.Timeout)
	c.LLM.BreakerFailures = uint32(getEnvAsInt("OPENAI_BREAKER_FAILURES", int(c.LLM.BreakerFailures)))
	c.LLM.BreakerCooldown = getEnvAsDuration("OPENAI_BREAKER_COOLDOWN", c.LLM.BreakerCooldown)

	c.Extraction.ChunkChars = getEnvAsInt("EXTRACT_CHUNK_CHARS", c.Extraction.ChunkChars)
	c.Extraction.MaxSingleCallChars = getEnvAsInt("EXTRACT_MAX_SINGLE_CALL_CHARS", c.Extraction.MaxSingleCallChars)
	c.Extraction.ChunkRetries = getEnvAsInt("EXTRACT_CHUNK_RETRIES", c.Extraction.ChunkRetries)
	c.Extraction.RetryBaseDelay = getEnvAsDuration("EXTRACT_RETRY_BASE_DELAY", c.Extraction.RetryBaseDelay)

	c.Jobs.SignalTimeout = getEnvAsDuration("JOB_SIGNAL_TIMEOUT", c.Jobs.SignalTimeout)
	c.Jobs.ProcessTimeout = getEnvAsDuration("JOB_PROCESS_TIMEOUT", c.Jobs.ProcessTimeout)
	c.Jobs.Workers = getEnvAsInt("JOB_WORKERS", c.Jobs.Workers)
	c.Jobs.QueueSize = getEnvAsInt("JOB_QUEUE_SIZE", c.Jobs.QueueSize)
	c.Jobs.WatchInterval = getEnvAsDuration("JOB_WATCH_INTERVAL", c.Jobs.WatchInterval)

	c.Queue.Backend = getEnv("QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.RedisURL = getEnv("REDIS_URL", c.Queue.RedisURL)
	c.Queue.RedisKey = getEnv("REDIS_QUEUE_KEY", c.Queue.RedisKey)

	c.RefCodes.Source = getEnv("EWC_SOURCE", c.RefCodes.Source)
	c.RefCodes.Path = getEnv("EWC_CODES_FILE", c.RefCodes.Path)
	c.RefCodes.Table = getEnv("EWC_CODES_TABLE", c.RefCodes.Table)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

func normalizeAddr(addr string) string {
	if addr != "" && !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func configError(msg string) error {
	return NewAppError("CONFIG_ERROR", msg, ErrConfiguration)
}

// ValidateLLM checks only what the extraction pipeline needs; the local CLI runs without a database.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return configError("OPENAI_API_KEY is required")
	}
	if c.Extraction.ChunkChars <= 0 {
		return configError("EXTRACT_CHUNK_CHARS must be positive")
	}
	if c.Extraction.ChunkRetries < 0 {
		return configError("EXTRACT_CHUNK_RETRIES must not be negative")
	}
	return nil
}

// Validate checks the loaded configuration. Every failure wraps ErrConfiguration.
func (c *Config) Validate() error {
	fail := configError
	if err := c.ValidateLLM(); err != nil {
		return err
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fail(fmt.Sprintf("DB_DRIVER must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		return fail("DB_URL is required")
	}
	switch c.RefCodes.Source {
	case "file":
		if c.RefCodes.Path == "" {
			return fail("EWC_CODES_FILE is required when EWC_SOURCE=file")
		}
	case "db":
		if c.RefCodes.Table == "" {
			return fail("EWC_CODES_TABLE is required when EWC_SOURCE=db")
		}
	default:
		return fail(fmt.Sprintf("EWC_SOURCE must be file or db, got %q", c.RefCodes.Source))
	}
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Queue.RedisURL == "" {
			return fail("REDIS_URL is required when QUEUE_BACKEND=redis")
		}
	default:
		return fail(fmt.Sprintf("QUEUE_BACKEND must be memory or redis, got %q", c.Queue.Backend))
	}
	if c.Server.HTTPAddr == "" {
		return fail("HTTP_ADDR is required")
	}
	return nil
}
