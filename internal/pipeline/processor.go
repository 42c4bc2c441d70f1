// Package pipeline assembles the extraction and classification stages from configuration
// so every entry point runs the same wiring.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/ihm-parser/internal/classify"
	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/extraction"
	"github.com/joseph-ayodele/ihm-parser/internal/jobs"
	"github.com/joseph-ayodele/ihm-parser/internal/llm"
	"github.com/joseph-ayodele/ihm-parser/internal/llm/openai"
	"github.com/joseph-ayodele/ihm-parser/internal/metrics"
	"github.com/joseph-ayodele/ihm-parser/internal/pdftext"
	"github.com/joseph-ayodele/ihm-parser/internal/refcodes"
	"github.com/joseph-ayodele/ihm-parser/internal/repository"
)

// Processor holds the stages of one document run: page text, row extraction, reference
// codes and classification.
type Processor struct {
	Pages   *pdftext.Extractor
	Planner *extraction.Planner
	Batcher *classify.Batcher
	Codes   *refcodes.Cache

	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*options)

type options struct {
	completer llm.Completer
	db        *repository.DB
	metrics   *metrics.Metrics
}

// WithCompleter replaces the OpenAI client, mainly for tests.
func WithCompleter(c llm.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithDB is required when reference codes are read from the database.
func WithDB(db *repository.DB) Option {
	return func(o *options) { o.db = db }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func NewProcessor(cfg *common.Config, logger *slog.Logger, opts ...Option) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	completer := o.completer
	if completer == nil {
		var clientOpts []openai.Option
		if o.metrics != nil {
			clientOpts = append(clientOpts, openai.WithObserver(o.metrics.ObserveLLM))
		}
		completer = openai.NewClient(openai.Config{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			DefaultModel:    cfg.LLM.DefaultModel,
			Temperature:     cfg.LLM.Temperature,
			Timeout:         cfg.LLM.Timeout,
			BreakerFailures: cfg.LLM.BreakerFailures,
			BreakerCooldown: cfg.LLM.BreakerCooldown,
		}, logger, clientOpts...)
	}

	var plannerOpts []extraction.PlannerOption
	if o.metrics != nil {
		plannerOpts = append(plannerOpts, extraction.WithFallbackHook(o.metrics.Fallback))
	}
	planner, err := extraction.NewPlanner(completer, extraction.Config{
		ChunkChars:         cfg.Extraction.ChunkChars,
		MaxSingleCallChars: cfg.Extraction.MaxSingleCallChars,
		ChunkRetries:       cfg.Extraction.ChunkRetries,
		RetryBaseDelay:     cfg.Extraction.RetryBaseDelay,
	}, logger, plannerOpts...)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	batcher, err := classify.NewBatcher(completer, logger)
	if err != nil {
		return nil, fmt.Errorf("batcher: %w", err)
	}

	src, err := CodeSource(cfg.RefCodes, o.db)
	if err != nil {
		return nil, err
	}

	return &Processor{
		Pages:   pdftext.NewExtractor(logger),
		Planner: planner,
		Batcher: batcher,
		Codes:   refcodes.NewCache(src, logger),
		metrics: o.metrics,
		logger:  logger,
	}, nil
}

// CodeSource picks the reference list location named by the configuration.
func CodeSource(cfg common.RefCodesConfig, db *repository.DB) (refcodes.Source, error) {
	switch cfg.Source {
	case "file":
		if cfg.Path == "" {
			return nil, common.NewAppError("CONFIG_ERROR", "EWC_CODES_FILE is required when EWC_SOURCE=file", common.ErrConfiguration)
		}
		return refcodes.FileSource{Path: cfg.Path}, nil
	case "db":
		if db == nil {
			return nil, common.NewAppError("CONFIG_ERROR", "EWC_SOURCE=db needs a database connection", common.ErrConfiguration)
		}
		table := cfg.Table
		if table == "" {
			table = repository.EWCCodesTable
		}
		return refcodes.SQLSource{DB: db.SQL(), Table: table, Placeholder: db.Placeholder()}, nil
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown EWC_SOURCE %q", cfg.Source), common.ErrConfiguration)
	}
}

// Jobs builds the job service over these stages. Metrics are recorded when the processor
// was built with them.
func (p *Processor) Jobs(repo repository.JobRepository, opts ...jobs.Option) *jobs.Service {
	if p.metrics != nil {
		opts = append([]jobs.Option{jobs.WithRecorder(p.metrics)}, opts...)
	}
	return jobs.NewService(p.Pages, p.Planner, p.Batcher, p.Codes, repo, p.logger, opts...)
}
