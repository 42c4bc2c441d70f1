package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/llm"
)

const (
	DefaultChunkChars = 12000

	stageSingle = "extract.single"
	stageChunk  = "extract.chunk"
)

var errSingleCallTooLarge = errors.New("text exceeds single-call limit")

type Config struct {
	// ChunkChars is the per-chunk budget in characters for the fallback path.
	ChunkChars int
	// MaxSingleCallChars skips the single-call attempt for longer texts. Zero disables the check.
	MaxSingleCallChars int
	// ChunkRetries is how many times a failed chunk call is retried. Zero fails fast.
	ChunkRetries   int
	RetryBaseDelay time.Duration
}

// Planner turns page-tagged document text into hazardous-material rows: one call over the
// whole text, falling back to page-aligned chunks when that fails.
type Planner struct {
	completer  llm.Completer
	cfg        Config
	schema     *jsonschema.Schema
	logger     *slog.Logger
	onFallback func()
}

type PlannerOption func(*Planner)

// WithFallbackHook registers a callback invoked each time the chunked path is taken.
func WithFallbackHook(fn func()) PlannerOption {
	return func(p *Planner) { p.onFallback = fn }
}

func NewPlanner(completer llm.Completer, cfg Config, logger *slog.Logger, opts ...PlannerOption) (*Planner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = DefaultChunkChars
	}
	if cfg.ChunkRetries < 0 {
		cfg.ChunkRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	schema, err := llm.CompileSchema(Schema())
	if err != nil {
		return nil, fmt.Errorf("extraction schema: %w", err)
	}
	p := &Planner{
		completer: completer,
		cfg:       cfg,
		schema:    schema,
		logger:    logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Extract returns the rows found in text. The returned meta always carries the fixed
// document title and pagesTotal; rows are never nil.
func (p *Planner) Extract(ctx context.Context, text string, pagesTotal int, model string) (Result, error) {
	start := time.Now()
	rows, err := p.single(ctx, text, model)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: %v", common.ErrExtractionFailed, ctx.Err())
		}
		p.logger.Warn("extraction.fallback", "error", err, "chunk_chars", p.cfg.ChunkChars)
		if p.onFallback != nil {
			p.onFallback()
		}
		rows, err = p.chunked(ctx, text, model)
		if err != nil {
			return Result{}, err
		}
	}

	if rows == nil {
		rows = []Row{}
	}
	Normalize(rows)
	p.logger.Info("extraction.done", "rows", len(rows), "pages_total", pagesTotal, "took", time.Since(start))
	return Result{
		DocumentMeta: DocumentMeta{Title: DocumentTitle, PagesTotal: pagesTotal},
		Rows:         rows,
	}, nil
}

func (p *Planner) single(ctx context.Context, text, model string) ([]Row, error) {
	if limit := p.cfg.MaxSingleCallChars; limit > 0 && utf8.RuneCountInString(text) > limit {
		return nil, errSingleCallTooLarge
	}
	return p.call(ctx, model, stageSingle, buildPrompt(fullTextLabel, text))
}

func (p *Planner) chunked(ctx context.Context, text, model string) ([]Row, error) {
	chunks := ChunkPages(text, p.cfg.ChunkChars)
	p.logger.Info("extraction.chunked.start", "chunks", len(chunks))

	rows := []Row{}
	for i, chunk := range chunks {
		got, err := p.chunkWithRetry(ctx, model, chunk)
		if err != nil {
			p.logger.Error("extraction.chunk.failed", "chunk", i+1, "of", len(chunks), "error", err)
			return nil, common.NewAppError("EXTRACTION_FAILED",
				fmt.Sprintf("extraction failed on chunk %d of %d", i+1, len(chunks)),
				fmt.Errorf("%w: %v", common.ErrExtractionFailed, err))
		}
		p.logger.Debug("extraction.chunk.ok", "chunk", i+1, "rows", len(got))
		rows = append(rows, got...)
	}
	return rows, nil
}

func (p *Planner) chunkWithRetry(ctx context.Context, model, chunk string) ([]Row, error) {
	prompt := buildPrompt(chunkLabel, chunk)
	if p.cfg.ChunkRetries == 0 {
		return p.call(ctx, model, stageChunk, prompt)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.RetryBaseDelay
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.cfg.ChunkRetries)), ctx)

	var rows []Row
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		rows, err = p.call(ctx, model, stageChunk, prompt)
		if err != nil && attempt <= p.cfg.ChunkRetries {
			p.logger.Warn("extraction.chunk.retry", "attempt", attempt, "error", err)
		}
		return err
	}, policy)
	return rows, err
}

func (p *Planner) call(ctx context.Context, model, stage, prompt string) ([]Row, error) {
	raw, err := p.completer.Complete(ctx, llm.Request{
		Model:  model,
		System: systemPrompt,
		Prompt: prompt,
		Schema: Schema(),
		Stage:  stage,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Rows []Row `json:"rows"`
	}
	if err := llm.Decode(raw, p.schema, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}
