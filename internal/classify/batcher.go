// Package classify assigns EWC codes to extracted rows with a single batched model call.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/extraction"
	"github.com/joseph-ayodele/ihm-parser/internal/llm"
	"github.com/joseph-ayodele/ihm-parser/internal/refcodes"
)

// MaxCandidates caps the alternative codes kept per row.
const MaxCandidates = 3

const stage = "classify"

type Batcher struct {
	completer llm.Completer
	schema    *jsonschema.Schema
	logger    *slog.Logger
}

type answer struct {
	Classifications []struct {
		ItemIndex     json.Number `json:"item_index"`
		EWCCode       string      `json:"ewc_code"`
		EWCCandidates []string    `json:"ewc_candidates"`
	} `json:"classifications"`
}

func NewBatcher(completer llm.Completer, logger *slog.Logger) (*Batcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := llm.CompileSchema(Schema())
	if err != nil {
		return nil, fmt.Errorf("classification schema: %w", err)
	}
	return &Batcher{completer: completer, schema: schema, logger: logger}, nil
}

// Classify returns exactly one classification per row, index-aligned with rows. Rows the
// model skipped get an empty code and no candidates.
func (b *Batcher) Classify(ctx context.Context, rows []extraction.Row, codes refcodes.Set, model string) ([]extraction.Classification, error) {
	if len(rows) == 0 {
		return []extraction.Classification{}, nil
	}

	start := time.Now()
	raw, err := b.completer.Complete(ctx, llm.Request{
		Model:  model,
		System: systemPrompt,
		Prompt: buildPrompt(rows, FormatReferenceCodes(codes)),
		Schema: Schema(),
		Stage:  stage,
	})
	if err != nil {
		b.logger.Error("classify.failed", "rows", len(rows), "error", err)
		return nil, classifyError(err)
	}

	var ans answer
	if err := llm.Decode(raw, b.schema, &ans); err != nil {
		b.logger.Error("classify.decode_failed", "error", err)
		return nil, classifyError(err)
	}

	out := make([]extraction.Classification, len(rows))
	matched := make([]bool, len(rows))
	for _, c := range ans.Classifications {
		i, ok := llm.WholeNumber(c.ItemIndex)
		if !ok || i < 0 || i >= len(rows) || matched[i] {
			continue
		}
		matched[i] = true
		if c.EWCCode != "" && !codes.Valid(c.EWCCode) {
			b.logger.Warn("classify.code.unknown", "item", i, "code", c.EWCCode)
		}
		out[i] = extraction.Classification{
			EWCCode:       c.EWCCode,
			EWCCandidates: filterCandidates(c.EWCCandidates, c.EWCCode, codes),
		}
	}

	missing := 0
	for i := range out {
		if out[i].EWCCandidates == nil {
			out[i].EWCCandidates = []string{}
		}
		if !matched[i] {
			missing++
		}
	}
	if missing > 0 {
		b.logger.Warn("classify.items.missing", "missing", missing, "rows", len(rows))
	}
	b.logger.Info("classify.done", "rows", len(rows), "took", time.Since(start))
	return out, nil
}

// filterCandidates keeps valid, distinct codes other than main, in order, at most MaxCandidates.
func filterCandidates(candidates []string, main string, codes refcodes.Set) []string {
	out := make([]string, 0, MaxCandidates)
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if len(out) == MaxCandidates {
			break
		}
		if c == main || !codes.Valid(c) {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func classifyError(err error) error {
	return common.NewAppError("CLASSIFICATION_FAILED", fmt.Sprintf("classification failed: %v", err),
		fmt.Errorf("%w: %v", common.ErrClassificationFailed, err))
}

// Apply attaches cls to rows by position. Extra entries on either side are ignored.
func Apply(rows []extraction.Row, cls []extraction.Classification) {
	for i := range rows {
		if i >= len(cls) {
			return
		}
		c := cls[i]
		rows[i].Classification = &c
	}
}
