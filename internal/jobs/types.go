package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ihm-parser/internal/extraction"
	"github.com/joseph-ayodele/ihm-parser/internal/pdftext"
	"github.com/joseph-ayodele/ihm-parser/internal/refcodes"
)

// Result is the pipeline output returned by the synchronous endpoint and stored on done jobs.
type Result struct {
	Success      bool                    `json:"success"`
	Filename     string                  `json:"filename"`
	ModelUsed    string                  `json:"model_used"`
	DocumentMeta extraction.DocumentMeta `json:"document_meta"`
	Rows         []extraction.Row        `json:"rows"`
	TotalItems   int                     `json:"total_items"`
}

// StatusView is what a client polling a job sees. Result is set only for done jobs and
// Error only for failed ones.
type StatusView struct {
	Success   bool      `json:"success"`
	JobID     uuid.UUID `json:"jobId"`
	Status    string    `json:"status"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Collaborators. The concrete types live in pdftext, extraction, classify and refcodes.
type (
	PageExtractor interface {
		Extract(ctx context.Context, pdf []byte) (pdftext.Document, error)
	}
	RowExtractor interface {
		Extract(ctx context.Context, text string, pagesTotal int, model string) (extraction.Result, error)
	}
	Classifier interface {
		Classify(ctx context.Context, rows []extraction.Row, codes refcodes.Set, model string) ([]extraction.Classification, error)
	}
	CodeProvider interface {
		Get(ctx context.Context) (refcodes.Set, error)
	}
	Recorder interface {
		JobFinished(status string, rows int, elapsed time.Duration)
	}
)
