package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
)

// PageMarkerPrefix starts every page block in Document.Text.
const PageMarkerPrefix = "--- PAGE "

// Document is the text layer of a PDF, page-tagged.
type Document struct {
	Text       string
	PagesTotal int
	Pages      []Page
}

type Page struct {
	Number int
	Text   string
}

// pageSource is the part of a PDF reader the extractor needs.
type pageSource interface {
	NumPage() int
	PageText(n int) (string, error)
}

type Extractor struct {
	logger *slog.Logger
	open   func(b []byte) (pageSource, error)
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger, open: openLedongthuc}
}

// HasSignature reports whether b starts with the PDF magic bytes.
func HasSignature(b []byte) bool {
	return bytes.HasPrefix(b, []byte("%PDF"))
}

// Marker returns the header line for page n (1-based).
func Marker(n int) string {
	return PageMarkerPrefix + strconv.Itoa(n) + " ---"
}

// Extract reads every page's text layer. A page that yields no text becomes an empty
// block; only a document that cannot be opened is an error.
func (e *Extractor) Extract(ctx context.Context, b []byte) (Document, error) {
	start := time.Now()
	e.logger.Info("pdf.extract.start", "bytes", len(b))

	src, err := e.open(b)
	if err != nil {
		e.logger.Error("pdf.extract.open_failed", "error", err)
		return Document{}, common.NewAppError("UNREADABLE_PDF", "PDF could not be opened", fmt.Errorf("%w: %v", common.ErrUnreadablePDF, err))
	}

	total := src.NumPage()
	doc := Document{PagesTotal: total, Pages: make([]Page, 0, total)}
	blocks := make([]string, 0, total)
	empty := 0
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		txt, err := src.PageText(n)
		if err != nil {
			e.logger.Warn("pdf.extract.page_failed", "page", n, "error", err)
			txt = ""
		}
		txt = strings.TrimSpace(txt)
		if txt == "" {
			empty++
		}
		doc.Pages = append(doc.Pages, Page{Number: n, Text: txt})
		blocks = append(blocks, Marker(n)+"\n"+txt)
	}
	doc.Text = strings.Join(blocks, "\n\n")

	e.logger.Info("pdf.extract.ok",
		"pages", total,
		"empty_pages", empty,
		"text_len", len(doc.Text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

type ledongthucSource struct {
	r     *pdf.Reader
	pages int
}

// openLedongthuc opens the reader and resolves the page tree up front; the library
// panics on some malformed inputs.
func openLedongthuc(b []byte) (src pageSource, err error) {
	defer func() {
		if r := recover(); r != nil {
			src, err = nil, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, err
	}
	if r.Trailer().Key("Root").IsNull() {
		return nil, fmt.Errorf("pdf has no document catalog")
	}
	return &ledongthucSource{r: r, pages: r.NumPage()}, nil
}

func (s *ledongthucSource) NumPage() int { return s.pages }

func (s *ledongthucSource) PageText(n int) (txt string, err error) {
	defer func() {
		if r := recover(); r != nil {
			txt, err = "", fmt.Errorf("page %d: reader panic: %v", n, r)
		}
	}()
	p := s.r.Page(n)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}
