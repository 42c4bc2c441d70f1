package export

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/ihm-parser/internal/extraction"
)

const (
	rowsSheet    = "Inventory"
	summarySheet = "Summary"
)

var headers = []string{
	"Page",
	"Chapter",
	"Section",
	"Table",
	"Row",
	"Material",
	"Item",
	"Location",
	"Quantity",
	"Unit",
	"Hazard Flags",
	"EWC Code",
	"EWC Candidates",
	"Remarks",
	"Source Text",
}

// Service renders classified inventories as XLSX workbooks.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// Workbook is the input of an export: one processed document.
type Workbook struct {
	Filename string
	Model    string
	Meta     extraction.DocumentMeta
	Rows     []extraction.Row
}

// XLSX returns the workbook bytes: an inventory sheet with one line per row and a summary sheet.
func (s *Service) XLSX(wb Workbook) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	// Rename the default sheet rather than leaving an empty "Sheet1" behind.
	if err := f.SetSheetName(f.GetSheetName(0), rowsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("create summary sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(rowsSheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(rowsSheet, 1, 1, style)
	}

	line := 2
	for _, r := range wb.Rows {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, line)
			_ = f.SetCellValue(rowsSheet, cell, v)
		}

		write(1, r.Page)
		write(2, r.Chapter)
		write(3, r.SectionTitle)
		write(4, r.TableID)
		if r.RowIndex > 0 {
			write(5, r.RowIndex)
		}
		write(6, r.Material)
		write(7, r.ItemName)
		write(8, r.Location)
		if r.QuantityValue != nil {
			if v, ok := r.QuantityValue.Number(); ok {
				write(9, v)
			} else {
				write(9, r.QuantityValue.String())
			}
		}
		write(10, r.QuantityUnit)
		write(11, strings.Join(r.HazardFlags, ", "))
		if r.Classification != nil {
			write(12, r.EWCCode)
			write(13, strings.Join(r.EWCCandidates, ", "))
		}
		write(14, r.Remarks)
		write(15, truncate(r.SourceText, 200))
		line++
	}

	_ = f.SetColWidth(rowsSheet, "A", "A", 8)
	_ = f.SetColWidth(rowsSheet, "B", "D", 18)
	_ = f.SetColWidth(rowsSheet, "E", "E", 6)
	_ = f.SetColWidth(rowsSheet, "F", "H", 28)
	_ = f.SetColWidth(rowsSheet, "I", "J", 10)
	_ = f.SetColWidth(rowsSheet, "K", "M", 20)
	_ = f.SetColWidth(rowsSheet, "N", "O", 48)
	_ = f.SetPanes(rowsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	summary := [][2]any{
		{"Title", wb.Meta.Title},
		{"File", wb.Filename},
		{"Model", wb.Model},
		{"Pages", wb.Meta.PagesTotal},
		{"Items", len(wb.Rows)},
		{"Classified", classified(wb.Rows)},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 14)
	_ = f.SetColWidth(summarySheet, "B", "B", 48)

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"filename", wb.Filename,
		"rows", len(wb.Rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func classified(rows []extraction.Row) int {
	n := 0
	for _, r := range rows {
		if r.Classification != nil && r.EWCCode != "" {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
