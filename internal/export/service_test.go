package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/ihm-parser/internal/extraction"
)

func TestXLSX(t *testing.T) {
	rows := []extraction.Row{
		{
			Chapter: "PART I", Material: "Lead acid battery", Location: "Bridge", Page: 4, RowIndex: 2,
			QuantityValue: extraction.NumberQuantity(6), QuantityUnit: "pcs",
			HazardFlags:    []string{"lead-battery"},
			Classification: &extraction.Classification{EWCCode: "160601", EWCCandidates: []string{"160602", "160604"}},
		},
		{
			Chapter: "PART III", Material: "Sludge", Location: "Engine room", Page: 9,
			QuantityValue: extraction.TextQuantity("~2"), QuantityUnit: "m3",
		},
	}

	b, err := NewService(nil).XLSX(Workbook{
		Filename: "ship.pdf",
		Model:    "gpt-5",
		Meta:     extraction.DocumentMeta{Title: extraction.DocumentTitle, PagesTotal: 12},
		Rows:     rows,
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{rowsSheet, summarySheet}, f.GetSheetList())

	got, err := f.GetRows(rowsSheet)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, headers, got[0])
	assert.Equal(t, "4", got[1][0])
	assert.Equal(t, "Lead acid battery", got[1][5])
	assert.Equal(t, "6", got[1][8])
	assert.Equal(t, "160601", got[1][11])
	assert.Equal(t, "160602, 160604", got[1][12])
	assert.Equal(t, "~2", got[2][8])

	items, err := f.GetCellValue(summarySheet, "B5")
	require.NoError(t, err)
	assert.Equal(t, "2", items)
	done, err := f.GetCellValue(summarySheet, "B6")
	require.NoError(t, err)
	assert.Equal(t, "1", done)
}

func TestXLSXNoRows(t *testing.T) {
	b, err := NewService(nil).XLSX(Workbook{Meta: extraction.DocumentMeta{Title: extraction.DocumentTitle}})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()
	got, err := f.GetRows(rowsSheet)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
