package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/extraction"
	"github.com/joseph-ayodele/ihm-parser/internal/llm"
	"github.com/joseph-ayodele/ihm-parser/internal/refcodes"
)

func codeSet() refcodes.Set {
	return refcodes.NewSet([]refcodes.Code{
		{Code: "160601", Description: "lead batteries", Chapter: "16", EntryType: "AH", Hazardous: true, Priority: true},
		{Code: "130701", Description: "fuel oil and diesel", Chapter: "13", EntryType: "AH", Hazardous: true, Priority: true},
		{Code: "160602", Description: "Ni-Cd batteries", Chapter: "16", EntryType: "AH", Hazardous: true},
		{Code: "160604", Description: "alkaline batteries (except 16 06 03)", Chapter: "16", EntryType: "AN"},
		{Code: "200199", Description: "other fractions not otherwise specified", Chapter: "20", EntryType: "AN"},
	})
}

func batteryRows() []extraction.Row {
	return []extraction.Row{
		{Chapter: "PART I", Material: "Lead acid battery", Location: "Bridge", Page: 3, HazardFlags: []string{"lead-battery"}},
		{Chapter: "PART III", Material: "Diesel oil", Location: "Tank 4", Page: 9, QuantityValue: extraction.NumberQuantity(12.5), QuantityUnit: "m3"},
	}
}

func fixed(body string, calls *int, seen *llm.Request) llm.Completer {
	return llm.CompleterFunc(func(_ context.Context, req llm.Request) ([]byte, error) {
		*calls++
		if seen != nil {
			*seen = req
		}
		return []byte(body), nil
	})
}

func TestClassifyEmptyRowsSkipsModel(t *testing.T) {
	calls := 0
	b, err := NewBatcher(fixed(`{}`, &calls, nil), nil)
	require.NoError(t, err)

	out, err := b.Classify(context.Background(), nil, codeSet(), "gpt-5")
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Zero(t, calls)
}

func TestClassifyCleansCandidates(t *testing.T) {
	calls := 0
	var req llm.Request
	body := `{"classifications": [
		{"item_index": 0, "ewc_code": "160601", "ewc_candidates": ["160601", "999999", "160602", "160602", "160604", "200199"]}
	]}`
	b, err := NewBatcher(fixed(body, &calls, &req), nil)
	require.NoError(t, err)

	rows := batteryRows()[:1]
	out, err := b.Classify(context.Background(), rows, codeSet(), "gpt-5")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "160601", out[0].EWCCode)
	assert.Equal(t, []string{"160602", "160604", "200199"}, out[0].EWCCandidates)

	assert.Equal(t, 1, calls)
	assert.Equal(t, systemPrompt, req.System)
	assert.Equal(t, "gpt-5", req.Model)
	assert.Contains(t, req.Prompt, "### Item 0:\n- Material: Lead acid battery")
	assert.Contains(t, req.Prompt, "Return exactly 1 classifications")
}

func TestClassifyIndexAlignment(t *testing.T) {
	calls := 0
	body := `{"classifications": [
		{"item_index": 1, "ewc_code": "130701", "ewc_candidates": []},
		{"item_index": 1, "ewc_code": "200199"},
		{"item_index": 7, "ewc_code": "160601"},
		{"ewc_code": "160602"}
	]}`
	b, err := NewBatcher(fixed(body, &calls, nil), nil)
	require.NoError(t, err)

	out, err := b.Classify(context.Background(), batteryRows(), codeSet(), "m")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, extraction.Classification{EWCCode: "", EWCCandidates: []string{}}, out[0])
	assert.Equal(t, "130701", out[1].EWCCode, "first entry for an index wins")
	assert.Equal(t, []string{}, out[1].EWCCandidates)
}

func TestClassifyAcceptsFloatIndex(t *testing.T) {
	calls := 0
	body := `{"classifications": [
		{"item_index": 0.0, "ewc_code": "160601", "ewc_candidates": ["160602"]},
		{"item_index": 1.0, "ewc_code": "130701"}
	]}`
	b, err := NewBatcher(fixed(body, &calls, nil), nil)
	require.NoError(t, err)

	out, err := b.Classify(context.Background(), batteryRows(), codeSet(), "m")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "160601", out[0].EWCCode)
	assert.Equal(t, []string{"160602"}, out[0].EWCCandidates)
	assert.Equal(t, "130701", out[1].EWCCode)
}

func TestClassifyKeepsUnknownMainCode(t *testing.T) {
	calls := 0
	body := `{"classifications": [{"item_index": 0, "ewc_code": "123456", "ewc_candidates": ["123456", "160601"]}]}`
	b, err := NewBatcher(fixed(body, &calls, nil), nil)
	require.NoError(t, err)

	out, err := b.Classify(context.Background(), batteryRows()[:1], codeSet(), "m")
	require.NoError(t, err)
	assert.Equal(t, "123456", out[0].EWCCode)
	assert.Equal(t, []string{"160601"}, out[0].EWCCandidates)
}

func TestClassifyModelFailure(t *testing.T) {
	failing := llm.CompleterFunc(func(context.Context, llm.Request) ([]byte, error) {
		return nil, errors.New("rate limited")
	})
	b, err := NewBatcher(failing, nil)
	require.NoError(t, err)

	_, err = b.Classify(context.Background(), batteryRows(), codeSet(), "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrClassificationFailed)
	assert.Contains(t, common.PublicMessage(err), "rate limited")
}

func TestClassifyMalformedAnswer(t *testing.T) {
	calls := 0
	b, err := NewBatcher(fixed(`{"classifications": "nope"}`, &calls, nil), nil)
	require.NoError(t, err)

	_, err = b.Classify(context.Background(), batteryRows(), codeSet(), "m")
	assert.ErrorIs(t, err, common.ErrClassificationFailed)
}

func TestApply(t *testing.T) {
	rows := batteryRows()
	Apply(rows, []extraction.Classification{
		{EWCCode: "160601", EWCCandidates: []string{"160602"}},
		{EWCCode: "130701", EWCCandidates: []string{}},
	})
	require.NotNil(t, rows[0].Classification)
	assert.Equal(t, "160601", rows[0].EWCCode)
	assert.Equal(t, "130701", rows[1].EWCCode)

	short := batteryRows()
	Apply(short, []extraction.Classification{{EWCCode: "160601"}})
	assert.Nil(t, short[1].Classification)
}

func TestFormatReferenceCodes(t *testing.T) {
	long := strings.Repeat("d", 85)
	set := refcodes.NewSet([]refcodes.Code{
		{Code: "160601", Description: "lead batteries", Chapter: "16", EntryType: "AH", Hazardous: true, Priority: true},
		{Code: "200199", Description: long, Chapter: "20", EntryType: "AN"},
		{Code: "200101", Description: "paper", Chapter: "20", EntryType: "AN"},
	})

	got := FormatReferenceCodes(set)
	want := "\n### Chapter 16\n★160601 | lead batteries | AH ⚠️" +
		"\n### Chapter 20\n200101 | paper | AN " +
		"\n200199 | " + strings.Repeat("d", 80) + "... | AN "
	assert.Equal(t, want, got)
}

func TestFormatItemsDefaults(t *testing.T) {
	got := formatItems([]extraction.Row{{Location: "Hold", QuantityValue: extraction.TextQuantity("~5"), QuantityUnit: "kg"}})
	assert.Contains(t, got, "- Material: Unknown")
	assert.Contains(t, got, "- Quantity: ~5 kg")
	assert.Contains(t, got, "- Hazard Flags: \n")
}
