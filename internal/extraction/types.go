package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/joseph-ayodele/ihm-parser/internal/llm"
)

// DocumentTitle is the fixed title stamped on every result.
const DocumentTitle = "Inventory Hazardous Material (IHM)"

type DocumentMeta struct {
	Title      string `json:"title"`
	PagesTotal int    `json:"pages_total"`
}

// Classification is the EWC assignment attached to a row after classification.
type Classification struct {
	EWCCode       string   `json:"ewc_code"`
	EWCCandidates []string `json:"ewc_candidates"`
}

// Row is one hazardous-material table entry. The embedded Classification stays nil until
// the row has been classified.
type Row struct {
	Chapter       string    `json:"chapter"`
	SectionTitle  string    `json:"section_title,omitempty"`
	TableID       string    `json:"table_id,omitempty"`
	Material      string    `json:"material"`
	ItemName      string    `json:"item_name,omitempty"`
	Location      string    `json:"location"`
	QuantityValue *Quantity `json:"quantity_value,omitempty"`
	QuantityUnit  string    `json:"quantity_unit,omitempty"`
	HazardFlags   []string  `json:"hazard_flags,omitempty"`
	Remarks       string    `json:"remarks,omitempty"`
	Page          int       `json:"page"`
	RowIndex      int       `json:"row_index,omitempty"`
	SourceText    string    `json:"source_text,omitempty"`

	*Classification
}

// UnmarshalJSON accepts integer-valued floats such as 3.0 for page and row_index.
func (r *Row) UnmarshalJSON(b []byte) error {
	type plain Row
	aux := struct {
		*plain
		Page     json.Number `json:"page"`
		RowIndex json.Number `json:"row_index"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Page != "" {
		v, ok := llm.WholeNumber(aux.Page)
		if !ok {
			return fmt.Errorf("page must be an integer, got %s", aux.Page)
		}
		r.Page = v
	}
	if aux.RowIndex != "" {
		v, ok := llm.WholeNumber(aux.RowIndex)
		if !ok {
			return fmt.Errorf("row_index must be an integer, got %s", aux.RowIndex)
		}
		r.RowIndex = v
	}
	return nil
}

type Result struct {
	DocumentMeta DocumentMeta `json:"document_meta"`
	Rows         []Row        `json:"rows"`
}

// Quantity is a JSON number or, for approximate and ranged amounts, free text.
type Quantity struct {
	num    float64
	text   string
	isText bool
}

func NumberQuantity(v float64) *Quantity { return &Quantity{num: v} }

func TextQuantity(s string) *Quantity { return &Quantity{text: s, isText: true} }

// Number returns the numeric value; ok is false for textual quantities.
func (q Quantity) Number() (v float64, ok bool) {
	return q.num, !q.isText
}

func (q Quantity) IsText() bool { return q.isText }

func (q Quantity) String() string {
	if q.isText {
		return q.text
	}
	return strconv.FormatFloat(q.num, 'f', -1, 64)
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if q.isText {
		return json.Marshal(q.text)
	}
	return []byte(strconv.FormatFloat(q.num, 'g', -1, 64)), nil
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = Quantity{text: s, isText: true}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("quantity_value must be a number or string: %w", err)
	}
	*q = Quantity{num: f}
	return nil
}
