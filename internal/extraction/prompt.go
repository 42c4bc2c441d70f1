package extraction

import (
	"encoding/json"
	"strings"
)

const systemPrompt = "You are a marine-compliance analyst. Return ONLY valid JSON."

const instructions = `You are an expert marine-compliance analyst.
Task: From the provided IHM PDF text, extract ONLY hazardous-material rows listed in TABLES in PART I/II/III.

Return ONLY a JSON object following the provided JSON Schema exactly (no extra commentary).

Parsing rules & scope:
- Focus on table-like content (e.g., columns like: No., Location, Name of item, Approx. quantity, Remarks).
- For each hazardous material/store/waste table row, capture:
  chapter, section_title, table_id (or "unknown"), material, item_name (if any),
  location, quantity_value, quantity_unit, hazard_flags (keywords like lead, HFC, PFOS, PCB, oil, sludge, battery),
  remarks (short), page number, row_index (1-based within that table), and a short source_text snippet.
- Normalize obvious units to one of: pcs, L, m3, kg (keep original text if ambiguous).
- If quantity is "~" or a range, keep it as a string and explain briefly in remarks.
- Exclude clearly non-hazardous media (e.g., ballast water, fresh water) unless explicitly flagged as hazardous.
- If a section states "none" for a regulated substance, do NOT add a row.
- Keep numbers numeric when the document uses a precise value; otherwise use string.

Output formatting:
- Return ONLY valid JSON matching the provided schema.
`

const tightRules = `
- Always include 'page' using the PAGE header like '--- PAGE 17 ---' if present.
- Batteries => include 'lead-battery' in hazard_flags; fuels/lube/sludge => include 'oil'; HFCs (e.g., R448) => include 'HFC'.
- Do not invent rows. If no table-like lines exist, return {"rows": []}.
`

const (
	fullTextLabel = "FULL PDF TEXT:"
	chunkLabel    = "PDF TEXT CHUNK:"
)

var schemaText = func() string {
	b, _ := json.Marshal(Schema())
	return string(b)
}()

func buildPrompt(label, text string) string {
	var b strings.Builder
	b.Grow(len(instructions) + len(tightRules) + len(schemaText) + len(text) + 64)
	b.WriteString(instructions)
	b.WriteString("\n")
	b.WriteString(tightRules)
	b.WriteString("\n\nJSON Schema:\n")
	b.WriteString(schemaText)
	b.WriteString("\n\n")
	b.WriteString(label)
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}
