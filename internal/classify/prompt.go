package classify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/ihm-parser/internal/extraction"
	"github.com/joseph-ayodele/ihm-parser/internal/refcodes"
)

const systemPrompt = "You are a waste classification expert. Return ONLY valid JSON."

const descriptionLimit = 80

const rules = `
## EWC Code Selection Rules (Commission Decision 2000/532/EC)

### Order of Precedence for Chapter Selection:

**Step 1 - Identification by Waste Source:**
- Chapters 01-12 and 17-20 refer specifically to industry process waste and municipal waste
- If your waste falls into one of these chapters, use the most appropriate code
- Do NOT use a 99 code at Step 1 if a more specific entry exists in other chapters

**Step 2 - Identification by Waste Type:**
- If no appropriate entry found in Step 1, check chapters 13, 14, and 15
- Chapter 13: Oil wastes and liquid fuel wastes
- Chapter 14: Waste organic solvents, refrigerants and propellants
- Chapter 15: Waste packaging, absorbents, wiping cloths, filter materials, protective clothing

**Step 3 - Other General Wastes:**
- If not found in chapters 01-15 or 17-20, check chapter 16
- Chapter 16 contains: vehicles, electronic equipment, batteries, catalysts, laboratory chemicals, oxidisers

**Step 4 - Non-Specific Wastes:**
- Only use 99 codes (e.g., 20 01 99) if no suitable alternative exists in another chapter

### Entry Types (Hazardous Classification):

**AH (Absolute Hazardous):**
- Always hazardous regardless of composition
- Examples: fuel oil, diesel, PCBs, asbestos

**AN (Absolute Non-Hazardous):**
- Never hazardous
- No link to mirror entries
- Examples: waste bark and cork, uncontaminated soil

**MH (Mirror Hazardous):**
- Hazardous if contains dangerous substances above threshold
- Description contains "dangerous substances" reference
- Examples: sludges containing dangerous substances

**MN (Mirror Non-Hazardous):**
- Non-hazardous version of mirror entry
- Often described as "other than those mentioned in..."
- Examples: sludges other than those mentioned in the hazardous entry

### Ship Recycling Specific Guidance:
- Lead-acid batteries → 16 06 01 (lead batteries) - AH
- Other batteries → 16 06 02 (nickel-cadmium) or 16 06 04 (alkaline)
- Fuel oils, diesel → 13 07 01 (fuel oil and diesel) - AH
- Lubricating oils → 13 02 XX codes - typically AH
- Bilge water/oily water → 13 05 XX codes
- Sludges → 13 05 02 (sludges from oil/water separators)
- HFC refrigerants → 14 06 01 (CFCs, HCFCs, HFCs) - AH
- Paints → 08 01 11 (containing organic solvents/hazardous) or 08 01 12 (other)
- Chemical products → various chapter 06/07 codes depending on type
`

const outputShape = `## Instructions:
1. Analyze each material based on its description, hazard flags, and context
2. Follow the chapter precedence rules (Step 1-4)
3. Consider whether hazardous (AH/MH) or non-hazardous (AN/MN) entry applies
4. Select the BEST matching 6-digit EWC code for each item
5. Also identify up to 3 alternative candidate codes that could reasonably apply

Return ONLY a JSON object with this exact structure:
{
  "classifications": [
    {
      "item_index": 0,
      "ewc_code": "XXXXXX",
      "ewc_candidates": ["YYYYYY", "ZZZZZZ"]
    },
    ...
  ]
}

Rules for ewc_candidates:
- Include 0-3 alternative codes that could also apply
- Do NOT include the main ewc_code in this list
- Only include codes that are genuinely plausible alternatives
- If no alternatives fit, use an empty array []
`

// FormatReferenceCodes renders the code list grouped under "### Chapter" headers in the
// set's presentation order. Priority codes are starred and hazardous ones flagged.
func FormatReferenceCodes(set refcodes.Set) string {
	var b strings.Builder
	chapter := ""
	first := true
	for _, c := range set.Codes() {
		if first || c.Chapter != chapter {
			chapter = c.Chapter
			b.WriteString("\n### Chapter ")
			b.WriteString(chapter)
			first = false
		}
		b.WriteString("\n")
		if c.Priority {
			b.WriteString("★")
		}
		b.WriteString(c.Code)
		b.WriteString(" | ")
		b.WriteString(truncate(c.Description, descriptionLimit))
		b.WriteString(" | ")
		b.WriteString(c.EntryType)
		b.WriteString(" ")
		if c.Hazardous {
			b.WriteString("⚠️")
		}
	}
	return b.String()
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func formatItems(rows []extraction.Row) string {
	blocks := make([]string, len(rows))
	for i, r := range rows {
		material := r.Material
		if material == "" {
			material = "Unknown"
		}
		qty := ""
		if r.QuantityValue != nil {
			qty = r.QuantityValue.String()
		}
		blocks[i] = fmt.Sprintf("### Item %d:\n- Material: %s\n- Item Name: %s\n- Location: %s\n"+
			"- Quantity: %s %s\n- Hazard Flags: %s\n- Remarks: %s\n- Source Context: %s",
			i, material, r.ItemName, r.Location, qty, r.QuantityUnit,
			strings.Join(r.HazardFlags, ", "), r.Remarks, r.SourceText)
	}
	return strings.Join(blocks, "\n\n")
}

func buildPrompt(rows []extraction.Row, codesText string) string {
	var b strings.Builder
	b.WriteString("You are an expert waste classification analyst specializing in the European Waste Catalogue (EWC).\n\n")
	b.WriteString("Your task: Classify each of the following hazardous material items into the correct 6-digit EWC code.\n\n")
	b.WriteString(rules)
	b.WriteString("\n## EWC Codes Reference (priority codes listed first):\n")
	b.WriteString(codesText)
	b.WriteString("\n\n## Items to Classify:\n")
	b.WriteString(formatItems(rows))
	b.WriteString("\n\n")
	b.WriteString(outputShape)
	b.WriteString("\nIMPORTANT: Return exactly ")
	b.WriteString(strconv.Itoa(len(rows)))
	b.WriteString(" classifications in the same order as the items listed above.\n")
	return b.String()
}

// Schema is the shape the model's classification answer must satisfy.
func Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"classifications": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"item_index": map[string]any{"type": "integer"},
						"ewc_code":   map[string]any{"type": []string{"string", "null"}},
						"ewc_candidates": map[string]any{
							"type":  []string{"array", "null"},
							"items": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
		"required": []string{"classifications"},
	}
}
