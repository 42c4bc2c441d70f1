package extraction

// Schema is the JSON schema sent to the model and enforced on its answer. Optional fields
// also accept null, which JSON-mode models emit for blanks.
func Schema() map[string]any {
	str := map[string]any{"type": "string"}
	optStr := map[string]any{"type": []string{"string", "null"}}
	optInt := map[string]any{"type": []string{"integer", "null"}}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"document_meta": map[string]any{
				"type": []string{"object", "null"},
				"properties": map[string]any{
					"title":       optStr,
					"pages_total": optInt,
				},
			},
			"rows": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"chapter":        str,
						"section_title":  optStr,
						"table_id":       optStr,
						"material":       str,
						"item_name":      optStr,
						"location":       str,
						"quantity_value": map[string]any{"type": []string{"number", "string", "null"}},
						"quantity_unit":  optStr,
						"hazard_flags": map[string]any{
							"type":  []string{"array", "null"},
							"items": str,
						},
						"remarks":     optStr,
						"page":        map[string]any{"type": "integer"},
						"row_index":   optInt,
						"source_text": optStr,
					},
					"required": []string{"chapter", "material", "location", "page"},
				},
			},
		},
		"required": []string{"rows"},
	}
}
