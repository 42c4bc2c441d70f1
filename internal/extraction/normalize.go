package extraction

import (
	"strings"
)

// Canonical quantity units.
const (
	UnitPieces      = "pcs"
	UnitLitres      = "L"
	UnitCubicMetres = "m3"
	UnitKilograms   = "kg"
)

var unitAliases = map[string]string{
	"pcs": UnitPieces, "pc": UnitPieces, "piece": UnitPieces, "pieces": UnitPieces,
	"ea": UnitPieces, "each": UnitPieces, "nos": UnitPieces, "no": UnitPieces, "no.": UnitPieces,
	"unit": UnitPieces, "units": UnitPieces, "set": UnitPieces, "sets": UnitPieces,

	"l": UnitLitres, "lt": UnitLitres, "ltr": UnitLitres, "ltrs": UnitLitres,
	"litre": UnitLitres, "litres": UnitLitres, "liter": UnitLitres, "liters": UnitLitres,

	"m3": UnitCubicMetres, "m³": UnitCubicMetres, "m^3": UnitCubicMetres, "cbm": UnitCubicMetres,
	"cu m": UnitCubicMetres, "cubic metre": UnitCubicMetres, "cubic meters": UnitCubicMetres,
	"cubic metres": UnitCubicMetres, "cubic meter": UnitCubicMetres,

	"kg": UnitKilograms, "kgs": UnitKilograms, "kilogram": UnitKilograms, "kilograms": UnitKilograms,
}

// NormalizeUnit maps unambiguous spellings onto the canonical set and returns anything
// else trimmed but otherwise unchanged.
func NormalizeUnit(u string) string {
	t := strings.TrimSpace(u)
	if canon, ok := unitAliases[strings.ToLower(t)]; ok {
		return canon
	}
	return t
}

// Normalize tidies model output in place: trims strings, canonicalises units and removes
// duplicate hazard flags keeping the first occurrence.
func Normalize(rows []Row) {
	for i := range rows {
		r := &rows[i]
		r.Chapter = strings.TrimSpace(r.Chapter)
		r.SectionTitle = strings.TrimSpace(r.SectionTitle)
		r.TableID = strings.TrimSpace(r.TableID)
		r.Material = strings.TrimSpace(r.Material)
		r.ItemName = strings.TrimSpace(r.ItemName)
		r.Location = strings.TrimSpace(r.Location)
		r.Remarks = strings.TrimSpace(r.Remarks)
		r.QuantityUnit = NormalizeUnit(r.QuantityUnit)
		r.HazardFlags = dedupeFlags(r.HazardFlags)
	}
}

func dedupeFlags(flags []string) []string {
	if len(flags) == 0 {
		return flags
	}
	seen := make(map[string]struct{}, len(flags))
	out := flags[:0]
	for _, f := range flags {
		f = strings.TrimSpace(f)
		key := strings.ToLower(f)
		if f == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}
