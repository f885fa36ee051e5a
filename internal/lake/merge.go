package lake

import (
	"fmt"
	"math"
	"sort"
)

// Merge reconciles freshly fetched rows with a symbol's existing history and
// returns the new history: unique per (symbol, date), sorted ascending by
// date, with the schema's column policies applied. The operation is a pure
// function of its inputs - re-running it over the same inputs reproduces the
// same output, which is what makes the history replace idempotent.
func Merge(schema Schema, existing, incoming []Record) ([]Record, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	// Concatenate preserving relative order: history first, fresh rows last.
	combined := make([]Record, 0, len(existing)+len(incoming))
	combined = append(combined, existing...)
	combined = append(combined, incoming...)

	var merged []Record
	switch schema.Policy {
	case PolicyLastWins:
		merged = dedupLastWins(combined)
	case PolicyFirstWinsTieBreak:
		merged = dedupFirstWinsTieBreak(combined, schema.TieBreak)
	default:
		return nil, fmt.Errorf("unknown dedup policy %q", schema.Policy)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Date.Equal(merged[j].Date) {
			return merged[i].Date.Before(merged[j].Date)
		}
		return merged[i].Symbol < merged[j].Symbol
	})

	applyColumnPolicy(schema, merged)

	// Uniqueness is guaranteed by construction; a duplicate surviving here
	// is a programming error, not a data error.
	seen := make(map[string]struct{}, len(merged))
	for _, rec := range merged {
		key := rec.Key()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate key %s survived dedup", key)
		}
		seen[key] = struct{}{}
	}

	return merged, nil
}

// dedupLastWins keeps the last occurrence of each key in concatenation
// order, so incoming rows override history for duplicate dates.
func dedupLastWins(records []Record) []Record {
	lastIndex := make(map[string]int, len(records))
	for i, rec := range records {
		lastIndex[rec.Key()] = i
	}

	result := make([]Record, 0, len(lastIndex))
	for i, rec := range records {
		if lastIndex[rec.Key()] == i {
			result = append(result, rec)
		}
	}
	return result
}

// dedupFirstWinsTieBreak sorts so the preferred candidate appears first for
// each key (tie-break column descending), then keeps the first occurrence.
// When two candidates tie on both date and tie-break value the stable sort
// preserves concatenation order, so the existing history row survives.
func dedupFirstWinsTieBreak(records []Record, tieBreak string) []Record {
	ranked := make([]Record, len(records))
	copy(ranked, records)

	sort.SliceStable(ranked, func(i, j int) bool {
		if !ranked[i].Date.Equal(ranked[j].Date) {
			return ranked[i].Date.Before(ranked[j].Date)
		}
		if ranked[i].Symbol != ranked[j].Symbol {
			return ranked[i].Symbol < ranked[j].Symbol
		}
		vi, _ := ranked[i].Field(tieBreak)
		vj, _ := ranked[j].Field(tieBreak)
		return vi > vj
	})

	seen := make(map[string]struct{}, len(ranked))
	result := make([]Record, 0, len(ranked))
	for _, rec := range ranked {
		key := rec.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, rec)
	}
	return result
}

// applyColumnPolicy rounds price-like columns to the schema's fixed decimal
// places (arithmetic rounding, half away from zero) and strips obsolete
// columns from the merged output.
func applyColumnPolicy(schema Schema, records []Record) {
	factor := math.Pow(10, float64(schema.PriceDecimals))

	for _, rec := range records {
		for _, col := range schema.PriceColumns {
			if v, ok := rec.Fields[col]; ok {
				rec.Fields[col] = math.Round(v*factor) / factor
			}
		}
		for _, col := range schema.Obsolete {
			delete(rec.Fields, col)
		}
	}
}
