package lake

import "fmt"

// DedupPolicy selects the surviving row among duplicate (symbol, date)
// candidates during a merge.
type DedupPolicy string

const (
	// PolicyLastWins keeps the most recently appended row for a duplicate
	// key, so freshly fetched rows override history. Used where later
	// snapshots correct earlier ones (restated earnings, revised targets).
	PolicyLastWins DedupPolicy = "last_wins"

	// PolicyFirstWinsTieBreak keeps the row ranked first by the schema's
	// tie-break column (descending). Used where the better record, not the
	// newest, should survive - e.g. the price bar with the higher reported
	// volume.
	PolicyFirstWinsTieBreak DedupPolicy = "first_wins_tiebreak"
)

// Schema is the explicit typed description of one domain's rows. Raw
// ingestion is normalized against it: unknown columns are dropped, required
// columns are enforced, price-like columns are rounded to a fixed number of
// decimals, and obsolete columns are removed from merged output.
type Schema struct {
	Domain        string      // Key prefix: "<domain>-data/<symbol>"
	TimeColumn    string      // Name of the timestamp column in raw rows
	Columns       []string    // Known value columns; anything else is junk
	Required      []string    // Columns every row must carry
	PriceColumns  []string    // Columns rounded to PriceDecimals on merge
	PriceDecimals int         // Fixed decimal places for price columns
	Obsolete      []string    // Columns stripped from merged output
	TieBreak      string      // Ranking column for PolicyFirstWinsTieBreak
	Policy        DedupPolicy // Default dedup policy for the domain
}

// Validate fails fast on schema configuration errors.
func (s Schema) Validate() error {
	if s.Domain == "" {
		return fmt.Errorf("schema domain is required")
	}
	if s.TimeColumn == "" {
		return fmt.Errorf("schema %s: time column is required", s.Domain)
	}
	if s.Policy == PolicyFirstWinsTieBreak && s.TieBreak == "" {
		return fmt.Errorf("schema %s: first-wins policy requires a tie-break column", s.Domain)
	}
	if s.Policy != PolicyLastWins && s.Policy != PolicyFirstWinsTieBreak {
		return fmt.Errorf("schema %s: unknown dedup policy %q", s.Domain, s.Policy)
	}
	return nil
}

// RawKey returns the bronze-layer object key for a symbol.
func (s Schema) RawKey(symbol string) string {
	return s.Domain + "-raw/" + symbol
}

// HistoryKey returns the silver-layer object key for a symbol.
func (s Schema) HistoryKey(symbol string) string {
	return s.Domain + "-data/" + symbol
}

// ByDateKey returns the gold-layer object key for a year-month partition.
func (s Schema) ByDateKey(yearMonth string) string {
	return s.Domain + "-data-by-date/" + yearMonth
}

// MarkerKey returns the freshness marker written after a successful batch.
func (s Schema) MarkerKey() string {
	return s.Domain + "-data/.last-sync"
}

// PricesSchema describes daily OHLCV market prices. Duplicate bars keep the
// candidate with the higher reported volume rather than the newest fetch.
func PricesSchema() Schema {
	return Schema{
		Domain:        "prices",
		TimeColumn:    "date",
		Columns:       []string{"open", "high", "low", "close", "adj_close", "volume"},
		Required:      []string{"close"},
		PriceColumns:  []string{"open", "high", "low", "close", "adj_close"},
		PriceDecimals: 4,
		TieBreak:      "volume",
		Policy:        PolicyFirstWinsTieBreak,
	}
}

// EarningsSchema describes quarterly earnings observations. Later snapshots
// restate earlier estimates, so the freshest fetch wins.
func EarningsSchema() Schema {
	return Schema{
		Domain:        "earnings",
		TimeColumn:    "date",
		Columns:       []string{"eps_estimate", "eps_actual", "surprise_pct", "revenue"},
		Required:      []string{"eps_actual"},
		PriceColumns:  []string{"eps_estimate", "eps_actual"},
		PriceDecimals: 2,
		// surprise_pct is derivable from estimate/actual and was dropped
		// from the stored schema.
		Obsolete: []string{"surprise_pct"},
		Policy:   PolicyLastWins,
	}
}

// PriceTargetsSchema describes analyst price target snapshots; newer
// snapshots supersede older ones for the same date.
func PriceTargetsSchema() Schema {
	return Schema{
		Domain:        "price-targets",
		TimeColumn:    "date",
		Columns:       []string{"target_low", "target_mean", "target_high", "analysts"},
		Required:      []string{"target_mean"},
		PriceColumns:  []string{"target_low", "target_mean", "target_high"},
		PriceDecimals: 2,
		Policy:        PolicyLastWins,
	}
}

// AllSchemas returns every domain the sync job processes.
func AllSchemas() []Schema {
	return []Schema{PricesSchema(), EarningsSchema(), PriceTargetsSchema()}
}
