package lake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d.UTC()
}

func rec(t *testing.T, symbol, date string, fields map[string]float64) Record {
	t.Helper()
	return Record{Symbol: symbol, Date: day(t, date), Fields: fields}
}

func TestMerge_LastWins(t *testing.T) {
	schema := EarningsSchema()

	existing := []Record{
		rec(t, "AAPL", "2024-01-01", map[string]float64{"eps_actual": 1.10}),
	}
	incoming := []Record{
		rec(t, "AAPL", "2024-01-01", map[string]float64{"eps_actual": 1.15}),
		rec(t, "AAPL", "2024-01-02", map[string]float64{"eps_actual": 1.20}),
	}

	merged, err := Merge(schema, existing, incoming)
	require.NoError(t, err)
	require.Len(t, merged, 2)

	// Incoming row overrides the history row for the duplicate date.
	assert.Equal(t, 1.15, merged[0].Fields["eps_actual"])
	assert.Equal(t, 1.20, merged[1].Fields["eps_actual"])
}

func TestMerge_FirstWinsTieBreak(t *testing.T) {
	schema := PricesSchema()

	t.Run("higher tiebreak value wins regardless of arrival order", func(t *testing.T) {
		existing := []Record{
			rec(t, "AAPL", "2024-01-01", map[string]float64{"close": 10.0, "volume": 100}),
		}
		incoming := []Record{
			rec(t, "AAPL", "2024-01-01", map[string]float64{"close": 10.5, "volume": 500}),
		}

		merged, err := Merge(schema, existing, incoming)
		require.NoError(t, err)
		require.Len(t, merged, 1)
		assert.Equal(t, 10.5, merged[0].Fields["close"])
		assert.Equal(t, float64(500), merged[0].Fields["volume"])
	})

	t.Run("existing row survives when incoming has lower tiebreak", func(t *testing.T) {
		existing := []Record{
			rec(t, "AAPL", "2024-01-01", map[string]float64{"close": 10.0, "volume": 500}),
		}
		incoming := []Record{
			rec(t, "AAPL", "2024-01-01", map[string]float64{"close": 10.5, "volume": 100}),
		}

		merged, err := Merge(schema, existing, incoming)
		require.NoError(t, err)
		require.Len(t, merged, 1)
		assert.Equal(t, 10.0, merged[0].Fields["close"])
	})

	t.Run("full tie keeps the existing history row", func(t *testing.T) {
		existing := []Record{
			rec(t, "AAPL", "2024-01-01", map[string]float64{"close": 10.0, "volume": 100}),
		}
		incoming := []Record{
			rec(t, "AAPL", "2024-01-01", map[string]float64{"close": 10.5, "volume": 100}),
		}

		merged, err := Merge(schema, existing, incoming)
		require.NoError(t, err)
		require.Len(t, merged, 1)
		assert.Equal(t, 10.0, merged[0].Fields["close"])
	})
}

func TestMerge_Idempotent(t *testing.T) {
	for _, schema := range AllSchemas() {
		t.Run(schema.Domain, func(t *testing.T) {
			existing := []Record{
				rec(t, "MSFT", "2024-01-02", map[string]float64{
					"close": 300.12, "volume": 900,
					"eps_actual": 2.5, "target_mean": 310,
				}),
			}
			incoming := []Record{
				rec(t, "MSFT", "2024-01-02", map[string]float64{
					"close": 300.50, "volume": 1200,
					"eps_actual": 2.6, "target_mean": 315,
				}),
				rec(t, "MSFT", "2024-01-03", map[string]float64{
					"close": 301.00, "volume": 800,
					"eps_actual": 2.7, "target_mean": 320,
				}),
			}

			once, err := Merge(schema, existing, incoming)
			require.NoError(t, err)

			twice, err := Merge(schema, once, incoming)
			require.NoError(t, err)
			assert.Equal(t, once, twice)
		})
	}
}

func TestMerge_UniqueAndOrdered(t *testing.T) {
	schema := EarningsSchema()

	existing := []Record{
		rec(t, "B", "2024-01-05", map[string]float64{"eps_actual": 1}),
		rec(t, "A", "2024-01-05", map[string]float64{"eps_actual": 2}),
	}
	incoming := []Record{
		rec(t, "A", "2024-01-01", map[string]float64{"eps_actual": 3}),
		rec(t, "B", "2024-01-05", map[string]float64{"eps_actual": 4}),
		rec(t, "A", "2024-01-01", map[string]float64{"eps_actual": 5}),
	}

	merged, err := Merge(schema, existing, incoming)
	require.NoError(t, err)
	require.Len(t, merged, 3)

	// Ascending by date, symbol breaking ties; no duplicate keys.
	assert.Equal(t, "A|2024-01-01", merged[0].Key())
	assert.Equal(t, "A|2024-01-05", merged[1].Key())
	assert.Equal(t, "B|2024-01-05", merged[2].Key())
	assert.Equal(t, 5.0, merged[0].Fields["eps_actual"])
	assert.Equal(t, 4.0, merged[2].Fields["eps_actual"])
}

func TestMerge_ColumnPolicy(t *testing.T) {
	t.Run("price columns rounded to schema decimals", func(t *testing.T) {
		schema := PricesSchema()
		incoming := []Record{
			rec(t, "AAPL", "2024-01-01", map[string]float64{"close": 10.123456, "volume": 100.7}),
		}

		merged, err := Merge(schema, nil, incoming)
		require.NoError(t, err)
		require.Len(t, merged, 1)
		assert.Equal(t, 10.1235, merged[0].Fields["close"])
		// volume is not a price column and stays untouched
		assert.Equal(t, 100.7, merged[0].Fields["volume"])
	})

	t.Run("obsolete columns stripped from merged output", func(t *testing.T) {
		schema := EarningsSchema()
		incoming := []Record{
			rec(t, "AAPL", "2024-01-01", map[string]float64{"eps_actual": 1.5, "surprise_pct": 3.2}),
		}

		merged, err := Merge(schema, nil, incoming)
		require.NoError(t, err)
		require.Len(t, merged, 1)
		_, present := merged[0].Fields["surprise_pct"]
		assert.False(t, present)
	})
}

func TestMerge_EmptyInputs(t *testing.T) {
	schema := EarningsSchema()

	t.Run("empty incoming preserves history", func(t *testing.T) {
		existing := []Record{
			rec(t, "AAPL", "2024-01-01", map[string]float64{"eps_actual": 1.5}),
		}
		merged, err := Merge(schema, existing, nil)
		require.NoError(t, err)
		assert.Equal(t, existing, merged)
	})

	t.Run("no history is a plain insert", func(t *testing.T) {
		incoming := []Record{
			rec(t, "AAPL", "2024-01-01", map[string]float64{"eps_actual": 1.5}),
		}
		merged, err := Merge(schema, nil, incoming)
		require.NoError(t, err)
		assert.Len(t, merged, 1)
	})
}

func TestMerge_InvalidSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
	}{
		{
			name:   "missing domain",
			schema: Schema{TimeColumn: "date", Policy: PolicyLastWins},
		},
		{
			name:   "missing time column",
			schema: Schema{Domain: "prices", Policy: PolicyLastWins},
		},
		{
			name:   "first-wins without tiebreak",
			schema: Schema{Domain: "prices", TimeColumn: "date", Policy: PolicyFirstWinsTieBreak},
		},
		{
			name:   "unknown policy",
			schema: Schema{Domain: "prices", TimeColumn: "date", Policy: "newest"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(tt.schema, nil, nil)
			assert.Error(t, err)
		})
	}
}
