package materialize

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stratum/internal/lake"
	"github.com/aristath/stratum/internal/storage"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d.UTC()
}

func rec(t *testing.T, symbol, date string, fields map[string]float64) lake.Record {
	t.Helper()
	return lake.Record{Symbol: symbol, Date: day(t, date), Fields: fields}
}

func setupMaterializer(t *testing.T) (*storage.MemStore, *lake.HistoryStore, *Materializer) {
	t.Helper()

	store := storage.NewMemStore()
	history := lake.NewHistoryStore(store, zerolog.Nop())
	return store, history, New(store, history, zerolog.Nop())
}

func TestMaterializer_Run(t *testing.T) {
	ctx := context.Background()
	schema := lake.PricesSchema()
	_, history, mat := setupMaterializer(t)

	require.NoError(t, history.Save(ctx, schema, "AAPL", []lake.Record{
		rec(t, "AAPL", "2023-12-29", map[string]float64{"close": 9.0}),
		rec(t, "AAPL", "2024-01-02", map[string]float64{"close": 10.0}),
		rec(t, "AAPL", "2024-01-03", map[string]float64{"close": 12.0}),
	}))
	require.NoError(t, history.Save(ctx, schema, "MSFT", []lake.Record{
		rec(t, "MSFT", "2024-01-02", map[string]float64{"close": 300.0}),
		rec(t, "MSFT", "2024-02-01", map[string]float64{"close": 305.0}),
	}))

	require.NoError(t, mat.Run(ctx, schema, "2024-01"))

	partition, err := mat.LoadPartition(ctx, schema, "2024-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-01", partition.YearMonth)

	// Only rows from the target month survive, sorted by date then symbol.
	require.Len(t, partition.Rows, 3)
	assert.Equal(t, "AAPL|2024-01-02", partition.Rows[0].Key())
	assert.Equal(t, "MSFT|2024-01-02", partition.Rows[1].Key())
	assert.Equal(t, "AAPL|2024-01-03", partition.Rows[2].Key())

	require.Len(t, partition.Aggregates, 2)
	aapl := partition.Aggregates[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.Equal(t, "close", aapl.Column)
	assert.InDelta(t, 11.0, aapl.Mean, 1e-9)
	assert.InDelta(t, 1.4142135, aapl.StdDev, 1e-6)
	assert.Equal(t, 2, aapl.Rows)

	msft := partition.Aggregates[1]
	assert.Equal(t, "MSFT", msft.Symbol)
	assert.InDelta(t, 300.0, msft.Mean, 1e-9)
	assert.Zero(t, msft.StdDev)
	assert.Equal(t, 1, msft.Rows)
}

func TestMaterializer_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	schema := lake.PricesSchema()
	store, history, mat := setupMaterializer(t)

	require.NoError(t, history.Save(ctx, schema, "AAPL", []lake.Record{
		rec(t, "AAPL", "2024-01-02", map[string]float64{"close": 10.0}),
	}))

	require.NoError(t, mat.Run(ctx, schema, "2024-01"))
	first, err := store.Read(ctx, schema.ByDateKey("2024-01"))
	require.NoError(t, err)

	require.NoError(t, mat.Run(ctx, schema, "2024-01"))
	second, err := store.Read(ctx, schema.ByDateKey("2024-01"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMaterializer_EmptyPartition(t *testing.T) {
	ctx := context.Background()
	schema := lake.PricesSchema()
	_, history, mat := setupMaterializer(t)

	require.NoError(t, history.Save(ctx, schema, "AAPL", []lake.Record{
		rec(t, "AAPL", "2024-01-02", map[string]float64{"close": 10.0}),
	}))

	// A month nothing falls in still materializes, as an empty object.
	require.NoError(t, mat.Run(ctx, schema, "2020-06"))

	partition, err := mat.LoadPartition(ctx, schema, "2020-06")
	require.NoError(t, err)
	assert.Empty(t, partition.Rows)
	assert.Empty(t, partition.Aggregates)
}
