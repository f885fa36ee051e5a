package materialize

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/stratum/internal/lake"
	"github.com/aristath/stratum/internal/storage"
)

// Partition is one gold-layer object: every row of a domain that falls in
// the year-month, plus per-symbol monthly aggregates.
type Partition struct {
	YearMonth  string
	Rows       []lake.Record
	Aggregates []MonthlyAggregate
}

// MonthlyAggregate summarizes one symbol's month for the domain's primary
// value column.
type MonthlyAggregate struct {
	Symbol string
	Column string
	Mean   float64
	StdDev float64
	Rows   int
}

// Materializer re-projects silver history into by-date partitions.
type Materializer struct {
	store   storage.ObjectStore
	history *lake.HistoryStore
	log     zerolog.Logger
}

// New creates a materializer.
func New(store storage.ObjectStore, history *lake.HistoryStore, log zerolog.Logger) *Materializer {
	return &Materializer{
		store:   store,
		history: history,
		log:     log.With().Str("component", "materializer").Logger(),
	}
}

// Run rebuilds the by-date object for one partition: it scans every
// symbol's history, keeps the rows whose date falls in the target
// year-month, and replaces the partition object wholesale. Re-running over
// unchanged history reproduces the same object.
func (m *Materializer) Run(ctx context.Context, schema lake.Schema, yearMonth string) error {
	symbols, err := m.history.Symbols(ctx, schema)
	if err != nil {
		return err
	}

	column := aggregateColumn(schema)
	partition := Partition{YearMonth: yearMonth}

	for _, symbol := range symbols {
		records, found, err := m.history.Load(ctx, schema, symbol)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		var values []float64
		for _, rec := range records {
			if rec.YearMonth() != yearMonth {
				continue
			}
			partition.Rows = append(partition.Rows, rec)
			if v, ok := rec.Field(column); ok {
				values = append(values, v)
			}
		}

		if len(values) > 0 {
			agg := MonthlyAggregate{
				Symbol: symbol,
				Column: column,
				Mean:   stat.Mean(values, nil),
				Rows:   len(values),
			}
			if len(values) > 1 {
				agg.StdDev = stat.StdDev(values, nil)
			}
			partition.Aggregates = append(partition.Aggregates, agg)
		}
	}

	sort.SliceStable(partition.Rows, func(i, j int) bool {
		if !partition.Rows[i].Date.Equal(partition.Rows[j].Date) {
			return partition.Rows[i].Date.Before(partition.Rows[j].Date)
		}
		return partition.Rows[i].Symbol < partition.Rows[j].Symbol
	})
	sort.Slice(partition.Aggregates, func(i, j int) bool {
		return partition.Aggregates[i].Symbol < partition.Aggregates[j].Symbol
	})

	body, err := msgpack.Marshal(&partition)
	if err != nil {
		return fmt.Errorf("failed to encode partition %s/%s: %w", schema.Domain, yearMonth, err)
	}

	if err := m.store.Write(ctx, schema.ByDateKey(yearMonth), body); err != nil {
		return fmt.Errorf("failed to write partition %s/%s: %w", schema.Domain, yearMonth, err)
	}

	m.log.Info().
		Str("domain", schema.Domain).
		Str("year_month", yearMonth).
		Int("rows", len(partition.Rows)).
		Int("symbols", len(partition.Aggregates)).
		Msg("By-date partition materialized")

	return nil
}

// LoadPartition reads a previously materialized by-date object.
func (m *Materializer) LoadPartition(ctx context.Context, schema lake.Schema, yearMonth string) (*Partition, error) {
	body, err := m.store.Read(ctx, schema.ByDateKey(yearMonth))
	if err != nil {
		return nil, err
	}
	var partition Partition
	if err := msgpack.Unmarshal(body, &partition); err != nil {
		return nil, fmt.Errorf("corrupt partition object %s/%s: %w", schema.Domain, yearMonth, err)
	}
	return &partition, nil
}

// aggregateColumn picks the domain's primary value column for monthly
// statistics: the first required column (close, eps_actual, target_mean).
func aggregateColumn(schema lake.Schema) string {
	if len(schema.Required) > 0 {
		return schema.Required[0]
	}
	return schema.TimeColumn
}
