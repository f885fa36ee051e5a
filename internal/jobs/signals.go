package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/stratum/internal/replicator"
	"github.com/aristath/stratum/internal/storage"
)

// signalsKeyPrefix is where the external strategy computation drops its
// per-partition output.
const signalsKeyPrefix = "signals-computed/"

// computedSignals is the JSON shape the strategy computation writes.
type computedSignals struct {
	Signals []struct {
		Symbol   string  `json:"symbol"`
		Strategy string  `json:"strategy"`
		Score    float64 `json:"score"`
		Rank     int     `json:"rank"`
	} `json:"signals"`
	Composite []struct {
		Date   string  `json:"date"`
		Symbol string  `json:"symbol"`
		Score  float64 `json:"score"`
	} `json:"composite"`
}

// ObjectSignalSource reads computed signal rows from the object store. The
// ranking computation is an external collaborator; its contract with this
// system is one JSON object per partition under signals-computed/.
type ObjectSignalSource struct {
	store storage.ObjectStore
	log   zerolog.Logger
}

// NewObjectSignalSource creates a signal source backed by the object store.
func NewObjectSignalSource(store storage.ObjectStore, log zerolog.Logger) *ObjectSignalSource {
	return &ObjectSignalSource{
		store: store,
		log:   log.With().Str("component", "signal_source").Logger(),
	}
}

// Signals returns the partition's computed rows. A missing object means the
// computation produced nothing for the partition; replication then empties
// the partition's tables, which is the correct shrink-to-zero behaviour.
func (s *ObjectSignalSource) Signals(ctx context.Context, yearMonth string) ([]replicator.SignalRow, []replicator.CompositeRow, error) {
	body, err := s.store.Read(ctx, signalsKeyPrefix+yearMonth)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Debug().Str("year_month", yearMonth).Msg("No computed signals object")
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read computed signals for %s: %w", yearMonth, err)
	}

	var computed computedSignals
	if err := json.Unmarshal(body, &computed); err != nil {
		return nil, nil, fmt.Errorf("malformed computed signals for %s: %w", yearMonth, err)
	}

	signals := make([]replicator.SignalRow, 0, len(computed.Signals))
	for _, row := range computed.Signals {
		signals = append(signals, replicator.SignalRow{
			YearMonth: yearMonth,
			Symbol:    row.Symbol,
			Strategy:  row.Strategy,
			Score:     row.Score,
			Rank:      row.Rank,
		})
	}

	composite := make([]replicator.CompositeRow, 0, len(computed.Composite))
	for _, row := range computed.Composite {
		composite = append(composite, replicator.CompositeRow{
			YearMonth: yearMonth,
			Date:      row.Date,
			Symbol:    row.Symbol,
			Score:     row.Score,
		})
	}

	return signals, composite, nil
}
