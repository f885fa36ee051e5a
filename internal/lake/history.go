package lake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/stratum/internal/storage"
)

// HistoryStore reads and writes silver-layer history objects. Every write is
// a wholesale replace of the symbol's object; nothing is patched in place.
type HistoryStore struct {
	store storage.ObjectStore
	log   zerolog.Logger
}

// NewHistoryStore creates a history store on top of an object store.
func NewHistoryStore(store storage.ObjectStore, log zerolog.Logger) *HistoryStore {
	return &HistoryStore{
		store: store,
		log:   log.With().Str("component", "history_store").Logger(),
	}
}

// Load returns a symbol's history. The boolean distinguishes "no history
// yet" (first merge for the symbol) from a real read failure.
func (h *HistoryStore) Load(ctx context.Context, schema Schema, symbol string) ([]Record, bool, error) {
	body, err := h.store.Read(ctx, schema.HistoryKey(symbol))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load history for %s/%s: %w", schema.Domain, symbol, err)
	}

	records, err := DecodeRecords(body)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt history object for %s/%s: %w", schema.Domain, symbol, err)
	}
	return records, true, nil
}

// Save replaces the symbol's history object.
func (h *HistoryStore) Save(ctx context.Context, schema Schema, symbol string, records []Record) error {
	body, err := EncodeRecords(records)
	if err != nil {
		return fmt.Errorf("failed to encode history for %s/%s: %w", schema.Domain, symbol, err)
	}

	if err := h.store.Write(ctx, schema.HistoryKey(symbol), body); err != nil {
		return fmt.Errorf("failed to save history for %s/%s: %w", schema.Domain, symbol, err)
	}

	h.log.Debug().
		Str("domain", schema.Domain).
		Str("symbol", symbol).
		Int("rows", len(records)).
		Msg("History object replaced")

	return nil
}

// Symbols lists all symbols with a silver-layer history object for the
// domain. The freshness marker living under the same prefix is skipped.
func (h *HistoryStore) Symbols(ctx context.Context, schema Schema) ([]string, error) {
	prefix := schema.Domain + "-data/"
	objects, err := h.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list histories for %s: %w", schema.Domain, err)
	}

	symbols := make([]string, 0, len(objects))
	for _, obj := range objects {
		symbol := strings.TrimPrefix(obj.Key, prefix)
		if symbol == "" || strings.HasPrefix(symbol, ".") {
			continue
		}
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}

// EncodeRecords serializes history rows. Records encode their columns in
// sorted order, so identical histories serialize to identical bytes.
func EncodeRecords(records []Record) ([]byte, error) {
	return msgpack.Marshal(records)
}

// DecodeRecords deserializes history rows.
func DecodeRecords(body []byte) ([]Record, error) {
	var records []Record
	if err := msgpack.Unmarshal(body, &records); err != nil {
		return nil, err
	}
	return records, nil
}
