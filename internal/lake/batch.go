package lake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/stratum/internal/storage"
	"github.com/aristath/stratum/internal/utils"
)

// Result aggregates a batch of per-symbol merges. Failures are isolated to
// their symbol: sibling merges that already succeeded stay persisted.
type Result struct {
	Processed     int
	Failed        int
	FailedSymbols []string
}

// Err returns a non-nil error when at least one symbol failed, naming the
// failed identifiers. A batch is non-zero-status iff this is non-nil.
func (r Result) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d symbols failed: %v", r.Failed, r.Failed+r.Processed, r.FailedSymbols)
}

// Engine folds raw-layer objects into per-symbol history objects. Symbols
// are processed concurrently under a bounded worker pool; each merge targets
// a disjoint history object so no cross-symbol locking is needed.
type Engine struct {
	store   storage.ObjectStore
	history *HistoryStore
	workers int
	log     zerolog.Logger
}

// NewEngine creates a merge engine with the given merge concurrency.
func NewEngine(store storage.ObjectStore, history *HistoryStore, workers int, log zerolog.Logger) (*Engine, error) {
	if workers < 1 {
		return nil, fmt.Errorf("merge concurrency must be >= 1, got %d", workers)
	}
	return &Engine{
		store:   store,
		history: history,
		workers: workers,
		log:     log.With().Str("component", "merge_engine").Logger(),
	}, nil
}

// SyncSymbols merges each symbol's raw object into its history object and
// reports the aggregate outcome. A malformed payload fails its symbol only.
func (e *Engine) SyncSymbols(ctx context.Context, schema Schema, symbols []string) Result {
	var (
		mu     sync.Mutex
		result Result
	)

	measure := utils.MeasureBatch(schema.Domain, e.log)

	pool := pond.NewPool(e.workers)
	group := pool.NewGroupContext(ctx)

	for _, symbol := range symbols {
		sym := symbol
		group.Submit(func() {
			if err := ctx.Err(); err != nil {
				return
			}

			err := e.syncOne(ctx, schema, sym)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Error().Err(err).
					Str("domain", schema.Domain).
					Str("symbol", sym).
					Msg("Symbol merge failed")
				result.Failed++
				result.FailedSymbols = append(result.FailedSymbols, sym)
				return
			}
			result.Processed++
		})
	}

	_ = group.Wait()
	pool.StopAndWait()

	// Deterministic failure listing for logs and error messages.
	sort.Strings(result.FailedSymbols)

	measure(result.Processed, result.Failed)

	return result
}

// syncOne performs the merge for a single symbol: read raw, normalize,
// fold into existing history, replace the history object.
func (e *Engine) syncOne(ctx context.Context, schema Schema, symbol string) error {
	body, err := e.store.Read(ctx, schema.RawKey(symbol))
	if err != nil {
		return fmt.Errorf("failed to read raw object: %w", err)
	}

	incoming, err := DecodeRaw(schema, symbol, body)
	if err != nil {
		return err
	}

	existing, _, err := e.history.Load(ctx, schema, symbol)
	if err != nil {
		return err
	}

	merged, err := Merge(schema, existing, incoming)
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}

	return e.history.Save(ctx, schema, symbol, merged)
}
