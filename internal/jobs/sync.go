// Package jobs wires the layered sync pipeline into a single job: acquire
// the job lock, fold changed raw objects into history, and - when the gate
// allows - rebuild the by-date partition and replicate its signals.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stratum/internal/lake"
	"github.com/aristath/stratum/internal/lock"
	"github.com/aristath/stratum/internal/materialize"
	"github.com/aristath/stratum/internal/replicator"
	"github.com/aristath/stratum/internal/storage"
	"github.com/aristath/stratum/internal/utils"
)

// LockName is the logical job name serializing writers across processes.
const LockName = "layer-sync"

// Locker is the scoped job-exclusivity primitive the job acquires before
// any mutating step.
type Locker interface {
	WithLock(ctx context.Context, job string, fn func(ctx context.Context) error) error
}

// Materializer rebuilds one gold-layer partition.
type Materializer interface {
	Run(ctx context.Context, schema lake.Schema, yearMonth string) error
}

// SignalSource supplies the computed signal rows for a partition. The
// ranking computation itself lives outside this system; the job only
// replicates its output.
type SignalSource interface {
	Signals(ctx context.Context, yearMonth string) ([]replicator.SignalRow, []replicator.CompositeRow, error)
}

// Replicator publishes one partition's signal rows to the relational store.
type Replicator interface {
	Replicate(ctx context.Context, yearMonth string, signals []replicator.SignalRow, composite []replicator.CompositeRow) error
}

// Deps contains all dependencies for the sync job.
type Deps struct {
	Store        storage.ObjectStore
	History      *lake.HistoryStore
	Engine       *lake.Engine
	Locker       Locker
	Materializer Materializer
	Signals      SignalSource
	Replicator   Replicator
}

// Config controls job behaviour.
type Config struct {
	Schemas           []lake.Schema
	ByDateRunHour     *int   // nil = run every invocation, negative = never
	PartitionOverride string // explicit year-month, empty = yesterday's month
}

// SyncJob is one short-lived invocation of the layered sync pipeline.
type SyncJob struct {
	deps Deps
	cfg  Config
	now  func() time.Time
	log  zerolog.Logger
}

// NewSyncJob creates a sync job.
func NewSyncJob(deps Deps, cfg Config, log zerolog.Logger) *SyncJob {
	return &SyncJob{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
		log:  log.With().Str("component", "sync_job").Logger(),
	}
}

// SetClock overrides the time source. Used by tests.
func (j *SyncJob) SetClock(now func() time.Time) {
	j.now = now
}

// Run executes the pipeline under the job lock. Another instance already
// holding the lock is routine overlap, not a failure: the job logs and
// returns nil so schedulers do not alert on it. Both pipeline steps execute
// under one lock acquisition, so a crash between them cannot interleave
// with another writer's window.
func (j *SyncJob) Run(ctx context.Context) error {
	err := j.deps.Locker.WithLock(ctx, LockName, j.runLocked)
	if errors.Is(err, lock.ErrLockHeld) {
		j.log.Info().Msg("Another instance is running; nothing to do")
		return nil
	}
	return err
}

func (j *SyncJob) runLocked(ctx context.Context) error {
	if err := j.mergeStep(ctx); err != nil {
		// Merge failures skip the by-date step and propagate unchanged.
		return err
	}

	now := j.now()
	if !materialize.ShouldRun(j.cfg.ByDateRunHour, now) {
		j.log.Debug().Msg("By-date step not eligible this invocation")
		return nil
	}

	partition := materialize.TargetPartition(now, j.cfg.PartitionOverride)
	return j.byDateStep(ctx, partition)
}

// mergeStep folds every domain's changed raw objects into history. Failures
// are isolated per symbol; the step fails only if at least one symbol
// failed, and already-merged symbols stay persisted.
func (j *SyncJob) mergeStep(ctx context.Context) error {
	defer utils.StepTimer("merge", j.log)()

	var batchErrs []error

	for _, schema := range j.cfg.Schemas {
		symbols, err := j.changedSymbols(ctx, schema)
		if err != nil {
			return err
		}
		if len(symbols) == 0 {
			j.log.Debug().Str("domain", schema.Domain).Msg("No changed raw objects")
			continue
		}

		result := j.deps.Engine.SyncSymbols(ctx, schema, symbols)
		if err := result.Err(); err != nil {
			batchErrs = append(batchErrs, fmt.Errorf("domain %s: %w", schema.Domain, err))
			continue
		}

		// Freshness marker feeds the health monitor; only a fully clean
		// batch advances it.
		if err := j.deps.Store.Write(ctx, schema.MarkerKey(), []byte(j.now().UTC().Format(time.RFC3339))); err != nil {
			j.log.Warn().Err(err).Str("domain", schema.Domain).Msg("Failed to write freshness marker")
		}
	}

	return errors.Join(batchErrs...)
}

// changedSymbols lists raw objects whose content is newer than the symbol's
// history object (or that have no history yet).
func (j *SyncJob) changedSymbols(ctx context.Context, schema lake.Schema) ([]string, error) {
	prefix := schema.Domain + "-raw/"
	objects, err := j.deps.Store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw objects for %s: %w", schema.Domain, err)
	}

	var symbols []string
	for _, obj := range objects {
		symbol := obj.Key[len(prefix):]
		if symbol == "" {
			continue
		}

		historyModified, err := j.deps.Store.LastModified(ctx, schema.HistoryKey(symbol))
		if err != nil {
			return nil, fmt.Errorf("failed to stat history for %s/%s: %w", schema.Domain, symbol, err)
		}
		if historyModified != nil && !obj.LastModified.After(*historyModified) {
			continue // history already reflects this raw object
		}
		symbols = append(symbols, symbol)
	}

	return symbols, nil
}

// byDateStep rebuilds the target partition for every domain, then
// replicates the partition's computed signals into the relational store.
func (j *SyncJob) byDateStep(ctx context.Context, partition string) error {
	defer utils.StepTimer("by_date", j.log)()

	for _, schema := range j.cfg.Schemas {
		if err := j.deps.Materializer.Run(ctx, schema, partition); err != nil {
			return fmt.Errorf("by-date materialization for %s/%s: %w", schema.Domain, partition, err)
		}
	}

	if j.deps.Signals == nil || j.deps.Replicator == nil {
		return nil
	}

	signals, composite, err := j.deps.Signals.Signals(ctx, partition)
	if err != nil {
		return fmt.Errorf("failed to compute signals for %s: %w", partition, err)
	}

	if err := j.deps.Replicator.Replicate(ctx, partition, signals, composite); err != nil {
		return fmt.Errorf("failed to replicate signals for %s: %w", partition, err)
	}

	j.log.Info().Str("year_month", partition).Msg("By-date step completed")
	return nil
}
