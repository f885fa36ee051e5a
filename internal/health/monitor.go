// Package health derives a system status snapshot for monitoring probes.
// The snapshot is expensive (object store heads, database integrity, system
// stats), so it sits behind a freshness cache: probes hitting concurrently
// trigger one derivation, and a failing probe falls back to the last known
// snapshot instead of crashing the health check.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/stratum/internal/database"
	"github.com/aristath/stratum/internal/freshness"
	"github.com/aristath/stratum/internal/lake"
	"github.com/aristath/stratum/internal/storage"
)

// Status classifies a probed subsystem.
type Status string

const (
	StatusOK      Status = "ok"
	StatusStale   Status = "stale"
	StatusUnknown Status = "unknown"
)

// DefaultStaleAfter is how old a layer's freshness marker may be before the
// layer is reported stale. Sync jobs run on schedules of minutes to hours,
// so a day without a successful batch is worth surfacing.
const DefaultStaleAfter = 24 * time.Hour

// LayerStatus reports one domain's silver-layer freshness.
type LayerStatus struct {
	Domain   string     `json:"domain"`
	Status   Status     `json:"status"`
	LastSync *time.Time `json:"last_sync,omitempty"`
}

// SystemStats reports host resource usage.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Snapshot is the derived health state returned to probes.
type Snapshot struct {
	Status    Status        `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	System    SystemStats   `json:"system"`
	Database  Status        `json:"database"`
	Layers    []LayerStatus `json:"layers"`
}

// Monitor derives and caches health snapshots.
type Monitor struct {
	store      storage.ObjectStore
	db         *database.DB
	schemas    []lake.Schema
	cache      *freshness.Cache[Snapshot]
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewMonitor creates a health monitor whose snapshots live for ttl.
func NewMonitor(store storage.ObjectStore, db *database.DB, schemas []lake.Schema, ttl time.Duration, log zerolog.Logger) (*Monitor, error) {
	cache, err := freshness.New[Snapshot](ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to create health cache: %w", err)
	}

	return &Monitor{
		store:      store,
		db:         db,
		schemas:    schemas,
		cache:      cache,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		log:        log.With().Str("component", "health_monitor").Logger(),
	}, nil
}

// SetStaleAfter overrides the marker staleness threshold.
func (m *Monitor) SetStaleAfter(d time.Duration) {
	m.staleAfter = d
}

// Snapshot returns the current health snapshot, derived at most once per
// TTL. When the probe fails and a prior snapshot exists, that stale
// snapshot is returned; with no prior snapshot the status is "unknown"
// rather than an error, so health endpoints never crash on probe failure.
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	snap, hit, err := m.cache.Get(ctx, func() (Snapshot, error) {
		return m.probe(ctx)
	})
	if err != nil {
		m.log.Warn().Err(err).Bool("served_stale", hit).Msg("Health probe failed")
		if !hit {
			return Snapshot{Status: StatusUnknown, CheckedAt: m.now().UTC()}
		}
	}
	return snap
}

// probe derives a fresh snapshot. Object store failures abort the probe
// (the cache decides whether a stale snapshot can cover); a missing marker
// only marks its own layer unknown.
func (m *Monitor) probe(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Status:    StatusOK,
		CheckedAt: m.now().UTC(),
		Database:  StatusOK,
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.System.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.System.MemoryPercent = vm.UsedPercent
	}

	if err := m.db.QuickCheck(ctx); err != nil {
		snap.Database = StatusUnknown
		snap.Status = StatusUnknown
	}

	for _, schema := range m.schemas {
		layer := LayerStatus{Domain: schema.Domain, Status: StatusOK}

		modified, err := m.store.LastModified(ctx, schema.MarkerKey())
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to probe %s marker: %w", schema.Domain, err)
		}

		switch {
		case modified == nil:
			layer.Status = StatusUnknown
		case m.now().Sub(*modified) > m.staleAfter:
			layer.Status = StatusStale
			layer.LastSync = modified
		default:
			layer.LastSync = modified
		}

		if layer.Status != StatusOK && snap.Status == StatusOK {
			snap.Status = layer.Status
		}
		snap.Layers = append(snap.Layers, layer)
	}

	return snap, nil
}
