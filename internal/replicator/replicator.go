// Package replicator publishes computed signal rows for one year-month
// partition into the relational store. The write protocol is replace-by-
// partition inside a single transaction: readers observe either the fully
// prior set or the fully new set, never a mix.
package replicator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stratum/internal/database"
)

// ErrVerifyMismatch is returned when post-write verification counts do not
// match the in-memory row sets. The transaction is rolled back; no partial
// state is persisted.
var ErrVerifyMismatch = errors.New("replication verification mismatch")

// SignalRow is one per-strategy ranking signal for a symbol in a partition.
type SignalRow struct {
	YearMonth string
	Symbol    string
	Strategy  string
	Score     float64
	Rank      int
}

// CompositeRow is one daily composite score for a symbol in a partition.
type CompositeRow struct {
	YearMonth string
	Date      string // "2006-01-02"
	Symbol    string
	Score     float64
}

// SyncState is the durable audit record of one partition's last replication.
type SyncState struct {
	YearMonth     string
	SyncedAt      time.Time
	SignalsRows   int
	CompositeRows int
	Status        string
	Error         *string
}

// Replicator writes signal partitions into SQLite.
type Replicator struct {
	db     *database.DB
	verify bool
	now    func() time.Time
	log    zerolog.Logger
}

// New creates a replicator. When verify is true every replication re-counts
// the partition's rows and aborts on mismatch.
func New(db *database.DB, verify bool, log zerolog.Logger) *Replicator {
	return &Replicator{
		db:     db,
		verify: verify,
		now:    time.Now,
		log:    log.With().Str("component", "signal_replicator").Logger(),
	}
}

// SetClock overrides the sync-state timestamp source. Used by tests.
func (r *Replicator) SetClock(now func() time.Time) {
	r.now = now
}

// Replicate replaces the partition's rows in both signal tables and records
// the outcome in signal_sync_state, all within one transaction. Rows missing
// required fields are dropped before persistence. Any failure before commit
// rolls back everything; no partial state and no success sync-state row
// survive a failed attempt.
func (r *Replicator) Replicate(ctx context.Context, yearMonth string, signals []SignalRow, composite []CompositeRow) error {
	if yearMonth == "" {
		return fmt.Errorf("partition key is required")
	}

	validSignals := validateSignals(yearMonth, signals)
	validComposite := validateComposite(yearMonth, composite)

	if dropped := len(signals) - len(validSignals); dropped > 0 {
		r.log.Warn().Str("year_month", yearMonth).Int("dropped", dropped).
			Msg("Dropped signal rows missing required fields")
	}
	if dropped := len(composite) - len(validComposite); dropped > 0 {
		r.log.Warn().Str("year_month", yearMonth).Int("dropped", dropped).
			Msg("Dropped composite rows missing required fields")
	}

	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		// Replace-by-partition: delete first so rows absent from the new
		// computation set do not survive.
		if _, err := tx.ExecContext(ctx, "DELETE FROM ranking_signal WHERE year_month = ?", yearMonth); err != nil {
			return fmt.Errorf("failed to clear ranking_signal partition: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM composite_signal_daily WHERE year_month = ?", yearMonth); err != nil {
			return fmt.Errorf("failed to clear composite_signal_daily partition: %w", err)
		}

		if err := insertSignals(ctx, tx, validSignals); err != nil {
			return err
		}
		if err := insertComposite(ctx, tx, validComposite); err != nil {
			return err
		}

		if r.verify {
			if err := r.verifyCounts(ctx, tx, yearMonth, len(validSignals), len(validComposite)); err != nil {
				return err
			}
		}

		// Success sync-state row rides in the same transaction, so a
		// rollback also erases the audit entry for the failed attempt.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO signal_sync_state (year_month, synced_at, signals_rows, composite_rows, status, error)
			VALUES (?, ?, ?, ?, 'success', NULL)
			ON CONFLICT(year_month) DO UPDATE SET
				synced_at = excluded.synced_at,
				signals_rows = excluded.signals_rows,
				composite_rows = excluded.composite_rows,
				status = excluded.status,
				error = excluded.error
		`, yearMonth, r.now().UTC().Format(time.RFC3339), len(validSignals), len(validComposite))
		if err != nil {
			return fmt.Errorf("failed to upsert sync state: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().
		Str("year_month", yearMonth).
		Int("signals_rows", len(validSignals)).
		Int("composite_rows", len(validComposite)).
		Msg("Signal partition replicated")

	return nil
}

// LastState returns the partition's last recorded replication outcome, or
// nil (without error) if the partition was never replicated.
func (r *Replicator) LastState(ctx context.Context, yearMonth string) (*SyncState, error) {
	var (
		state    SyncState
		syncedAt string
		errText  sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT year_month, synced_at, signals_rows, composite_rows, status, error
		FROM signal_sync_state WHERE year_month = ?
	`, yearMonth).Scan(&state.YearMonth, &syncedAt, &state.SignalsRows, &state.CompositeRows, &state.Status, &errText)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sync state for %s: %w", yearMonth, err)
	}

	state.SyncedAt, err = time.Parse(time.RFC3339, syncedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt synced_at for %s: %w", yearMonth, err)
	}
	if errText.Valid {
		state.Error = &errText.String
	}

	return &state, nil
}

func insertSignals(ctx context.Context, tx *sql.Tx, rows []SignalRow) error {
	if len(rows) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ranking_signal (year_month, symbol, strategy, score, rank)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ranking_signal insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.YearMonth, row.Symbol, row.Strategy, row.Score, row.Rank); err != nil {
			return fmt.Errorf("failed to insert ranking_signal row for %s/%s: %w", row.Symbol, row.Strategy, err)
		}
	}
	return nil
}

func insertComposite(ctx context.Context, tx *sql.Tx, rows []CompositeRow) error {
	if len(rows) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO composite_signal_daily (year_month, date, symbol, score)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare composite_signal_daily insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.YearMonth, row.Date, row.Symbol, row.Score); err != nil {
			return fmt.Errorf("failed to insert composite row for %s/%s: %w", row.Date, row.Symbol, err)
		}
	}
	return nil
}

// verifyCounts re-counts both tables for the partition and compares against
// the in-memory row counts. A mismatch is fatal to the attempt.
func (r *Replicator) verifyCounts(ctx context.Context, tx *sql.Tx, yearMonth string, wantSignals, wantComposite int) error {
	var gotSignals, gotComposite int

	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ranking_signal WHERE year_month = ?", yearMonth).Scan(&gotSignals); err != nil {
		return fmt.Errorf("failed to count ranking_signal rows: %w", err)
	}
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM composite_signal_daily WHERE year_month = ?", yearMonth).Scan(&gotComposite); err != nil {
		return fmt.Errorf("failed to count composite rows: %w", err)
	}

	if gotSignals != wantSignals || gotComposite != wantComposite {
		return fmt.Errorf("%w: ranking_signal %d/%d, composite_signal_daily %d/%d",
			ErrVerifyMismatch, gotSignals, wantSignals, gotComposite, wantComposite)
	}
	return nil
}

// validateSignals drops rows missing required fields or carrying a foreign
// partition key, rather than persisting them silently corrupted.
func validateSignals(yearMonth string, rows []SignalRow) []SignalRow {
	valid := make([]SignalRow, 0, len(rows))
	for _, row := range rows {
		if row.Symbol == "" || row.Strategy == "" {
			continue
		}
		if row.YearMonth != "" && row.YearMonth != yearMonth {
			continue
		}
		row.YearMonth = yearMonth
		valid = append(valid, row)
	}
	return valid
}

func validateComposite(yearMonth string, rows []CompositeRow) []CompositeRow {
	valid := make([]CompositeRow, 0, len(rows))
	for _, row := range rows {
		if row.Symbol == "" || row.Date == "" {
			continue
		}
		if row.YearMonth != "" && row.YearMonth != yearMonth {
			continue
		}
		row.YearMonth = yearMonth
		valid = append(valid, row)
	}
	return valid
}
