package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T, profile DatabaseProfile) *DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_signals_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := New(Config{
		Path:    tmpPath,
		Profile: profile,
		Name:    "signals",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(tmpPath)
	})
	return db
}

func TestMigrate_IsRerunnable(t *testing.T) {
	db := setupTestDB(t, ProfileStandard)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	// All three tables exist and are queryable.
	for _, table := range []string{"ranking_signal", "composite_signal_daily", "signal_sync_state"} {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestWithTransaction(t *testing.T) {
	db := setupTestDB(t, ProfileStandard)
	require.NoError(t, db.Migrate())

	insert := func(tx *sql.Tx, symbol string) error {
		_, err := tx.Exec(`
			INSERT INTO ranking_signal (year_month, symbol, strategy, score, rank)
			VALUES ('2024-01', ?, 'momentum', 0.5, 1)
		`, symbol)
		return err
	}

	count := func() int {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM ranking_signal").Scan(&n))
		return n
	}

	t.Run("commits on success", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			return insert(tx, "AAPL")
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		wantErr := errors.New("boom")
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			if err := insert(tx, "MSFT"); err != nil {
				return err
			}
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 1, count())
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			if err := insert(tx, "GOOG"); err != nil {
				return err
			}
			panic("mid-transaction panic")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic")
		assert.Equal(t, 1, count())
	})

	t.Run("nil connection", func(t *testing.T) {
		err := WithTransaction(nil, func(tx *sql.Tx) error { return nil })
		assert.Error(t, err)
	})
}

func TestHealthCheck(t *testing.T) {
	db := setupTestDB(t, ProfileLedger)
	require.NoError(t, db.Migrate())

	ctx := context.Background()
	assert.NoError(t, db.QuickCheck(ctx))
	assert.NoError(t, db.HealthCheck(ctx))
}
