package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STRATUM_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.DataDir, "signals.db"), cfg.SignalsDBPath)
	assert.Equal(t, "auto", cfg.S3Region)
	assert.Equal(t, "stratum-lake", cfg.S3Bucket)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Nil(t, cfg.ByDateRunHour)
	assert.Empty(t, cfg.PartitionOverride)
	assert.Equal(t, 8, cfg.MergeConcurrency)
	assert.True(t, cfg.VerifyReplication)
	assert.Empty(t, cfg.SyncCron)
	assert.Equal(t, 60, cfg.CacheTTLSeconds)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
}

func TestLoad_ByDateRunHour(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    *int
		wantErr bool
	}{
		{name: "unset means always run", value: "", want: nil},
		{name: "explicit hour", value: "14", want: intPtr(14)},
		{name: "midnight", value: "0", want: intPtr(0)},
		{name: "negative disables the step", value: "-1", want: intPtr(-1)},
		{name: "hour out of range", value: "24", wantErr: true},
		{name: "not a number", value: "noon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STRATUM_DATA_DIR", t.TempDir())
			t.Setenv("STRATUM_BYDATE_RUN_HOUR", tt.value)

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, cfg.ByDateRunHour)
			} else {
				require.NotNil(t, cfg.ByDateRunHour)
				assert.Equal(t, *tt.want, *cfg.ByDateRunHour)
			}
		})
	}
}

func TestLoad_Validation(t *testing.T) {
	t.Run("merge concurrency must be positive", func(t *testing.T) {
		t.Setenv("STRATUM_DATA_DIR", t.TempDir())
		t.Setenv("STRATUM_MERGE_CONCURRENCY", "0")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("cache TTL must be positive", func(t *testing.T) {
		t.Setenv("STRATUM_DATA_DIR", t.TempDir())
		t.Setenv("STRATUM_CACHE_TTL_SECONDS", "0")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STRATUM_DATA_DIR", t.TempDir())
	t.Setenv("STRATUM_S3_BUCKET", "my-lake")
	t.Setenv("STRATUM_PARTITION_OVERRIDE", "2022-07")
	t.Setenv("STRATUM_SYNC_CRON", "*/15 * * * *")
	t.Setenv("STRATUM_DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "my-lake", cfg.S3Bucket)
	assert.Equal(t, "2022-07", cfg.PartitionOverride)
	assert.Equal(t, "*/15 * * * *", cfg.SyncCron)
	assert.True(t, cfg.DevMode)
}

func intPtr(v int) *int { return &v }
