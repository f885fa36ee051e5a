package materialize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestShouldRun(t *testing.T) {
	tests := []struct {
		name      string
		runAtHour *int
		now       time.Time
		want      bool
	}{
		{
			name:      "matching UTC hour runs",
			runAtHour: intPtr(14),
			now:       time.Date(2024, 2, 1, 14, 0, 0, 0, time.UTC),
			want:      true,
		},
		{
			name:      "other UTC hour skips",
			runAtHour: intPtr(14),
			now:       time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC),
			want:      false,
		},
		{
			name:      "no configured hour always runs",
			runAtHour: nil,
			now:       time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC),
			want:      true,
		},
		{
			name:      "negative hour disables the step",
			runAtHour: intPtr(-1),
			now:       time.Date(2024, 2, 1, 14, 0, 0, 0, time.UTC),
			want:      false,
		},
		{
			name:      "local time is compared in UTC",
			runAtHour: intPtr(14),
			now:       time.Date(2024, 2, 1, 16, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRun(tt.runAtHour, tt.now))
		})
	}
}

func TestTargetPartition(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		override string
		want     string
	}{
		{
			name: "first of month targets previous month",
			now:  time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
			want: "2024-01",
		},
		{
			name: "mid month targets current month",
			now:  time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC),
			want: "2024-02",
		},
		{
			name: "january first targets previous year",
			now:  time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
			want: "2023-12",
		},
		{
			name:     "override is used verbatim",
			now:      time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC),
			override: "2022-07",
			want:     "2022-07",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TargetPartition(tt.now, tt.override))
		})
	}
}
