// Package materialize decides when the gold-layer by-date projection runs
// and performs the re-projection of per-symbol history into year-month
// partitions.
package materialize

import "time"

// ShouldRun reports whether the by-date step is eligible this invocation.
// No configured hour means always eligible; a negative hour disables the
// step entirely; otherwise the step runs only during the configured UTC
// hour, which under periodic invocation yields at most one run per UTC day.
func ShouldRun(runAtHour *int, now time.Time) bool {
	if runAtHour == nil {
		return true
	}
	if *runAtHour < 0 {
		return false
	}
	return now.UTC().Hour() == *runAtHour
}

// TargetPartition returns the year-month partition the by-date step targets:
// the UTC calendar month of yesterday, unless an explicit override is given,
// in which case the override is used verbatim.
func TargetPartition(now time.Time, override string) string {
	if override != "" {
		return override
	}
	return now.UTC().AddDate(0, 0, -1).Format("2006-01")
}
