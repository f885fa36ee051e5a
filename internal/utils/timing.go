// Package utils holds small helpers shared across the sync pipeline.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// slowStepThreshold is when a pipeline step's duration gets escalated from
// debug to warn.
const slowStepThreshold = 30 * time.Second

// StepTimer provides a defer-friendly way to measure a pipeline step.
//
// Usage:
//
//	func (j *SyncJob) mergeStep() {
//	    defer utils.StepTimer("merge", log)()
//	}
func StepTimer(step string, log zerolog.Logger) func() {
	start := time.Now()

	return func() {
		duration := time.Since(start)

		log.Debug().
			Str("step", step).
			Dur("duration_ms", duration).
			Msg("Step completed")

		if duration > slowStepThreshold {
			log.Warn().
				Str("step", step).
				Dur("duration", duration).
				Msg("Slow step detected")
		}
	}
}

// MeasureBatch measures one domain's merge batch. The returned function is
// called with the batch outcome once all symbols settled.
func MeasureBatch(domain string, log zerolog.Logger) func(processed, failed int) {
	start := time.Now()

	return func(processed, failed int) {
		duration := time.Since(start)

		log.Info().
			Str("domain", domain).
			Int("processed", processed).
			Int("failed", failed).
			Dur("duration_ms", duration).
			Msg("Merge batch completed")
	}
}
