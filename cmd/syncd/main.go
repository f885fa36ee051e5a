// Package main is the entry point for the stratum layered synchronization
// job. Each invocation folds newly ingested raw market data (bronze) into
// per-symbol deduplicated history (silver), optionally re-projects history
// into by-date partitions (gold), and replicates computed ranking signals
// into the relational signal store.
//
// The binary runs one-shot by default (external schedulers re-invoke it);
// with STRATUM_SYNC_CRON set it stays resident and runs the job on the
// given cron schedule instead.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/stratum/internal/config"
	"github.com/aristath/stratum/internal/database"
	"github.com/aristath/stratum/internal/health"
	"github.com/aristath/stratum/internal/jobs"
	"github.com/aristath/stratum/internal/lake"
	"github.com/aristath/stratum/internal/lock"
	"github.com/aristath/stratum/internal/materialize"
	"github.com/aristath/stratum/internal/replicator"
	"github.com/aristath/stratum/internal/storage"
	"github.com/aristath/stratum/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting stratum sync")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// All dependencies are wired here and passed down explicitly; no
	// package-level clients.
	store, err := buildObjectStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create object store")
	}

	db, err := database.New(database.Config{
		Path:    cfg.SignalsDBPath,
		Profile: database.ProfileStandard,
		Name:    "signals",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open signals database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate signals database")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	locker := lock.NewService(redisClient, log)

	history := lake.NewHistoryStore(store, log)
	engine, err := lake.NewEngine(store, history, cfg.MergeConcurrency, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create merge engine")
	}

	job := jobs.NewSyncJob(jobs.Deps{
		Store:        store,
		History:      history,
		Engine:       engine,
		Locker:       locker,
		Materializer: materialize.New(store, history, log),
		Signals:      jobs.NewObjectSignalSource(store, log),
		Replicator:   replicator.New(db, cfg.VerifyReplication, log),
	}, jobs.Config{
		Schemas:           lake.AllSchemas(),
		ByDateRunHour:     cfg.ByDateRunHour,
		PartitionOverride: cfg.PartitionOverride,
	}, log)

	if cfg.SyncCron == "" {
		if err := job.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Sync job failed")
			os.Exit(1)
		}
		log.Info().Msg("Sync job completed")
		return
	}

	runDaemon(ctx, cfg, job, store, db, log)
}

// buildObjectStore returns the configured S3 store, or an in-memory store
// in dev mode when no credentials are configured.
func buildObjectStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.ObjectStore, error) {
	if cfg.DevMode && cfg.S3AccessKey == "" {
		log.Warn().Msg("Dev mode without S3 credentials; using in-memory object store")
		return storage.NewMemStore(), nil
	}

	return storage.NewS3Store(ctx, storage.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	}, log)
}

// runDaemon keeps the process resident, running the sync job on the
// configured cron schedule and logging a health snapshot periodically.
func runDaemon(ctx context.Context, cfg *config.Config, job *jobs.SyncJob, store storage.ObjectStore, db *database.DB, log zerolog.Logger) {
	monitor, err := health.NewMonitor(store, db, lake.AllSchemas(),
		time.Duration(cfg.CacheTTLSeconds)*time.Second, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create health monitor")
	}

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.SyncCron, func() {
		if err := job.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled sync job failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Str("cron", cfg.SyncCron).Msg("Invalid sync cron spec")
	}

	scheduler.Start()
	log.Info().Str("cron", cfg.SyncCron).Msg("Daemon mode started")

	healthTicker := time.NewTicker(time.Duration(cfg.CacheTTLSeconds) * time.Second)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			stopCtx := scheduler.Stop()
			<-stopCtx.Done()
			return
		case <-healthTicker.C:
			snap := monitor.Snapshot(ctx)
			log.Info().
				Str("status", string(snap.Status)).
				Float64("cpu_percent", snap.System.CPUPercent).
				Float64("memory_percent", snap.System.MemoryPercent).
				Msg("Health snapshot")
		}
	}
}
