package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"dukanpos/terminal/internal/backend"
	backendmem "dukanpos/terminal/internal/backend/memory"
	"dukanpos/terminal/internal/backend/postgres"
	"dukanpos/terminal/internal/cache"
	"dukanpos/terminal/internal/clock"
	"dukanpos/terminal/internal/config"
	"dukanpos/terminal/internal/localstore/sqlite"
	"dukanpos/terminal/internal/netcheck"
	"dukanpos/terminal/internal/service"
	"dukanpos/terminal/internal/syncer"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	var closers []func() error

	store, err := sqlite.Open(cfg.LocalDBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.LocalDBPath).Msg("open local store")
	}
	closers = append(closers, store.Close)

	var ledger backend.Ledger
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open ledger")
		}
		ledger = pg
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory ledger")
		ledger = backendmem.New()
	}
	closers = append(closers, ledger.Close)

	var snapshots cache.SnapshotCache = cache.NewNoop()
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, snapshot cache disabled")
		} else {
			snapshots = rc
			closers = append(closers, rc.Close)
		}
	}

	probe := netcheck.NewPingProbe(ledger, cfg.ProbeTimeout)
	svc := service.New(store, ledger, snapshots, probe, clock.Real{}, log, cfg.BranchID, cfg.SnapshotTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if probe.Online(ctx) {
		if err := svc.RefreshSnapshot(ctx); err != nil {
			log.Warn().Err(err).Msg("initial snapshot refresh failed")
		}
	} else {
		log.Warn().Msg("starting offline, using last cached snapshot")
	}

	manager := syncer.New(store, svc, probe, log, cfg.SyncInterval, cfg.SyncMaxRetry)
	manager.PartialIs = func(err error) bool {
		return errors.Is(err, service.ErrPartiallyCompleted)
	}
	manager.OnComplete = func(r syncer.Report) {
		stats, err := svc.QueueStats(ctx)
		if err != nil {
			return
		}
		log.Info().Int("pending", stats.Pending).Int("failed", stats.Failed).
			Int("synced", stats.Synced).Msg("queue state")
	}

	deviceID, err := store.DeviceID(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve device id")
	}
	log.Info().Str("device_id", deviceID).Str("branch", cfg.BranchID).Msg("terminal ready")

	go manager.Run(ctx)

	<-ctx.Done()
	log.Info().Msg("shutting down")
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}
