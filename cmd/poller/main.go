package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"reputation_hub/internal/adapters/google"
	"reputation_hub/internal/adapters/meta"
	"reputation_hub/internal/adapters/observability"
	redisad "reputation_hub/internal/adapters/redis"
	"reputation_hub/internal/app"
	"reputation_hub/internal/domain"
	"reputation_hub/internal/shared"
	"reputation_hub/internal/storage/sqldb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	observability.Serve(cfg.MetricsAddr, observability.InitRegistry())

	log.Info().
		Int("workers", cfg.PollWorkers).
		Dur("interval", cfg.PollInterval).
		Int("media_limit", cfg.PollMediaLimit).
		Msg("poller starting")

	db, err := sqldb.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	defer db.Close()
	log.Info().Msg("db ping ok")

	repo, err := sqldb.New(db, cfg.DBDriver)
	if err != nil {
		log.Fatal().Err(err).Msg("repository init failed")
	}
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()

	gbp := google.New(google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		APIBase:      cfg.GoogleAPIBase,
		RPS:          cfg.GoogleRPS,
	}, repo)
	graph := meta.New(meta.Config{
		GraphBase: cfg.MetaGraphBase,
		Version:   cfg.MetaGraphVersion,
		AppID:     cfg.MetaAppID,
		AppSecret: cfg.MetaAppSecret,
		RPS:       cfg.MetaRPS,
	})
	svc := app.NewSyncService(repo, gbp, graph, cache, cache, cfg.PollMediaLimit)

	// a zero interval means one pass, for cron-style scheduling
	if cfg.PollInterval <= 0 {
		runOnce(ctx, repo, svc, cfg.PollWorkers)
		return
	}
	tick := time.NewTicker(cfg.PollInterval)
	defer tick.Stop()
	for {
		runOnce(ctx, repo, svc, cfg.PollWorkers)
		select {
		case <-ctx.Done():
			log.Info().Msg("poller stopped")
			return
		case <-tick.C:
		}
	}
}

// runOnce syncs every active connection with at most workers in flight.
func runOnce(ctx context.Context, repo domain.ConnectionStore, svc *app.SyncService, workers int) {
	if workers <= 0 {
		workers = 1
	}
	conns, err := repo.ListActiveConnections(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list active connections failed")
		return
	}
	start := time.Now()
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup

	for _, c := range conns {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break // shutting down
		}
		wg.Add(1)
		go func(conn domain.Connection) {
			defer wg.Done()
			defer sem.Release(1)

			if err := svc.SyncLocation(ctx, conn); err != nil {
				log.Warn().Err(err).Str("location", conn.LocationID).Str("platform", string(conn.Platform)).Msg("sync failed")
				return
			}
		}(c)
	}

	wg.Wait()
	log.Info().Int("connections", len(conns)).Dur("took", time.Since(start)).Msg("sync pass completed")
}
