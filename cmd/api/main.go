package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"reputation_hub/internal/adapters/google"
	server "reputation_hub/internal/adapters/http_server"
	"reputation_hub/internal/adapters/meta"
	"reputation_hub/internal/adapters/observability"
	"reputation_hub/internal/adapters/openai"
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

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	// db
	db, err := sqldb.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database open failed")
	}
	defer db.Close()
	log.Info().Str("driver", cfg.DBDriver).Msg("database connection ok")

	repo, err := sqldb.New(db, cfg.DBDriver)
	if err != nil {
		log.Fatal().Err(err).Msg("repository init failed")
	}

	// deps
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis unreachable; cache, dedupe and realtime degrade until it returns")
	}

	metaCfg := meta.Config{
		GraphBase:   cfg.MetaGraphBase,
		Version:     cfg.MetaGraphVersion,
		AppID:       cfg.MetaAppID,
		AppSecret:   cfg.MetaAppSecret,
		RedirectURL: cfg.OAuthRedirectBase + "/oauth/meta/callback",
		RPS:         cfg.MetaRPS,
	}
	graph := meta.New(metaCfg)
	gbp := google.New(google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.OAuthRedirectBase + "/oauth/google/callback",
		APIBase:      cfg.GoogleAPIBase,
		RPS:          cfg.GoogleRPS,
	}, repo)

	var drafts domain.DraftGenerator
	if gen := openai.New(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBase); gen != nil {
		drafts = gen
	}

	// http
	srv := server.New(server.Options{CORSOrigins: cfg.CORSOrigins, RateLimitRPM: cfg.RateLimitRPM})
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountWebhooks(&server.Webhooks{
		VerifyToken: cfg.MetaVerifyToken,
		AppSecret:   cfg.MetaAppSecret,
		Processor:   app.NewWebhookService(repo, cache, cache, cache, graph),
	})
	srv.MountHandlers(&server.Handlers{
		Queries:      app.NewQueryService(repo, cache, cfg.CacheTTL),
		Replies:      app.NewReplyService(repo, gbp, graph, cache, cache, cache),
		Drafts:       app.NewDraftService(repo, drafts),
		Connections:  app.NewConnectionService(repo, gbp, meta.NewAuth(metaCfg), cache, cfg.OAuthStateSecret),
		Sync:         app.NewSyncService(repo, gbp, graph, cache, cache, cfg.PollMediaLimit),
		Events:       cache,
		DashboardURL: cfg.DashboardURL,
	}, server.NewSupabaseVerifier(cfg.SupabaseJWTSecret), repo)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
