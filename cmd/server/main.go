package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/db"
	"github.com/toolgate/toolgate/internal/docs"
	"github.com/toolgate/toolgate/internal/kv"
	"github.com/toolgate/toolgate/internal/memory"
	"github.com/toolgate/toolgate/internal/ranking"
	"github.com/toolgate/toolgate/internal/ratelimit"
	"github.com/toolgate/toolgate/internal/rbac"
	"github.com/toolgate/toolgate/internal/recognition"
	"github.com/toolgate/toolgate/internal/server"
	"github.com/toolgate/toolgate/internal/session"
	"github.com/toolgate/toolgate/internal/store"
	"github.com/toolgate/toolgate/internal/tenant"
	"github.com/toolgate/toolgate/internal/tools"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "toolgate").Logger()

	// Pretty logging for local dev
	if os.Getenv("ENV") == "dev" || os.Getenv("ENV") == "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx := context.Background()

	// Relational store
	if cfg.Postgres.URL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}
	pool, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()
	st := store.New(pool)

	// Key-value store
	rdb, err := kv.Open(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	// Services. Recognition and the memory coordinator reference each
	// other, so the recognition side binds late.
	sessions := session.NewStore(rdb, session.DefaultTTL)
	ranker := ranking.New(true)
	docIndex := docs.NewIndex(rdb)

	recogSvc := recognition.NewService(rdb, nil)
	mem := memory.NewCoordinator(memory.NewClient(cfg.Memory), rdb, cfg.Memory, recogSvc.Invalidate)
	recogSvc.BindMemory(mem)

	// Tool surface
	registry := tools.NewRegistry()
	tools.RegisterAll(registry, &tools.Set{
		Memory:   mem,
		Sessions: sessions,
		Ranker:   ranker,
		Recog:    recogSvc,
		Docs:     docIndex,
		Features: st,
	})

	policy := rbac.NewPolicy(cfg.RBAC.StrictMode)
	registry.BindPolicy(policy)

	// Pipeline
	authn := auth.New(cfg, st)
	tenants := tenant.NewExtractor(st)
	limiter := ratelimit.New(rdb, cfg.RateLimit)
	sink := audit.NewSink(pool, cfg.Audit.Enabled)
	defer sink.Close()

	pipeline := server.NewPipeline(authn, tenants, policy, limiter, sink, registry,
		cfg.APIKey.HeaderName, cfg.RBAC.Enabled)
	httpSrv := server.NewHTTPServer(pipeline, registry)
	if cfg.OAuth.TokenEndpoint != "" {
		httpSrv.WithTokenClient(auth.NewTokenClient(cfg.OAuth, cfg.OAuth.ClientID, cfg.OAuth.ClientSecret))
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpSrv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
