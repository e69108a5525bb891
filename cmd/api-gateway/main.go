package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/atoll-registry/atoll/cmd/api-gateway/routes"
	"github.com/atoll-registry/atoll/internal/common"
	"github.com/atoll-registry/atoll/internal/discovery"
	"github.com/atoll-registry/atoll/internal/fetcher"
	"github.com/atoll-registry/atoll/internal/identity"
	"github.com/atoll-registry/atoll/internal/ownership"
	"github.com/atoll-registry/atoll/internal/ratelimit"
	"github.com/atoll-registry/atoll/internal/registry"
	"github.com/atoll-registry/atoll/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file overlaying the environment")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	log.Info().Msg("starting atoll registry gateway")

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("running migrations")
	}

	// A nil cache is a cacheless deployment; every lookup misses.
	var cache *common.Cache
	if cfg.Redis.Host != "" {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("connecting to redis")
		}
	}
	defer cache.Close()

	var verifier *identity.Verifier
	if cfg.Auth.FederatedEnabled {
		verifier = identity.NewVerifier(&cfg.Auth, nil, log.Logger)
	}

	identityService := identity.NewService(db, cache, verifier, &cfg.Auth, log.Logger)
	ownershipService := ownership.NewService(db, log.Logger)

	artifacts := fetcher.NewBreakerFetcher(fetcher.NewFetcher(
		fetcher.WithSizeLimit(cfg.Fetch.SizeLimit),
		fetcher.WithMaxRedirects(cfg.Fetch.MaxRedirects),
		fetcher.WithHTTPTimeout(cfg.Fetch.HTTPTimeout),
		fetcher.WithUserAgent(cfg.Fetch.UserAgent),
	))

	registryService := registry.NewService(db, cache, ownershipService, artifacts, cfg, log.Logger)
	discoveryService := discovery.NewService(db, cache, cfg, log.Logger)

	limiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	defer limiter.Stop()

	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := routes.NewRouter(cfg, routes.Services{
		Identity:  identityService,
		Ownership: ownershipService,
		Registry:  registryService,
		Discovery: discoveryService,
		Limiter:   limiter,
	}, log.Logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// Give outstanding requests 30 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
