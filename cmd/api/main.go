// Package main provides the entrypoint for the rainsar control API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/api"
	"github.com/rainsar/rainsar/internal/catalog"
	"github.com/rainsar/rainsar/internal/database"
	"github.com/rainsar/rainsar/internal/download"
	"github.com/rainsar/rainsar/internal/pairing"
	"github.com/rainsar/rainsar/internal/rainfall"
	"github.com/rainsar/rainsar/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "rainsar-api"

	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().Str("build_time", BuildTime).Msg("starting rainsar API")

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	ctx := context.Background()

	telemetryCfg, err := telemetry.ConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load telemetry config")
	}
	telemetryCfg.ServiceName = serviceName
	telemetryCfg.ServiceVersion = Version

	tp, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Str("database", dbConfig.Database).
		Msg("database connected")

	catalogCfg, err := catalog.ConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load catalog config")
	}
	tokens := catalog.NewTokenSource(catalog.TokenSourceConfig{
		TokenURL:     catalogCfg.TokenURL,
		ClientID:     catalogCfg.ClientID,
		ClientSecret: catalogCfg.ClientSecret,
		Logger:       log,
	})
	catalogClient := catalog.NewClient(catalog.ClientConfig{
		Config: catalogCfg,
		Tokens: tokens,
		Logger: log,
	})

	downloadCfg, err := download.ConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load download config")
	}
	manager := download.NewManager(download.ManagerConfig{
		Config: downloadCfg,
		Tokens: tokens,
		Resolver: download.NewResolver(download.ResolverConfig{
			BaseURL: downloadCfg.ODataURL,
			Logger:  log,
		}),
		Logger: log,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		Logger:     log,
		Pool:       pool,
		Downloads:  manager,
		Pairs:      pairing.NewPostgresRepository(pool),
		Matcher:    pairing.NewMatcher(catalogClient, log),
		Rainfall:   rainfall.NewPostgresRepository(pool),
		PairSource: "api",
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("port", port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
