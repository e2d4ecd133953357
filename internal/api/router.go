// Package api provides the HTTP control API for rainsar.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/api/handler"
	"github.com/rainsar/rainsar/internal/api/middleware"
	"github.com/rainsar/rainsar/internal/download"
	"github.com/rainsar/rainsar/internal/pairing"
	"github.com/rainsar/rainsar/internal/rainfall"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version string
	Logger  zerolog.Logger

	Pool       *pgxpool.Pool
	Downloads  *download.Manager
	Pairs      pairing.Repository
	Matcher    *pairing.Matcher
	Rainfall   rainfall.Repository
	PairSource string
}

// NewRouter creates a chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.Pool)
	downloadHandler := handler.NewDownloadHandler(cfg.Downloads, cfg.Logger)
	pairsHandler := handler.NewPairsHandler(cfg.Pairs, cfg.Matcher, cfg.PairSource, cfg.Logger)
	eventsHandler := handler.NewEventsHandler(cfg.Rainfall, cfg.Pairs, cfg.Logger)

	downloadRateLimit := middleware.RateLimitByIP(middleware.DownloadRateLimit)
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.Health)
			r.Get("/ready", opsHandler.Ready)
		})

		r.Route("/download", func(r chi.Router) {
			r.Use(downloadRateLimit)
			r.Post("/product", downloadHandler.Start)
			r.Post("/cancel/{product}", downloadHandler.Cancel)
			r.Get("/status/{product}", downloadHandler.Status)
		})

		r.Group(func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/pairs", pairsHandler.List)
			r.Get("/search/satellite", pairsHandler.SearchSatellite)
			r.Get("/grids/{gridID}/events", eventsHandler.GridEvents)
		})
	})

	return r
}
