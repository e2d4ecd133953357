// Package main provides the batch pairing job: it loads persisted rain
// events, matches each to before/after satellite scenes, and persists the
// qualifying pairs.
package main

import (
	"context"
	"flag"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/catalog"
	"github.com/rainsar/rainsar/internal/database"
	"github.com/rainsar/rainsar/internal/pairing"
	"github.com/rainsar/rainsar/internal/provider/resilience"
	"github.com/rainsar/rainsar/internal/rainfall"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	threshold := flag.Float64("threshold", 10.0, "event threshold in mm/h")
	minIntensity := flag.Float64("min-intensity", 0, "only grids with an event peaking at or above this, mm/h")
	triggerHours := flag.Float64("trigger-hours", 2.0, "max delay for a pair to qualify its grid")
	windowHours := flag.Float64("search-window", 12, "after-scene search window in hours")
	workers := flag.Int("workers", 4, "worker pool size")
	limitGrids := flag.Int("limit-grids", 0, "process at most this many grids, 0 = all")
	source := flag.String("source", "pairbuilder", "source tag for persisted pairs")
	dryRun := flag.Bool("dry-run", false, "match without persisting")
	flag.Parse()

	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "rainsar-pairbuilder").
		Str("version", Version).
		Logger()

	ctx := context.Background()
	pool, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

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
	// A first token fetch that fails means no unit could succeed.
	if _, err := tokens.Token(ctx); err != nil {
		log.Fatal().Err(err).Msg("catalog authentication failed")
	}
	// Pair lookups give up after fewer attempts than interactive search;
	// an exhausted unit becomes a skip, not a stalled batch.
	client := catalog.NewClient(catalog.ClientConfig{
		Config: catalogCfg,
		Tokens: tokens,
		HTTPClient: resilience.NewClient(resilience.Config{
			Name:        "pair-lookup",
			Timeout:     catalogCfg.SearchTimeout,
			MaxAttempts: catalogCfg.PairAttempts,
		}),
		Logger: log,
	})

	events, err := rainfall.NewPostgresRepository(pool).ListEvents(ctx, rainfall.EventFilter{
		Threshold:       *threshold,
		MinMaxIntensity: *minIntensity,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("loading events failed")
	}

	batches := groupByGrid(events)
	if *limitGrids > 0 && len(batches) > *limitGrids {
		batches = batches[:*limitGrids]
	}
	log.Info().Int("events", len(events)).Int("grids", len(batches)).Msg("events loaded")

	orchestrator := pairing.NewOrchestrator(pairing.OrchestratorDeps{
		Matcher:    pairing.NewMatcher(client, log),
		Repository: pairing.NewPostgresRepository(pool),
		Config: pairing.OrchestratorConfig{
			Workers:      *workers,
			TriggerHours: *triggerHours,
			SearchWindow: time.Duration(*windowHours * float64(time.Hour)),
			Source:       *source,
			DryRun:       *dryRun,
		},
		Logger: log,
	})

	result, err := orchestrator.Run(ctx, batches)
	if err != nil {
		log.Fatal().Err(err).Msg("pairing run failed")
	}
	if result.SearchErrors > 0 {
		log.Warn().Int("search_errors", result.SearchErrors).Msg("some units degraded to skips")
	}
}

// groupByGrid partitions events into per-grid batches, ordered by grid id
// for stable runs.
func groupByGrid(events []rainfall.Event) []pairing.GridBatch {
	byGrid := make(map[string]*pairing.GridBatch)
	for _, ev := range events {
		b, ok := byGrid[ev.GridID]
		if !ok {
			b = &pairing.GridBatch{GridID: ev.GridID, Lat: ev.Lat, Lon: ev.Lon}
			byGrid[ev.GridID] = b
		}
		b.Events = append(b.Events, ev)
	}

	batches := make([]pairing.GridBatch, 0, len(byGrid))
	for _, b := range byGrid {
		batches = append(batches, *b)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].GridID < batches[j].GridID })
	return batches
}
