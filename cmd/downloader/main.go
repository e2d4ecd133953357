// Package main provides the bulk download job: it selects each grid cell's
// best scene pairs by delay band and downloads the corresponding products,
// one worker per grid.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/catalog"
	"github.com/rainsar/rainsar/internal/database"
	"github.com/rainsar/rainsar/internal/download"
	"github.com/rainsar/rainsar/internal/pairing"
)

// Version is set at compile time via ldflags.
var Version = "dev"

// Delay bands for bulk selection: the near-real-time band and the delayed
// band are each represented by their lowest-delay pair per grid.
var delayBands = []struct{ lo, hi float64 }{
	{0, 2},
	{5, 12},
}

func main() {
	bboxStr := flag.String("bbox", "", "bounding box min_lat,min_lon,max_lat,max_lon, optional")
	startStr := flag.String("start", "", "event-start window begin (YYYY-MM-DD), optional")
	endStr := flag.String("end", "", "event-start window end (YYYY-MM-DD, exclusive), optional")
	source := flag.String("source", "", "only pairs with this source tag, optional")
	workers := flag.Int("workers", 4, "concurrent grid downloads")
	dryRun := flag.Bool("dry-run", false, "list selections without downloading")
	flag.Parse()

	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "rainsar-downloader").
		Str("version", Version).
		Logger()

	filter := pairing.ListFilter{Source: *source}
	if t, ok := parseDate(*startStr); ok {
		filter.Start = &t
	}
	if t, ok := parseDate(*endStr); ok {
		filter.End = &t
	}
	if err := applyBBox(&filter, *bboxStr); err != nil {
		log.Fatal().Err(err).Msg("invalid bbox")
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	pairs, err := pairing.NewPostgresRepository(pool).List(ctx, filter)
	if err != nil {
		log.Fatal().Err(err).Msg("listing pairs failed")
	}

	selections := selectBestPairs(pairs)
	log.Info().Int("pairs", len(pairs)).Int("grids", len(selections)).Msg("selection completed")

	if *dryRun {
		for _, sel := range selections {
			log.Info().
				Str("grid_id", sel.gridID).
				Strs("products", sel.products).
				Msg("would download")
		}
		return
	}

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
	if _, err := tokens.Token(ctx); err != nil {
		log.Fatal().Err(err).Msg("catalog authentication failed")
	}

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

	// One worker per grid: a grid's products land in its own directory and
	// are fetched sequentially to keep the watcher's triggers ordered.
	gridChan := make(chan gridSelection, len(selections))
	var wg sync.WaitGroup
	var failed, done int
	var mu sync.Mutex

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sel := range gridChan {
				for _, product := range sel.products {
					err := manager.Download(ctx, sel.gridID, product)
					mu.Lock()
					switch {
					case err == nil:
						done++
					case errors.Is(err, download.ErrNotFound):
						log.Warn().Str("product", product).Msg("product not resolvable, skipping")
						failed++
					default:
						log.Error().Err(err).Str("product", product).Msg("download failed")
						failed++
					}
					mu.Unlock()
				}
			}
		}()
	}
	for _, sel := range selections {
		gridChan <- sel
	}
	close(gridChan)
	wg.Wait()

	log.Info().Int("downloaded", done).Int("failed", failed).Msg("bulk download completed")
}

type gridSelection struct {
	gridID   string
	products []string
}

// selectBestPairs picks, per grid, the lowest-delay pair inside each delay
// band and unions the selected pairs' scene identifiers.
func selectBestPairs(pairs []pairing.ScenePair) []gridSelection {
	byGrid := make(map[string][]pairing.ScenePair)
	for _, p := range pairs {
		byGrid[p.GridID] = append(byGrid[p.GridID], p)
	}

	var out []gridSelection
	for gridID, gridPairs := range byGrid {
		seen := make(map[string]bool)
		var products []string
		add := func(id string) {
			if id != "" && !seen[id] {
				seen[id] = true
				products = append(products, id)
			}
		}

		for _, band := range delayBands {
			var best *pairing.ScenePair
			for i := range gridPairs {
				p := &gridPairs[i]
				if p.DelayHours < band.lo || p.DelayHours > band.hi {
					continue
				}
				if best == nil || p.DelayHours < best.DelayHours {
					best = p
				}
			}
			if best == nil {
				continue
			}
			add(best.After.ID())
			if best.Before != nil {
				add(best.Before.ID())
			}
		}
		if len(products) > 0 {
			out = append(out, gridSelection{gridID: gridID, products: products})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].gridID < out[j].gridID })
	return out
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func applyBBox(f *pairing.ListFilter, s string) error {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return errors.New("expected min_lat,min_lon,max_lat,max_lon")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return errors.New("expected min_lat,min_lon,max_lat,max_lon")
		}
		vals[i] = v
	}
	f.MinLat, f.MinLon, f.MaxLat, f.MaxLon = vals[0], vals[1], vals[2], vals[3]
	return nil
}
