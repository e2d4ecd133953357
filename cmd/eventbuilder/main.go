// Package main provides the rain-event rebuild batch job: it segments the
// stored hourly readings into discrete events and replaces the persisted
// event set for the selected threshold, period and region.
package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/database"
	"github.com/rainsar/rainsar/internal/rainfall"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	threshold := flag.Float64("threshold", 10.0, "rainfall threshold in mm/h")
	startStr := flag.String("start", "", "period start (YYYY-MM-DD), optional")
	endStr := flag.String("end", "", "period end (YYYY-MM-DD, exclusive), optional")
	bboxStr := flag.String("bbox", "", "bounding box min_lat,min_lon,max_lat,max_lon, optional")
	batchSize := flag.Int("batch-size", 500, "events per insert batch")
	dryRun := flag.Bool("dry-run", false, "segment without writing")
	flag.Parse()

	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "rainsar-eventbuilder").
		Str("version", Version).
		Logger()

	filter := rainfall.ReadingFilter{Threshold: *threshold}
	eventFilter := rainfall.EventFilter{Threshold: *threshold}

	if t, ok := parseDate(*startStr); ok {
		filter.Start, eventFilter.Start = &t, &t
	}
	if t, ok := parseDate(*endStr); ok {
		filter.End, eventFilter.End = &t, &t
	}
	if bbox, err := parseBBox(*bboxStr); err != nil {
		log.Fatal().Err(err).Msg("invalid bbox")
	} else if bbox != nil {
		filter.BBox, eventFilter.BBox = bbox, bbox
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	repo := rainfall.NewPostgresRepository(pool)

	if !*dryRun {
		deleted, err := repo.DeleteEvents(ctx, eventFilter)
		if err != nil {
			log.Fatal().Err(err).Msg("deleting stale events failed")
		}
		log.Info().Int64("deleted", deleted).Msg("cleared existing events for rebuild")
	}

	seg := rainfall.NewSegmenter(*threshold, rainfall.DefaultGapTolerance)
	var (
		batch    []rainfall.Event
		readings int
		total    int
	)

	insert := func(force bool) error {
		if len(batch) == 0 || (!force && len(batch) < *batchSize) {
			return nil
		}
		if !*dryRun {
			if err := repo.InsertEvents(ctx, batch); err != nil {
				return err
			}
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	// The stream holds its own connection; inserts run on other pool
	// connections, so flushing mid-stream is safe.
	err = repo.StreamReadings(ctx, filter, func(rd rainfall.Reading) error {
		readings++
		if closed := seg.Add(rd); closed != nil {
			batch = append(batch, *closed)
		}
		return insert(false)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("streaming readings failed")
	}
	if closed := seg.Flush(); closed != nil {
		batch = append(batch, *closed)
	}
	if err := insert(true); err != nil {
		log.Fatal().Err(err).Msg("inserting events failed")
	}

	log.Info().
		Int("readings", readings).
		Int("events", total).
		Float64("threshold", *threshold).
		Bool("dry_run", *dryRun).
		Msg("event rebuild completed")
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

func parseBBox(s string) (*rainfall.BBox, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, errBBox(s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errBBox(s)
		}
		vals[i] = v
	}
	return &rainfall.BBox{MinLat: vals[0], MinLon: vals[1], MaxLat: vals[2], MaxLon: vals[3]}, nil
}

type errBBox string

func (e errBBox) Error() string {
	return "expected min_lat,min_lon,max_lat,max_lon, got: " + string(e)
}
