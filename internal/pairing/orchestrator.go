package pairing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/rainfall"
)

// GridBatch is one grid cell's events to pair, the orchestrator's unit of
// work.
type GridBatch struct {
	GridID string
	Lat    float64
	Lon    float64
	Events []rainfall.Event
}

// OrchestratorConfig holds configuration for a pairing run.
type OrchestratorConfig struct {
	// Workers is the pool size. Default: 4.
	Workers int

	// TriggerHours qualifies a grid: the grid's pairs persist only when at
	// least one pair's delay is at or below this bound. Default: 2.
	TriggerHours float64

	// SearchWindow bounds the after-scene search. Default: 12h.
	SearchWindow time.Duration

	// Source tags persisted pairs; part of the uniqueness key.
	Source string

	// FlushSize batches inserts. Default: 100.
	FlushSize int

	// DryRun matches without persisting.
	DryRun bool
}

// RunResult contains the counters of one pairing run.
type RunResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	GridsProcessed int
	GridsQualified int
	PairsMatched   int
	PairsPersisted int
	NoAfterScene   int
	NoBeforeScene  int
	Duplicates     int
	SearchErrors   int
}

// Orchestrator runs the event-to-scene pairing loop across grid cells with a
// fixed worker pool. Per-unit failures become counters and log entries, never
// a batch abort.
type Orchestrator struct {
	matcher *Matcher
	repo    Repository
	cfg     OrchestratorConfig
	logger  zerolog.Logger

	mu     sync.Mutex
	buffer []ScenePair
}

// OrchestratorDeps holds dependencies for creating an Orchestrator.
type OrchestratorDeps struct {
	Matcher    *Matcher
	Repository Repository
	Config     OrchestratorConfig
	Logger     zerolog.Logger
}

// NewOrchestrator creates a pairing orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	cfg := deps.Config
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.TriggerHours <= 0 {
		cfg.TriggerHours = 2.0
	}
	if cfg.SearchWindow <= 0 {
		cfg.SearchWindow = DefaultSearchWindow
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 100
	}
	return &Orchestrator{
		matcher: deps.Matcher,
		repo:    deps.Repository,
		cfg:     cfg,
		logger:  deps.Logger,
	}
}

type gridResult struct {
	qualified    bool
	matched      int
	persisted    int
	noAfter      int
	noBefore     int
	duplicates   int
	searchErrors int
}

// Run pairs every batch's events and persists qualifying grids' pairs.
// Only the final buffer flush can return an error; everything per-unit is
// absorbed into the result counters.
func (o *Orchestrator) Run(ctx context.Context, batches []GridBatch) (*RunResult, error) {
	result := &RunResult{StartTime: time.Now()}

	o.logger.Info().
		Int("grids", len(batches)).
		Int("workers", o.cfg.Workers).
		Float64("trigger_hours", o.cfg.TriggerHours).
		Bool("dry_run", o.cfg.DryRun).
		Msg("starting pairing run")

	batchChan := make(chan GridBatch, len(batches))
	resultChan := make(chan gridResult, len(batches))

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchChan {
				select {
				case <-ctx.Done():
					return
				default:
					resultChan <- o.processGrid(ctx, batch)
				}
			}
		}()
	}

	for _, b := range batches {
		batchChan <- b
	}
	close(batchChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for gr := range resultChan {
		result.GridsProcessed++
		if gr.qualified {
			result.GridsQualified++
		}
		result.PairsMatched += gr.matched
		result.PairsPersisted += gr.persisted
		result.NoAfterScene += gr.noAfter
		result.NoBeforeScene += gr.noBefore
		result.Duplicates += gr.duplicates
		result.SearchErrors += gr.searchErrors
	}

	if err := o.flush(ctx, 0); err != nil {
		return result, err
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	o.logger.Info().
		Dur("duration", result.Duration).
		Int("grids", result.GridsProcessed).
		Int("qualified", result.GridsQualified).
		Int("pairs_persisted", result.PairsPersisted).
		Int("no_after_scene", result.NoAfterScene).
		Int("duplicates", result.Duplicates).
		Int("search_errors", result.SearchErrors).
		Msg("pairing run completed")

	return result, nil
}

// processGrid matches every event of one grid cell in chronological order,
// then persists all its pairs if any pair is inside the trigger delay.
func (o *Orchestrator) processGrid(ctx context.Context, batch GridBatch) gridResult {
	var gr gridResult

	events := make([]rainfall.Event, len(batch.Events))
	copy(events, batch.Events)
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })

	var pairs []ScenePair
	for _, ev := range events {
		exists, err := o.repo.Exists(ctx, batch.GridID, ev.Start, o.cfg.Source)
		if err != nil {
			gr.searchErrors++
			o.logger.Error().Err(err).Str("grid_id", batch.GridID).Msg("duplicate check failed")
			continue
		}
		if exists {
			gr.duplicates++
			continue
		}

		after, err := o.matcher.FindAfter(ctx, batch.Lat, batch.Lon, ev.End, o.cfg.SearchWindow)
		if err != nil {
			gr.searchErrors++
			o.logger.Error().Err(err).
				Str("grid_id", batch.GridID).
				Time("event_end", ev.End).
				Msg("after-scene search failed")
			continue
		}
		if after == nil {
			gr.noAfter++
			continue
		}

		before, err := o.matcher.FindBefore(ctx, batch.Lat, batch.Lon, after.AcquisitionTime, SameTrackAs(*after))
		if err != nil {
			gr.searchErrors++
			o.logger.Error().Err(err).
				Str("grid_id", batch.GridID).
				Str("after_scene", after.ID()).
				Msg("before-scene search failed")
			continue
		}
		if before == nil {
			gr.noBefore++
		}

		pairs = append(pairs, ScenePair{
			GridID:     batch.GridID,
			Lat:        batch.Lat,
			Lon:        batch.Lon,
			EventStart: ev.Start,
			EventEnd:   ev.End,
			After:      *after,
			Before:     before,
			DelayHours: after.AcquisitionTime.Sub(ev.End).Hours(),
			Source:     o.cfg.Source,
		})
	}
	gr.matched = len(pairs)

	// A grid qualifies as a unit: one fast-enough pair persists them all.
	for _, p := range pairs {
		if p.DelayHours <= o.cfg.TriggerHours {
			gr.qualified = true
			break
		}
	}
	if !gr.qualified || o.cfg.DryRun {
		return gr
	}

	if err := o.enqueue(ctx, pairs); err != nil {
		gr.searchErrors++
		o.logger.Error().Err(err).Str("grid_id", batch.GridID).Msg("persisting pairs failed")
		return gr
	}
	gr.persisted = len(pairs)
	return gr
}

// enqueue adds pairs to the shared write buffer, flushing when full. Writes
// go through the pool's other connections, not the streaming read cursor.
func (o *Orchestrator) enqueue(ctx context.Context, pairs []ScenePair) error {
	o.mu.Lock()
	o.buffer = append(o.buffer, pairs...)
	o.mu.Unlock()
	return o.flush(ctx, o.cfg.FlushSize)
}

// flush writes the buffer out once it holds at least min pairs.
func (o *Orchestrator) flush(ctx context.Context, min int) error {
	o.mu.Lock()
	if len(o.buffer) < min || len(o.buffer) == 0 {
		o.mu.Unlock()
		return nil
	}
	out := o.buffer
	o.buffer = nil
	o.mu.Unlock()

	if err := o.repo.InsertPairs(ctx, out); err != nil {
		return err
	}
	o.logger.Debug().Int("pairs", len(out)).Msg("flushed pair buffer")
	return nil
}
