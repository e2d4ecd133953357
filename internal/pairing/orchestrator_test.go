package pairing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainsar/rainsar/internal/catalog"
	"github.com/rainsar/rainsar/internal/rainfall"
)

// memoryRepository is a mutex-guarded in-memory Repository for tests.
type memoryRepository struct {
	mu    sync.Mutex
	pairs map[string]ScenePair
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{pairs: make(map[string]ScenePair)}
}

func pairKey(gridID string, eventStart time.Time, source string) string {
	return gridID + "|" + eventStart.UTC().Format(time.RFC3339) + "|" + source
}

func (r *memoryRepository) Exists(_ context.Context, gridID string, eventStart time.Time, source string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pairs[pairKey(gridID, eventStart, source)]
	return ok, nil
}

func (r *memoryRepository) InsertPairs(_ context.Context, pairs []ScenePair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pairs {
		key := pairKey(p.GridID, p.EventStart, p.Source)
		if _, ok := r.pairs[key]; ok {
			continue
		}
		r.pairs[key] = p
	}
	return nil
}

func (r *memoryRepository) Get(_ context.Context, gridID string, eventStart time.Time) (*ScenePair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pairs {
		if p.GridID == gridID && p.EventStart.Equal(eventStart) {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *memoryRepository) Delete(_ context.Context, gridID string, eventStart time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, p := range r.pairs {
		if p.GridID == gridID && p.EventStart.Equal(eventStart) {
			delete(r.pairs, k)
		}
	}
	return nil
}

func (r *memoryRepository) ListByGrid(_ context.Context, gridID string) ([]ScenePair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ScenePair
	for _, p := range r.pairs {
		if p.GridID == gridID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepository) List(_ context.Context, _ ListFilter) ([]ScenePair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ScenePair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	return out, nil
}

func (r *memoryRepository) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

func event(gridID string, start time.Time, hours int) rainfall.Event {
	return rainfall.Event{
		GridID:   gridID,
		Lat:      33.0,
		Lon:      130.5,
		Start:    start,
		End:      start.Add(time.Duration(hours-1) * time.Hour),
		HitCount: hours,
	}
}

func newTestOrchestrator(t *testing.T, searcher SceneSearcher, repo Repository, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	if cfg.Source == "" {
		cfg.Source = "test-run"
	}
	return NewOrchestrator(OrchestratorDeps{
		Matcher:    NewMatcher(searcher, zerolog.Nop()),
		Repository: repo,
		Config:     cfg,
		Logger:     zerolog.Nop(),
	})
}

func TestOrchestrator_QualifiedGridPersistsAllPairs(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fastEnd := start.Add(2 * time.Hour)
	slowStart := start.Add(48 * time.Hour)
	slowEnd := slowStart.Add(time.Hour)

	// One overpass 1h after the first event (inside the 2h trigger), one
	// 8h after the second (outside it).
	searcher := &fakeSearcher{scenes: []catalog.Scene{
		scene("fast-after", fastEnd.Add(1*time.Hour)),
		scene("slow-after", slowEnd.Add(8*time.Hour)),
	}}
	repo := newMemoryRepository()
	o := newTestOrchestrator(t, searcher, repo, OrchestratorConfig{Workers: 2})

	result, err := o.Run(context.Background(), []GridBatch{{
		GridID: "N03300E13050",
		Lat:    33.0,
		Lon:    130.5,
		Events: []rainfall.Event{
			event("N03300E13050", start, 3),
			event("N03300E13050", slowStart, 2),
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.GridsProcessed)
	assert.Equal(t, 1, result.GridsQualified)
	assert.Equal(t, 2, result.PairsMatched)
	assert.Equal(t, 2, result.PairsPersisted, "one fast pair qualifies the whole grid")
	assert.Equal(t, 2, repo.len())
}

func TestOrchestrator_UnqualifiedGridPersistsNothing(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	searcher := &fakeSearcher{scenes: []catalog.Scene{
		scene("slow-after", end.Add(6 * time.Hour)),
	}}
	repo := newMemoryRepository()
	o := newTestOrchestrator(t, searcher, repo, OrchestratorConfig{})

	result, err := o.Run(context.Background(), []GridBatch{{
		GridID: "N03300E13050",
		Lat:    33.0,
		Lon:    130.5,
		Events: []rainfall.Event{event("N03300E13050", start, 3)},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.PairsMatched)
	assert.Equal(t, 0, result.GridsQualified)
	assert.Equal(t, 0, result.PairsPersisted)
	assert.Equal(t, 0, repo.len())
}

func TestOrchestrator_NoAfterSceneIsASkip(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	repo := newMemoryRepository()
	o := newTestOrchestrator(t, &fakeSearcher{}, repo, OrchestratorConfig{})

	result, err := o.Run(context.Background(), []GridBatch{{
		GridID: "N03300E13050",
		Lat:    33.0,
		Lon:    130.5,
		Events: []rainfall.Event{event("N03300E13050", start, 2)},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.NoAfterScene)
	assert.Equal(t, 0, result.PairsMatched)
	assert.Equal(t, 0, result.SearchErrors, "no overpass is not an error")
}

func TestOrchestrator_RerunSkipsDuplicates(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	searcher := &fakeSearcher{scenes: []catalog.Scene{
		scene("after", end.Add(1 * time.Hour)),
	}}
	repo := newMemoryRepository()
	batches := []GridBatch{{
		GridID: "N03300E13050",
		Lat:    33.0,
		Lon:    130.5,
		Events: []rainfall.Event{event("N03300E13050", start, 3)},
	}}

	o := newTestOrchestrator(t, searcher, repo, OrchestratorConfig{})
	first, err := o.Run(context.Background(), batches)
	require.NoError(t, err)
	require.Equal(t, 1, first.PairsPersisted)

	second, err := o.Run(context.Background(), batches)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, 0, second.PairsPersisted)
	assert.Equal(t, 1, repo.len())
}

func TestOrchestrator_DryRunPersistsNothing(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	searcher := &fakeSearcher{scenes: []catalog.Scene{
		scene("after", end.Add(1 * time.Hour)),
	}}
	repo := newMemoryRepository()
	o := newTestOrchestrator(t, searcher, repo, OrchestratorConfig{DryRun: true})

	result, err := o.Run(context.Background(), []GridBatch{{
		GridID: "N03300E13050",
		Lat:    33.0,
		Lon:    130.5,
		Events: []rainfall.Event{event("N03300E13050", start, 3)},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.GridsQualified)
	assert.Equal(t, 1, result.PairsMatched)
	assert.Equal(t, 0, result.PairsPersisted)
	assert.Equal(t, 0, repo.len())
}

func TestOrchestrator_ManyGridsAcrossWorkers(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	var scenes []catalog.Scene
	var batches []GridBatch
	for i := 0; i < 20; i++ {
		start := base.Add(time.Duration(i) * 24 * time.Hour)
		end := start.Add(time.Hour)
		gridID := rainfall.EncodeGridID(33.0+float64(i)*0.1, 130.5)
		scenes = append(scenes, scene("after-"+gridID, end.Add(time.Hour)))
		batches = append(batches, GridBatch{
			GridID: gridID,
			Lat:    33.0 + float64(i)*0.1,
			Lon:    130.5,
			Events: []rainfall.Event{event(gridID, start, 2)},
		})
	}

	repo := newMemoryRepository()
	o := newTestOrchestrator(t, &lockedSearcher{scenes: scenes}, repo, OrchestratorConfig{Workers: 8, FlushSize: 5})

	result, err := o.Run(context.Background(), batches)
	require.NoError(t, err)

	assert.Equal(t, 20, result.GridsProcessed)
	assert.Equal(t, 20, result.PairsPersisted)
	assert.Equal(t, 20, repo.len())
}

// lockedSearcher is a concurrency-safe fakeSearcher variant.
type lockedSearcher struct {
	mu     sync.Mutex
	scenes []catalog.Scene
}

func (s *lockedSearcher) Search(_ context.Context, f catalog.SearchFilter) ([]catalog.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Scene
	for _, sc := range s.scenes {
		if sc.AcquisitionTime.Before(f.Start) || sc.AcquisitionTime.After(f.End) {
			continue
		}
		if f.Matches(sc) {
			out = append(out, sc)
		}
	}
	return out, nil
}
