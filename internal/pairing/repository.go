package pairing

import (
	"context"
	"time"
)

// ListFilter narrows pair listings for API/bulk consumers.
type ListFilter struct {
	// Bounding box; zero values mean unbounded.
	MinLat, MaxLat float64
	MinLon, MaxLon float64

	// Event-start window; nil means unbounded.
	Start *time.Time
	End   *time.Time

	// MaxDelayHours keeps only pairs at or below the given delay; zero
	// means unbounded.
	MaxDelayHours float64

	Source string
}

// Repository persists matched scene pairs.
type Repository interface {
	// Exists reports whether a pair with the uniqueness key
	// (grid_id, event_start, source) is already persisted.
	Exists(ctx context.Context, gridID string, eventStart time.Time, source string) (bool, error)

	// InsertPairs persists a batch. Rows colliding on the uniqueness key
	// are skipped, not errors.
	InsertPairs(ctx context.Context, pairs []ScenePair) error

	// Get returns the pair for (grid_id, event_start), or nil when absent.
	Get(ctx context.Context, gridID string, eventStart time.Time) (*ScenePair, error)

	// Delete removes the pair for (grid_id, event_start); used by forced
	// re-search.
	Delete(ctx context.Context, gridID string, eventStart time.Time) error

	// ListByGrid returns a grid cell's pairs ordered by event start.
	ListByGrid(ctx context.Context, gridID string) ([]ScenePair, error)

	// List returns pairs matching the filter ordered by grid then event
	// start.
	List(ctx context.Context, f ListFilter) ([]ScenePair, error)
}
