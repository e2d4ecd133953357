package rainfall

import (
	"context"
	"time"
)

// BBox is an inclusive latitude/longitude rectangle filter.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// ReadingFilter selects readings for streaming.
type ReadingFilter struct {
	// Threshold excludes readings below this intensity (mm/h).
	Threshold float64

	// Start/End bound the timestamp range; End is exclusive. Nil means
	// unbounded.
	Start *time.Time
	End   *time.Time

	// BBox optionally restricts by location.
	BBox *BBox

	// GridID optionally restricts to a single cell.
	GridID string
}

// EventFilter selects persisted events.
type EventFilter struct {
	Threshold float64
	Start     *time.Time
	End       *time.Time
	BBox      *BBox

	// MinMaxIntensity keeps only events whose peak reached this value.
	MinMaxIntensity float64
}

// Repository is the persistence boundary for readings and events.
//
// StreamReadings holds a long-lived read cursor; implementations must not
// share its connection with the write methods, so that batched commits
// issued while the stream is open cannot invalidate the cursor.
type Repository interface {
	// StreamReadings yields matching readings ordered by (grid_id, ts_utc),
	// invoking fn for each row. Returning an error from fn stops the stream.
	StreamReadings(ctx context.Context, f ReadingFilter, fn func(Reading) error) error

	// ListGridReadings returns one grid cell's readings at or above the
	// threshold, ascending by timestamp.
	ListGridReadings(ctx context.Context, gridID string, threshold float64) ([]Reading, error)

	// DeleteEvents removes events previously built with the same threshold
	// and filter, returning the number of rows removed.
	DeleteEvents(ctx context.Context, f EventFilter) (int64, error)

	// InsertEvents persists a batch of events in one round trip.
	InsertEvents(ctx context.Context, events []Event) error

	// ListEvents returns matching events ordered by (grid_id, start_ts_utc).
	ListEvents(ctx context.Context, f EventFilter) ([]Event, error)
}
