package pairing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/catalog"
)

// SceneSearcher is the catalog query surface the matcher needs.
type SceneSearcher interface {
	Search(ctx context.Context, f catalog.SearchFilter) ([]catalog.Scene, error)
}

// lookbackTiers are the expanding historical windows for the before-scene
// search, in days. A single unbounded query is impractical under catalog
// result limits, so each tier is tried in order and the first one yielding a
// candidate wins.
var lookbackTiers = []int{30, 90, 365, 1825, 3650}

// DefaultSearchWindow bounds the after-scene search past an event's end.
const DefaultSearchWindow = 12 * time.Hour

// SameTrack constrains a before-scene search to the after scene's imaging
// geometry, so the two scenes cover the same ground swath.
type SameTrack struct {
	Platform       string
	OrbitDirection string
	RelativeOrbit  *int
}

// SameTrackAs derives the constraint from an after scene.
func SameTrackAs(s catalog.Scene) SameTrack {
	return SameTrack{
		Platform:       s.Platform,
		OrbitDirection: s.OrbitDirection,
		RelativeOrbit:  s.RelativeOrbit,
	}
}

// Matcher finds before/after scenes for rain events.
//
// A (nil, nil) return means no qualifying scene exists, which is a normal
// outcome; a non-nil error means the catalog itself failed.
type Matcher struct {
	searcher SceneSearcher
	logger   zerolog.Logger
}

// NewMatcher creates a matcher over the given catalog searcher.
func NewMatcher(searcher SceneSearcher, logger zerolog.Logger) *Matcher {
	return &Matcher{searcher: searcher, logger: logger}
}

// FindAfter returns the first scene acquired at or after eventEnd within
// [eventEnd, eventEnd+window].
func (m *Matcher) FindAfter(ctx context.Context, lat, lon float64, eventEnd time.Time, window time.Duration) (*catalog.Scene, error) {
	if window <= 0 {
		window = DefaultSearchWindow
	}

	scenes, err := m.searcher.Search(ctx, catalog.SearchFilter{
		Lat:   lat,
		Lon:   lon,
		Start: eventEnd,
		End:   eventEnd.Add(window),
	})
	if err != nil {
		return nil, err
	}

	// Results are sorted ascending; the first at-or-after hit is the answer.
	for i := range scenes {
		if !scenes[i].AcquisitionTime.Before(eventEnd) {
			return &scenes[i], nil
		}
	}
	return nil, nil
}

// FindBefore returns the most recent scene strictly earlier than ref,
// optionally constrained to the same track. Tiers expand until one yields a
// candidate; within that tier the latest acquisition wins.
func (m *Matcher) FindBefore(ctx context.Context, lat, lon float64, ref time.Time, track SameTrack) (*catalog.Scene, error) {
	for _, days := range lookbackTiers {
		scenes, err := m.searcher.Search(ctx, catalog.SearchFilter{
			Lat:            lat,
			Lon:            lon,
			Start:          ref.AddDate(0, 0, -days),
			End:            ref,
			Platform:       track.Platform,
			OrbitDirection: track.OrbitDirection,
			RelativeOrbit:  track.RelativeOrbit,
		})
		if err != nil {
			return nil, err
		}

		var best *catalog.Scene
		for i := range scenes {
			if !scenes[i].AcquisitionTime.Before(ref) {
				continue
			}
			if best == nil || scenes[i].AcquisitionTime.After(best.AcquisitionTime) {
				best = &scenes[i]
			}
		}
		if best != nil {
			m.logger.Debug().
				Int("lookback_days", days).
				Str("scene", best.ID()).
				Time("acquired", best.AcquisitionTime).
				Msg("before scene found")
			return best, nil
		}
	}
	return nil, nil
}
