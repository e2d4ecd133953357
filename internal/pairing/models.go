// Package pairing matches rain events to before/after satellite scene pairs
// and orchestrates batch pairing runs across grid cells.
package pairing

import (
	"errors"
	"strings"
	"time"

	"github.com/rainsar/rainsar/internal/catalog"
)

// Predefined pairing errors.
var (
	// ErrDuplicatePair indicates a pair already exists for the
	// (grid_id, event_start, source) key.
	ErrDuplicatePair = errors.New("scene pair already exists")
)

// ScenePair links one rain event to its after scene and, when available, a
// same-track before scene. Persisted once; a forced re-search deletes and
// replaces it.
type ScenePair struct {
	GridID string
	Lat    float64
	Lon    float64

	EventStart time.Time // UTC
	EventEnd   time.Time // UTC

	After  catalog.Scene
	Before *catalog.Scene

	// DelayHours is (after acquisition - event end) in hours, >= 0 by
	// construction of the after-scene search.
	DelayHours float64

	// Source tags the producing run; part of the uniqueness key.
	Source string
}

// Mission normalizes the after scene's platform to S1A, S1B or S1.
func (p ScenePair) Mission() string {
	return NormalizeMission(p.After.Platform)
}

// PassDirection normalizes the after scene's orbit direction to ASC or DSC.
func (p ScenePair) PassDirection() string {
	return NormalizePass(p.After.OrbitDirection)
}

// NormalizeMission maps the catalog's platform spellings ("sentinel-1a",
// "SENTINEL-1B", product-name prefixes) to a compact mission tag.
func NormalizeMission(platform string) string {
	p := strings.ToUpper(platform)
	switch {
	case strings.Contains(p, "1A"):
		return "S1A"
	case strings.Contains(p, "1B"):
		return "S1B"
	case strings.Contains(p, "S1"), strings.Contains(p, "SENTINEL-1"):
		return "S1"
	default:
		return ""
	}
}

// NormalizePass maps orbit direction spellings to ASC or DSC.
func NormalizePass(direction string) string {
	d := strings.ToUpper(direction)
	switch {
	case strings.HasPrefix(d, "ASC"):
		return "ASC"
	case strings.HasPrefix(d, "DESC"), strings.HasPrefix(d, "DSC"):
		return "DSC"
	default:
		return ""
	}
}
