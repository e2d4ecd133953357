// Package rainfall provides the gridded precipitation domain: hourly
// readings, discrete rain events, and the segmentation that derives one
// from the other.
package rainfall

import (
	"fmt"
	"math"
	"time"
)

// Reading is a single hourly precipitation measurement for one grid cell.
// Readings are produced by an external ingestion process and are ordered
// by timestamp within a grid cell.
type Reading struct {
	GridID     string
	TS         time.Time // UTC
	Lat        float64
	Lon        float64
	Intensity  float64 // mm/h, gauge-calibrated
	SourceFile string
}

// Event is a maximal run of above-threshold readings in one grid cell
// with no inter-reading gap exceeding the segmenter's tolerance.
// Events are immutable once emitted.
type Event struct {
	GridID       string
	Lat          float64
	Lon          float64
	Start        time.Time // UTC, first hit
	End          time.Time // UTC, last hit; Start == End for a one-hour event
	HitCount     int
	MaxIntensity float64
	SumIntensity float64
	Threshold    float64

	// SourceFile of the reading that set MaxIntensity, kept for traceability.
	SourceFile string
}

// MeanIntensity returns the average intensity across the event's hits.
func (e Event) MeanIntensity() float64 {
	if e.HitCount == 0 {
		return 0
	}
	return e.SumIntensity / float64(e.HitCount)
}

// Duration returns the span between the first and last hit.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// EncodeGridID derives the deterministic grid-cell identifier from the cell
// center, e.g. (35.125, 139.875) -> "N03513E13988". Latitude and longitude
// are scaled by 100 and zero-padded to five digits.
func EncodeGridID(lat, lon float64) string {
	ns := "N"
	if lat < 0 {
		ns = "S"
	}
	ew := "E"
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%s%05d%s%05d",
		ns, int(math.Round(math.Abs(lat)*100)),
		ew, int(math.Round(math.Abs(lon)*100)))
}
