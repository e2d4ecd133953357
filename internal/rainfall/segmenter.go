package rainfall

import "time"

// DefaultGapTolerance is the largest allowed gap between consecutive hits
// of one event. Hourly data arrives on the hour; the extra 0.01h absorbs
// timestamp jitter without ever bridging a genuinely missing hour.
const DefaultGapTolerance = time.Hour + 36*time.Second

// Segmenter accumulates above-threshold readings into discrete rain events.
//
// It is a single-pass, O(1)-state machine: feed readings in ascending
// timestamp order via Add, which returns a closed event whenever the gap
// tolerance is exceeded, then call Flush once at end of input to obtain the
// final open event.
//
// Readings for different grid cells may be interleaved as long as the
// stream is ordered by (grid id, timestamp): a grid-id change always closes
// the open event, so cells are never merged.
type Segmenter struct {
	gap       time.Duration
	threshold float64
	open      *Event
}

// NewSegmenter returns a Segmenter with the given threshold and gap
// tolerance. A non-positive tolerance falls back to DefaultGapTolerance.
func NewSegmenter(threshold float64, gap time.Duration) *Segmenter {
	if gap <= 0 {
		gap = DefaultGapTolerance
	}
	return &Segmenter{gap: gap, threshold: threshold}
}

// Add feeds one reading. If the reading starts a new event, the previously
// open event is closed and returned; otherwise nil. Readings below the
// threshold are ignored.
func (s *Segmenter) Add(r Reading) *Event {
	if r.Intensity < s.threshold {
		return nil
	}

	if s.open != nil &&
		r.GridID == s.open.GridID &&
		r.TS.Sub(s.open.End) <= s.gap {
		s.open.End = r.TS
		s.open.HitCount++
		s.open.SumIntensity += r.Intensity
		if r.Intensity > s.open.MaxIntensity {
			s.open.MaxIntensity = r.Intensity
			s.open.SourceFile = r.SourceFile
		}
		return nil
	}

	closed := s.open
	s.open = &Event{
		GridID:       r.GridID,
		Lat:          r.Lat,
		Lon:          r.Lon,
		Start:        r.TS,
		End:          r.TS,
		HitCount:     1,
		MaxIntensity: r.Intensity,
		SumIntensity: r.Intensity,
		Threshold:    s.threshold,
		SourceFile:   r.SourceFile,
	}
	return closed
}

// Flush closes and returns the open event, or nil if no event is open.
// The Segmenter can be reused afterwards.
func (s *Segmenter) Flush() *Event {
	closed := s.open
	s.open = nil
	return closed
}

// Segment runs the full segmentation over an in-memory slice of readings
// already sorted ascending by (grid id, timestamp).
func Segment(readings []Reading, threshold float64, gap time.Duration) []Event {
	seg := NewSegmenter(threshold, gap)
	var events []Event
	for _, r := range readings {
		if closed := seg.Add(r); closed != nil {
			events = append(events, *closed)
		}
	}
	if closed := seg.Flush(); closed != nil {
		events = append(events, *closed)
	}
	return events
}
