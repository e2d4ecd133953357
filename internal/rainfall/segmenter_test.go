package rainfall

import (
	"testing"
	"time"
)

var baseTS = time.Date(2018, 7, 6, 0, 0, 0, 0, time.UTC)

func hourly(grid string, hours []int, intensity float64) []Reading {
	readings := make([]Reading, 0, len(hours))
	for _, h := range hours {
		readings = append(readings, Reading{
			GridID:    grid,
			TS:        baseTS.Add(time.Duration(h) * time.Hour),
			Lat:       33.25,
			Lon:       130.55,
			Intensity: intensity,
		})
	}
	return readings
}

func TestSegment_SplitsOnGap(t *testing.T) {
	// T, T+1h, T+2h, T+4h with tolerance 1.1h: two events.
	readings := hourly("G1", []int{0, 1, 2, 4}, 12.0)

	events := Segment(readings, 10.0, 66*time.Minute)

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if !first.Start.Equal(baseTS) || !first.End.Equal(baseTS.Add(2*time.Hour)) {
		t.Errorf("first event span %v..%v, want %v..%v", first.Start, first.End, baseTS, baseTS.Add(2*time.Hour))
	}
	if first.HitCount != 3 {
		t.Errorf("first event hit count = %d, want 3", first.HitCount)
	}

	second := events[1]
	if !second.Start.Equal(second.End) {
		t.Errorf("second event should be a single-hour event, got %v..%v", second.Start, second.End)
	}
	if second.HitCount != 1 {
		t.Errorf("second event hit count = %d, want 1", second.HitCount)
	}
}

func TestSegment_MergesWithinTolerance(t *testing.T) {
	readings := hourly("G1", []int{0, 1, 2, 3, 4}, 8.0)

	events := Segment(readings, 4.0, DefaultGapTolerance)

	if len(events) != 1 {
		t.Fatalf("expected 1 merged event, got %d", len(events))
	}
	if events[0].HitCount != 5 {
		t.Errorf("hit count = %d, want 5", events[0].HitCount)
	}
}

func TestSegment_TotalCoverage(t *testing.T) {
	readings := hourly("G1", []int{0, 1, 5, 6, 7, 20}, 8.0)

	events := Segment(readings, 4.0, DefaultGapTolerance)

	total := 0
	for _, ev := range events {
		total += ev.HitCount
		if ev.End.Before(ev.Start) {
			t.Errorf("event end %v before start %v", ev.End, ev.Start)
		}
	}
	if total != len(readings) {
		t.Errorf("sum of hit counts = %d, want %d", total, len(readings))
	}
}

func TestSegment_EmptyInput(t *testing.T) {
	if events := Segment(nil, 4.0, DefaultGapTolerance); len(events) != 0 {
		t.Fatalf("expected no events for empty input, got %d", len(events))
	}
}

func TestSegment_BelowThresholdIgnored(t *testing.T) {
	readings := hourly("G1", []int{0, 1}, 2.0)
	if events := Segment(readings, 4.0, DefaultGapTolerance); len(events) != 0 {
		t.Fatalf("expected no events below threshold, got %d", len(events))
	}
}

func TestSegment_GridChangeClosesEvent(t *testing.T) {
	// Adjacent timestamps across two grids must never merge.
	readings := append(hourly("G1", []int{0, 1}, 9.0), hourly("G2", []int{2, 3}, 9.0)...)

	events := Segment(readings, 4.0, DefaultGapTolerance)

	if len(events) != 2 {
		t.Fatalf("expected 2 events across grids, got %d", len(events))
	}
	if events[0].GridID != "G1" || events[1].GridID != "G2" {
		t.Errorf("grid ids = %s, %s; want G1, G2", events[0].GridID, events[1].GridID)
	}
}

func TestSegmenter_TracksMaxAndSum(t *testing.T) {
	seg := NewSegmenter(4.0, DefaultGapTolerance)
	intensities := []float64{5, 17.5, 9}
	for i, v := range intensities {
		r := Reading{GridID: "G1", TS: baseTS.Add(time.Duration(i) * time.Hour), Intensity: v, SourceFile: "f"}
		if closed := seg.Add(r); closed != nil {
			t.Fatalf("unexpected closed event at reading %d", i)
		}
	}
	ev := seg.Flush()
	if ev == nil {
		t.Fatal("expected a flushed event")
	}
	if ev.MaxIntensity != 17.5 {
		t.Errorf("max intensity = %v, want 17.5", ev.MaxIntensity)
	}
	if ev.SumIntensity != 31.5 {
		t.Errorf("sum intensity = %v, want 31.5", ev.SumIntensity)
	}
	if mean := ev.MeanIntensity(); mean != 10.5 {
		t.Errorf("mean intensity = %v, want 10.5", mean)
	}
}

func TestSegment_ResegmentationIsStable(t *testing.T) {
	// Re-segmenting the union of two events' readings reproduces them
	// exactly when their gap exceeds tolerance.
	readings := hourly("G1", []int{0, 1, 2, 6, 7}, 9.0)

	first := Segment(readings, 4.0, DefaultGapTolerance)
	second := Segment(readings, 4.0, DefaultGapTolerance)

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 events from both passes, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Start.Equal(second[i].Start) || !first[i].End.Equal(second[i].End) || first[i].HitCount != second[i].HitCount {
			t.Errorf("event %d differs between passes: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestEncodeGridID(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     string
	}{
		{33.25, 130.55, "N03325E13055"},
		{-12.05, -77.05, "S01205W07705"},
		{0, 0, "N00000E00000"},
		{35.125, 139.875, "N03513E13988"},
	}
	for _, tt := range tests {
		if got := EncodeGridID(tt.lat, tt.lon); got != tt.want {
			t.Errorf("EncodeGridID(%v, %v) = %s, want %s", tt.lat, tt.lon, got, tt.want)
		}
	}
}
