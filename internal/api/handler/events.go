package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/api/response"
	"github.com/rainsar/rainsar/internal/pairing"
	"github.com/rainsar/rainsar/internal/rainfall"
)

// EventsHandler segments a grid cell's readings on the fly and merges the
// resulting events with their persisted scene pairs.
type EventsHandler struct {
	readings rainfall.Repository
	pairs    pairing.Repository
	logger   zerolog.Logger
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(readings rainfall.Repository, pairs pairing.Repository, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{readings: readings, pairs: pairs, logger: logger}
}

// eventView is one segmented event plus its pair, when one is persisted.
type eventView struct {
	GridID        string    `json:"grid_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	HitHours      int       `json:"hit_hours"`
	MaxIntensity  float64   `json:"max_intensity_mm_h"`
	MeanIntensity float64   `json:"mean_intensity_mm_h"`
	Pair          *pairView `json:"pair,omitempty"`
}

// GridEvents returns one grid cell's events at the requested threshold.
func (h *EventsHandler) GridEvents(w http.ResponseWriter, r *http.Request) {
	gridID := chi.URLParam(r, "gridID")

	threshold, ok := parseFloatParam(r, "threshold")
	if !ok {
		response.BadRequest(w, r, "threshold query parameter is required")
		return
	}

	readings, err := h.readings.ListGridReadings(r.Context(), gridID, threshold)
	if err != nil {
		h.logger.Error().Err(err).Str("grid_id", gridID).Msg("loading readings failed")
		response.InternalError(w, r, "loading readings failed")
		return
	}

	events := rainfall.Segment(readings, threshold, rainfall.DefaultGapTolerance)

	persisted, err := h.pairs.ListByGrid(r.Context(), gridID)
	if err != nil {
		h.logger.Error().Err(err).Str("grid_id", gridID).Msg("loading pairs failed")
		response.InternalError(w, r, "loading pairs failed")
		return
	}
	byStart := make(map[time.Time]pairing.ScenePair, len(persisted))
	for _, p := range persisted {
		byStart[p.EventStart.UTC()] = p
	}

	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		v := eventView{
			GridID:        ev.GridID,
			Start:         ev.Start,
			End:           ev.End,
			HitHours:      ev.HitCount,
			MaxIntensity:  ev.MaxIntensity,
			MeanIntensity: ev.MeanIntensity(),
		}
		if p, ok := byStart[ev.Start.UTC()]; ok {
			pv := toPairView(p)
			v.Pair = &pv
		}
		views = append(views, v)
	}
	response.JSON(w, r, http.StatusOK, views)
}
