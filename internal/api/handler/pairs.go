package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/api/response"
	"github.com/rainsar/rainsar/internal/pairing"
)

// PairsHandler exposes persisted scene pairs and the forced re-search.
type PairsHandler struct {
	repo    pairing.Repository
	matcher *pairing.Matcher
	source  string
	logger  zerolog.Logger
}

// NewPairsHandler creates a pairs handler. source tags pairs persisted by
// forced re-searches.
func NewPairsHandler(repo pairing.Repository, matcher *pairing.Matcher, source string, logger zerolog.Logger) *PairsHandler {
	return &PairsHandler{repo: repo, matcher: matcher, source: source, logger: logger}
}

// pairView is the JSON shape of one persisted pair.
type pairView struct {
	GridID        string     `json:"grid_id"`
	Lat           float64    `json:"lat"`
	Lon           float64    `json:"lon"`
	EventStart    time.Time  `json:"event_start"`
	EventEnd      time.Time  `json:"event_end"`
	AfterScene    string     `json:"after_scene"`
	AfterTime     time.Time  `json:"after_time"`
	BeforeScene   *string    `json:"before_scene,omitempty"`
	BeforeTime    *time.Time `json:"before_time,omitempty"`
	Mission       string     `json:"mission"`
	PassDirection string     `json:"pass_direction"`
	RelativeOrbit *int       `json:"relative_orbit,omitempty"`
	DelayHours    float64    `json:"delay_hours"`
	Source        string     `json:"source"`
}

func toPairView(p pairing.ScenePair) pairView {
	v := pairView{
		GridID:        p.GridID,
		Lat:           p.Lat,
		Lon:           p.Lon,
		EventStart:    p.EventStart,
		EventEnd:      p.EventEnd,
		AfterScene:    p.After.ID(),
		AfterTime:     p.After.AcquisitionTime,
		Mission:       p.Mission(),
		PassDirection: p.PassDirection(),
		RelativeOrbit: p.After.RelativeOrbit,
		DelayHours:    p.DelayHours,
		Source:        p.Source,
	}
	if p.Before != nil {
		id := p.Before.ID()
		ts := p.Before.AcquisitionTime
		v.BeforeScene = &id
		v.BeforeTime = &ts
	}
	return v
}

func parseFloatParam(r *http.Request, name string) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errInvalidTime(name)
}

type errInvalidTime string

func (e errInvalidTime) Error() string { return "invalid time parameter: " + string(e) }

// List returns persisted pairs matching the query filters.
func (h *PairsHandler) List(w http.ResponseWriter, r *http.Request) {
	var f pairing.ListFilter
	f.MinLat, _ = parseFloatParam(r, "min_lat")
	f.MaxLat, _ = parseFloatParam(r, "max_lat")
	f.MinLon, _ = parseFloatParam(r, "min_lon")
	f.MaxLon, _ = parseFloatParam(r, "max_lon")
	f.MaxDelayHours, _ = parseFloatParam(r, "max_delay_hours")
	f.Source = r.URL.Query().Get("source")

	var err error
	if f.Start, err = parseTimeParam(r, "start"); err != nil {
		response.BadRequest(w, r, err.Error())
		return
	}
	if f.End, err = parseTimeParam(r, "end"); err != nil {
		response.BadRequest(w, r, err.Error())
		return
	}

	pairs, err := h.repo.List(r.Context(), f)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing pairs failed")
		response.InternalError(w, r, "listing pairs failed")
		return
	}

	views := make([]pairView, 0, len(pairs))
	for _, p := range pairs {
		views = append(views, toPairView(p))
	}
	response.JSON(w, r, http.StatusOK, views)
}

// SearchSatellite pairs one event on demand. With force=true an existing
// persisted pair is deleted and replaced by a fresh search; without it the
// persisted pair is returned when present.
func (h *PairsHandler) SearchSatellite(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	gridID := q.Get("grid_id")
	lat, latOK := parseFloatParam(r, "lat")
	lon, lonOK := parseFloatParam(r, "lon")
	if gridID == "" || !latOK || !lonOK {
		response.BadRequest(w, r, "grid_id, lat and lon are required")
		return
	}

	eventStart, err := parseTimeParam(r, "event_start")
	if err != nil || eventStart == nil {
		response.BadRequest(w, r, "event_start is required")
		return
	}
	eventEnd, err := parseTimeParam(r, "event_end")
	if err != nil || eventEnd == nil {
		response.BadRequest(w, r, "event_end is required")
		return
	}
	force := q.Get("force") == "true"

	existing, err := h.repo.Get(r.Context(), gridID, *eventStart)
	if err != nil {
		h.logger.Error().Err(err).Str("grid_id", gridID).Msg("pair lookup failed")
		response.InternalError(w, r, "pair lookup failed")
		return
	}
	if existing != nil && !force {
		response.JSON(w, r, http.StatusOK, toPairView(*existing))
		return
	}

	after, err := h.matcher.FindAfter(r.Context(), lat, lon, *eventEnd, 0)
	if err != nil {
		h.logger.Error().Err(err).Str("grid_id", gridID).Msg("after-scene search failed")
		response.InternalError(w, r, "catalog search failed")
		return
	}
	if after == nil {
		response.NotFound(w, r, "no after scene within the search window")
		return
	}

	before, err := h.matcher.FindBefore(r.Context(), lat, lon, after.AcquisitionTime, pairing.SameTrackAs(*after))
	if err != nil {
		h.logger.Error().Err(err).Str("grid_id", gridID).Msg("before-scene search failed")
		response.InternalError(w, r, "catalog search failed")
		return
	}

	pair := pairing.ScenePair{
		GridID:     gridID,
		Lat:        lat,
		Lon:        lon,
		EventStart: *eventStart,
		EventEnd:   *eventEnd,
		After:      *after,
		Before:     before,
		DelayHours: after.AcquisitionTime.Sub(*eventEnd).Hours(),
		Source:     h.source,
	}

	if existing != nil {
		if err := h.repo.Delete(r.Context(), gridID, *eventStart); err != nil {
			h.logger.Error().Err(err).Str("grid_id", gridID).Msg("deleting pair for re-search failed")
			response.InternalError(w, r, "replacing pair failed")
			return
		}
	}
	if err := h.repo.InsertPairs(r.Context(), []pairing.ScenePair{pair}); err != nil {
		h.logger.Error().Err(err).Str("grid_id", gridID).Msg("persisting pair failed")
		response.InternalError(w, r, "persisting pair failed")
		return
	}

	response.JSON(w, r, http.StatusOK, toPairView(pair))
}
