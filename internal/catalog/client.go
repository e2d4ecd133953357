package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/provider/resilience"
)

// ClientConfig holds configuration for the catalog search client.
type ClientConfig struct {
	Config Config

	// Tokens supplies bearer tokens (required).
	Tokens *TokenSource

	// HTTPClient is optional; defaults to a resilient client with the
	// configured attempt bound.
	HTTPClient *resilience.Client

	Logger zerolog.Logger
}

// Client issues geospatial/temporal catalog searches and normalizes the
// heterogeneous result schemas into Scene records.
type Client struct {
	cfg        Config
	tokens     *TokenSource
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a catalog search client.
func NewClient(cfg ClientConfig) *Client {
	c := cfg.Config
	if c.BBoxMargin == 0 {
		c.BBoxMargin = 0.1
	}
	if c.SearchLimit == 0 {
		c.SearchLimit = 100
	}
	if c.SearchAttempts == 0 {
		c.SearchAttempts = 10
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.Config{
			Name:        "catalog-search",
			Timeout:     c.SearchTimeout,
			MaxAttempts: c.SearchAttempts,
		})
	}

	return &Client{
		cfg:        c,
		tokens:     cfg.Tokens,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Search runs one catalog query and returns scenes sorted ascending by
// acquisition time. Constraint fields of the filter are re-checked against
// each normalized scene, since the corresponding remote query parameters
// are not reliably honored.
func (c *Client) Search(ctx context.Context, f SearchFilter) ([]Scene, error) {
	margin := f.BBoxMargin
	if margin == 0 {
		margin = c.cfg.BBoxMargin
	}
	limit := f.Limit
	if limit == 0 {
		limit = c.cfg.SearchLimit
	}

	params := url.Values{}
	params.Set("collections", c.cfg.Collection)
	params.Set("bbox", formatBBox(f.Lat, f.Lon, margin))
	params.Set("datetime", FormatInterval(f.Start, f.End))
	params.Set("limit", strconv.Itoa(limit))
	if c.cfg.InstrumentMode != "" {
		params.Set("sar:instrument_mode", c.cfg.InstrumentMode)
	}
	if c.cfg.Polarizations != "" {
		params.Set("sar:polarizations", c.cfg.Polarizations)
	}
	if f.Platform != "" {
		params.Set("platform", f.Platform)
	}
	if f.OrbitDirection != "" {
		params.Set("sat:orbit_state", f.OrbitDirection)
	}
	if f.RelativeOrbit != nil {
		params.Set("sat:relative_orbit", strconv.Itoa(*f.RelativeOrbit))
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog auth: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.SearchURL+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog search returned %d: %s", resp.StatusCode, body)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	scenes := make([]Scene, 0, len(fc.Features))
	for _, feat := range fc.Features {
		s, ok := sceneFromFeature(feat)
		if !ok {
			continue
		}
		if !f.Matches(s) {
			continue
		}
		scenes = append(scenes, s)
	}

	sort.Slice(scenes, func(i, j int) bool {
		return scenes[i].AcquisitionTime.Before(scenes[j].AcquisitionTime)
	})

	c.logger.Debug().
		Int("scenes", len(scenes)).
		Float64("lat", f.Lat).
		Float64("lon", f.Lon).
		Str("interval", FormatInterval(f.Start, f.End)).
		Msg("catalog search completed")

	return scenes, nil
}

func formatBBox(lat, lon, margin float64) string {
	format := func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	// lon_min, lat_min, lon_max, lat_max
	return format(lon-margin) + "," + format(lat-margin) + "," +
		format(lon+margin) + "," + format(lat+margin)
}
