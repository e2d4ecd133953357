// Package catalog provides the satellite imagery catalog client: OAuth2
// client-credentials sessions, geospatial/temporal scene search, and
// normalization of the catalog's drifting property schemas.
package catalog

import (
	"errors"
	"time"
)

// Predefined catalog errors.
var (
	// ErrMissingCredentials indicates client id/secret were not configured.
	ErrMissingCredentials = errors.New("catalog credentials not configured")
)

// Scene is one normalized catalog record for a satellite imaging product.
// Read-only once constructed from a catalog response.
type Scene struct {
	// CatalogID is the catalog item id (e.g. the COG name).
	CatalogID string

	// ProductIdentifier is the original product name (e.g. the SAFE name).
	// Empty when the catalog item is a pre-processed derivative only; the
	// CatalogID is then the fallback identity downstream.
	ProductIdentifier string

	AcquisitionTime time.Time // UTC
	Platform        string
	OrbitDirection  string
	RelativeOrbit   *int
	ProductType     string

	// Geometry and Properties carry the raw feature payload for callers
	// that need fields outside the normalized set.
	Geometry   map[string]any
	Properties map[string]any
}

// ID returns the identity used downstream: the product identifier when
// present, otherwise the catalog id.
func (s Scene) ID() string {
	if s.ProductIdentifier != "" {
		return s.ProductIdentifier
	}
	return s.CatalogID
}

// SearchFilter describes one point-plus-interval catalog query.
type SearchFilter struct {
	Lat, Lon float64

	// BBoxMargin widens the query point into a bbox; zero uses the client
	// default.
	BBoxMargin float64

	Start time.Time // UTC, inclusive
	End   time.Time // UTC, inclusive

	// Limit caps returned items; zero uses the client default.
	Limit int

	// Match constraints re-checked client-side after normalization, since
	// the remote query parameters for them are not reliably honored.
	Platform       string // case-insensitive substring match
	OrbitDirection string // exact match
	RelativeOrbit  *int   // exact match
}

// Matches reports whether the scene satisfies the filter's post-search
// constraints.
func (f SearchFilter) Matches(s Scene) bool {
	if f.Platform != "" && !containsFold(s.Platform, f.Platform) {
		return false
	}
	if f.OrbitDirection != "" && s.OrbitDirection != f.OrbitDirection {
		return false
	}
	if f.RelativeOrbit != nil {
		if s.RelativeOrbit == nil || *s.RelativeOrbit != *f.RelativeOrbit {
			return false
		}
	}
	return true
}
