package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSceneFromFeature_KeyPriority(t *testing.T) {
	// When both spellings are present the higher-priority key wins.
	f := feature{
		ID: "item-1",
		Properties: map[string]any{
			"datetime":              "2024-06-01T05:30:00Z",
			"start_datetime":        "2024-06-01T05:29:00Z",
			"s1:product_identifier": "NEW_NAME",
			"s1:productIdentifier":  "OLD_NAME",
			"sat:orbit_state":       "ASCENDING",
			"s1:orbitDirection":     "DESCENDING",
			"s1:relativeOrbitNumber": float64(15),
			"sat:relative_orbit":     float64(99),
			"platform":                 "sentinel-1a",
			"platformSerialIdentifier": "SENTINEL-1B",
		},
	}

	s, ok := sceneFromFeature(f)
	require.True(t, ok)

	assert.Equal(t, time.Date(2024, 6, 1, 5, 30, 0, 0, time.UTC), s.AcquisitionTime)
	assert.Equal(t, "NEW_NAME", s.ProductIdentifier)
	assert.Equal(t, "ASCENDING", s.OrbitDirection)
	require.NotNil(t, s.RelativeOrbit)
	assert.Equal(t, 15, *s.RelativeOrbit)
	assert.Equal(t, "sentinel-1a", s.Platform)
}

func TestSceneFromFeature_FallbackKeys(t *testing.T) {
	f := feature{
		ID: "item-2",
		Properties: map[string]any{
			"end_datetime":       "2024-06-01T05:30:30Z",
			"orbitDirection":     "DESCENDING",
			"sat:relative_orbit": float64(7),
			"productType":        "GRD",
		},
	}

	s, ok := sceneFromFeature(f)
	require.True(t, ok)

	assert.Equal(t, "item-2", s.ID(), "catalog id is the identity fallback")
	assert.Equal(t, "DESCENDING", s.OrbitDirection)
	require.NotNil(t, s.RelativeOrbit)
	assert.Equal(t, 7, *s.RelativeOrbit)
	assert.Equal(t, "GRD", s.ProductType)
}

func TestSceneFromFeature_NoUsableTime(t *testing.T) {
	_, ok := sceneFromFeature(feature{
		ID:         "item-3",
		Properties: map[string]any{"platform": "sentinel-1a"},
	})
	assert.False(t, ok)

	_, ok = sceneFromFeature(feature{
		ID:         "item-4",
		Properties: map[string]any{"datetime": "not-a-time"},
	})
	assert.False(t, ok)

	_, ok = sceneFromFeature(feature{ID: "item-5"})
	assert.False(t, ok, "nil properties must not panic")
}

func TestParseSceneTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-06-01T05:30:00Z", time.Date(2024, 6, 1, 5, 30, 0, 0, time.UTC)},
		{"2024-06-01T05:30:00.123456Z", time.Date(2024, 6, 1, 5, 30, 0, 123456000, time.UTC)},
		{"2024-06-01T07:30:00+02:00", time.Date(2024, 6, 1, 5, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseSceneTime(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, got.Equal(tc.want), "parsing %s", tc.in)
	}

	_, err := ParseSceneTime("garbage")
	assert.Error(t, err)
}

func TestFormatInterval(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 3, 12, 30, 15, 0, time.UTC)
	assert.Equal(t, "2024-06-01T00:00:00Z/2024-06-03T12:30:15Z", FormatInterval(start, end))
}
