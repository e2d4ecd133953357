package catalog

import (
	"strings"
	"time"
)

// The catalog's property schema has drifted across reprocessing campaigns;
// each normalized field is resolved by trying a fixed priority list of
// alternate key spellings. Order matters: the first present key wins.
var (
	datetimeKeys = []string{"datetime", "start_datetime", "end_datetime"}

	productIdentifierKeys = []string{"s1:product_identifier", "s1:productIdentifier"}

	productTypeKeys = []string{"s1:product_type", "sar:product_type", "productType"}

	orbitDirectionKeys = []string{"sat:orbit_state", "s1:orbitDirection", "orbitDirection"}

	relativeOrbitKeys = []string{"s1:relativeOrbitNumber", "sat:relative_orbit"}

	platformKeys = []string{"platform", "platformSerialIdentifier"}
)

type feature struct {
	ID         string         `json:"id"`
	Geometry   map[string]any `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type featureCollection struct {
	Features []feature `json:"features"`
}

// sceneFromFeature normalizes one catalog feature. It returns false when
// the feature carries no usable acquisition time under any known key.
func sceneFromFeature(f feature) (Scene, bool) {
	props := f.Properties
	if props == nil {
		props = map[string]any{}
	}

	raw, ok := firstString(props, datetimeKeys)
	if !ok {
		return Scene{}, false
	}
	acq, err := ParseSceneTime(raw)
	if err != nil {
		return Scene{}, false
	}

	productID, _ := firstString(props, productIdentifierKeys)
	productType, _ := firstString(props, productTypeKeys)
	orbitDir, _ := firstString(props, orbitDirectionKeys)
	platform, _ := firstString(props, platformKeys)

	s := Scene{
		CatalogID:         f.ID,
		ProductIdentifier: productID,
		AcquisitionTime:   acq,
		Platform:          platform,
		OrbitDirection:    orbitDir,
		ProductType:       productType,
		Geometry:          f.Geometry,
		Properties:        props,
	}
	if n, ok := firstInt(props, relativeOrbitKeys); ok {
		s.RelativeOrbit = &n
	}
	return s, true
}

func firstString(props map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := props[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func firstInt(props map[string]any, keys []string) (int, bool) {
	for _, k := range keys {
		v, ok := props[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64: // encoding/json decodes numbers to float64
			return int(n), true
		case int:
			return n, true
		}
	}
	return 0, false
}

// ParseSceneTime parses a catalog timestamp. Fractional seconds of any
// precision and a trailing Z marker are accepted; the result is UTC.
func ParseSceneTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatInterval renders an ISO-8601 closed interval for the datetime
// query parameter.
func FormatInterval(start, end time.Time) string {
	const layout = "2006-01-02T15:04:05Z"
	return start.UTC().Format(layout) + "/" + end.UTC().Format(layout)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
