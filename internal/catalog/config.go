package catalog

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds catalog service configuration, loaded from the environment.
type Config struct {
	TokenURL     string `envconfig:"CATALOG_TOKEN_URL" default:"https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"`
	ClientID     string `envconfig:"CATALOG_CLIENT_ID"`
	ClientSecret string `envconfig:"CATALOG_CLIENT_SECRET"`

	// SearchURL is the full search endpoint of the STAC catalog.
	SearchURL string `envconfig:"CATALOG_SEARCH_URL" default:"https://stac.dataspace.copernicus.eu/v1/search"`

	Collection     string `envconfig:"CATALOG_COLLECTION" default:"sentinel-1-grd"`
	InstrumentMode string `envconfig:"CATALOG_INSTRUMENT_MODE" default:"IW"`
	Polarizations  string `envconfig:"CATALOG_POLARIZATIONS" default:"VV,VH"`

	// BBoxMargin widens a query point into a bbox, in degrees.
	BBoxMargin float64 `envconfig:"CATALOG_BBOX_MARGIN" default:"0.1"`

	SearchLimit    int `envconfig:"CATALOG_SEARCH_LIMIT" default:"100"`
	SearchAttempts int `envconfig:"CATALOG_SEARCH_ATTEMPTS" default:"10"`

	// PairAttempts bounds retries for batch scene-pair lookups, which
	// degrade to per-grid skips rather than abort the run.
	PairAttempts int `envconfig:"CATALOG_PAIR_ATTEMPTS" default:"3"`

	SearchTimeout time.Duration `envconfig:"CATALOG_SEARCH_TIMEOUT" default:"60s"`
}

// ConfigFromEnv loads catalog configuration from CATALOG_* variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
