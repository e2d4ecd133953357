package download

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds download service configuration, loaded from the environment.
type Config struct {
	// ODataURL is the product catalog used to resolve and fetch products.
	ODataURL string `envconfig:"DOWNLOAD_ODATA_URL" default:"https://catalogue.dataspace.copernicus.eu/odata/v1"`

	// Root is the directory products are saved under, one subdirectory per
	// grid cell.
	Root string `envconfig:"DOWNLOAD_ROOT" default:"./data/s1"`

	// ChunkSize is the streaming read size in bytes.
	ChunkSize int `envconfig:"DOWNLOAD_CHUNK_SIZE" default:"1048576"`

	ResolveAttempts int `envconfig:"DOWNLOAD_RESOLVE_ATTEMPTS" default:"3"`

	// Timeout bounds connection setup and the response-header wait of
	// download requests. The body transfer itself is not bounded; it ends
	// on completion, failure, or cancellation.
	Timeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"120s"`
}

// ConfigFromEnv loads download configuration from DOWNLOAD_* variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
