package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sentinel-1-grd", cfg.Collection)
	assert.Equal(t, "IW", cfg.InstrumentMode)
	assert.Equal(t, 0.1, cfg.BBoxMargin)
	assert.Equal(t, 100, cfg.SearchLimit)

	// Interactive search keeps the larger retry budget; batch pair
	// lookups give up sooner and degrade to skips.
	assert.Equal(t, 10, cfg.SearchAttempts)
	assert.Equal(t, 3, cfg.PairAttempts)
}
