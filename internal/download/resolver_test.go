package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainsar/rainsar/internal/provider/resilience"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewResolver(ResolverConfig{
		BaseURL: srv.URL,
		HTTPClient: resilience.NewClient(resilience.Config{
			Name:        "test-resolver",
			MaxAttempts: 2,
			BaseWait:    time.Millisecond,
			MaxJitter:   time.Nanosecond,
		}),
		Logger: zerolog.Nop(),
	})
}

func TestProductStem(t *testing.T) {
	assert.Equal(t, "S1A_IW_GRDH_X", ProductStem("S1A_IW_GRDH_X_COG"))
	assert.Equal(t, "S1A_IW_GRDH_X", ProductStem("S1A_IW_GRDH_X.SAFE"))
	assert.Equal(t, "S1A_IW_GRDH_X", ProductStem("S1A_IW_GRDH_X"))
}

func TestResolver_ExactMatchWins(t *testing.T) {
	var filters []string
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filters = append(filters, q.Get("$filter"))
		assert.Equal(t, "ContentDate/Start desc", q.Get("$orderby"))
		assert.Equal(t, "1", q.Get("$top"))
		w.Write([]byte(`{"value":[{"Id":"exact-id","Name":"S1A_PRODUCT.SAFE"}]}`))
	})

	id, err := r.ResolveStorageID(context.Background(), "S1A_PRODUCT_COG")
	require.NoError(t, err)
	assert.Equal(t, "exact-id", id)
	require.Len(t, filters, 1)
	assert.Equal(t, "Name eq 'S1A_PRODUCT.SAFE'", filters[0])
}

func TestResolver_FallsBackToFuzzy(t *testing.T) {
	var filters []string
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		filter := req.URL.Query().Get("$filter")
		filters = append(filters, filter)
		if filter == "contains(Name,'S1A_PRODUCT')" {
			w.Write([]byte(`{"value":[{"Id":"fuzzy-id","Name":"S1A_PRODUCT_R1.SAFE"}]}`))
			return
		}
		w.Write([]byte(`{"value":[]}`))
	})

	id, err := r.ResolveStorageID(context.Background(), "S1A_PRODUCT")
	require.NoError(t, err)
	assert.Equal(t, "fuzzy-id", id)
	require.Len(t, filters, 2, "fuzzy runs only after the exact match misses")
}

func TestResolver_NotFound(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"value":[]}`))
	})

	_, err := r.ResolveStorageID(context.Background(), "MISSING_PRODUCT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_RetriesServerErrors(t *testing.T) {
	attempts := 0
	r := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"value":[{"Id":"ok-id","Name":"X.SAFE"}]}`))
	})

	id, err := r.ResolveStorageID(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "ok-id", id)
	assert.Equal(t, 2, attempts)
}
