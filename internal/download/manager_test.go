package download

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainsar/rainsar/internal/catalog"
)

const (
	testGrid    = "N03300E13050"
	testProduct = "S1A_IW_GRDH_1SDV_20240601T053000_COG"
	testStem    = "S1A_IW_GRDH_1SDV_20240601T053000"
)

// productServer serves the token endpoint, the OData resolver queries, and
// the product payload itself. releaseChunks, when set, gates payload writes
// so tests can observe a download mid-flight; chunkDelay paces a steady slow
// transfer instead.
type productServer struct {
	*httptest.Server
	payload       []byte
	downloads     atomic.Int32
	releaseChunks chan struct{}
	chunkDelay    time.Duration
}

func newProductServer(t *testing.T, payload []byte) *productServer {
	t.Helper()
	ps := &productServer{payload: payload}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"access_token":"dl-token","expires_in":3600}`))
	})
	mux.HandleFunc("/odata/Products", func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("$filter")
		if filter == fmt.Sprintf("Name eq '%s.SAFE'", testStem) {
			w.Write([]byte(`{"value":[{"Id":"uuid-1234","Name":"` + testStem + `.SAFE"}]}`))
			return
		}
		w.Write([]byte(`{"value":[]}`))
	})
	mux.HandleFunc("/odata/Products(uuid-1234)/$value", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer dl-token", r.Header.Get("Authorization"))
		ps.downloads.Add(1)

		w.Header().Set("Content-Length", fmt.Sprint(len(ps.payload)))
		w.WriteHeader(http.StatusOK)
		if ps.releaseChunks == nil && ps.chunkDelay == 0 {
			w.Write(ps.payload)
			return
		}
		// One chunk per release signal; a closed channel releases the rest.
		const chunk = 1024
		for off := 0; off < len(ps.payload); off += chunk {
			if ps.releaseChunks != nil {
				<-ps.releaseChunks
			}
			if ps.chunkDelay > 0 {
				time.Sleep(ps.chunkDelay)
			}
			end := off + chunk
			if end > len(ps.payload) {
				end = len(ps.payload)
			}
			w.Write(ps.payload[off:end])
			w.(http.Flusher).Flush()
		}
	})

	ps.Server = httptest.NewServer(mux)
	t.Cleanup(ps.Close)
	return ps
}

func newTestTokens(tokenURL string) *catalog.TokenSource {
	return catalog.NewTokenSource(catalog.TokenSourceConfig{
		TokenURL:     tokenURL,
		ClientID:     "svc-user",
		ClientSecret: "svc-secret",
		Logger:       zerolog.Nop(),
	})
}

func newTestManager(t *testing.T, srv *productServer, root string) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		Config: Config{
			ODataURL:  srv.URL + "/odata",
			Root:      root,
			ChunkSize: 1024,
			Timeout:   10 * time.Second,
		},
		Tokens: newTestTokens(srv.URL + "/token"),
		Resolver: NewResolver(ResolverConfig{
			BaseURL: srv.URL + "/odata",
			Logger:  zerolog.Nop(),
		}),
		Logger: zerolog.Nop(),
	})
}

func TestManager_DownloadWritesFileAndTrigger(t *testing.T) {
	root := t.TempDir()
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	srv := newProductServer(t, payload)
	m := newTestManager(t, srv, root)

	require.NoError(t, m.Download(context.Background(), testGrid, testProduct))

	got, err := os.ReadFile(filepath.Join(root, testGrid, testStem+".zip"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = os.Stat(filepath.Join(root, "_triggers", testGrid+"___"+testStem+".req"))
	assert.NoError(t, err, "trigger artifact missing")

	st, err := m.Status(testGrid, testProduct)
	require.NoError(t, err)
	assert.Equal(t, StateDownloaded, st.State)
}

func TestManager_SlowTransferOutlastsConfiguredTimeout(t *testing.T) {
	root := t.TempDir()
	payload := make([]byte, 6*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	srv := newProductServer(t, payload)
	srv.chunkDelay = 50 * time.Millisecond

	// Six paced chunks take ~300ms against a 100ms timeout; a healthy
	// transfer must not be cut off mid-stream for taking longer overall.
	m := NewManager(ManagerConfig{
		Config: Config{
			ODataURL:  srv.URL + "/odata",
			Root:      root,
			ChunkSize: 1024,
			Timeout:   100 * time.Millisecond,
		},
		Tokens: newTestTokens(srv.URL + "/token"),
		Resolver: NewResolver(ResolverConfig{
			BaseURL: srv.URL + "/odata",
			Logger:  zerolog.Nop(),
		}),
		Logger: zerolog.Nop(),
	})

	require.NoError(t, m.Download(context.Background(), testGrid, testProduct))

	got, err := os.ReadFile(filepath.Join(root, testGrid, testStem+".zip"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestManager_DownloadIdempotentWhenFileExists(t *testing.T) {
	root := t.TempDir()
	srv := newProductServer(t, []byte("payload"))
	m := newTestManager(t, srv, root)

	dest := filepath.Join(root, testGrid, testStem+".zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("existing bytes"), 0o644))

	require.NoError(t, m.Download(context.Background(), testGrid, testProduct))
	require.NoError(t, m.Download(context.Background(), testGrid, testProduct))

	assert.Equal(t, int32(0), srv.downloads.Load(), "existing nonzero file must not be re-downloaded")
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("existing bytes"), got)
}

func TestManager_CancelRemovesPartialFile(t *testing.T) {
	root := t.TempDir()
	payload := make([]byte, 8*1024)
	srv := newProductServer(t, payload)
	srv.releaseChunks = make(chan struct{})
	m := newTestManager(t, srv, root)

	done := make(chan error, 1)
	go func() {
		done <- m.Download(context.Background(), testGrid, testProduct)
	}()

	// Let two chunks through, then cancel.
	srv.releaseChunks <- struct{}{}
	srv.releaseChunks <- struct{}{}
	require.Eventually(t, func() bool {
		_, ok := m.Tracker().Progress(testStem)
		return ok && m.Cancel(testProduct)
	}, 5*time.Second, 10*time.Millisecond)

	// Unblock the server so the client loop reaches the next boundary.
	close(srv.releaseChunks)

	err := <-done
	assert.ErrorIs(t, err, ErrCancelled, "cancellation must not look like a failure")

	_, statErr := os.Stat(filepath.Join(root, testGrid, testStem+".zip"))
	assert.True(t, os.IsNotExist(statErr), "partial file must be removed")

	st, err := m.Status(testGrid, testProduct)
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, st.State, "tracker entry removed after the routine exits")
}

func TestManager_ProgressObservableDuringDownload(t *testing.T) {
	root := t.TempDir()
	payload := make([]byte, 4*1024)
	srv := newProductServer(t, payload)
	srv.releaseChunks = make(chan struct{})
	m := newTestManager(t, srv, root)

	done := make(chan error, 1)
	go func() {
		done <- m.Download(context.Background(), testGrid, testProduct)
	}()

	srv.releaseChunks <- struct{}{}
	srv.releaseChunks <- struct{}{}

	require.Eventually(t, func() bool {
		st, err := m.Status(testGrid, testProduct)
		return err == nil && st.State == StateDownloading && st.Progress >= 25.0
	}, 5*time.Second, 10*time.Millisecond)

	srv.releaseChunks <- struct{}{}
	srv.releaseChunks <- struct{}{}
	close(srv.releaseChunks)
	require.NoError(t, <-done)

	st, err := m.Status(testGrid, testProduct)
	require.NoError(t, err)
	assert.Equal(t, StateDownloaded, st.State)
}

func TestManager_ConcurrentStartRejected(t *testing.T) {
	root := t.TempDir()
	srv := newProductServer(t, make([]byte, 4*1024))
	srv.releaseChunks = make(chan struct{})
	m := newTestManager(t, srv, root)

	done := make(chan error, 1)
	go func() {
		done <- m.Download(context.Background(), testGrid, testProduct)
	}()

	srv.releaseChunks <- struct{}{}
	err := m.Download(context.Background(), testGrid, testProduct)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	for i := 0; i < 3; i++ {
		srv.releaseChunks <- struct{}{}
	}
	close(srv.releaseChunks)
	require.NoError(t, <-done)
}

func TestManager_StatusMergesSidecarAndArtifacts(t *testing.T) {
	root := t.TempDir()
	srv := newProductServer(t, nil)
	m := newTestManager(t, srv, root)

	st, err := m.Status(testGrid, testProduct)
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, st.State)

	// Watcher reports processing via sidecar.
	scDir := filepath.Join(root, "_status")
	require.NoError(t, os.MkdirAll(scDir, 0o755))
	sc, _ := json.Marshal(Sidecar{Status: StateProcessing, UpdatedAt: time.Now().UTC()})
	require.NoError(t, os.WriteFile(filepath.Join(scDir, testGrid+"___"+testStem+".json"), sc, 0o644))

	st, err = m.Status(testGrid, testProduct)
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, st.State)

	// Processed artifact outranks the sidecar.
	gridDir := filepath.Join(root, testGrid)
	require.NoError(t, os.MkdirAll(gridDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gridDir, testStem+"_proc.tif"), []byte("tif"), 0o644))

	st, err = m.Status(testGrid, testProduct)
	require.NoError(t, err)
	assert.Equal(t, StateProcessed, st.State)
	assert.Equal(t, 100.0, st.Progress)
}
