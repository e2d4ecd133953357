package download

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/catalog"
)

// Status is a point-in-time view of a product's lifecycle, merging the
// manager's in-flight state with the preprocessing watcher's artifacts.
type Status struct {
	State    State   `json:"state"`
	Progress float64 `json:"progress_percent"`
}

// ManagerConfig holds dependencies for creating a Manager.
type ManagerConfig struct {
	Config   Config
	Tokens   *catalog.TokenSource
	Resolver *Resolver

	// Tracker is optional; defaults to a fresh one.
	Tracker *Tracker

	// HTTPClient is optional; defaults to a client whose connection setup
	// and header wait are bounded by the configured timeout. Body reads
	// are unbounded so large archives can stream to completion.
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// Manager downloads resolved products with streamed progress and cooperative
// cancellation, then signals the preprocessing watcher via trigger artifacts.
type Manager struct {
	cfg        Config
	tokens     *catalog.TokenSource
	resolver   *Resolver
	tracker    *Tracker
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewManager creates a download manager.
func NewManager(cfg ManagerConfig) *Manager {
	c := cfg.Config
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1 << 20
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// http.Client.Timeout bounds the entire body read and would abort
		// any transfer outlasting it, so only dial, TLS, and the
		// response-header wait are bounded here.
		httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: c.Timeout}).DialContext,
				TLSHandshakeTimeout:   c.Timeout,
				ResponseHeaderTimeout: c.Timeout,
			},
		}
	}
	return &Manager{
		cfg:        c,
		tokens:     cfg.Tokens,
		resolver:   cfg.Resolver,
		tracker:    tracker,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Tracker exposes the shared task state, for callers that hold one tracker
// across several managers.
func (m *Manager) Tracker() *Tracker {
	return m.tracker
}

// destPath places a product's raw archive under its grid cell's directory.
func (m *Manager) destPath(gridID, stem string) string {
	return filepath.Join(m.cfg.Root, gridID, stem+".zip")
}

// Download fetches one product and blocks until it finishes. Re-invoking for
// an already-downloaded product is a no-op; cancellation surfaces as
// ErrCancelled, never as a generic failure. The tracker entry lives for
// exactly the duration of this call.
func (m *Manager) Download(ctx context.Context, gridID, productName string) error {
	stem := ProductStem(productName)

	if !m.tracker.begin(stem) {
		return ErrAlreadyRunning
	}
	defer m.tracker.finish(stem)

	dest := m.destPath(gridID, stem)
	if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
		m.logger.Info().Str("product", stem).Str("path", dest).Msg("product already downloaded, skipping")
		return nil
	}

	storageID, err := m.resolver.ResolveStorageID(ctx, productName)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", stem, err)
	}

	token, err := m.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("download auth: %w", err)
	}

	url := fmt.Sprintf("%s/Products(%s)/$value", m.cfg.ODataURL, storageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("starting download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download endpoint returned %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating grid dir: %w", err)
	}

	if err := m.stream(ctx, stem, dest, resp.Body, resp.ContentLength); err != nil {
		return err
	}

	if err := WriteTrigger(m.cfg.Root, gridID, stem); err != nil {
		return fmt.Errorf("writing trigger for %s: %w", stem, err)
	}

	m.logger.Info().Str("product", stem).Str("grid_id", gridID).Msg("download completed")
	return nil
}

// stream copies body to dest in fixed-size chunks, updating progress and
// checking the cancellation flag at each chunk boundary. The partial file is
// removed on any non-success exit.
func (m *Manager) stream(ctx context.Context, stem, dest string, body io.Reader, contentLength int64) (err error) {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", dest, cerr)
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	buf := make([]byte, m.cfg.ChunkSize)
	var downloaded int64
	for {
		if m.tracker.cancelRequested(stem) {
			m.logger.Info().Str("product", stem).Msg("download cancelled, removing partial file")
			return ErrCancelled
		}
		if ctx.Err() != nil {
			return ErrCancelled
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing %s: %w", dest, werr)
			}
			downloaded += int64(n)
			if contentLength > 0 {
				m.tracker.setProgress(stem, round1(float64(downloaded)/float64(contentLength)*100))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("reading download stream: %w", readErr)
		}
	}
	return nil
}

// Cancel requests cooperative cancellation of an in-flight download.
// Returns false when nothing is in flight for the product.
func (m *Manager) Cancel(productName string) bool {
	return m.tracker.Cancel(ProductStem(productName))
}

// Status reports a product's lifecycle state: the processed artifact wins,
// then the watcher's sidecar, then in-flight progress, then the raw archive.
func (m *Manager) Status(gridID, productName string) (Status, error) {
	stem := ProductStem(productName)

	processed := filepath.Join(m.cfg.Root, gridID, stem+"_proc.tif")
	if fi, err := os.Stat(processed); err == nil && fi.Size() > 0 {
		return Status{State: StateProcessed, Progress: 100}, nil
	}

	sc, err := readSidecar(m.cfg.Root, gridID, stem)
	if err != nil {
		return Status{}, err
	}
	if sc != nil {
		return Status{State: sc.Status, Progress: 100}, nil
	}

	if pct, ok := m.tracker.Progress(stem); ok {
		return Status{State: StateDownloading, Progress: pct}, nil
	}

	if fi, err := os.Stat(m.destPath(gridID, stem)); err == nil && fi.Size() > 0 {
		return Status{State: StateDownloaded, Progress: 100}, nil
	}
	return Status{State: StateNotStarted}, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
