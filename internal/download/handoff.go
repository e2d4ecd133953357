package download

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is one step of a product's download/preprocessing lifecycle. The
// manager owns not_started/downloading/downloaded/cancelled; the external
// preprocessing watcher advances downloaded → processing → processed|failed
// through sidecar status files.
type State string

const (
	StateNotStarted  State = "not_started"
	StateDownloading State = "downloading"
	StateDownloaded  State = "downloaded"
	StateCancelled   State = "cancelled"
	StateProcessing  State = "processing"
	StateProcessed   State = "processed"
	StateFailed      State = "failed"
)

const (
	triggerDir = "_triggers"
	statusDir  = "_status"
)

// Sidecar is the JSON status file the preprocessing watcher writes back.
type Sidecar struct {
	Status    State     `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// artifactStem names handoff artifacts deterministically from the grid and
// product stem.
func artifactStem(gridID, stem string) string {
	return gridID + "___" + stem
}

// WriteTrigger creates the zero-byte trigger artifact that tells the
// preprocessing watcher a product is ready. This is the sole coupling point
// to the preprocessing subsystem.
func WriteTrigger(root, gridID, stem string) error {
	dir := filepath.Join(root, triggerDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating trigger dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, artifactStem(gridID, stem)+".req"))
	if err != nil {
		return fmt.Errorf("creating trigger: %w", err)
	}
	return f.Close()
}

// readSidecar returns the watcher's status for a product, or nil when the
// watcher has not reported yet.
func readSidecar(root, gridID, stem string) (*Sidecar, error) {
	path := filepath.Join(root, statusDir, artifactStem(gridID, stem)+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sidecar: %w", err)
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing sidecar %s: %w", path, err)
	}
	return &sc, nil
}
