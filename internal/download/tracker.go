package download

import "sync"

// task is the shared progress/cancellation state of one in-flight download.
type task struct {
	progress  float64
	cancelled bool
}

// Tracker holds the process-wide map of in-flight downloads keyed by product
// identifier. An entry exists exactly while its download routine runs; it is
// removed only after the routine fully exits, so a Cancel racing with
// completion never no-ops on a stale entry.
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]*task
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[string]*task)}
}

// begin registers a download. Returns false when one is already in flight.
func (t *Tracker) begin(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tasks[id]; ok {
		return false
	}
	t.tasks[id] = &task{}
	return true
}

// finish removes the entry; called by the download routine on its way out.
func (t *Tracker) finish(id string) {
	t.mu.Lock()
	delete(t.tasks, id)
	t.mu.Unlock()
}

func (t *Tracker) setProgress(id string, pct float64) {
	t.mu.Lock()
	if tk, ok := t.tasks[id]; ok {
		tk.progress = pct
	}
	t.mu.Unlock()
}

// Progress returns the percentage for an in-flight download, and whether one
// exists.
func (t *Tracker) Progress(id string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[id]
	if !ok {
		return 0, false
	}
	return tk.progress, true
}

// Cancel requests cooperative cancellation. Returns false when no download
// is in flight for the id.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[id]
	if !ok {
		return false
	}
	tk.cancelled = true
	return true
}

// cancelRequested is checked by the download loop at chunk boundaries.
func (t *Tracker) cancelRequested(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[id]
	return ok && tk.cancelled
}
