package client

import (
	"sync"
	"time"
)

const defaultDebounceInterval = 150 * time.Millisecond

// Rect is an axis-aligned box in content-surface coordinates.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Contains reports whether other sits fully inside r.
func (r Rect) Contains(other Rect) bool {
	return other.X >= r.X &&
		other.Y >= r.Y &&
		other.X+other.Width <= r.X+r.Width &&
		other.Y+other.Height <= r.Y+r.Height
}

// Selection is a settled, non-empty text selection and the anchor where
// a floating toolbar attaches.
type Selection struct {
	Text   string
	Anchor Rect
}

// SelectionTrackerConfig wires a SelectionTracker.
type SelectionTrackerConfig struct {
	// Region bounds the tracked surface. A selection anchored outside it
	// is treated as a collapse. The zero Rect disables the check.
	Region Rect
	// DebounceInterval is how long a selection must hold still before it
	// is emitted.
	DebounceInterval time.Duration
	// OnSelection receives the settled selection, or nil on collapse.
	OnSelection func(*Selection)
}

// SelectionTracker turns a stream of raw selection updates into settled
// emissions. Intermediate states during a drag are coalesced; only the
// selection that survives the debounce window reaches OnSelection.
// Collapses are emitted immediately so dependent surfaces can dismiss
// without lag.
type SelectionTracker struct {
	region      Rect
	interval    time.Duration
	onSelection func(*Selection)

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	active  bool
	pending Selection
}

// NewSelectionTracker constructs a SelectionTracker with defaults
// applied.
func NewSelectionTracker(cfg SelectionTrackerConfig) *SelectionTracker {
	interval := cfg.DebounceInterval
	if interval <= 0 {
		interval = defaultDebounceInterval
	}
	onSelection := cfg.OnSelection
	if onSelection == nil {
		onSelection = func(*Selection) {}
	}
	return &SelectionTracker{
		region:      cfg.Region,
		interval:    interval,
		onSelection: onSelection,
	}
}

// Observe feeds one raw selection state. Empty text, or an anchor
// outside the tracked region, counts as a collapse.
func (t *SelectionTracker) Observe(text string, anchor Rect) {
	if text == "" || !t.inRegion(anchor) {
		t.collapse()
		return
	}

	t.mu.Lock()
	t.pending = Selection{Text: text, Anchor: anchor}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.interval, func() { t.settle(gen) })
	t.mu.Unlock()
}

// Stop cancels any pending emission.
func (t *SelectionTracker) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.mu.Unlock()
}

func (t *SelectionTracker) inRegion(anchor Rect) bool {
	if t.region == (Rect{}) {
		return true
	}
	return t.region.Contains(anchor)
}

func (t *SelectionTracker) collapse() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	// Invalidate any timer callback already past its Stop; firing with a
	// stale generation must not resurrect the collapsed selection.
	t.gen++
	wasActive := t.active
	t.active = false
	t.mu.Unlock()

	if wasActive {
		t.onSelection(nil)
	}
}

func (t *SelectionTracker) settle(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	settled := t.pending
	t.active = true
	t.timer = nil
	t.mu.Unlock()

	t.onSelection(&settled)
}
