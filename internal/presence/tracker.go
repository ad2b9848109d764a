// Package presence tracks ephemeral per-user text selections. Entries
// are never persisted; they expire when not refreshed within the TTL,
// which covers abrupt disconnects without an explicit clear event.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTTL is how long a presence entry survives without refresh.
	DefaultTTL = 15 * time.Second
	// DefaultSweepInterval is how often expired entries are collected.
	DefaultSweepInterval = 5 * time.Second
)

// Entry is one user's live selection inside a document.
type Entry struct {
	UserID      string
	Text        string
	TimestampMS int64
	refreshedAt time.Time
}

// TrackerConfig tunes expiry behaviour.
type TrackerConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Tracker holds at most one presence entry per user.
type Tracker struct {
	mu            sync.Mutex
	entries       map[string]Entry
	ttl           time.Duration
	sweepInterval time.Duration
	clock         func() time.Time
	logger        *zap.Logger
}

// NewTracker constructs a Tracker with defaults applied.
func NewTracker(cfg TrackerConfig) *Tracker {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		entries:       make(map[string]Entry),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		clock:         clock,
		logger:        logger,
	}
}

// Upsert records or refreshes a user's selection. An empty text clears
// the entry, matching the wire convention.
func (t *Tracker) Upsert(userID, text string, timestampMS int64) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if text == "" {
		delete(t.entries, userID)
		return
	}
	t.entries[userID] = Entry{
		UserID:      userID,
		Text:        text,
		TimestampMS: timestampMS,
		refreshedAt: t.clock(),
	}
}

// Clear drops a user's entry. Clearing an absent user is a no-op.
func (t *Tracker) Clear(userID string) {
	t.mu.Lock()
	delete(t.entries, userID)
	t.mu.Unlock()
}

// Active returns unexpired entries, excluding excludeUserID, ordered by
// user id for stable rendering.
func (t *Tracker) Active(excludeUserID string) []Entry {
	now := t.clock()
	t.mu.Lock()
	active := make([]Entry, 0, len(t.entries))
	for userID, entry := range t.entries {
		if userID == excludeUserID {
			continue
		}
		if now.Sub(entry.refreshedAt) > t.ttl {
			continue
		}
		active = append(active, entry)
	}
	t.mu.Unlock()

	sort.Slice(active, func(i, j int) bool {
		return active[i].UserID < active[j].UserID
	})
	return active
}

// Sweep removes expired entries and reports how many were dropped.
func (t *Tracker) Sweep() int {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for userID, entry := range t.entries {
		if now.Sub(entry.refreshedAt) > t.ttl {
			delete(t.entries, userID)
			dropped++
		}
	}
	return dropped
}

// StartSweeper runs periodic sweeps until ctx is done.
func (t *Tracker) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if dropped := t.Sweep(); dropped > 0 {
					t.logger.Debug("presence entries expired", zap.Int("dropped", dropped))
				}
			}
		}
	}()
}
