package client

import (
	"errors"
	"sort"
	"sync"

	"github.com/marginlab/margin/internal/annotations"
)

// ErrToolbarClosed is returned when an intent fires without an open
// toolbar.
var ErrToolbarClosed = errors.New("toolbar is not open")

// PresenceSource lists the user ids currently selecting in the
// document. The reconciler satisfies this.
type PresenceSource interface {
	ActiveUserIDs() []string
}

// ToolbarIntents receives the toolbar's outbound intents. The consumer
// decides what each intent does; the toolbar itself never mutates
// shared state.
type ToolbarIntents struct {
	OnHighlight func(selection Selection, color annotations.Color)
	OnMention   func(selection Selection, userID string)
	OnRewrite   func(selection Selection)
	OnCopy      func(selection Selection)
}

// ToolbarConfig wires a Toolbar.
type ToolbarConfig struct {
	Presence PresenceSource
	// Roster is the static participant list merged into mention targets.
	Roster  []string
	Intents ToolbarIntents
}

// Toolbar is the floating action surface anchored at a settled
// selection. Every intent except Copy dismisses it, as does an
// outside interaction.
type Toolbar struct {
	presence PresenceSource
	roster   []string
	intents  ToolbarIntents

	mu        sync.Mutex
	open      bool
	selection Selection
}

// NewToolbar constructs a Toolbar.
func NewToolbar(cfg ToolbarConfig) *Toolbar {
	return &Toolbar{
		presence: cfg.Presence,
		roster:   append([]string(nil), cfg.Roster...),
		intents:  cfg.Intents,
	}
}

// Open anchors the toolbar at a selection. Wire this to the selection
// tracker: a nil settled selection should call Dismiss instead.
func (t *Toolbar) Open(selection Selection) {
	t.mu.Lock()
	t.open = true
	t.selection = selection
	t.mu.Unlock()
}

// Dismiss closes the toolbar. Used for outside clicks, collapse, and
// the explicit close affordance.
func (t *Toolbar) Dismiss() {
	t.mu.Lock()
	t.open = false
	t.selection = Selection{}
	t.mu.Unlock()
}

// IsOpen reports whether the toolbar is showing.
func (t *Toolbar) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Anchor returns where the toolbar attaches.
func (t *Toolbar) Anchor() Rect {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selection.Anchor
}

// Highlight emits a highlight intent for the current selection and
// dismisses.
func (t *Toolbar) Highlight(colorName string) error {
	color, err := annotations.NewColor(colorName)
	if err != nil {
		return err
	}
	selection, err := t.take()
	if err != nil {
		return err
	}
	if t.intents.OnHighlight != nil {
		t.intents.OnHighlight(selection, color)
	}
	return nil
}

// Mention emits a mention intent. The target must be mentionable:
// either actively selecting or on the static roster.
func (t *Toolbar) Mention(userID string) error {
	if !t.isMentionable(userID) {
		return errors.New("user is not mentionable")
	}
	selection, err := t.take()
	if err != nil {
		return err
	}
	if t.intents.OnMention != nil {
		t.intents.OnMention(selection, userID)
	}
	return nil
}

// RequestRewrite emits a rewrite intent and dismisses.
func (t *Toolbar) RequestRewrite() error {
	selection, err := t.take()
	if err != nil {
		return err
	}
	if t.intents.OnRewrite != nil {
		t.intents.OnRewrite(selection)
	}
	return nil
}

// Copy emits a copy intent. The toolbar stays open; copy is local-only
// and a user often copies then highlights.
func (t *Toolbar) Copy() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return ErrToolbarClosed
	}
	selection := t.selection
	t.mu.Unlock()

	if t.intents.OnCopy != nil {
		t.intents.OnCopy(selection)
	}
	return nil
}

// Close dismisses without emitting anything else.
func (t *Toolbar) Close() {
	t.Dismiss()
}

// MentionTargets returns the mentionable user ids: live presence union
// static roster, de-duplicated and sorted.
func (t *Toolbar) MentionTargets() []string {
	seen := make(map[string]struct{})
	targets := make([]string, 0, len(t.roster))

	if t.presence != nil {
		for _, userID := range t.presence.ActiveUserIDs() {
			if _, dup := seen[userID]; dup {
				continue
			}
			seen[userID] = struct{}{}
			targets = append(targets, userID)
		}
	}
	for _, userID := range t.roster {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		targets = append(targets, userID)
	}

	sort.Strings(targets)
	return targets
}

func (t *Toolbar) isMentionable(userID string) bool {
	for _, target := range t.MentionTargets() {
		if target == userID {
			return true
		}
	}
	return false
}

// take returns the current selection and dismisses in one step.
func (t *Toolbar) take() (Selection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return Selection{}, ErrToolbarClosed
	}
	selection := t.selection
	t.open = false
	t.selection = Selection{}
	return selection, nil
}
