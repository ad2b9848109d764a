package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marginlab/margin/internal/annotations"
	"github.com/marginlab/margin/internal/channel"
	"github.com/marginlab/margin/internal/presence"
	"go.uber.org/zap"
)

// Sender is the outbound half of the channel as the reconciler sees it.
type Sender interface {
	Send(event channel.Event) error
}

// SectionContent is the last-writer-wins state for one section.
type SectionContent struct {
	Content     string
	AuthorID    string
	TimestampMS int64
}

// ReconcilerConfig wires a Reconciler.
type ReconcilerConfig struct {
	DocumentID string
	// UserID is the local user; their own presence and content echoes
	// are never applied.
	UserID string
	// ClientID is compared against inbound Origin tags for self-echo
	// suppression of annotation events.
	ClientID    string
	Sender      Sender
	PresenceTTL time.Duration
	// PresenceSweepInterval paces the background sweeper started by
	// StartPresenceSweeper.
	PresenceSweepInterval time.Duration
	// IDProvider mints annotation ids for locally created annotations.
	// Defaults to UUIDv7, which keeps ids globally unique without any
	// coordination with the server.
	IDProvider annotations.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
	// OnContentApplied hands newly authoritative section content to the
	// editable surface.
	OnContentApplied func(sectionID, content string)
}

// Reconciler is the only place annotation state is mutated. It merges
// locally created annotations with channel arrivals into one
// de-duplicated, id-keyed collection, tracks remote presence with
// expiry, and applies last-writer-wins content changes.
type Reconciler struct {
	documentID string
	userID     string
	clientID   string
	sender     Sender
	idProvider annotations.IDProvider
	clock      func() time.Time
	logger     *zap.Logger

	mu      sync.Mutex
	local   map[string]channel.AnnotationPayload
	remote  map[string]channel.AnnotationPayload
	content map[string]SectionContent

	presenceTracker  *presence.Tracker
	onContentApplied func(sectionID, content string)
}

// NewReconciler constructs a Reconciler with defaults applied.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = annotations.NewUUIDProvider()
	}
	return &Reconciler{
		documentID: cfg.DocumentID,
		userID:     cfg.UserID,
		clientID:   cfg.ClientID,
		sender:     cfg.Sender,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
		local:      make(map[string]channel.AnnotationPayload),
		remote:     make(map[string]channel.AnnotationPayload),
		content:    make(map[string]SectionContent),
		presenceTracker: presence.NewTracker(presence.TrackerConfig{
			TTL:           cfg.PresenceTTL,
			SweepInterval: cfg.PresenceSweepInterval,
			Clock:         clock,
			Logger:        logger,
		}),
		onContentApplied: cfg.OnContentApplied,
	}
}

// AddAnnotation applies a locally created annotation optimistically and
// broadcasts it. The merged view contains the annotation before any
// acknowledgment arrives.
func (r *Reconciler) AddAnnotation(payload channel.AnnotationPayload) (channel.AnnotationPayload, error) {
	payload.Op = channel.AnnotationOpAdd
	if payload.ID == "" {
		minted, err := r.idProvider.NewID()
		if err != nil {
			return channel.AnnotationPayload{}, err
		}
		payload.ID = minted
	}
	if payload.CreatedBy == "" {
		payload.CreatedBy = r.userID
	}
	if payload.CreatedAtMS == 0 {
		payload.CreatedAtMS = r.clock().UnixMilli()
	}

	r.mu.Lock()
	r.local[payload.ID] = payload
	r.mu.Unlock()

	r.broadcast(channel.Event{
		Kind:       channel.KindAnnotation,
		DocumentID: r.documentID,
		Annotation: &payload,
	})
	return payload, nil
}

// RemoveAnnotation deletes the id from whichever map holds it and
// broadcasts a removal. Removing an absent id is a no-op with no
// broadcast, so a double remove has no side effect beyond the first.
func (r *Reconciler) RemoveAnnotation(annotationID string) {
	r.mu.Lock()
	_, inLocal := r.local[annotationID]
	_, inRemote := r.remote[annotationID]
	delete(r.local, annotationID)
	delete(r.remote, annotationID)
	r.mu.Unlock()

	if !inLocal && !inRemote {
		return
	}

	r.broadcast(channel.Event{
		Kind:       channel.KindAnnotation,
		DocumentID: r.documentID,
		Annotation: &channel.AnnotationPayload{
			Op: channel.AnnotationOpRemove,
			ID: annotationID,
		},
	})
}

// Annotations returns the merged view: local union remote, local
// winning on id collision, ordered newest first.
func (r *Reconciler) Annotations() []channel.AnnotationPayload {
	r.mu.Lock()
	merged := make(map[string]channel.AnnotationPayload, len(r.local)+len(r.remote))
	for id, payload := range r.remote {
		merged[id] = payload
	}
	for id, payload := range r.local {
		merged[id] = payload
	}
	r.mu.Unlock()

	view := make([]channel.AnnotationPayload, 0, len(merged))
	for _, payload := range merged {
		view = append(view, payload)
	}
	sort.Slice(view, func(i, j int) bool {
		if view[i].CreatedAtMS != view[j].CreatedAtMS {
			return view[i].CreatedAtMS > view[j].CreatedAtMS
		}
		return view[i].ID < view[j].ID
	})
	return view
}

// PendingLocal returns locally created annotations, the entries that
// survive a resync even when the snapshot does not know them yet.
func (r *Reconciler) PendingLocal() []channel.AnnotationPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := make([]channel.AnnotationPayload, 0, len(r.local))
	for _, payload := range r.local {
		pending = append(pending, payload)
	}
	return pending
}

// ApplySnapshot replaces the remote set with a fresh persistence
// snapshot. Local entries are kept; a local id confirmed by the
// snapshot moves to the remote set since persistence now owns it.
func (r *Reconciler) ApplySnapshot(snapshot []channel.AnnotationPayload) {
	r.mu.Lock()
	r.remote = make(map[string]channel.AnnotationPayload, len(snapshot))
	for _, payload := range snapshot {
		payload.Op = channel.AnnotationOpAdd
		r.remote[payload.ID] = payload
		delete(r.local, payload.ID)
	}
	r.mu.Unlock()
}

// ApplyEvent feeds one inbound channel event through the reconciliation
// rules. Events originating from this client are suppressed.
func (r *Reconciler) ApplyEvent(event channel.Event) {
	switch event.Kind {
	case channel.KindPresence:
		r.applyPresence(event)
	case channel.KindAnnotation:
		r.applyAnnotation(event)
	case channel.KindContent:
		r.applyContent(event)
	}
}

func (r *Reconciler) applyPresence(event channel.Event) {
	payload := event.Presence
	if payload == nil || payload.UserID == r.userID {
		return
	}
	r.presenceTracker.Upsert(payload.UserID, payload.Text, payload.TimestampMS)
}

func (r *Reconciler) applyAnnotation(event channel.Event) {
	payload := event.Annotation
	if payload == nil {
		return
	}

	switch payload.Op {
	case channel.AnnotationOpAdd:
		if event.Origin == r.clientID {
			return
		}
		r.mu.Lock()
		// A local entry is authoritative for its own creation; never let
		// an echo overwrite it.
		if _, exists := r.local[payload.ID]; !exists {
			r.remote[payload.ID] = *payload
		}
		r.mu.Unlock()
	case channel.AnnotationOpRemove:
		r.mu.Lock()
		delete(r.local, payload.ID)
		delete(r.remote, payload.ID)
		r.mu.Unlock()
	}
}

func (r *Reconciler) applyContent(event channel.Event) {
	payload := event.Content
	if payload == nil || payload.AuthorID == r.userID {
		return
	}

	r.mu.Lock()
	last, known := r.content[payload.SectionID]
	if known && payload.TimestampMS <= last.TimestampMS {
		r.mu.Unlock()
		return
	}
	r.content[payload.SectionID] = SectionContent{
		Content:     payload.Content,
		AuthorID:    payload.AuthorID,
		TimestampMS: payload.TimestampMS,
	}
	r.mu.Unlock()

	if r.onContentApplied != nil {
		r.onContentApplied(payload.SectionID, payload.Content)
	}
}

// ContentFor returns the authoritative content for a section, if any
// remote change was applied.
func (r *Reconciler) ContentFor(sectionID string) (SectionContent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.content[sectionID]
	return state, ok
}

// ActivePresence returns unexpired remote selections, local user
// excluded.
func (r *Reconciler) ActivePresence() []presence.Entry {
	return r.presenceTracker.Active(r.userID)
}

// ActiveUserIDs lists users with an unexpired selection, local user
// excluded. Satisfies the toolbar's PresenceSource.
func (r *Reconciler) ActiveUserIDs() []string {
	entries := r.presenceTracker.Active(r.userID)
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.UserID)
	}
	return ids
}

// SweepPresence drops expired presence entries immediately. The tracker
// also hides expired entries from reads, so calling this is optional.
func (r *Reconciler) SweepPresence() int {
	return r.presenceTracker.Sweep()
}

// StartPresenceSweeper reclaims expired presence entries in the
// background until ctx is done. Reads already hide expired entries, so
// the sweeper only bounds memory held for departed users.
func (r *Reconciler) StartPresenceSweeper(ctx context.Context) {
	r.presenceTracker.StartSweeper(ctx)
}

func (r *Reconciler) broadcast(event channel.Event) {
	if r.sender == nil {
		return
	}
	if err := r.sender.Send(event); err != nil {
		// Optimistic state already applied; a failed broadcast never
		// rolls back the local mutation.
		r.logger.Warn("broadcast failed",
			zap.String("document_id", r.documentID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}
