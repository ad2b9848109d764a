package client

import (
	"github.com/marginlab/margin/internal/annotations"
	"github.com/marginlab/margin/internal/channel"
	"github.com/marginlab/margin/internal/presence"
)

// paletteOrder fixes the grouped list's ordering so renders are stable.
var paletteOrder = []annotations.Color{
	annotations.ColorYellow,
	annotations.ColorGreen,
	annotations.ColorBlue,
	annotations.ColorPink,
	annotations.ColorPurple,
}

// Overlay marks one annotated range on the content surface.
type Overlay struct {
	AnnotationID string
	SectionID    string
	Text         string
	Color        string
}

// ListEntry is one row in the grouped annotation list.
type ListEntry struct {
	AnnotationID  string
	Text          string
	CreatedBy     string
	CreatorName   string
	MentionedUser string
	CreatedAtMS   int64
	// CanRemove gates the remove affordance; only the creator sees it.
	CanRemove bool
}

// ColorGroup is the annotation list bucketed by highlight color.
type ColorGroup struct {
	Color   string
	Entries []ListEntry
}

// Badge is one "<name> is selecting…" presence indicator.
type Badge struct {
	UserID string
	Label  string
}

// ViewModel is everything a rendering surface needs to draw the
// document chrome. It holds no behaviour and no references back into
// the reconciler.
type ViewModel struct {
	Overlays []Overlay
	Groups   []ColorGroup
	Badges   []Badge
	// Degraded surfaces the connectivity indicator after the send retry
	// budget is exhausted.
	Degraded bool
}

// ViewInput is the state a render derives from.
type ViewInput struct {
	LocalUserID string
	Annotations []channel.AnnotationPayload
	Presence    []presence.Entry
	// ResolveName maps a user id to a display name. Nil falls back to
	// raw ids.
	ResolveName func(userID string) string
	Degraded    bool
}

// RenderView is a pure projection of reconciler state into a ViewModel.
// Calling it twice with the same input yields the same output.
func RenderView(input ViewInput) ViewModel {
	resolve := input.ResolveName
	if resolve == nil {
		resolve = func(userID string) string { return userID }
	}

	overlays := make([]Overlay, 0, len(input.Annotations))
	grouped := make(map[string][]ListEntry)
	for _, payload := range input.Annotations {
		overlays = append(overlays, Overlay{
			AnnotationID: payload.ID,
			SectionID:    payload.SectionID,
			Text:         payload.Text,
			Color:        payload.Color,
		})
		grouped[payload.Color] = append(grouped[payload.Color], ListEntry{
			AnnotationID:  payload.ID,
			Text:          payload.Text,
			CreatedBy:     payload.CreatedBy,
			CreatorName:   resolve(payload.CreatedBy),
			MentionedUser: payload.MentionedUser,
			CreatedAtMS:   payload.CreatedAtMS,
			CanRemove:     payload.CreatedBy == input.LocalUserID,
		})
	}

	groups := make([]ColorGroup, 0, len(grouped))
	for _, color := range paletteOrder {
		entries, ok := grouped[string(color)]
		if !ok {
			continue
		}
		groups = append(groups, ColorGroup{Color: string(color), Entries: entries})
	}

	badges := make([]Badge, 0, len(input.Presence))
	for _, entry := range input.Presence {
		if entry.UserID == input.LocalUserID {
			continue
		}
		badges = append(badges, Badge{
			UserID: entry.UserID,
			Label:  resolve(entry.UserID) + " is selecting…",
		})
	}

	return ViewModel{
		Overlays: overlays,
		Groups:   groups,
		Badges:   badges,
		Degraded: input.Degraded,
	}
}
