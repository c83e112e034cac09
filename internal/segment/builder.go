// Package segment turns the per-tick activity stream into time-bounded
// segments, one per category.
package segment

import (
	"time"

	"focuslens/internal/activity"
)

type openSegment struct {
	key        string
	app        string
	title      string
	categories []activity.Category
	start      time.Time
	end        time.Time
	keystrokes int64
}

// Builder keeps at most one open segment. Not safe for concurrent use; the
// engine calls it under its own lock.
type Builder struct {
	sessionID string
	open      *openSegment
	closed    []activity.Segment
}

// New creates a builder that stamps emitted segments with sessionID.
func New(sessionID string) *Builder {
	return &Builder{sessionID: sessionID}
}

// Key identifies a segment: the app plus its order-independent category set.
func Key(app string, categories []activity.Category) string {
	return app + "|" + activity.SortedKey(categories)
}

// Observe feeds one tick. Foreground and background categories are merged
// with idle dropped. When the merged key differs from the open segment's, the
// open segment is closed and a new one opened. An idle foreground or an empty
// merged set only closes.
// keystrokeDelta is credited to the segment that was open during the elapsed
// interval. Observe returns the segments closed by this tick.
func (b *Builder) Observe(at time.Time, app, title string, foreground, background []activity.Category, keystrokeDelta int64) []activity.Segment {
	var merged []activity.Category
	if !isIdle(foreground) {
		merged = activity.MergeCategories(foreground, background)
	}
	if keystrokeDelta < 0 {
		keystrokeDelta = 0
	}

	if len(merged) == 0 {
		if b.open != nil {
			b.open.keystrokes += keystrokeDelta
		}
		return b.Close(at)
	}

	key := Key(app, merged)
	if b.open != nil && b.open.key == key {
		if at.After(b.open.end) {
			b.open.end = at
		}
		b.open.keystrokes += keystrokeDelta
		return nil
	}

	var emitted []activity.Segment
	if b.open != nil {
		b.open.keystrokes += keystrokeDelta
		emitted = b.Close(at)
	}
	b.open = &openSegment{
		key:        key,
		app:        app,
		title:      title,
		categories: merged,
		start:      at,
		end:        at,
	}
	return emitted
}

func isIdle(categories []activity.Category) bool {
	for _, c := range categories {
		if c == activity.CategoryIdle {
			return true
		}
	}
	return false
}

// Close ends the open segment at the given time, if any, and returns the
// per-category segments it produced.
func (b *Builder) Close(at time.Time) []activity.Segment {
	if b.open == nil {
		return nil
	}
	o := b.open
	b.open = nil

	end := o.end
	if at.After(end) {
		end = at
	}
	out := make([]activity.Segment, 0, len(o.categories))
	for _, c := range o.categories {
		out = append(out, activity.Segment{
			SessionID:   b.sessionID,
			AppName:     o.app,
			WindowTitle: o.title,
			Category:    c,
			StartTime:   o.start,
			EndTime:     end,
			Keystrokes:  o.keystrokes,
		})
	}
	b.closed = append(b.closed, out...)
	return out
}

// Stop flushes the open segment and returns every segment emitted since the
// builder was created or last stopped, then clears its state.
func (b *Builder) Stop(at time.Time) []activity.Segment {
	b.Close(at)
	out := b.closed
	b.closed = nil
	return out
}

// Segments returns a copy of the segments closed so far.
func (b *Builder) Segments() []activity.Segment {
	return append([]activity.Segment(nil), b.closed...)
}

// Current describes the open segment.
type Current struct {
	AppName    string
	Title      string
	Categories []activity.Category
	Start      time.Time
	Keystrokes int64
}

// Open returns the open segment, if any.
func (b *Builder) Open() (Current, bool) {
	if b.open == nil {
		return Current{}, false
	}
	return Current{
		AppName:    b.open.app,
		Title:      b.open.title,
		Categories: append([]activity.Category(nil), b.open.categories...),
		Start:      b.open.start,
		Keystrokes: b.open.keystrokes,
	}, true
}
