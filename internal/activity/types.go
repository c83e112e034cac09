// Package activity holds the types shared by the detector, classifier, poller
// and storage: observations, snapshots and segments.
package activity

import (
	"sort"
	"strings"
	"time"
)

type Category string

const (
	CategoryCoding   Category = "coding"
	CategoryBrowsing Category = "browsing"
	CategoryMusic    Category = "music"
	CategoryLearning Category = "learning"
	CategoryDesign   Category = "design"
	CategorySocial   Category = "social"
	CategoryGames    Category = "games"
	CategoryOther    Category = "other"
	CategoryIdle     Category = "idle"
)

// AllCategories is the allow-list used when validating categories that come
// from outside the process (probe background field, AI refinement replies).
var AllCategories = []Category{
	CategoryCoding,
	CategoryBrowsing,
	CategoryMusic,
	CategoryLearning,
	CategoryDesign,
	CategorySocial,
	CategoryGames,
	CategoryOther,
	CategoryIdle,
}

// ParseCategory normalizes s and reports whether it names a known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCategories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Pseudo application names synthesized by the engine rather than reported by
// the probe.
const (
	IdleAppName      = "Idle"
	ErrorAppName     = "Tracker Error"
	DetectingAppName = "Detecting…"
)

// WindowObservation is the latest raw sample reported by the probe.
type WindowObservation struct {
	AppName     string
	WindowTitle string
	Keystrokes  int64 // cumulative for the lifetime of the probe process
	IdleMs      int64
	Background  []Category
}

// Classification is the outcome of classifying one (app, title) pair.
// Categories[0] is the primary category; later entries are simultaneous
// secondary categories.
type Classification struct {
	Categories []Category `json:"categories"`
	ContextTag string     `json:"context_tag,omitempty"`
	Confidence float64    `json:"confidence"`
}

// Primary returns the primary category, or CategoryOther for an empty result.
func (c Classification) Primary() Category {
	if len(c.Categories) == 0 {
		return CategoryOther
	}
	return c.Categories[0]
}

// Snapshot is published to listeners on every poll tick.
type Snapshot struct {
	AppName     string     `json:"app_name"`
	WindowTitle string     `json:"window_title"`
	Category    Category   `json:"category"`
	Categories  []Category `json:"categories"`
	ContextTag  string     `json:"context_tag,omitempty"`
	Confidence  float64    `json:"confidence,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	Keystrokes  int64      `json:"keystrokes"` // session-cumulative
	Idle        bool       `json:"idle"`
}

// Segment is one contiguous run of a single category. Simultaneous categories
// produce parallel segments sharing the same time range.
type Segment struct {
	ID          int64     `json:"-" yaml:"-"`
	SessionID   string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	AppName     string    `json:"app_name" yaml:"app_name"`
	WindowTitle string    `json:"window_title" yaml:"window_title"`
	Category    Category  `json:"category" yaml:"category"`
	StartTime   time.Time `json:"start_time" yaml:"start_time"`
	EndTime     time.Time `json:"end_time" yaml:"end_time"`
	Keystrokes  int64     `json:"keystrokes" yaml:"keystrokes"`
}

func (s Segment) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// MergeCategories unions foreground and background categories, dropping idle
// and duplicates. Foreground order is preserved; background extras follow.
func MergeCategories(foreground, background []Category) []Category {
	seen := make(map[Category]bool, len(foreground)+len(background))
	merged := make([]Category, 0, len(foreground)+len(background))
	for _, list := range [][]Category{foreground, background} {
		for _, c := range list {
			if c == "" || c == CategoryIdle || seen[c] {
				continue
			}
			seen[c] = true
			merged = append(merged, c)
		}
	}
	return merged
}

// SortedKey renders a category set as a stable, order-independent string.
func SortedKey(categories []Category) string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Truncate shortens s to at most maxLen runes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
