// Package report aggregates stored segments into per-category and per-app
// totals.
package report

import (
	"fmt"
	"sort"
	"time"

	"focuslens/internal/activity"
)

type CategoryTotal struct {
	Category   activity.Category `json:"category" yaml:"category"`
	Duration   time.Duration     `json:"-" yaml:"-"`
	Minutes    float64           `json:"minutes" yaml:"minutes"`
	Keystrokes int64             `json:"keystrokes" yaml:"keystrokes"`
	Segments   int               `json:"segments" yaml:"segments"`
}

type AppTotal struct {
	AppName  string        `json:"app_name" yaml:"app_name"`
	Duration time.Duration `json:"-" yaml:"-"`
	Minutes  float64       `json:"minutes" yaml:"minutes"`
}

type Report struct {
	Start      time.Time       `json:"start" yaml:"start"`
	End        time.Time       `json:"end" yaml:"end"`
	Sessions   int             `json:"sessions" yaml:"sessions"`
	Categories []CategoryTotal `json:"categories" yaml:"categories"`
	Apps       []AppTotal      `json:"apps" yaml:"apps"`
}

// Build clips segments to [start, end] and sums them. Parallel segments each
// count toward their own category; app time counts each time range once.
// Categories and apps are sorted by time spent, longest first.
func Build(segments []activity.Segment, start, end time.Time, topApps int) Report {
	byCategory := make(map[activity.Category]*CategoryTotal)
	byApp := make(map[string]time.Duration)
	appRanges := make(map[string]bool)
	sessions := make(map[string]bool)

	for _, seg := range segments {
		d := clipped(seg, start, end)
		if d <= 0 {
			continue
		}
		sessions[seg.SessionID] = true

		ct, ok := byCategory[seg.Category]
		if !ok {
			ct = &CategoryTotal{Category: seg.Category}
			byCategory[seg.Category] = ct
		}
		ct.Duration += d
		ct.Keystrokes += seg.Keystrokes
		ct.Segments++

		rangeKey := seg.SessionID + "|" + seg.AppName + "|" + seg.StartTime.String()
		if !appRanges[rangeKey] {
			appRanges[rangeKey] = true
			byApp[seg.AppName] += d
		}
	}

	r := Report{Start: start, End: end, Sessions: len(sessions)}
	for _, ct := range byCategory {
		ct.Minutes = minutes(ct.Duration)
		r.Categories = append(r.Categories, *ct)
	}
	sort.Slice(r.Categories, func(i, j int) bool {
		if r.Categories[i].Duration != r.Categories[j].Duration {
			return r.Categories[i].Duration > r.Categories[j].Duration
		}
		return r.Categories[i].Category < r.Categories[j].Category
	})

	for app, d := range byApp {
		r.Apps = append(r.Apps, AppTotal{AppName: app, Duration: d, Minutes: minutes(d)})
	}
	sort.Slice(r.Apps, func(i, j int) bool {
		if r.Apps[i].Duration != r.Apps[j].Duration {
			return r.Apps[i].Duration > r.Apps[j].Duration
		}
		return r.Apps[i].AppName < r.Apps[j].AppName
	})
	if topApps > 0 && len(r.Apps) > topApps {
		r.Apps = r.Apps[:topApps]
	}
	return r
}

func clipped(seg activity.Segment, start, end time.Time) time.Duration {
	s, e := seg.StartTime, seg.EndTime
	if s.Before(start) {
		s = start
	}
	if e.After(end) {
		e = end
	}
	return e.Sub(s)
}

func minutes(d time.Duration) float64 {
	return float64(d.Round(time.Second)) / float64(time.Minute)
}

// FormatDuration renders d rounded to the minute, as "1h 5m" or "12m".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
