package classify

import "focuslens/internal/activity"

// browserSignals are independent boolean tests on a lowercased tab title.
type browserSignals struct {
	coding        bool
	design        bool
	docReading    bool
	social        bool
	music         bool
	entertainment bool
	learning      bool
}

func detectBrowserSignals(title string) browserSignals {
	return browserSignals{
		coding:        containsAny(title, codingSiteWords),
		design:        containsAny(title, designSiteWords),
		docReading:    containsAny(title, docReadingWords),
		social:        containsAny(title, socialSiteWords),
		music:         containsAny(title, musicSiteWords),
		entertainment: containsAny(title, entertainmentSiteWords),
		learning:      containsAny(title, learningSiteWords),
	}
}

type browserOutcome struct {
	name       string
	when       func(s browserSignals) bool
	categories []activity.Category
	confidence float64
}

// browserOutcomes is evaluated top to bottom; the first match wins.
var browserOutcomes = []browserOutcome{
	{
		name:       "music+docs",
		when:       func(s browserSignals) bool { return s.music && s.docReading },
		categories: []activity.Category{activity.CategoryMusic, activity.CategoryLearning},
		confidence: 0.85,
	},
	{
		name:       "docs",
		when:       func(s browserSignals) bool { return s.docReading },
		categories: []activity.Category{activity.CategoryLearning},
		confidence: 0.85,
	},
	{
		name:       "code",
		when:       func(s browserSignals) bool { return s.coding },
		categories: []activity.Category{activity.CategoryCoding},
		confidence: 0.9,
	},
	{
		name:       "design",
		when:       func(s browserSignals) bool { return s.design },
		categories: []activity.Category{activity.CategoryDesign},
		confidence: 0.88,
	},
	{
		name:       "music+learning",
		when:       func(s browserSignals) bool { return s.music && s.learning },
		categories: []activity.Category{activity.CategoryMusic, activity.CategoryLearning},
		confidence: 0.8,
	},
	{
		name:       "music",
		when:       func(s browserSignals) bool { return s.music },
		categories: []activity.Category{activity.CategoryMusic},
		confidence: 0.9,
	},
	{
		name:       "learning",
		when:       func(s browserSignals) bool { return s.learning },
		categories: []activity.Category{activity.CategoryLearning},
		confidence: 0.8,
	},
	{
		name:       "social",
		when:       func(s browserSignals) bool { return s.social },
		categories: []activity.Category{activity.CategorySocial},
		confidence: 0.9,
	},
	{
		name:       "entertainment",
		when:       func(s browserSignals) bool { return s.entertainment },
		categories: []activity.Category{activity.CategoryOther},
		confidence: 0.75,
	},
}

var browserDefault = browserOutcome{
	name:       "browsing",
	categories: []activity.Category{activity.CategoryBrowsing},
	confidence: 0.6,
}

// ClassifyBrowserTitle maps a browser tab title to categories.
func ClassifyBrowserTitle(lowerTitle string) activity.Classification {
	signals := detectBrowserSignals(lowerTitle)
	outcome := browserDefault
	for _, o := range browserOutcomes {
		if o.when(signals) {
			outcome = o
			break
		}
	}
	categories := make([]activity.Category, len(outcome.categories))
	copy(categories, outcome.categories)
	return activity.Classification{
		Categories: categories,
		ContextTag: "browser:" + outcome.name,
		Confidence: outcome.confidence,
	}
}
