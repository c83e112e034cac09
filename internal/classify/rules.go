package classify

import "focuslens/internal/activity"

// sentinelTier handles the pseudo applications the engine synthesizes itself.
var sentinelTier = Tier{
	Name: "sentinel",
	Rules: []Rule{
		{Name: "idle", Match: func(in Input) (activity.Classification, bool) {
			return result(1, "afk", activity.CategoryIdle), in.App == activity.IdleAppName
		}},
		{Name: "error", Match: func(in Input) (activity.Classification, bool) {
			return result(1, "error", activity.CategoryOther), in.App == activity.ErrorAppName
		}},
		{Name: "detecting", Match: func(in Input) (activity.Classification, bool) {
			return result(1, "detecting", activity.CategoryOther), in.App == activity.DetectingAppName
		}},
	},
}

var defaultTiers = []Tier{
	{Name: "unknown-process", Rules: []Rule{
		{Name: "title-inference", Match: matchUnknownProcess},
	}},
	{Name: "terminal", Rules: []Rule{
		{Name: "doc-reading", Match: whenTerminal(func(in Input) bool {
			return containsAny(in.lower, terminalDocPhrases) || hasToken(in.lower, terminalDocTokens)
		}, result(0.8, "terminal:docs", activity.CategoryLearning))},
		{Name: "work-command", Match: whenTerminal(func(in Input) bool {
			return hasToken(in.lower, workCommandTokens)
		}, result(0.9, "terminal:work", activity.CategoryCoding))},
		{Name: "generic", Match: whenTerminal(func(Input) bool { return true },
			result(0.75, "terminal", activity.CategoryCoding))},
	}},
	{Name: "ide", Rules: []Rule{
		{Name: "editor-process", Match: whenProcess(ideProcesses, result(0.98, "editor", activity.CategoryCoding))},
	}},
	{Name: "source-file", Rules: []Rule{
		{Name: "extension-in-title", Match: func(in Input) (activity.Classification, bool) {
			return result(0.85, "source-file", activity.CategoryCoding), sourceFileRe.MatchString(in.lower)
		}},
	}},
	{Name: "browser", Rules: []Rule{
		{Name: "browser-context", Match: func(in Input) (activity.Classification, bool) {
			if !browserProcesses[in.process] {
				return activity.Classification{}, false
			}
			return ClassifyBrowserTitle(in.lower), true
		}},
	}},
	{Name: "native-app", Rules: []Rule{
		{Name: "design-process", Match: whenProcess(designProcesses, result(0.95, "app:design", activity.CategoryDesign))},
		{Name: "music-process", Match: whenProcess(musicProcesses, result(0.95, "app:music", activity.CategoryMusic))},
		{Name: "social-process", Match: whenProcess(socialProcesses, result(0.95, "app:social", activity.CategorySocial))},
		{Name: "game-process", Match: whenProcess(gameProcesses, result(0.95, "app:games", activity.CategoryGames))},
		{Name: "reader-process", Match: whenProcess(readerProcesses, result(0.9, "app:reader", activity.CategoryLearning))},
		{Name: "design-title", Match: whenTitle(designTitleWords, result(0.85, "title:design", activity.CategoryDesign))},
		{Name: "music-title", Match: whenTitle(musicTitleWords, result(0.85, "title:music", activity.CategoryMusic))},
		{Name: "social-title", Match: whenTitle(socialTitleWords, result(0.85, "title:social", activity.CategorySocial))},
		{Name: "game-title", Match: whenTitle(gameTitleWords, result(0.85, "title:games", activity.CategoryGames))},
	}},
	{Name: "loose-browser", Rules: []Rule{
		{Name: "browser-hint", Match: func(in Input) (activity.Classification, bool) {
			ok := containsAny(in.process, looseBrowserNameParts) || containsAny(in.lower, looseBrowserTitleParts)
			return result(0.45, "browser:loose", activity.CategoryBrowsing), ok
		}},
	}},
}

// matchUnknownProcess infers a category from the title alone when the probe
// could not name the process.
func matchUnknownProcess(in Input) (activity.Classification, bool) {
	if !unknownProcesses[in.process] {
		return activity.Classification{}, false
	}
	title := in.lower
	switch {
	case sourceFileRe.MatchString(title) || containsAny(title, codingSiteWords):
		return result(0.6, "inferred:coding", activity.CategoryCoding), true
	case containsAny(title, looseBrowserTitleParts):
		return result(0.6, "inferred:browsing", activity.CategoryBrowsing), true
	case containsAny(title, musicSiteWords) || containsAny(title, musicTitleWords):
		return result(0.6, "inferred:music", activity.CategoryMusic), true
	case containsAny(title, learningSiteWords) || containsAny(title, docReadingWords):
		return result(0.6, "inferred:learning", activity.CategoryLearning), true
	case containsAny(title, designSiteWords) || containsAny(title, designTitleWords):
		return result(0.6, "inferred:design", activity.CategoryDesign), true
	case containsAny(title, socialSiteWords):
		return result(0.6, "inferred:social", activity.CategorySocial), true
	case containsAny(title, gameTitleWords) || containsAny(title, gameTitleGenericWords):
		return result(0.6, "inferred:games", activity.CategoryGames), true
	}
	return result(0.4, "unknown", activity.CategoryOther), true
}

func whenProcess(set nameSet, r activity.Classification) func(Input) (activity.Classification, bool) {
	return func(in Input) (activity.Classification, bool) {
		if !set[in.process] {
			return activity.Classification{}, false
		}
		return clone(r), true
	}
}

func whenTitle(words []string, r activity.Classification) func(Input) (activity.Classification, bool) {
	return func(in Input) (activity.Classification, bool) {
		if in.lower == "" || !containsAny(in.lower, words) {
			return activity.Classification{}, false
		}
		return clone(r), true
	}
}

func whenTerminal(pred func(Input) bool, r activity.Classification) func(Input) (activity.Classification, bool) {
	return func(in Input) (activity.Classification, bool) {
		if !terminalProcesses[in.process] || !pred(in) {
			return activity.Classification{}, false
		}
		return clone(r), true
	}
}

// clone copies the category slice so callers cannot mutate the rule table.
func clone(c activity.Classification) activity.Classification {
	c.Categories = append([]activity.Category(nil), c.Categories...)
	return c
}
