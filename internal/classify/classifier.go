// Package classify assigns activity categories to an (application, window
// title) pair using an ordered table of deterministic rules.
package classify

import (
	"path/filepath"
	"strings"

	"focuslens/internal/activity"
)

// Input is one (app, title) pair, raw and normalized.
type Input struct {
	App   string
	Title string

	process string // lowercased base process name without ".exe"
	lower   string // lowercased title
}

func newInput(app, title string) Input {
	return Input{
		App:     app,
		Title:   title,
		process: NormalizeProcess(app),
		lower:   strings.ToLower(strings.TrimSpace(title)),
	}
}

// Process returns the normalized process name.
func (in Input) Process() string { return in.process }

// LowerTitle returns the lowercased, trimmed title.
func (in Input) LowerTitle() string { return in.lower }

// NormalizeProcess lowercases a process name and strips any directory and
// ".exe" suffix.
func NormalizeProcess(app string) string {
	p := strings.TrimSpace(app)
	if strings.ContainsAny(p, `/\`) {
		p = filepath.Base(strings.ReplaceAll(p, `\`, "/"))
	}
	p = strings.ToLower(p)
	return strings.TrimSuffix(p, ".exe")
}

// Rule is one entry of a tier. Match returns the classification and true when
// the rule applies.
type Rule struct {
	Name  string
	Match func(in Input) (activity.Classification, bool)
}

// Tier is an ordered group of rules. The first matching rule of the first
// tier with any match decides the result.
type Tier struct {
	Name  string
	Rules []Rule
}

// Match describes which rule produced a classification.
type Match struct {
	Tier   string
	Rule   string
	Result activity.Classification
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	tiers []Tier
}

// New builds a classifier from the default tiers. Custom rules, if any, are
// evaluated before everything else.
func New(custom ...Rule) *Classifier {
	tiers := make([]Tier, 0, len(defaultTiers)+2)
	tiers = append(tiers, sentinelTier)
	if len(custom) > 0 {
		tiers = append(tiers, Tier{Name: "custom", Rules: custom})
	}
	tiers = append(tiers, defaultTiers...)
	return &Classifier{tiers: tiers}
}

// Classify returns the heuristic classification for (app, title). It never
// consults any cache and always returns the same result for the same input.
func (c *Classifier) Classify(app, title string) activity.Classification {
	return c.Explain(app, title).Result
}

// Explain is Classify plus the tier and rule that matched.
func (c *Classifier) Explain(app, title string) Match {
	in := newInput(app, title)
	for _, tier := range c.tiers {
		for _, rule := range tier.Rules {
			if result, ok := rule.Match(in); ok {
				return Match{Tier: tier.Name, Rule: rule.Name, Result: result}
			}
		}
	}
	return Match{Tier: "default", Rule: "other", Result: result(0.5, "", activity.CategoryOther)}
}

// Tiers returns the tier names in evaluation order.
func (c *Classifier) Tiers() []string {
	out := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		out[i] = t.Name
	}
	return out
}

// IsBrowser reports whether app is a known browser process.
func IsBrowser(app string) bool {
	return browserProcesses[NormalizeProcess(app)]
}

// IsTerminal reports whether app is a known terminal or shell process.
func IsTerminal(app string) bool {
	return terminalProcesses[NormalizeProcess(app)]
}

func result(confidence float64, tag string, categories ...activity.Category) activity.Classification {
	return activity.Classification{
		Categories: categories,
		ContextTag: tag,
		Confidence: confidence,
	}
}
