package classify

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"focuslens/internal/activity"
)

// RuleSpec is a user-defined rule as it appears in the config file. App and
// Title are glob patterns matched against the normalized process name and the
// lowercased title; an empty pattern matches anything.
type RuleSpec struct {
	Name       string   `mapstructure:"name"`
	App        string   `mapstructure:"app"`
	Title      string   `mapstructure:"title"`
	Categories []string `mapstructure:"categories"`
	Confidence float64  `mapstructure:"confidence"`
}

// CompileRule validates rs and compiles its patterns.
func CompileRule(rs RuleSpec) (Rule, error) {
	if rs.App == "" && rs.Title == "" {
		return Rule{}, fmt.Errorf("rule %q: app or title pattern required", rs.Name)
	}

	var appGlob, titleGlob glob.Glob
	var err error
	if rs.App != "" {
		if appGlob, err = glob.Compile(strings.ToLower(rs.App)); err != nil {
			return Rule{}, fmt.Errorf("rule %q: bad app pattern: %w", rs.Name, err)
		}
	}
	if rs.Title != "" {
		if titleGlob, err = glob.Compile(strings.ToLower(rs.Title)); err != nil {
			return Rule{}, fmt.Errorf("rule %q: bad title pattern: %w", rs.Name, err)
		}
	}

	if len(rs.Categories) == 0 {
		return Rule{}, fmt.Errorf("rule %q: at least one category required", rs.Name)
	}
	categories := make([]activity.Category, 0, len(rs.Categories))
	for _, name := range rs.Categories {
		c, ok := activity.ParseCategory(name)
		if !ok {
			return Rule{}, fmt.Errorf("rule %q: unknown category %q", rs.Name, name)
		}
		categories = append(categories, c)
	}

	confidence := rs.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.9
	}
	name := rs.Name
	if name == "" {
		name = rs.App + "|" + rs.Title
	}
	r := result(confidence, "custom:"+name, categories...)

	return Rule{
		Name: name,
		Match: func(in Input) (activity.Classification, bool) {
			if appGlob != nil && !appGlob.Match(in.process) {
				return activity.Classification{}, false
			}
			if titleGlob != nil && !titleGlob.Match(in.lower) {
				return activity.Classification{}, false
			}
			return clone(r), true
		},
	}, nil
}

// CompileRules compiles every rule, stopping at the first error.
func CompileRules(in []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(in))
	for _, rs := range in {
		r, err := CompileRule(rs)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}
