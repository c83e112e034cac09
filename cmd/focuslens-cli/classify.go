package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"focuslens/internal/classify"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <app> [title]",
	Short: "Classify a window offline with the heuristic rules and configured custom rules",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		explain, _ := cmd.Flags().GetBool("explain")

		rules, err := settings().ClassifierRules()
		if err != nil {
			log.Fatalf("Error: invalid classify.rules: %v", err)
		}
		title := ""
		if len(args) == 2 {
			title = args[1]
		}

		m := classify.New(rules...).Explain(args[0], title)
		fmt.Print(formatMatch(m, explain))
	},
}

func formatMatch(m classify.Match, explain bool) string {
	var b strings.Builder
	names := make([]string, len(m.Result.Categories))
	for i, c := range m.Result.Categories {
		names[i] = string(c)
	}
	fmt.Fprintf(&b, "category:   %s\n", m.Result.Primary())
	fmt.Fprintf(&b, "categories: %s\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "confidence: %.2f\n", m.Result.Confidence)
	if m.Result.ContextTag != "" {
		fmt.Fprintf(&b, "context:    %s\n", m.Result.ContextTag)
	}
	if explain {
		fmt.Fprintf(&b, "rule:       %s/%s\n", m.Tier, m.Rule)
	}
	return b.String()
}
