package refine

import (
	"context"
	"fmt"
	"strings"

	"focuslens/internal/activity"
	"focuslens/internal/llm"
)

const systemPrompt = `You classify what a person is doing on their computer from the foreground application name and window title.
Allowed categories: %s.
Pick exactly one category per item. Confidence is a number between 0 and 1. Reason is one short sentence.`

const batchPrompt = `Classify each item.

%s
Reply with a JSON object of the form {"results":[{"index":0,"category":"coding","confidence":0.9,"reason":"..."}]} containing one entry per item.`

// LLMClassifier implements BatchClassifier with a chat-completion client.
type LLMClassifier struct {
	client llm.Client
	opts   llm.CompletionOptions
}

// NewLLMClassifier wraps client.
func NewLLMClassifier(client llm.Client) *LLMClassifier {
	allowed := make([]string, 0, len(activity.AllCategories))
	for _, c := range activity.AllCategories {
		if c != activity.CategoryIdle {
			allowed = append(allowed, string(c))
		}
	}
	opts := llm.DefaultCompletionOptions()
	opts.SystemPrompt = fmt.Sprintf(systemPrompt, strings.Join(allowed, ", "))
	return &LLMClassifier{client: client, opts: opts}
}

type batchReply struct {
	Results []struct {
		Index      int     `json:"index"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	} `json:"results"`
}

// ClassifyBatch implements BatchClassifier.
func (c *LLMClassifier) ClassifyBatch(ctx context.Context, batch []Request) ([]Result, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	var items strings.Builder
	for i, r := range batch {
		fmt.Fprintf(&items, "%d. app=%q title=%q heuristic=%s\n", i, r.App, activity.Truncate(r.Title, maxKeyTitle), r.CurrentCategory)
	}

	var reply batchReply
	if err := c.client.CompleteJSON(ctx, fmt.Sprintf(batchPrompt, items.String()), c.opts, &reply); err != nil {
		return nil, fmt.Errorf("%s classify: %w", c.client.Backend(), err)
	}

	results := make([]Result, 0, len(reply.Results))
	for _, r := range reply.Results {
		if r.Index < 0 || r.Index >= len(batch) {
			continue
		}
		results = append(results, Result{
			Key:        batch[r.Index].Key,
			Category:   r.Category,
			Confidence: r.Confidence,
			Reason:     r.Reason,
		})
	}
	return results, nil
}
