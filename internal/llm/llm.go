// Package llm talks to hosted chat-completion APIs for the refinement
// pipeline.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no backend or API key is available.
var ErrNotConfigured = errors.New("llm: backend not configured")

// ErrUnsupportedBackend is returned for an unknown backend name.
var ErrUnsupportedBackend = errors.New("llm: unsupported backend")

const defaultTimeout = 30 * time.Second

// Client generates completions.
type Client interface {
	// Complete returns the raw text completion for prompt.
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)

	// CompleteJSON completes prompt and decodes the JSON found in the reply into result.
	CompleteJSON(ctx context.Context, prompt string, opts CompletionOptions, result any) error

	Model() string
	Backend() string
}

// CompletionOptions configures one completion.
type CompletionOptions struct {
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	JSONMode     bool
}

// DefaultCompletionOptions suits short classification replies.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		MaxTokens:   1024,
		Temperature: 0,
	}
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "openai", "anthropic", or "" / "disabled".
	Backend string
	Model   string
	// BaseURL overrides the API root, e.g. for a proxy.
	BaseURL string
	// APIKey falls back to OPENAI_API_KEY / ANTHROPIC_API_KEY.
	APIKey  string
	Timeout time.Duration
}

// Option configures an HTTP-backed client.
type Option func(*httpClient)

// WithBaseURL points the client at a different API root.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// httpClient holds what every backend needs to make a request.
type httpClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

func newHTTPClient(apiKey, model, baseURL string, opts []Option) httpClient {
	c := &httpClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return *c
}

// NewClient builds the client cfg describes.
func NewClient(cfg Config) (Client, error) {
	opts := []Option{WithBaseURL(cfg.BaseURL), WithTimeout(cfg.Timeout)}

	switch strings.ToLower(cfg.Backend) {
	case "", "disabled", "none":
		return nil, ErrNotConfigured

	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("%w: OpenAI API key required (set llm.api_key or OPENAI_API_KEY)", ErrNotConfigured)
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAIClient(key, model, opts...), nil

	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("%w: Anthropic API key required (set llm.api_key or ANTHROPIC_API_KEY)", ErrNotConfigured)
		}
		model := cfg.Model
		if model == "" {
			model = "claude-3-5-haiku-latest"
		}
		return NewAnthropicClient(key, model, opts...), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Backend)
	}
}

// extractJSON pulls the JSON value out of a reply that may wrap it in a
// markdown fence or surrounding prose.
func extractJSON(response string) string {
	start := findJSONStart(response)
	if start < 0 {
		return response
	}
	return response[start:findJSONEnd(response, start)]
}

func findJSONStart(s string) int {
	for _, fence := range []string{"```json\n", "```json\r\n", "```\n", "```\r\n"} {
		if idx := strings.Index(s, fence); idx >= 0 {
			rest := s[idx+len(fence):]
			if i := strings.IndexAny(rest, "{["); i >= 0 {
				return idx + len(fence) + i
			}
		}
	}
	return strings.IndexAny(s, "{[")
}

// findJSONEnd returns the index just past the value that opens at start. An
// unterminated value runs to the end of s.
func findJSONEnd(s string, start int) int {
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(s)
}

func parseJSONResponse(response string, result any) error {
	if err := json.Unmarshal([]byte(extractJSON(response)), result); err != nil {
		return fmt.Errorf("parse JSON response: %w (raw: %s)", err, truncate(response, 200))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
