package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

// AnthropicClient implements Client over the Messages API.
type AnthropicClient struct {
	httpClient
}

// NewAnthropicClient creates an Anthropic client.
func NewAnthropicClient(apiKey, model string, opts ...Option) *AnthropicClient {
	return &AnthropicClient{httpClient: newHTTPClient(apiKey, model, anthropicBaseURL, opts)}
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Error      *apiError      `json:"error,omitempty"`
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	reqBody := anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      opts.SystemPrompt,
		Temperature: opts.Temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out anthropicResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("parse response (status %d): %w (body: %s)", resp.StatusCode, err, truncate(string(body), 200))
	}
	if out.Error != nil {
		return "", fmt.Errorf("anthropic error: %s (%s)", out.Error.Message, out.Error.Type)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic error: status %d", resp.StatusCode)
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic returned no content")
	}
	return sb.String(), nil
}

// CompleteJSON implements Client. The Messages API has no JSON mode, so the
// prompt asks for it.
func (c *AnthropicClient) CompleteJSON(ctx context.Context, prompt string, opts CompletionOptions, result any) error {
	response, err := c.Complete(ctx, prompt+"\n\nRespond with valid JSON only, no additional text or markdown.", opts)
	if err != nil {
		return err
	}
	return parseJSONResponse(response, result)
}

// Model returns the model identifier.
func (c *AnthropicClient) Model() string { return c.model }

// Backend returns "anthropic".
func (c *AnthropicClient) Backend() string { return "anthropic" }
