package check

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"
)

// ErrModelUnavailable is returned when no model credentials are configured.
var ErrModelUnavailable = errors.New("reasoning model not configured")

// Model turns a prompt into a text completion.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ModelConfig configures the reasoning model endpoint.
type ModelConfig struct {
	URL       string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// ModelClient calls a Messages-style completion API.
type ModelClient struct {
	cfg    ModelConfig
	client *resty.Client
}

type modelRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	Messages  []modelMessage `json:"messages"`
}

type modelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type modelError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewModelClient builds a client; an empty API key yields a client whose
// calls fail with ErrModelUnavailable without touching the network.
func NewModelClient(cfg ModelConfig) *ModelClient {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("anthropic-version", "2023-06-01")
	if cfg.APIKey != "" {
		client.SetHeader("x-api-key", cfg.APIKey)
	}
	return &ModelClient{cfg: cfg, client: client}
}

// Complete sends prompt as a single user message and returns the first text
// block with any Markdown code fence removed.
func (c *ModelClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.cfg.APIKey == "" {
		return "", ErrModelUnavailable
	}
	var out modelResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(modelRequest{
			Model:     c.cfg.Model,
			MaxTokens: c.cfg.MaxTokens,
			Messages:  []modelMessage{{Role: "user", Content: prompt}},
		}).
		SetResult(&out).
		Post(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	if resp.IsError() {
		var failure modelError
		if json.Unmarshal([]byte(resp.String()), &failure) == nil && failure.Error.Message != "" {
			return "", fmt.Errorf("model returned %d: %s", resp.StatusCode(), failure.Error.Message)
		}
		return "", fmt.Errorf("model returned %d", resp.StatusCode())
	}
	for _, block := range out.Content {
		if block.Type == "text" || block.Type == "" {
			return stripFences(block.Text), nil
		}
	}
	return "", errors.New("model response has no text content")
}

// stripFences removes a surrounding ``` block, with or without a language tag.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return strings.Trim(text, "`")
	}
	body := lines[1:]
	if last := strings.TrimSpace(body[len(body)-1]); strings.HasPrefix(last, "```") {
		body = body[:len(body)-1]
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}
