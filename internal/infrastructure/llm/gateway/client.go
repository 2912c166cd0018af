package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func New(baseURL, apiKey, model string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// completeJSON sends one system+user exchange and returns the assistant
// content, expected to hold a JSON object.
func (c *Client) completeJSON(ctx context.Context, operation, system, user string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.1,
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	content, err := resilience.Call(ctx, c.executor, "llm."+operation, func(ctx context.Context) (string, error) {
		var resp chatResponse
		if err := c.postJSON(ctx, "/v1/chat/completions", req, &resp, operation); err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", domain.WrapError(domain.ErrTemporary, operation, fmt.Errorf("empty choices"))
		}
		return resp.Choices[0].Message.Content, nil
	}, resilience.ClassifyDomain)
	if err != nil {
		return "", resilience.TemporaryIfOpen(operation, err)
	}
	return strings.TrimSpace(content), nil
}

// decodeObject unmarshals the first JSON object found in raw. Models sometimes
// wrap the object in prose or code fences.
func decodeObject(raw string, out any, operation string) error {
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), out); err != nil {
		return domain.WrapError(domain.ErrTemporary, operation, fmt.Errorf("parse model json: %w", err))
	}
	return nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
