package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// HTTPStatusError keeps the upstream reply for logs. Its text never reaches
// users; the queue shows domain.UserMessage instead.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("llm %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("llm %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &HTTPStatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
		c.logger.Error("llm_upstream_error",
			"operation", operation,
			"status", resp.StatusCode,
			"body", statusErr.Body,
		)
		return classifyStatus(statusErr)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapError(domain.ErrTemporary, operation, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classifyStatus maps the upstream status to a domain kind: 429 rate limit,
// 402 exhausted credits, timeouts and 5xx temporary.
func classifyStatus(err *HTTPStatusError) error {
	switch {
	case err.StatusCode == http.StatusTooManyRequests:
		return domain.WrapError(domain.ErrRateLimited, err.Operation, err)
	case err.StatusCode == http.StatusPaymentRequired:
		return domain.WrapError(domain.ErrQuotaExceeded, err.Operation, err)
	case err.StatusCode == http.StatusUnauthorized, err.StatusCode == http.StatusForbidden:
		return domain.WrapError(domain.ErrUnauthorized, err.Operation, err)
	case err.StatusCode == http.StatusRequestTimeout, err.StatusCode >= 500:
		return domain.WrapError(domain.ErrTemporary, err.Operation, err)
	default:
		return err
	}
}

// classifyTransportError treats network failures, including the client's own
// timeout, as temporary unless the caller's context ended.
func classifyTransportError(ctx context.Context, operation string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("llm %s request: %w", operation, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("llm %s request: %w", operation, err)
}
