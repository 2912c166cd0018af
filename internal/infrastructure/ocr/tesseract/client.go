package tesseract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
)

// Client calls a tesseract-server style OCR endpoint: POST /tesseract with a
// multipart "options" JSON part and the image in "file".
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
		logger:     logger,
	}
}

// Session is a recognition context bound to one language. It is opened once
// per document and must be closed exactly once.
type Session struct {
	client   *Client
	language string

	mu     sync.Mutex
	closed bool
	pages  int
}

func (c *Client) Open(_ context.Context, language string) (ports.OCRSession, error) {
	if strings.TrimSpace(language) == "" {
		language = "por"
	}
	return &Session{client: c, language: language}, nil
}

func (s *Session) Recognize(ctx context.Context, image []byte) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("ocr session closed")
	}
	s.pages++
	s.mu.Unlock()

	return resilience.Call(ctx, s.client.executor, "ocr.recognize", func(ctx context.Context) (string, error) {
		return s.client.recognize(ctx, s.language, image)
	}, resilience.ClassifyDomain)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("ocr session already closed")
	}
	s.closed = true
	s.client.logger.Debug("ocr_session_closed", "language", s.language, "pages", s.pages)
	return nil
}

type recognizeOptions struct {
	Languages []string `json:"languages"`
}

type recognizeResponse struct {
	Data struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
	} `json:"data"`
}

func (c *Client) recognize(ctx context.Context, language string, image []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	opts, err := json.Marshal(recognizeOptions{Languages: []string{language}})
	if err != nil {
		return "", fmt.Errorf("marshal ocr options: %w", err)
	}
	if err := writer.WriteField("options", string(opts)); err != nil {
		return "", fmt.Errorf("write ocr options: %w", err)
	}
	part, err := writer.CreateFormFile("file", "page.png")
	if err != nil {
		return "", fmt.Errorf("create ocr file part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("write ocr image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close ocr multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tesseract", &body)
	if err != nil {
		return "", fmt.Errorf("create ocr request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if ctx.Err() == nil && errors.As(err, &netErr) {
			return "", domain.WrapError(domain.ErrTemporary, "ocr recognize", err)
		}
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("ocr status: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", domain.WrapError(domain.ErrTemporary, "ocr recognize", err)
		}
		return "", err
	}

	var out recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "ocr recognize", fmt.Errorf("decode ocr response: %w", err))
	}
	return strings.TrimSpace(out.Data.Stdout), nil
}
