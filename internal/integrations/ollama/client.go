package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ollama-agent/internal/domain"
	"ollama-agent/internal/retry"
)

const (
	// DefaultBaseURL is the Ollama server address in the reference deployment.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is used when no model is configured.
	DefaultModel = "deepseek-r1:7b"

	generatePath = "/api/generate"

	// RateLimitMarker is the error-message substring that identifies an
	// upstream rate-limit rejection surfaced as plain text.
	RateLimitMarker = "API limit"

	// logTextLimit caps prompt/response text in log records.
	logTextLimit = 500
)

// generateRequest is the request shape for the Ollama generate endpoint.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the minimal response shape returned by the generate
// endpoint.
type generateResponse struct {
	Response string `json:"response"`
}

// ErrMalformedResponse marks a 2xx response whose body could not be decoded.
var ErrMalformedResponse = errors.New("ollama: malformed response")

// StatusError captures non-2xx upstream responses with status-aware context.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// IsRateLimited reports whether err is an upstream rate-limit rejection:
// either an HTTP 429 or an error message carrying RateLimitMarker.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(err.Error(), RateLimitMarker)
}

// Client is a focused client for the Ollama generate endpoint. Generate
// performs a single attempt; GenerateWithRetry layers the rate-limit retry
// schedule on top.
type Client struct {
	baseURL     string
	model       string
	httpClient  *http.Client
	logger      *slog.Logger
	retryPolicy retry.Policy
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = strings.TrimSpace(model)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryPolicy replaces the rate-limit retry schedule used by
// GenerateWithRetry.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.retryPolicy = p
	}
}

// NewClient creates a Client for the given (or default) base URL and model.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		// Only rate-limit rejections are worth waiting out at this layer;
		// everything else returns on first occurrence.
		retryPolicy: retry.Policy{
			MaxAttempts: 5,
			BaseDelay:   1 * time.Second,
			Multiplier:  2.0,
			MaxElapsed:  300 * time.Second,
			Retryable:   IsRateLimited,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		return nil, errors.New("ollama: base URL must not be empty")
	}
	if u, err := url.Parse(c.baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ollama: invalid base URL %q", c.baseURL)
	}
	if c.model == "" {
		return nil, errors.New("ollama: model must not be empty")
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

func generateURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + generatePath
}

// Generate performs one non-streaming generate call and returns the produced
// text. A 2xx response without a "response" field yields an empty string, not
// an error; callers decide whether empty output is acceptable.
//
// cfg.SystemInstruction is logged for traceability but not transmitted: the
// generate payload has no slot for it yet (see DESIGN.md).
func (c *Client) Generate(ctx context.Context, prompt string, cfg *domain.GenerateConfig) (string, error) {
	reqURL := generateURL(c.baseURL)

	c.logger.Info("calling generate endpoint",
		"url", reqURL,
		"model", c.model,
		"prompt", truncate(prompt, logTextLimit),
	)
	if cfg != nil && cfg.SystemInstruction != "" {
		c.logger.Info("system instruction present (not transmitted)",
			"system_instruction", truncate(cfg.SystemInstruction, logTextLimit),
		)
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("ollama: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")

	res, doErr := c.httpClient.Do(req)
	if doErr != nil {
		c.logger.Error("generate request failed", "err", doErr)
		return "", fmt.Errorf("ollama: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	// Strictly 200: the generate endpoint never signals success with any
	// other status, so a stray 201/206 is an upstream fault, not a result.
	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		statusErr := &StatusError{
			StatusCode: res.StatusCode,
			URL:        reqURL,
			Body:       strings.TrimSpace(string(buf)),
		}
		c.logger.Error("generate returned non-success status",
			"status", res.StatusCode,
			"body", truncate(statusErr.Body, logTextLimit),
		)
		return "", statusErr
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ollama: read response body: %w", err)
	}
	var payload generateResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, decErr)
	}

	c.logger.Info("generate succeeded", "response", truncate(payload.Response, logTextLimit))
	return payload.Response, nil
}

// GenerateWithRetry wraps Generate in the client's retry schedule. Only
// rate-limit rejections are retried by default; any other failure propagates
// immediately.
func (c *Client) GenerateWithRetry(ctx context.Context, prompt string, cfg *domain.GenerateConfig) (string, error) {
	var text string
	p := c.retryPolicy
	if p.OnRetry == nil {
		p.OnRetry = func(err error, attempt int, delay time.Duration) {
			c.logger.Warn("rate limited, backing off",
				"attempt", attempt+1,
				"delay", delay,
				"err", err,
			)
		}
	}
	err := p.Do(ctx, func() error {
		out, genErr := c.Generate(ctx, prompt, cfg)
		if genErr != nil {
			return genErr
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// truncate shortens s to at most limit runes, never splitting a multibyte
// character.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
