package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"ollama-agent/internal/domain"
	"ollama-agent/internal/integrations/ollama"
	"ollama-agent/internal/retry"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second

	// rateLimitMarker mirrors the upstream convention of reporting limit
	// rejections as plain message text rather than a dedicated status.
	rateLimitMarker = "API limit"
)

// LLMClient performs a single generation attempt against the backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, cfg *domain.GenerateConfig) (string, error)
}

// httpStatusCoder matches errors that carry an upstream HTTP status,
// regardless of which client produced them.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// errEmptyResult marks a successful call whose text was empty; it is retried
// with the same schedule as a failed attempt.
var errEmptyResult = errors.New("usecase: empty completion")

// CompletionResult is the adapter's explicit outcome: either Text on success
// or a typed Err after retries are exhausted. Complete never returns a bare
// Go error; callers that only care about success can check OK and treat every
// failure kind uniformly.
type CompletionResult struct {
	Text     string
	Attempts int
	Err      *Error
}

func (r CompletionResult) OK() bool {
	return r.Err == nil
}

// CompletionService adapts role-tagged conversations into single-prompt
// generation calls, with bounded exponential retries around each completion.
type CompletionService struct {
	llm    LLMClient
	policy retry.Policy
	logger *slog.Logger
}

type Option func(*CompletionService)

// WithRetryPolicy replaces the default schedule (3 attempts, 1s base delay,
// doubling). The policy's Retryable predicate is ignored: the adapter retries
// every failure kind, empty completions included.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *CompletionService) {
		s.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *CompletionService) {
		s.logger = logger
	}
}

func NewCompletionService(llm LLMClient, opts ...Option) (*CompletionService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	s := &CompletionService{
		llm: llm,
		policy: retry.Policy{
			MaxAttempts: defaultMaxAttempts,
			BaseDelay:   defaultBaseDelay,
			Multiplier:  2.0,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s, nil
}

// Complete flattens messages into a prompt, invokes the backend, and retries
// on any failure or empty completion until the schedule is exhausted. The
// returned result is the sole failure signal; nothing propagates as an error.
func (s *CompletionService) Complete(ctx context.Context, messages []domain.ChatMessage) CompletionResult {
	id := newUUID()
	prompt, cfg := buildGenerationRequest(messages)

	s.logger.Info("starting completion",
		"completion_id", id,
		"messages", len(messages),
	)

	attempts := 0
	var text string

	p := s.policy
	p.Retryable = nil // every failure kind is retried uniformly
	callerHook := p.OnRetry
	p.OnRetry = func(err error, attempt int, delay time.Duration) {
		code, _ := classify(err)
		s.logger.Warn("completion attempt failed, retrying",
			"completion_id", id,
			"attempt", attempt+1,
			"delay", delay,
			"kind", code,
			"err", err,
		)
		if callerHook != nil {
			callerHook(err, attempt, delay)
		}
	}

	err := p.Do(ctx, func() error {
		attempts++
		out, genErr := s.llm.Generate(ctx, prompt, cfg)
		if genErr != nil {
			return genErr
		}
		if out == "" {
			return errEmptyResult
		}
		text = out
		return nil
	})
	if err != nil {
		code, reason := classify(err)
		s.logger.Error("completion failed",
			"completion_id", id,
			"attempts", attempts,
			"kind", code,
			"err", err,
		)
		return CompletionResult{Attempts: attempts, Err: newError(code, reason, err)}
	}

	s.logger.Info("completion succeeded",
		"completion_id", id,
		"attempts", attempts,
	)
	return CompletionResult{Text: text, Attempts: attempts}
}

func classify(err error) (ErrorCode, string) {
	switch {
	case errors.Is(err, errEmptyResult):
		return ErrorEmptyResult, "empty_completion"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCanceled, "context_done"
	}
	if status, ok := upstreamStatusCode(err); ok {
		if status == http.StatusTooManyRequests {
			return ErrorRateLimited, "upstream_rate_limited"
		}
		return ErrorProtocol, "upstream_status"
	}
	if strings.Contains(err.Error(), rateLimitMarker) {
		return ErrorRateLimited, "rate_limit_marker"
	}
	if errors.Is(err, ollama.ErrMalformedResponse) {
		return ErrorProtocol, "malformed_response"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorTransport, "request_failed"
	}
	return ErrorProtocol, "unclassified"
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
