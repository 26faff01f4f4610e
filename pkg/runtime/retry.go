package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrorCode is the typed diagnosis of a failure raised while talking to the
// model service.
type ErrorCode string

const (
	ErrCodeRateLimit        ErrorCode = "rate_limit"
	ErrCodeOverloaded       ErrorCode = "overloaded"
	ErrCodeContextOverflow  ErrorCode = "context_overflow"
	ErrCodeInvalidRequest   ErrorCode = "invalid_request"
	ErrCodeAuthentication   ErrorCode = "authentication"
	ErrCodePermissionDenied ErrorCode = "permission_denied"
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeServerError      ErrorCode = "server_error"
	ErrCodeTimeout          ErrorCode = "timeout"
	ErrCodeNetwork          ErrorCode = "network"
	ErrCodeBudgetExceeded   ErrorCode = "budget_exceeded"
	ErrCodeUnknown          ErrorCode = "unknown"
)

// ErrBudgetExceeded marks the domain failure of running out of cost budget.
var ErrBudgetExceeded = errors.New("cost budget exceeded")

// ClassifiedError wraps a raised failure with its diagnosis. RetryAfter is
// set when the service supplied an explicit delay (rate limiting).
type ClassifiedError struct {
	Code       ErrorCode
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether failures with this code are transient. It is a
// pure function of the code alone.
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeOverloaded, ErrCodeServerError, ErrCodeTimeout, ErrCodeNetwork:
		return true
	default:
		return false
	}
}

// contextOverflowPatterns: Anthropic reports context overflow as a plain 400
// with no dedicated code, so the message is all we have.
var contextOverflowPatterns = []string{
	"prompt is too long",
	"too many tokens",
	"context length",
	"maximum context",
}

// classifyPatterns maps message substrings to codes, checked in this fixed
// priority order. Matching is case-insensitive.
var classifyPatterns = []struct {
	code     ErrorCode
	patterns []string
}{
	{ErrCodeRateLimit, []string{"rate limit", "429", "too many requests", "throttl"}},
	{ErrCodeOverloaded, []string{"overloaded", "529", "capacity"}},
	{ErrCodeContextOverflow, contextOverflowPatterns},
	{ErrCodeInvalidRequest, []string{"invalid request", "bad request", "400"}},
	{ErrCodeAuthentication, []string{"authentication", "unauthorized", "api key", "401"}},
	{ErrCodePermissionDenied, []string{"permission", "forbidden", "403"}},
	{ErrCodeNotFound, []string{"not found", "404"}},
	{ErrCodeServerError, []string{"internal server error", "bad gateway", "service unavailable", "gateway timeout", "500", "502", "503", "504"}},
	{ErrCodeTimeout, []string{"timeout", "timed out", "deadline exceeded", "408"}},
	{ErrCodeNetwork, []string{"connection reset", "connection refused", "no such host", "broken pipe", "network", "unexpected eof"}},
	{ErrCodeBudgetExceeded, []string{"budget"}},
}

// Classify maps a raised failure to a typed diagnosis. Structured SDK errors
// are inspected first; otherwise the message is pattern-matched in fixed
// priority order.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var already *ClassifiedError
	if errors.As(err, &already) {
		return already
	}

	if errors.Is(err, ErrBudgetExceeded) {
		return &ClassifiedError{Code: ErrCodeBudgetExceeded, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Code: ErrCodeUnknown, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return classified(ErrCodeTimeout, err, 0)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatusCode(apiErr, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return classified(ErrCodeTimeout, err, 0)
	}

	msg := strings.ToLower(err.Error())
	for _, entry := range classifyPatterns {
		for _, pattern := range entry.patterns {
			if strings.Contains(msg, pattern) {
				return classified(entry.code, err, 0)
			}
		}
	}

	return &ClassifiedError{Code: ErrCodeUnknown, Err: err}
}

func classified(code ErrorCode, err error, retryAfter time.Duration) *ClassifiedError {
	return &ClassifiedError{
		Code:       code,
		Retryable:  IsRetryable(code),
		RetryAfter: retryAfter,
		Err:        err,
	}
}

func classifyStatusCode(apiErr *anthropic.Error, err error) *ClassifiedError {
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return classified(ErrCodeRateLimit, err, retryAfterFromResponse(apiErr.Response))
	case 529: // Anthropic's overloaded_error
		return classified(ErrCodeOverloaded, err, 0)
	case http.StatusBadRequest:
		msg := strings.ToLower(err.Error())
		for _, pattern := range contextOverflowPatterns {
			if strings.Contains(msg, pattern) {
				return classified(ErrCodeContextOverflow, err, 0)
			}
		}
		return classified(ErrCodeInvalidRequest, err, 0)
	case http.StatusUnauthorized:
		return classified(ErrCodeAuthentication, err, 0)
	case http.StatusForbidden:
		return classified(ErrCodePermissionDenied, err, 0)
	case http.StatusNotFound:
		return classified(ErrCodeNotFound, err, 0)
	case http.StatusRequestTimeout:
		return classified(ErrCodeTimeout, err, 0)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return classified(ErrCodeServerError, err, 0)
	default:
		if apiErr.StatusCode >= 500 {
			return classified(ErrCodeServerError, err, 0)
		}
		return classified(ErrCodeInvalidRequest, err, 0)
	}
}

// retryAfterFromResponse extracts the service-suggested delay from a
// rate-limit response. Only the delta-seconds form is honored.
func retryAfterFromResponse(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// RetryConfig governs backoff between attempts.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// JitterFactor adds up to this fraction of the computed delay, so many
	// concurrent conversations do not retry in lockstep.
	JitterFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
	}
}

// ComputeDelay returns the sleep before retrying attempt (1-indexed). A
// service-supplied rate-limit delay is used verbatim; otherwise exponential
// backoff capped at MaxDelay, plus uniform jitter.
func ComputeDelay(cfg RetryConfig, attempt int, cerr *ClassifiedError) time.Duration {
	if cerr != nil && cerr.Code == ErrCodeRateLimit && cerr.RetryAfter > 0 {
		return cerr.RetryAfter
	}

	if attempt < 1 {
		attempt = 1
	}
	delay := float64(cfg.BaseDelay)
	for range attempt - 1 {
		delay *= 2
		if delay >= float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	delay += delay * cfg.JitterFactor * rand.Float64()
	return time.Duration(delay)
}

// ExecuteWithRetry runs op up to cfg.MaxAttempts times. Non-retryable
// failures and retry exhaustion return the classified error; backoff sleeps
// respect ctx.
func ExecuteWithRetry[T any](ctx context.Context, cfg RetryConfig, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var cerr *ClassifiedError
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		cerr = Classify(err)
		if attempt == attempts || !cerr.Retryable {
			return zero, cerr
		}

		delay := ComputeDelay(cfg, attempt, cerr)
		slog.Debug("Backing off before retry",
			"attempt", attempt,
			"max_attempts", attempts,
			"code", cerr.Code,
			"delay", delay)
		if !sleepWithContext(ctx, delay) {
			return zero, Classify(ctx.Err())
		}
	}

	return zero, cerr
}

// sleepWithContext sleeps for d, returning early if ctx is done. Reports
// whether the sleep completed.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
