package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantCode  ErrorCode
		retryable bool
	}{
		{
			name:      "rate limit message",
			err:       errors.New("429 rate limit exceeded"),
			wantCode:  ErrCodeRateLimit,
			retryable: true,
		},
		{
			name:      "overloaded",
			err:       errors.New("overloaded_error: the service is overloaded"),
			wantCode:  ErrCodeOverloaded,
			retryable: true,
		},
		{
			name:      "context overflow beats invalid request",
			err:       errors.New("400 bad request: prompt is too long"),
			wantCode:  ErrCodeContextOverflow,
			retryable: false,
		},
		{
			name:      "invalid request",
			err:       errors.New("400 invalid request body"),
			wantCode:  ErrCodeInvalidRequest,
			retryable: false,
		},
		{
			name:      "authentication",
			err:       errors.New("401 unauthorized: invalid api key"),
			wantCode:  ErrCodeAuthentication,
			retryable: false,
		},
		{
			name:      "permission denied",
			err:       errors.New("403 forbidden"),
			wantCode:  ErrCodePermissionDenied,
			retryable: false,
		},
		{
			name:      "not found",
			err:       errors.New("model not found"),
			wantCode:  ErrCodeNotFound,
			retryable: false,
		},
		{
			name:      "server error",
			err:       errors.New("502 bad gateway"),
			wantCode:  ErrCodeServerError,
			retryable: true,
		},
		{
			name:      "timeout",
			err:       errors.New("request timed out"),
			wantCode:  ErrCodeTimeout,
			retryable: true,
		},
		{
			name:      "network",
			err:       errors.New("read tcp: connection reset by peer"),
			wantCode:  ErrCodeNetwork,
			retryable: true,
		},
		{
			name:      "budget sentinel",
			err:       fmt.Errorf("halting: %w", ErrBudgetExceeded),
			wantCode:  ErrCodeBudgetExceeded,
			retryable: false,
		},
		{
			name:      "deadline exceeded",
			err:       context.DeadlineExceeded,
			wantCode:  ErrCodeTimeout,
			retryable: true,
		},
		{
			name:      "cancellation is not retried",
			err:       context.Canceled,
			wantCode:  ErrCodeUnknown,
			retryable: false,
		},
		{
			name:      "unknown",
			err:       errors.New("something odd happened"),
			wantCode:  ErrCodeUnknown,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cerr := Classify(tt.err)
			require.NotNil(t, cerr)
			assert.Equal(t, tt.wantCode, cerr.Code)
			assert.Equal(t, tt.retryable, cerr.Retryable)
			assert.ErrorIs(t, cerr, tt.err)
		})
	}
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Classify(nil))
}

func TestClassifyIsIdempotent(t *testing.T) {
	t.Parallel()

	first := Classify(errors.New("429 too many requests"))
	second := Classify(fmt.Errorf("attempt failed: %w", first))
	assert.Same(t, first, second)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	retryable := []ErrorCode{ErrCodeRateLimit, ErrCodeOverloaded, ErrCodeServerError, ErrCodeTimeout, ErrCodeNetwork}
	for _, code := range retryable {
		assert.True(t, IsRetryable(code), string(code))
	}

	permanent := []ErrorCode{
		ErrCodeContextOverflow, ErrCodeInvalidRequest, ErrCodeAuthentication,
		ErrCodePermissionDenied, ErrCodeNotFound, ErrCodeBudgetExceeded, ErrCodeUnknown,
	}
	for _, code := range permanent {
		assert.False(t, IsRetryable(code), string(code))
	}
}

func TestRetryAfterFromResponse(t *testing.T) {
	t.Parallel()

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"7"}}}
	assert.Equal(t, 7*time.Second, retryAfterFromResponse(resp))

	assert.Zero(t, retryAfterFromResponse(nil))
	assert.Zero(t, retryAfterFromResponse(&http.Response{Header: http.Header{}}))

	// HTTP-date form is not honored.
	resp = &http.Response{Header: http.Header{"Retry-After": []string{"Wed, 21 Oct 2026 07:28:00 GMT"}}}
	assert.Zero(t, retryAfterFromResponse(resp))
}

func TestComputeDelay(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    1 * time.Second,
	}

	assert.Equal(t, 100*time.Millisecond, ComputeDelay(cfg, 1, nil))
	assert.Equal(t, 200*time.Millisecond, ComputeDelay(cfg, 2, nil))
	assert.Equal(t, 400*time.Millisecond, ComputeDelay(cfg, 3, nil))
	assert.Equal(t, 800*time.Millisecond, ComputeDelay(cfg, 4, nil))
	// Capped.
	assert.Equal(t, 1*time.Second, ComputeDelay(cfg, 5, nil))
	assert.Equal(t, 1*time.Second, ComputeDelay(cfg, 20, nil))
}

func TestComputeDelayHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	cfg := DefaultRetryConfig()
	cerr := &ClassifiedError{Code: ErrCodeRateLimit, Retryable: true, RetryAfter: 42 * time.Second}
	assert.Equal(t, 42*time.Second, ComputeDelay(cfg, 1, cerr))

	// Other codes ignore RetryAfter.
	cerr = &ClassifiedError{Code: ErrCodeServerError, Retryable: true, RetryAfter: 42 * time.Second}
	assert.Equal(t, cfg.BaseDelay, ComputeDelay(RetryConfig{BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay}, 1, cerr))
}

func TestComputeDelayJitterStaysBounded(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		JitterFactor: 0.5,
	}

	for range 100 {
		delay := ComputeDelay(cfg, 2, nil)
		assert.GreaterOrEqual(t, delay, 200*time.Millisecond)
		assert.LessOrEqual(t, delay, 300*time.Millisecond)
	}
}

func TestExecuteWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	result, err := ExecuteWithRetry(t.Context(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetryStopsOnPermanentFailure(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	_, err := ExecuteWithRetry(t.Context(), cfg, func(context.Context) (string, error) {
		calls++
		return "", errors.New("401 unauthorized")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var cerr *ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrCodeAuthentication, cerr.Code)
}

func TestExecuteWithRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	_, err := ExecuteWithRetry(t.Context(), cfg, func(context.Context) (string, error) {
		calls++
		return "", errors.New("429 too many requests")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var cerr *ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrCodeRateLimit, cerr.Code)
}

func TestExecuteWithRetryRespectsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cfg := RetryConfig{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}

	calls := 0
	_, err := ExecuteWithRetry(ctx, cfg, func(context.Context) (string, error) {
		calls++
		cancel()
		return "", errors.New("503 service unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
