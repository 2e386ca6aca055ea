package llm

import (
	"context"
	"math"
	"time"

	"github.com/loopkit/loopkit/schema"
)

const maxBackoff = 30 * time.Second

// RetryModel decorates a ChatModel with retry on transient provider
// failures. Backoff is exponential, capped at 30s, and honors the
// provider's retry-after hint when present.
type RetryModel struct {
	inner      ChatModel
	maxRetries int
	sleep      func(context.Context, time.Duration) error
}

var _ ChatModel = (*RetryModel)(nil)

// WithRetry wraps model with up to maxRetries retries.
func WithRetry(model ChatModel, maxRetries int) *RetryModel {
	return &RetryModel{
		inner:      model,
		maxRetries: maxRetries,
		sleep:      sleepCtx,
	}
}

func (m *RetryModel) Info() ModelInfo         { return m.inner.Info() }
func (m *RetryModel) SupportsTools() bool     { return m.inner.SupportsTools() }
func (m *RetryModel) SupportsStreaming() bool { return m.inner.SupportsStreaming() }

func (m *RetryModel) Generate(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		resp, err := m.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == m.maxRetries {
			return nil, err
		}
		if err := m.sleep(ctx, retryDelay(err, attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// GenerateStream retries only the call setup; a stream that fails
// mid-flight surfaces its error event unchanged.
func (m *RetryModel) GenerateStream(ctx context.Context, req *Request) (<-chan schema.StreamEvent, error) {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		ch, err := m.inner.GenerateStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == m.maxRetries {
			return nil, err
		}
		if err := m.sleep(ctx, retryDelay(err, attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// retryDelay prefers the provider's retry-after hint, falling back to
// exponential backoff: 1s, 2s, 4s...
func retryDelay(err error, attempt int) time.Duration {
	if after := RetryAfter(err); after > 0 {
		if after > maxBackoff {
			return maxBackoff
		}
		return after
	}
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
