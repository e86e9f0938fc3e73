package llm

import (
	"context"
	"math/rand"
	"time"

	"github.com/querypilot/querypilot/internal/observability"
)

const (
	retryBaseDelay = 800 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// RetryingProvider wraps a Provider with bounded exponential backoff on
// throttling and transient failures. Hard errors pass through untouched.
type RetryingProvider struct {
	inner      Provider
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRetryingProvider(inner Provider, maxRetries int) *RetryingProvider {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryingProvider{
		inner:      inner,
		maxRetries: maxRetries,
		sleep:      sleepContext,
	}
}

func (p *RetryingProvider) Model() string { return p.inner.Model() }

func (p *RetryingProvider) Chat(ctx context.Context, messages []Message) (Completion, error) {
	var completion Completion
	err := p.do(ctx, func() error {
		var callErr error
		completion, callErr = p.inner.Chat(ctx, messages)
		return callErr
	})
	return completion, err
}

func (p *RetryingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := p.do(ctx, func() error {
		var callErr error
		embedding, callErr = p.inner.Embed(ctx, text)
		return callErr
	})
	return embedding, err
}

func (p *RetryingProvider) do(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if attempt >= p.maxRetries || !IsRetryable(lastErr) {
			return lastErr
		}
		observability.IncrementLLMRetry()
		if err := p.sleep(ctx, backoffDelay(attempt)); err != nil {
			return lastErr
		}
	}
}

// backoffDelay doubles the base per attempt, caps at retryMaxDelay, and
// jitters the result to between 80% and 120% so concurrent callers spread
// out.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << attempt
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
