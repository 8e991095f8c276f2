package provider

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls retry behavior.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64

	// OnRetry is called before each backoff sleep with the zero-based
	// attempt that failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     60 * time.Second,
		JitterFraction: 0.2,
	}
}

// RetryProvider retries transient failures (see IsRetryable) with
// exponential backoff, honoring a server's Retry-After up to MaxBackoff.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// NewRetryProvider creates a RetryProvider wrapping inner.
func NewRetryProvider(inner Provider, cfg RetryConfig) *RetryProvider {
	return &RetryProvider{inner: inner, config: cfg}
}

func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

func (r *RetryProvider) Complete(ctx context.Context, req *CompletionRequest) (*Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		if attempt >= r.config.MaxRetries {
			return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.config.MaxRetries, err)
		}

		delay := r.delay(attempt, err)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// delay is the backoff for attempt, stretched to the server's Retry-After
// when that is longer. Both are capped at MaxBackoff.
func (r *RetryProvider) delay(attempt int, err error) time.Duration {
	d := r.backoff(attempt)
	if after := RetryAfter(err); after > d {
		d = min(after, r.config.MaxBackoff)
	}
	return d
}

// backoff is exponential with ±JitterFraction jitter.
func (r *RetryProvider) backoff(attempt int) time.Duration {
	base := float64(r.config.InitialBackoff) * math.Pow(2, float64(attempt))
	base = math.Min(base, float64(r.config.MaxBackoff))

	jitter := base * r.config.JitterFraction * (rand.Float64()*2 - 1)
	return max(time.Duration(base+jitter), 0)
}
