package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Message represents a conversation message
type Message struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// Response represents a provider response
type Response struct {
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
}

// Usage tracks token usage
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseSchema asks the provider for structured output conforming to a
// JSON schema. Providers without structured outputs ignore it.
type ResponseSchema struct {
	Name   string                 `json:"name"`
	Schema map[string]interface{} `json:"schema"`
}

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends a completion request
	Complete(ctx context.Context, req *CompletionRequest) (*Response, error)
}

// CompletionRequest represents a completion request
type CompletionRequest struct {
	Model       string          `json:"model,omitempty"`
	System      string          `json:"system"`
	Messages    []Message       `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Schema      *ResponseSchema `json:"schema,omitempty"`
}

// StatusError is an HTTP-level failure reported by a provider API.
type StatusError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration // from the Retry-After header, 0 when absent
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Retryable reports whether the status is transient.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case 408, 409, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}

// NetworkError is a transport failure before any response was received.
type NetworkError struct {
	Provider string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RetryAfter returns the server-requested delay carried by err, or 0.
func RetryAfter(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header value in either delta-seconds
// or HTTP-date form.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(now), 0)
	}
	return 0
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ne *NetworkError
	return errors.As(err, &ne)
}
