package testutil

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cadre-oss/mneme/internal/config"
	"github.com/cadre-oss/mneme/internal/provider"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

// MockProvider implements provider.Provider for testing.
type MockProvider struct {
	mu         sync.Mutex
	Responses  []*provider.Response // queued responses, consumed in order
	Calls      []*provider.CompletionRequest
	ShouldFail bool
	FailErr    error
	Delay      time.Duration
	idx        int
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.Response, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.ShouldFail {
		if m.FailErr != nil {
			return nil, m.FailErr
		}
		return nil, fmt.Errorf("mock provider error")
	}

	if m.idx >= len(m.Responses) {
		return &provider.Response{
			Content:    "default mock response",
			StopReason: "end_turn",
		}, nil
	}

	resp := m.Responses[m.idx]
	m.idx++
	return resp, nil
}

// Reply queues text responses.
func (m *MockProvider) Reply(texts ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range texts {
		m.Responses = append(m.Responses, &provider.Response{Content: t, StopReason: "end_turn"})
	}
	return m
}

// CallCount returns the number of Complete calls made (thread-safe).
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockProvider) LastCall() *provider.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return m.Calls[len(m.Calls)-1]
}

// TestLogger returns a debug logger that buffers its output and prints it
// only if t fails, so passing tests stay quiet.
func TestLogger(t testing.TB) *telemetry.Logger {
	buf := &syncBuffer{}
	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("log output:\n%s", buf.String())
		}
	})
	return telemetry.NewLoggerWithOptions(telemetry.LoggerOptions{Level: "debug", Output: buf})
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TestConfig returns a minimal config for testing: in-memory store,
// heuristic extraction, and no network hooks.
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.Name = "test-companion"
	cfg.Store = config.StoreConfig{Driver: "memory"}
	cfg.Provider = config.ProviderConfig{
		Name:   "anthropic",
		Model:  "mock-model",
		APIKey: "test-key",
	}
	cfg.Extraction.Strategy = "heuristic"
	cfg.Logging.Level = "debug"
	return cfg
}
