// Package anthropic implements provider.Provider on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
	"github.com/cadre-oss/mneme/internal/provider"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
)

// Client implements the Anthropic provider
type Client struct {
	apiKey string
	model  string
	client anthropic.Client
}

// NewClient creates a new Anthropic client. An empty apiKey falls back to
// ANTHROPIC_API_KEY; extra options (e.g. option.WithBaseURL) are appended.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if model == "" {
		model = defaultModel
	}

	// Retries are owned by provider.RetryProvider.
	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	clientOpts = append(clientOpts, opts...)

	return &Client{
		apiKey: apiKey,
		model:  model,
		client: anthropic.NewClient(clientOpts...),
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return "anthropic"
}

// Complete sends a completion request to Claude. Structured-output schemas
// are not supported by this API and are ignored.
func (c *Client) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.Response, error) {
	if c.apiKey == "" {
		return nil, mnemeErrors.New(mnemeErrors.CodeAPIKeyMissing, "ANTHROPIC_API_KEY not set").
			WithSuggestion("Set the ANTHROPIC_API_KEY environment variable or add api_key to the provider section of mneme.yaml")
	}

	resp, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, classify(ctx, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	return &provider.Response{
		Content:    text.String(),
		StopReason: string(resp.StopReason),
		Usage: provider.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func (c *Client) buildParams(req *provider.CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	return params
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		se := &provider.StatusError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Err: err}
		if apiErr.Response != nil {
			se.RetryAfter = provider.ParseRetryAfter(apiErr.Response.Header, time.Now())
		}
		return se
	}
	return &provider.NetworkError{Provider: "anthropic", Err: err}
}
