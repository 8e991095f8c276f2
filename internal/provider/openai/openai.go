// Package openai implements provider.Provider on the OpenAI Chat Completions
// API, including json_schema structured outputs.
package openai

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
	"github.com/cadre-oss/mneme/internal/provider"
)

const defaultModel = string(openai.ChatModelGPT4oMini)

// Client implements the OpenAI provider
type Client struct {
	apiKey string
	model  string
	client openai.Client
}

// NewClient creates an OpenAI client. An empty apiKey falls back to OPENAI_API_KEY.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if model == "" {
		model = defaultModel
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	clientOpts = append(clientOpts, opts...)

	return &Client{
		apiKey: apiKey,
		model:  model,
		client: openai.NewClient(clientOpts...),
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return "openai"
}

// Complete sends a chat completion request.
func (c *Client) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.Response, error) {
	if c.apiKey == "" {
		return nil, mnemeErrors.New(mnemeErrors.CodeAPIKeyMissing, "OPENAI_API_KEY not set").
			WithSuggestion("Set the OPENAI_API_KEY environment variable or add api_key to the provider section of mneme.yaml")
	}

	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, mnemeErrors.New(mnemeErrors.CodeProviderError, "openai returned no choices")
	}

	choice := resp.Choices[0]
	return &provider.Response{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: provider.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (c *Client) buildParams(req *provider.CompletionRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name,
					Schema: req.Schema.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}
	return params
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		se := &provider.StatusError{Provider: "openai", StatusCode: apiErr.StatusCode, Err: err}
		if apiErr.Response != nil {
			se.RetryAfter = provider.ParseRetryAfter(apiErr.Response.Header, time.Now())
		}
		return se
	}
	return &provider.NetworkError{Provider: "openai", Err: err}
}
