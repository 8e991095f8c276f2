package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/cadre-oss/mneme/internal/provider"
)

const extractionInstructions = `You extract concise, storable memories from chat messages.

Return ONLY JSON. Shape:
{
  "shouldSave": boolean,
  "title": string,
  "content": string,
  "importance": number
}

Rules:
- Save only if the message provides a durable fact, preference, plan, or correction useful later.
- title is a very short, specific, scannable label (at most 80 characters). Reuse the existing title when correcting a known fact.
- content is 1-2 self-contained sentences with no filler and no markdown.
- importance is an integer 1-10: 1-3 minor, 4-6 recurring preference or context, 7-8 important, 9-10 critical.`

// candidateSchema documents the structured-output contract.
type candidateSchema struct {
	ShouldSave bool   `json:"shouldSave" jsonschema:"description=Whether the message holds a durable fact worth remembering"`
	Title      string `json:"title" jsonschema:"description=Very short label for the memory"`
	Content    string `json:"content" jsonschema:"description=1-2 sentence self-contained summary"`
	Importance int    `json:"importance" jsonschema:"description=Integer 1-10"`
}

// CandidateSchema returns the JSON schema sent to providers that support
// structured outputs.
func CandidateSchema() (*provider.ResponseSchema, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(r.Reflect(&candidateSchema{}))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal candidate schema: %w", err)
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("failed to decode candidate schema: %w", err)
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return &provider.ResponseSchema{Name: "memory_candidate", Schema: schema}, nil
}

// LLMStrategy delegates the save decision to a reasoning model.
type LLMStrategy struct {
	provider  provider.Provider
	model     string
	maxTokens int
	schema    *provider.ResponseSchema
}

// NewLLMStrategy creates a strategy backed by p. model may be empty to use
// the provider default.
func NewLLMStrategy(p provider.Provider, model string) (*LLMStrategy, error) {
	schema, err := CandidateSchema()
	if err != nil {
		return nil, err
	}
	return &LLMStrategy{provider: p, model: model, maxTokens: 300, schema: schema}, nil
}

func (s *LLMStrategy) Name() string { return "llm" }

// Infer asks the model for a candidate and parses its reply defensively.
// Provider failures are returned; unparseable replies yield the
// "nothing to save" candidate with an EXTRACTION_PARSE error.
func (s *LLMStrategy) Infer(ctx context.Context, message, recentContext string) (RawCandidate, error) {
	resp, err := s.provider.Complete(ctx, &provider.CompletionRequest{
		Model:     s.model,
		System:    extractionInstructions,
		MaxTokens: s.maxTokens,
		Messages: []provider.Message{
			{Role: "user", Content: fmt.Sprintf("Message: %s\nContext: %s", message, recentContext)},
		},
		Schema: s.schema,
	})
	if err != nil {
		return noCandidate, fmt.Errorf("extraction request failed: %w", err)
	}
	return ParseCandidate(resp.Content)
}
