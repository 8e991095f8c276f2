package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
	"github.com/cadre-oss/mneme/internal/extract"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/provider"
)

// Service is the memory surface the tools call into.
type Service interface {
	ListMemories(ctx context.Context) ([]memory.Memory, error)
	AddMemory(ctx context.Context, m memory.Memory) (memory.Memory, error)
	UpdateMemory(ctx context.Context, title string, patch memory.Patch) (memory.Memory, error)
	DeleteMemory(ctx context.Context, title string) (bool, error)
	SearchMemories(ctx context.Context, query string, limit int) ([]memory.Memory, memory.Strategy)
	InjectContext(ctx context.Context, message string, local []memory.Memory) string
	ExtractAndPersist(ctx context.Context, message string, history []provider.Message) *extract.Result
}

// ToolDef describes an MCP tool for tools/list.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type listArgs struct {
	Filter string `json:"filter,omitempty" jsonschema:"description=CEL expression over title and content and importance"`
}

type addArgs struct {
	Title      string `json:"title" jsonschema:"description=Short label; unique ignoring case"`
	Content    string `json:"content" jsonschema:"description=Self-contained fact or preference"`
	Importance int    `json:"importance,omitempty" jsonschema:"description=1-10 (default 5),minimum=1,maximum=10"`
}

type updateArgs struct {
	Title      string  `json:"title" jsonschema:"description=Existing title or a unique part of it"`
	NewTitle   *string `json:"new_title,omitempty" jsonschema:"description=Replacement title"`
	Content    *string `json:"content,omitempty" jsonschema:"description=Replacement content"`
	Importance *int    `json:"importance,omitempty" jsonschema:"description=Replacement importance 1-10"`
}

type titleArgs struct {
	Title string `json:"title" jsonschema:"description=Exact title ignoring case"`
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"description=Free text to rank memories against"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results"`
}

type messageArgs struct {
	Message string `json:"message" jsonschema:"description=User message"`
}

// AllTools returns the memory tool definitions.
func AllTools() []ToolDef {
	return []ToolDef{
		{Name: "memory_list", Description: "List stored memories, most important first", InputSchema: inputSchema(&listArgs{})},
		{Name: "memory_add", Description: "Store a new memory", InputSchema: inputSchema(&addArgs{})},
		{Name: "memory_update", Description: "Change the title, content or importance of a memory", InputSchema: inputSchema(&updateArgs{})},
		{Name: "memory_delete", Description: "Delete a memory by title", InputSchema: inputSchema(&titleArgs{})},
		{Name: "memory_search", Description: "Find the memories most relevant to a query", InputSchema: inputSchema(&searchArgs{})},
		{Name: "memory_extract", Description: "Decide whether a message holds something worth remembering and save it", InputSchema: inputSchema(&messageArgs{})},
		{Name: "memory_context", Description: "Render a message with its relevant memories prepended", InputSchema: inputSchema(&messageArgs{})},
	}
}

func inputSchema(v any) map[string]any {
	r := &jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}

// ToolHandler dispatches tool calls to the memory service.
type ToolHandler struct {
	svc Service
}

// NewToolHandler creates a handler bound to svc.
func NewToolHandler(svc Service) *ToolHandler {
	return &ToolHandler{svc: svc}
}

// Call dispatches a tool call by name with the given arguments.
func (h *ToolHandler) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "memory_list":
		return h.list(ctx, args)
	case "memory_add":
		return h.add(ctx, args)
	case "memory_update":
		return h.update(ctx, args)
	case "memory_delete":
		return h.delete(ctx, args)
	case "memory_search":
		return h.search(ctx, args)
	case "memory_extract":
		return h.extractMessage(ctx, args)
	case "memory_context":
		return h.inject(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return mnemeErrors.Wrap(mnemeErrors.CodeValidation, "parse args", err)
	}
	return nil
}

func (h *ToolHandler) list(ctx context.Context, args json.RawMessage) (any, error) {
	var p listArgs
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	filter, err := memory.CompileFilter(p.Filter)
	if err != nil {
		return nil, err
	}
	all, err := h.svc.ListMemories(ctx)
	if err != nil {
		return nil, err
	}
	ms, err := filter.Apply(all)
	if err != nil {
		return nil, err
	}
	if ms == nil {
		ms = []memory.Memory{}
	}
	return map[string]any{"memories": ms, "count": len(ms)}, nil
}

func (h *ToolHandler) add(ctx context.Context, args json.RawMessage) (any, error) {
	var p addArgs
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	if p.Importance == 0 {
		p.Importance = memory.DefaultImportance
	}
	return h.svc.AddMemory(ctx, memory.Memory{Title: p.Title, Content: p.Content, Importance: p.Importance})
}

func (h *ToolHandler) update(ctx context.Context, args json.RawMessage) (any, error) {
	var p updateArgs
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return h.svc.UpdateMemory(ctx, p.Title, memory.Patch{
		Title:      p.NewTitle,
		Content:    p.Content,
		Importance: p.Importance,
	})
}

func (h *ToolHandler) delete(ctx context.Context, args json.RawMessage) (any, error) {
	var p titleArgs
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	deleted, err := h.svc.DeleteMemory(ctx, p.Title)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": deleted}, nil
}

func (h *ToolHandler) search(ctx context.Context, args json.RawMessage) (any, error) {
	var p searchArgs
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, mnemeErrors.New(mnemeErrors.CodeValidation, "query is required")
	}
	results, strategy := h.svc.SearchMemories(ctx, p.Query, p.Limit)
	if results == nil {
		results = []memory.Memory{}
	}
	return map[string]any{"results": results, "strategy": strategy}, nil
}

func (h *ToolHandler) extractMessage(ctx context.Context, args json.RawMessage) (any, error) {
	var p messageArgs
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	res := h.svc.ExtractAndPersist(ctx, p.Message, nil)
	if !res.Success {
		return nil, res.Err
	}
	return res, nil
}

func (h *ToolHandler) inject(ctx context.Context, args json.RawMessage) (any, error) {
	var p messageArgs
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	return map[string]string{"message": h.svc.InjectContext(ctx, p.Message, nil)}, nil
}
