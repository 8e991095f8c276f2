// Package mcp exposes the memory service as Model Context Protocol tools
// over JSON-RPC 2.0 on stdin/stdout.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "mneme"

	maxLineSize = 10 << 20
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Server answers initialize, ping, tools/list and tools/call. Each line of
// input is one request; each response is one line of output.
type Server struct {
	handler *ToolHandler
	version string
	logger  *telemetry.Logger
	in      io.Reader
	out     io.Writer
}

// NewServer creates a server over stdin/stdout. Logs must not go to stdout.
func NewServer(svc Service, version string, logger *telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Server{
		handler: NewToolHandler(svc),
		version: version,
		logger:  logger,
		in:      os.Stdin,
		out:     os.Stdout,
	}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonrpcError) Error() string { return e.Message }

func rpcError(code int, format string, args ...any) *jsonrpcError {
	return &jsonrpcError{Code: code, Message: fmt.Sprintf(format, args...)}
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callToolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Run serves requests until the input closes or ctx is cancelled. Input is
// read on a separate goroutine so cancellation does not wait for a line.
func (s *Server) Run(ctx context.Context) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if len(line) > 0 {
				s.serve(ctx, line)
			}
		}
	}
}

func (s *Server) serve(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.write(response{Error: rpcError(codeParseError, "parse error")})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.write(response{ID: req.ID, Error: rpcError(codeInvalidRequest, "invalid request")})
		return
	}
	if req.ID == nil {
		s.logger.Debug("MCP notification", "method", req.Method)
		return
	}

	result, rerr := s.dispatch(ctx, req)
	if rerr != nil {
		s.write(response{ID: req.ID, Error: rerr})
		return
	}
	s.write(response{ID: req.ID, Result: result})
}

func (s *Server) dispatch(ctx context.Context, req request) (any, *jsonrpcError) {
	switch req.Method {
	case "initialize":
		return initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      serverInfo{Name: serverName, Version: s.version},
		}, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return map[string]any{"tools": AllTools()}, nil
	case "tools/call":
		var call struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
			return nil, rpcError(codeInvalidParams, "tools/call needs a tool name")
		}
		return s.callTool(ctx, call.Name, call.Arguments)
	default:
		return nil, rpcError(codeMethodNotFound, "method not found: %s", req.Method)
	}
}

// callTool reports tool failures inside the result with isError set so the
// model sees them. Only an unencodable result is a protocol error.
func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (any, *jsonrpcError) {
	result, err := s.handler.Call(ctx, name, args)
	if err != nil {
		s.logger.Warn("MCP tool call failed", "tool", name, "error", err)
		text := "Error: " + err.Error()
		if hint := mnemeErrors.Suggestion(err); hint != "" {
			text += "\n" + hint
		}
		return callToolResult{Content: []contentBlock{{Type: "text", Text: text}}, IsError: true}, nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, rpcError(codeInternalError, "encode %s result: %v", name, err)
	}
	return callToolResult{Content: []contentBlock{{Type: "text", Text: string(data)}}}, nil
}

func (s *Server) write(resp response) {
	resp.JSONRPC = "2.0"
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode MCP response", "error", err)
		return
	}
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Warn("Failed to write MCP response", "error", err)
	}
}
