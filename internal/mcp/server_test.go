package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadre-oss/mneme/internal/companion"
	"github.com/cadre-oss/mneme/internal/extract"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/testutil"
)

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *jsonrpcError   `json:"error"`
}

type callResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func newTestServer(t *testing.T) (*Server, *testutil.TestHarness) {
	t.Helper()
	h := testutil.NewTestHarness(t)
	svc, err := companion.New(companion.Options{
		Store:    h.Store,
		Strategy: extract.NewHeuristicStrategy(h.Store),
		Bus:      h.EventBus,
		Logger:   h.Logger,
	})
	require.NoError(t, err)
	return NewServer(svc, "test", h.Logger), h
}

// run feeds lines to the server and returns the responses in order.
func run(t *testing.T, s *Server, lines ...string) []rpcResponse {
	t.Helper()
	var out bytes.Buffer
	s.in = strings.NewReader(strings.Join(lines, "\n") + "\n")
	s.out = &out
	require.NoError(t, s.Run(context.Background()))

	var responses []rpcResponse
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r rpcResponse
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		responses = append(responses, r)
	}
	return responses
}

func call(id int, tool string, args any) string {
	raw, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	})
	return string(raw)
}

func decodeCall(t *testing.T, r rpcResponse) callResult {
	t.Helper()
	require.Nil(t, r.Error)
	var cr callResult
	require.NoError(t, json.Unmarshal(r.Result, &cr))
	require.Len(t, cr.Content, 1)
	return cr
}

func TestServer_InitializeAndList(t *testing.T) {
	s, _ := newTestServer(t)
	resp := run(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	)
	require.Len(t, resp, 3, "notifications get no response")

	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(resp[0].Result, &init))
	assert.Equal(t, protocolVersion, init.ProtocolVersion)
	assert.Equal(t, "mneme", init.ServerInfo.Name)
	assert.Equal(t, "test", init.ServerInfo.Version)

	var list struct {
		Tools []ToolDef `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp[1].Result, &list))
	names := make([]string, 0, len(list.Tools))
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"], tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"memory_list", "memory_add", "memory_update", "memory_delete",
		"memory_search", "memory_extract", "memory_context",
	}, names)
	assert.Equal(t, 3, resp[2].ID)
}

func TestServer_ProtocolErrors(t *testing.T) {
	s, _ := newTestServer(t)
	resp := run(t, s,
		`not json`,
		`{"jsonrpc":"2.0","id":7,"method":"resources/list"}`,
	)
	require.Len(t, resp, 2)
	require.NotNil(t, resp[0].Error)
	assert.Equal(t, codeParseError, resp[0].Error.Code)
	require.NotNil(t, resp[1].Error)
	assert.Equal(t, codeMethodNotFound, resp[1].Error.Code)
	assert.Equal(t, 7, resp[1].ID)
}

func TestServer_InvalidRequests(t *testing.T) {
	s, _ := newTestServer(t)
	resp := run(t, s,
		`{"id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"arguments":{}}}`,
	)
	require.Len(t, resp, 2)
	require.NotNil(t, resp[0].Error)
	assert.Equal(t, codeInvalidRequest, resp[0].Error.Code)
	require.NotNil(t, resp[1].Error)
	assert.Equal(t, codeInvalidParams, resp[1].Error.Code)
}

func TestServer_StopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t)
	pr, pw := io.Pipe()
	defer pw.Close()
	s.in = pr
	s.out = io.Discard

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServer_MemoryTools(t *testing.T) {
	s, h := newTestServer(t)
	h.Seed(memory.Memory{Title: "Favorite Color", Content: "User's favorite color is blue", Importance: 4})

	resp := run(t, s,
		call(1, "memory_add", map[string]any{"title": "Pet", "content": "User has a cat named Whiskers", "importance": 6}),
		call(2, "memory_search", map[string]any{"query": "cat"}),
		call(3, "memory_update", map[string]any{"title": "pet", "importance": 9}),
		call(4, "memory_list", map[string]any{"filter": "importance >= 5"}),
		call(5, "memory_delete", map[string]any{"title": "favorite color"}),
		call(6, "memory_delete", map[string]any{"title": "favorite color"}),
	)
	require.Len(t, resp, 6)

	var added memory.Memory
	require.NoError(t, json.Unmarshal([]byte(decodeCall(t, resp[0]).Content[0].Text), &added))
	assert.Equal(t, "Pet", added.Title)

	var search struct {
		Results  []memory.Memory `json:"results"`
		Strategy string          `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal([]byte(decodeCall(t, resp[1]).Content[0].Text), &search))
	require.NotEmpty(t, search.Results)
	assert.Equal(t, "Pet", search.Results[0].Title)

	var updated memory.Memory
	require.NoError(t, json.Unmarshal([]byte(decodeCall(t, resp[2]).Content[0].Text), &updated))
	assert.Equal(t, 9, updated.Importance)

	var list struct {
		Memories []memory.Memory `json:"memories"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(decodeCall(t, resp[3]).Content[0].Text), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "Pet", list.Memories[0].Title)

	assert.JSONEq(t, `{"deleted":true}`, decodeCall(t, resp[4]).Content[0].Text)
	assert.JSONEq(t, `{"deleted":false}`, decodeCall(t, resp[5]).Content[0].Text)
}

func TestServer_ToolErrorsAreResults(t *testing.T) {
	s, _ := newTestServer(t)
	resp := run(t, s,
		call(1, "memory_add", map[string]any{"title": "", "content": "x"}),
		call(2, "memory_list", map[string]any{"filter": "importance +"}),
		call(3, "memory_search", map[string]any{"query": "  "}),
		call(4, "memory_forget", map[string]any{}),
	)
	require.Len(t, resp, 4)
	for i, r := range resp {
		cr := decodeCall(t, r)
		assert.True(t, cr.IsError, "call %d", i+1)
		assert.True(t, strings.HasPrefix(cr.Content[0].Text, "Error: "), cr.Content[0].Text)
	}
	assert.Contains(t, decodeCall(t, resp[3]).Content[0].Text, "unknown tool")
}

func TestServer_ExtractAndContext(t *testing.T) {
	s, h := newTestServer(t)
	resp := run(t, s,
		call(1, "memory_extract", map[string]any{"message": "My name is Alex"}),
		call(2, "memory_context", map[string]any{"message": "what is my name"}),
	)
	require.Len(t, resp, 2)

	var res extract.Result
	require.NoError(t, json.Unmarshal([]byte(decodeCall(t, resp[0]).Content[0].Text), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.TotalMemories)

	stored, err := h.Store.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Contains(t, stored[0].Title, "User identity")

	var injected map[string]string
	require.NoError(t, json.Unmarshal([]byte(decodeCall(t, resp[1]).Content[0].Text), &injected))
	assert.Contains(t, injected["message"], "My name is Alex")
	assert.True(t, strings.HasSuffix(injected["message"], "what is my name"))
}
