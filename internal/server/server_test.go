package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadre-oss/mneme/internal/background"
	"github.com/cadre-oss/mneme/internal/companion"
	"github.com/cadre-oss/mneme/internal/extract"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/testutil"
)

type fixture struct {
	h   *testutil.TestHarness
	svc *companion.Service
	srv *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := testutil.NewTestHarness(t)
	strategy, err := extract.NewLLMStrategy(h.Provider, "")
	require.NoError(t, err)
	svc, err := companion.New(companion.Options{
		Store:             h.Store,
		Provider:          h.Provider,
		Strategy:          strategy,
		Runner:            &background.SyncRunner{Logger: h.Logger},
		Bus:               h.EventBus,
		Logger:            h.Logger,
		ExtractionEnabled: false,
	})
	require.NoError(t, err)
	return &fixture{h: h, svc: svc, srv: New(h.Config, svc, h.Logger)}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["store"])
}

func TestMemoryCRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/memories", map[string]interface{}{
		"title": "Pet", "content": "User has a cat named Whiskers", "importance": 8,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/memories", map[string]interface{}{
		"title": "pet", "content": "duplicate", "importance": 3,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_TITLE", decode[map[string]string](t, rec)["code"])

	rec = f.do(t, http.MethodPost, "/api/memories", map[string]interface{}{
		"title": "Allergy", "content": "Peanuts", "importance": 15,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/memories", map[string]interface{}{
		"title": "Food", "content": "User loves pizza", "importance": 4,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/memories/Food", map[string]interface{}{"importance": 6})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 6, decode[memory.Memory](t, rec).Importance)

	rec = f.do(t, http.MethodPut, "/api/memories/Nope", map[string]interface{}{"importance": 6})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/memories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]memory.Memory](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/api/memories?filter=importance+%3E%3D+7", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	filtered := decode[[]memory.Memory](t, rec)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Pet", filtered[0].Title)

	rec = f.do(t, http.MethodGet, "/api/memories?filter=importance+%2B", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_FILTER", decode[map[string]string](t, rec)["code"])

	rec = f.do(t, http.MethodDelete, "/api/memories/Missing%20Title", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[map[string]bool](t, rec)["deleted"])

	rec = f.do(t, http.MethodDelete, "/api/memories/pet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["deleted"])

	rec = f.do(t, http.MethodPost, "/api/memories/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["cleared"])
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	f.h.Seed(
		memory.Memory{Title: "Pet", Content: "User has a cat named Whiskers", Importance: 8},
		memory.Memory{Title: "Food", Content: "User loves pizza", Importance: 4},
	)

	rec := f.do(t, http.MethodPost, "/api/memories/search", map[string]interface{}{"query": "whiskers"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results  []memory.Memory `json:"results"`
		Strategy string          `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "keyword", body.Strategy)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "Pet", body.Results[0].Title)

	rec = f.do(t, http.MethodPost, "/api/memories/search", map[string]interface{}{"query": ""})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestExtract(t *testing.T) {
	f := newFixture(t)
	f.h.Provider.Reply(
		`{"shouldSave": true, "title": "Home", "content": "Lives in Lisbon.", "importance": 6}`,
		`{"shouldSave": true, "title": "Job", "content": "Works as a nurse.", "importance": 6}`,
	)

	rec := f.do(t, http.MethodPost, "/api/memories/extract?sync=true", map[string]string{"message": "I live in Lisbon"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[extract.Result](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, []string{`Added memory: "Home"`}, res.ActionsTaken)

	rec = f.do(t, http.MethodPost, "/api/memories/extract", map[string]string{"message": "I work as a nurse"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rec)["job_id"])

	all, err := f.svc.ListMemories(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	rec = f.do(t, http.MethodPost, "/api/memories/extract", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	f.h.Provider.Reply("Hello there!")

	rec := f.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reply := decode[companion.ChatReply](t, rec)
	assert.Equal(t, "Hello there!", reply.Response)
	assert.NotEmpty(t, reply.SessionID)
	assert.True(t, strings.HasPrefix(reply.Augmented, "NO MEMORIES FOUND FOR THIS QUERY."))

	rec = f.do(t, http.MethodDelete, "/api/chat/"+reply.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	f.h.Provider.ShouldFail = true
	rec = f.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "PROVIDER_ERROR", decode[map[string]string](t, rec)["code"])
}

func TestStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.h.Store.FailWith = errors.New("connection refused")

	rec := f.do(t, http.MethodGet, "/api/memories", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "STORE_UNAVAILABLE", decode[map[string]string](t, rec)["code"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/memories", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSSEEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?types=memory.added", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"connected"`)

	_, err = f.svc.AddMemory(ctx, memory.Memory{Title: "Pet", Content: "Has a cat", Importance: 6})
	require.NoError(t, err)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var ev StreamEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	assert.Equal(t, "memory.added", ev.Type)
}

func TestWebSocketEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello map[string]string
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])

	_, err = f.svc.DeleteMemory(context.Background(), "missing")
	require.NoError(t, err)
	_, err = f.svc.AddMemory(context.Background(), memory.Memory{Title: "Food", Content: "Loves pizza", Importance: 4})
	require.NoError(t, err)

	var ev StreamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "memory.added", ev.Type)
	data, ok := ev.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Food", data["title"])
}

func TestBroker_CloseDisconnectsClients(t *testing.T) {
	b := NewBroker(testutil.TestLogger(t))
	c := b.Subscribe(context.Background(), "c1", nil)
	assert.Equal(t, 1, b.ClientCount())

	b.Close()
	_, ok := <-c.Events
	assert.False(t, ok)
	assert.Equal(t, 0, b.ClientCount())

	late := b.Subscribe(context.Background(), "c2", nil)
	_, ok = <-late.Events
	assert.False(t, ok)
}
