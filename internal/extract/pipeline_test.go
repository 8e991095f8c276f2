package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cadre-oss/mneme/internal/event"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/provider"
	"github.com/cadre-oss/mneme/internal/testutil"
)

func newLLMPipeline(h *testutil.TestHarness, opts Options) *Pipeline {
	if opts.Bus == nil {
		opts.Bus = h.EventBus
	}
	if opts.Logger == nil {
		opts.Logger = h.Logger
	}
	strategy, err := NewLLMStrategy(h.Provider, "mock-model")
	if err != nil {
		h.T.Fatal(err)
	}
	return NewPipeline(h.Store, strategy, opts)
}

func TestPipeline_AddsThenUpdatesByTitle(t *testing.T) {
	h := testutil.NewTestHarness(t)
	h.Provider.Reply(
		`{"shouldSave": true, "title": "User name", "content": "The user's name is Alex.", "importance": 7}`,
		`{"shouldSave": true, "title": "user name", "content": "The user's name is Alex.", "importance": 7}`,
	)
	p := newLLMPipeline(h, Options{})
	ctx := context.Background()

	first := p.Process(ctx, "My name is Alex", nil)
	if !first.Success {
		t.Fatalf("expected success, got %+v", first)
	}
	if len(first.ActionsTaken) != 1 || first.ActionsTaken[0] != `Added memory: "User name"` {
		t.Errorf("unexpected actions: %v", first.ActionsTaken)
	}
	if len(first.NewMemories) != 1 || first.TotalMemories != 1 {
		t.Errorf("expected one new memory, got %+v", first)
	}

	second := p.Process(ctx, "My name is Alex", nil)
	if !second.Success {
		t.Fatalf("expected success, got %+v", second)
	}
	if second.ActionsTaken[0] != `Updated memory: "User name"` {
		t.Errorf("expected update keeping the stored title, got %v", second.ActionsTaken)
	}
	if len(second.UpdatedMemories) != 1 || second.TotalMemories != 1 {
		t.Errorf("expected one updated memory and no growth, got %+v", second)
	}

	all, _ := h.Store.Read(ctx)
	if len(all) != 1 || all[0].Content != "The user's name is Alex." || all[0].Importance != 7 {
		t.Errorf("unexpected store contents: %+v", all)
	}

	h.AssertEventEmitted(event.MemoryAdded)
	h.AssertEventEmitted(event.MemoryUpdated)
	if h.EventCount(event.ExtractionCompleted) != 2 {
		t.Errorf("expected two completion events, got %d", h.EventCount(event.ExtractionCompleted))
	}
}

func TestPipeline_SendsMessageAndRecentContext(t *testing.T) {
	h := testutil.NewTestHarness(t)
	h.Provider.Reply(`{"shouldSave": false}`)
	p := newLLMPipeline(h, Options{})

	history := []provider.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello!"},
	}
	p.Process(context.Background(), "I moved to Lisbon", history)

	req := h.Provider.LastCall()
	if req == nil {
		t.Fatal("expected a provider call")
	}
	if req.System != extractionInstructions {
		t.Error("expected extraction instructions as system prompt")
	}
	if req.Schema == nil || req.Schema.Name != "memory_candidate" {
		t.Error("expected structured output schema")
	}
	got := req.Messages[0].Content
	want := "Message: I moved to Lisbon\nContext: user: hi\nassistant: hello!"
	if got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
}

func TestPipeline_ClampsImportance(t *testing.T) {
	h := testutil.NewTestHarness(t)
	h.Provider.Reply(
		`{"shouldSave": true, "title": "Allergy", "content": "Severe peanut allergy.", "importance": 15}`,
		`{"shouldSave": true, "title": "Hobby", "content": "Collects stamps.", "importance": -3}`,
	)
	p := newLLMPipeline(h, Options{})
	ctx := context.Background()

	res := p.Process(ctx, "I'm severely allergic to peanuts", nil)
	if !res.Success || res.NewMemories[0].Importance != 10 {
		t.Fatalf("expected importance clamped to 10, got %+v", res)
	}
	res = p.Process(ctx, "I collect stamps", nil)
	if !res.Success || res.NewMemories[0].Importance != 1 {
		t.Fatalf("expected importance clamped to 1, got %+v", res)
	}
}

func TestPipeline_NothingToSave(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"declined", `{"shouldSave": false, "title": "", "content": "", "importance": 1}`},
		{"unparseable", "I'd rather not say."},
		{"blank title", `{"shouldSave": true, "title": "  ", "content": "Something", "importance": 5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testutil.NewTestHarness(t)
			h.Seed(memory.Memory{Title: "Pet", Content: "Has a cat", Importance: 6})
			h.Provider.Reply(tt.reply)
			p := newLLMPipeline(h, Options{})

			res := p.Process(context.Background(), "What's the weather?", nil)
			if !res.Success {
				t.Fatalf("expected success, got %+v", res)
			}
			if len(res.ActionsTaken) != 1 || res.ActionsTaken[0] != "No durable memory to save" {
				t.Errorf("unexpected actions: %v", res.ActionsTaken)
			}
			if res.TotalMemories != 1 {
				t.Errorf("expected store untouched, total %d", res.TotalMemories)
			}
			h.AssertNoEvent(event.MemoryAdded)
		})
	}
}

func TestPipeline_ProviderFailure(t *testing.T) {
	h := testutil.NewTestHarness(t)
	h.Provider.ShouldFail = true
	h.Provider.FailErr = &provider.StatusError{Provider: "mock", StatusCode: 503, Err: errors.New("overloaded")}
	p := newLLMPipeline(h, Options{})

	res := p.Process(context.Background(), "My name is Alex", nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Err == nil || !strings.HasPrefix(res.Message, "Failed to process message for memory") {
		t.Errorf("unexpected failure result: %+v", res)
	}
	if len(res.ActionsTaken) != 0 || len(res.NewMemories) != 0 {
		t.Errorf("failed run must not report actions: %+v", res)
	}
	h.AssertEventEmitted(event.ExtractionFailed)
	h.AssertNoEvent(event.ExtractionCompleted)
}

func TestPipeline_StoreFailure(t *testing.T) {
	h := testutil.NewTestHarness(t)
	h.Store.FailWith = errors.New("database is locked")
	h.Provider.Reply(`{"shouldSave": true, "title": "Pet", "content": "Has a cat.", "importance": 6}`)
	p := newLLMPipeline(h, Options{})

	res := p.Process(context.Background(), "I have a cat", nil)
	if res.Success || res.Err == nil {
		t.Fatalf("expected store failure, got %+v", res)
	}
}

func TestPipeline_Timeout(t *testing.T) {
	h := testutil.NewTestHarness(t)
	h.Provider.Delay = time.Second
	p := newLLMPipeline(h, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	res := p.Process(context.Background(), "My name is Alex", nil)
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", res.Err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout was not honored")
	}
}

type fixedStrategy struct {
	candidate func(message string) RawCandidate
}

func (s fixedStrategy) Name() string { return "fixed" }

func (s fixedStrategy) Infer(_ context.Context, message, _ string) (RawCandidate, error) {
	return s.candidate(message), nil
}

type panicStrategy struct{}

func (panicStrategy) Name() string { return "panic" }

func (panicStrategy) Infer(context.Context, string, string) (RawCandidate, error) {
	panic("boom")
}

func TestPipeline_RecoversFromPanic(t *testing.T) {
	h := testutil.NewTestHarness(t)
	p := NewPipeline(h.Store, panicStrategy{}, Options{Bus: h.EventBus})

	res := p.Process(context.Background(), "hello", nil)
	if res.Success || res.Err == nil {
		t.Fatalf("expected recovered failure, got %+v", res)
	}
}

func TestPipeline_ConcurrentSameTitle(t *testing.T) {
	h := testutil.NewTestHarness(t)
	p := NewPipeline(h.Store, fixedStrategy{candidate: func(msg string) RawCandidate {
		title := "Favorite food"
		if strings.HasSuffix(msg, "1") {
			title = "FAVORITE FOOD"
		}
		return RawCandidate{ShouldSave: true, Title: title, Content: "Loves " + msg, Importance: 5}
	}}, Options{Bus: h.EventBus})

	const workers = 12
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if res := p.Process(context.Background(), fmt.Sprintf("pizza %d", i), nil); !res.Success {
				t.Errorf("worker %d failed: %v", i, res.Err)
			}
		}(i)
	}
	wg.Wait()

	all, err := h.Store.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one memory, got %d: %+v", len(all), all)
	}
	if h.EventCount(event.MemoryAdded) != 1 {
		t.Errorf("expected one add event, got %d", h.EventCount(event.MemoryAdded))
	}
	if h.EventCount(event.MemoryUpdated) != workers-1 {
		t.Errorf("expected %d update events, got %d", workers-1, h.EventCount(event.MemoryUpdated))
	}
}

// duplicatingStore reports a duplicate on the first Add to simulate a writer
// in another process winning the race.
type duplicatingStore struct {
	*memory.InMemoryStore
	once sync.Once
}

func (s *duplicatingStore) Add(ctx context.Context, m memory.Memory) error {
	s.once.Do(func() {
		_ = s.InMemoryStore.Add(ctx, memory.Memory{Title: m.Title, Content: "older", Importance: 3})
	})
	return s.InMemoryStore.Add(ctx, m)
}

func TestPipeline_DuplicateOnAddBecomesUpdate(t *testing.T) {
	h := testutil.NewTestHarness(t)
	store := &duplicatingStore{InMemoryStore: h.Store}
	p := NewPipeline(store, fixedStrategy{candidate: func(string) RawCandidate {
		return RawCandidate{ShouldSave: true, Title: "Home", Content: "Lives in Lisbon.", Importance: 6}
	}}, Options{Bus: h.EventBus})

	res := p.Process(context.Background(), "I live in Lisbon", nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ActionsTaken[0] != `Updated memory: "Home"` {
		t.Errorf("expected update after duplicate, got %v", res.ActionsTaken)
	}
	all, _ := h.Store.Read(context.Background())
	if len(all) != 1 || all[0].Content != "Lives in Lisbon." {
		t.Errorf("unexpected store contents: %+v", all)
	}
}

func TestPipeline_HeuristicIdempotent(t *testing.T) {
	h := testutil.NewTestHarness(t)
	s := NewHeuristicStrategy(h.Store)
	s.now = func() time.Time { return fixedNow }
	p := NewPipeline(h.Store, s, Options{Bus: h.EventBus, Logger: h.Logger})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if res := p.Process(ctx, "Call me Alex", nil); !res.Success {
			t.Fatalf("run %d failed: %v", i, res.Err)
		}
	}
	all, _ := h.Store.Read(ctx)
	if len(all) != 1 {
		t.Fatalf("expected one memory, got %+v", all)
	}
	if all[0].Title != "User identity (2026-03-14 09:30)" || all[0].Importance != 7 {
		t.Errorf("unexpected memory: %+v", all[0])
	}
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("pet")
	unlock()
	if len(k.locks) != 0 {
		t.Errorf("expected idle entry freed, have %d", len(k.locks))
	}
}
