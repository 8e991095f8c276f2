package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a map-backed Store for tests and the "memory" driver.
// It has no server-side text search, so searches over it use keyword scoring.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Memory // keyed by TitleKey
	logger  Logger
	now     func() time.Time

	// FailWith, when set, is returned by every operation. Tests use it to
	// simulate an unreachable backing store.
	FailWith error
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(logger Logger) *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]Memory),
		logger:  orNop(logger),
		now:     time.Now,
	}
}

// Seed inserts records without validation. Used to model corrupt rows.
func (s *InMemoryStore) Seed(records ...Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range records {
		s.records[TitleKey(m.Title)] = m
	}
}

func (s *InMemoryStore) fail(op string) error {
	if s.FailWith != nil {
		return unavailable(op, s.FailWith)
	}
	return nil
}

// Read returns valid memories ordered by importance.
func (s *InMemoryStore) Read(ctx context.Context) ([]Memory, error) {
	if err := s.fail("read memories"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := make([]Memory, 0, len(s.records))
	for _, m := range s.records {
		all = append(all, m)
	}
	s.mu.RUnlock()

	valid, dropped := filterValid(all)
	logDropped(s.logger, dropped)
	sortByImportance(valid)
	return valid, nil
}

// Write replaces every record.
func (s *InMemoryStore) Write(ctx context.Context, all []Memory) error {
	if err := s.fail("write memories"); err != nil {
		return err
	}
	batch, err := checkBatch(all)
	if err != nil {
		return err
	}

	now := s.now()
	next := make(map[string]Memory, len(batch))
	for _, m := range batch {
		m.CreatedAt, m.UpdatedAt = now, now
		next[TitleKey(m.Title)] = m
	}

	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
	return nil
}

// Add inserts one memory.
func (s *InMemoryStore) Add(ctx context.Context, m Memory) error {
	if err := s.fail("add memory"); err != nil {
		return err
	}
	m = m.Normalize()
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := TitleKey(m.Title)
	if _, exists := s.records[key]; exists {
		return duplicate(m.Title, nil)
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	s.records[key] = m
	return nil
}

// Update patches the memory matched by title.
func (s *InMemoryStore) Update(ctx context.Context, title string, patch Patch) (Memory, error) {
	if err := s.fail("update memory"); err != nil {
		return Memory{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	titles := make([]string, 0, len(s.records))
	for _, m := range s.records {
		titles = append(titles, m.Title)
	}
	target, err := resolveTitle(titles, title)
	if err != nil {
		return Memory{}, err
	}

	oldKey := TitleKey(target)
	updated := patch.Apply(s.records[oldKey]).Normalize()
	if err := updated.Validate(); err != nil {
		return Memory{}, err
	}
	newKey := TitleKey(updated.Title)
	if newKey != oldKey {
		if _, taken := s.records[newKey]; taken {
			return Memory{}, duplicate(updated.Title, nil)
		}
		delete(s.records, oldKey)
	}
	updated.UpdatedAt = s.now()
	s.records[newKey] = updated
	return updated, nil
}

// Delete removes the memory with this exact title.
func (s *InMemoryStore) Delete(ctx context.Context, title string) error {
	if err := s.fail("delete memory"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := TitleKey(title)
	if _, ok := s.records[key]; !ok {
		return notFound(title)
	}
	delete(s.records, key)
	return nil
}

// ClearAll wipes the store.
func (s *InMemoryStore) ClearAll(ctx context.Context) (int, error) {
	if err := s.fail("clear memories"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records)
	s.records = make(map[string]Memory)
	return n, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

func sortByImportance(ms []Memory) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Importance != ms[j].Importance {
			return ms[i].Importance > ms[j].Importance
		}
		return strings.ToLower(ms[i].Title) < strings.ToLower(ms[j].Title)
	})
}
