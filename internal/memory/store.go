package memory

import (
	"context"
	"fmt"
	"strings"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
)

// Store persists memories. It is the sole owner of persisted Memory state.
type Store interface {
	// Read returns all valid memories ordered by descending importance.
	// Records failing validation are dropped with a warning.
	Read(ctx context.Context) ([]Memory, error)

	// Write atomically replaces the entire memory set.
	Write(ctx context.Context, all []Memory) error

	// Add inserts one memory. Returns a DUPLICATE_TITLE error on collision.
	Add(ctx context.Context, m Memory) error

	// Update replaces the patched fields of the memory matched by title
	// (exact case-insensitive first, then unique substring).
	Update(ctx context.Context, title string, patch Patch) (Memory, error)

	// Delete removes the memory with exactly this title (case-insensitive).
	// Returns a NOT_FOUND error when nothing matched.
	Delete(ctx context.Context, title string) error

	// ClearAll removes every memory and returns how many were removed.
	ClearAll(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// TextSearcher is implemented by stores with server-side text search.
type TextSearcher interface {
	// FullText runs a ranked full-text query.
	FullText(ctx context.Context, query string, limit int) ([]Memory, error)

	// Trigram runs a fuzzy trigram similarity query.
	Trigram(ctx context.Context, query string, limit int) ([]Memory, error)
}

// Logger is the minimal logging surface the memory package needs.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open constructs a store for the given driver. dsn is a file path for
// sqlite and a connection string for postgres; it is ignored for memory.
func Open(ctx context.Context, driver, dsn string, logger Logger) (Store, error) {
	switch driver {
	case DriverSQLite, "sqlite3", "":
		return NewSQLiteStore(dsn, logger)
	case DriverPostgres, "postgresql":
		return NewPostgresStore(ctx, dsn, logger)
	case DriverMemory:
		return NewInMemoryStore(logger), nil
	default:
		return nil, mnemeErrors.Newf(mnemeErrors.CodeConfigInvalid, "unknown store driver %q", driver).
			WithSuggestion("Use one of: sqlite, postgres, memory")
	}
}

// resolveTitle picks the stored title an update should target: an exact
// case-insensitive match wins, otherwise a single substring match.
func resolveTitle(candidates []string, title string) (string, error) {
	needle := TitleKey(title)
	if needle == "" {
		return "", mnemeErrors.New(mnemeErrors.CodeValidation, "title is required")
	}

	var partial []string
	for _, c := range candidates {
		key := TitleKey(c)
		if key == needle {
			return c, nil
		}
		if strings.Contains(key, needle) {
			partial = append(partial, c)
		}
	}

	switch len(partial) {
	case 0:
		return "", mnemeErrors.Newf(mnemeErrors.CodeNotFound, "no memory matching %q", title)
	case 1:
		return partial[0], nil
	default:
		return "", mnemeErrors.Newf(mnemeErrors.CodeValidation,
			"title %q is ambiguous: matches %d memories", title, len(partial)).
			WithSuggestion("Use the full memory title")
	}
}

// checkBatch validates a full replacement set, including title uniqueness.
func checkBatch(all []Memory) ([]Memory, error) {
	out := make([]Memory, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, m := range all {
		m = m.Normalize()
		if err := m.Validate(); err != nil {
			return nil, err
		}
		key := TitleKey(m.Title)
		if seen[key] {
			return nil, mnemeErrors.Newf(mnemeErrors.CodeValidation, "duplicate title %q in batch", m.Title)
		}
		seen[key] = true
		out = append(out, m)
	}
	return out, nil
}

func unavailable(op string, err error) error {
	return mnemeErrors.Wrap(mnemeErrors.CodeStoreUnavailable, op, err)
}

func duplicate(title string, err error) error {
	return mnemeErrors.Wrap(mnemeErrors.CodeDuplicateTitle, fmt.Sprintf("memory %q already exists", title), err)
}

func notFound(title string) error {
	return mnemeErrors.Newf(mnemeErrors.CodeNotFound, "memory %q not found", title)
}

func logDropped(logger Logger, dropped []Memory) {
	for _, m := range dropped {
		logger.Warn("Dropping invalid memory record", "title", m.Title, "importance", m.Importance)
	}
}
