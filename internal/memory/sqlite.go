package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// sqliteDriverName is go-sqlite3 with mneme's ranking functions registered
// on every connection.
const sqliteDriverName = "sqlite3_mneme"

func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("mneme_rank", matchInfoRank, true); err != nil {
				return err
			}
			return conn.RegisterFunc("mneme_fuzzy", fuzzyScore, true)
		},
	})
}

// SQLiteStore persists memories in a SQLite database with an FTS4 index.
type SQLiteStore struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the SQLite database at path.
func NewSQLiteStore(path string, logger Logger) (*SQLiteStore, error) {
	if path == "" {
		path = ".mneme/memory.db"
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(sqliteDriverName, path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db, logger: orNop(logger), now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate memory database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		title_key TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		importance INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance DESC);

	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts4(title, content);

	CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(docid, title, content) VALUES (new.id, new.title, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE ON memories BEGIN
		DELETE FROM memories_fts WHERE docid = old.id;
		INSERT INTO memories_fts(docid, title, content) VALUES (new.id, new.title, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
		DELETE FROM memories_fts WHERE docid = old.id;
	END;
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.migrateTitleKey()
}

// migrateTitleKey upgrades databases created before titles carried a folded
// key. SQLite's NOCASE only folds ASCII, so uniqueness is enforced on
// TitleKey instead.
func (s *SQLiteStore) migrateTitleKey() error {
	var n int
	err := s.db.QueryRow(
		"SELECT count(*) FROM pragma_table_info('memories') WHERE name = 'title_key'",
	).Scan(&n)
	if err != nil || n > 0 {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("ALTER TABLE memories ADD COLUMN title_key TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	rows, err := tx.Query("SELECT id, title FROM memories")
	if err != nil {
		return err
	}
	keys := map[int64]string{}
	for rows.Next() {
		var id int64
		var title string
		if err := rows.Scan(&id, &title); err != nil {
			rows.Close()
			return err
		}
		keys[id] = TitleKey(title)
	}
	rows.Close()
	for id, key := range keys {
		if _, err := tx.Exec("UPDATE memories SET title_key = ? WHERE id = ?", key, id); err != nil {
			return err
		}
	}
	if _, err := tx.Exec("CREATE UNIQUE INDEX idx_memories_title_key ON memories(title_key)"); err != nil {
		return fmt.Errorf("titles differ only by case: %w", err)
	}
	s.logger.Warn("Added title keys to memory database", "rows", len(keys))
	return tx.Commit()
}

// DB exposes the underlying handle for maintenance and tests.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

const memoryColumns = "title, content, importance, created_at, updated_at"

// Read returns valid memories ordered by importance.
func (s *SQLiteStore) Read(ctx context.Context) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		ORDER BY importance DESC, title ASC
	`)
	if err != nil {
		return nil, unavailable("read memories", err)
	}
	defer rows.Close()

	var all []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.Title, &m.Content, &m.Importance, &m.CreatedAt, &m.UpdatedAt); err != nil {
			s.logger.Warn("Skipping unreadable memory row", "error", err)
			continue
		}
		all = append(all, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read memories", err)
	}

	valid, dropped := filterValid(all)
	logDropped(s.logger, dropped)
	return valid, nil
}

// Write replaces every memory inside one transaction.
func (s *SQLiteStore) Write(ctx context.Context, all []Memory) error {
	batch, err := checkBatch(all)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin write", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memories"); err != nil {
		return unavailable("clear before write", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memories (title, title_key, content, importance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return unavailable("prepare insert", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, m := range batch {
		if _, err := stmt.ExecContext(ctx, m.Title, TitleKey(m.Title), m.Content, m.Importance, now, now); err != nil {
			return unavailable("insert memory", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit write", err)
	}
	return nil
}

// Add inserts one memory.
func (s *SQLiteStore) Add(ctx context.Context, m Memory) error {
	m = m.Normalize()
	if err := m.Validate(); err != nil {
		return err
	}

	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (title, title_key, content, importance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.Title, TitleKey(m.Title), m.Content, m.Importance, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate(m.Title, err)
		}
		return unavailable("add memory", err)
	}
	return nil
}

// Update patches the memory matched by title.
func (s *SQLiteStore) Update(ctx context.Context, title string, patch Patch) (Memory, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Memory{}, unavailable("begin update", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT title FROM memories WHERE instr(title_key, ?) > 0",
		TitleKey(title))
	if err != nil {
		return Memory{}, unavailable("match memory title", err)
	}
	var candidates []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return Memory{}, unavailable("match memory title", err)
		}
		candidates = append(candidates, t)
	}
	rows.Close()

	target, err := resolveTitle(candidates, title)
	if err != nil {
		return Memory{}, err
	}

	var current Memory
	var id int64
	err = tx.QueryRowContext(ctx,
		"SELECT id, "+memoryColumns+" FROM memories WHERE title_key = ?", TitleKey(target),
	).Scan(&id, &current.Title, &current.Content, &current.Importance, &current.CreatedAt, &current.UpdatedAt)
	if err != nil {
		return Memory{}, unavailable("load memory", err)
	}

	updated := patch.Apply(current).Normalize()
	if err := updated.Validate(); err != nil {
		return Memory{}, err
	}
	updated.UpdatedAt = s.now()

	_, err = tx.ExecContext(ctx, `
		UPDATE memories SET title = ?, title_key = ?, content = ?, importance = ?, updated_at = ?
		WHERE id = ?
	`, updated.Title, TitleKey(updated.Title), updated.Content, updated.Importance, updated.UpdatedAt, id)
	if err != nil {
		if isUniqueViolation(err) {
			return Memory{}, duplicate(updated.Title, err)
		}
		return Memory{}, unavailable("update memory", err)
	}

	if err := tx.Commit(); err != nil {
		return Memory{}, unavailable("commit update", err)
	}
	return updated, nil
}

// Delete removes the memory whose title matches exactly, ignoring case.
func (s *SQLiteStore) Delete(ctx context.Context, title string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE title_key = ?", TitleKey(title))
	if err != nil {
		return unavailable("delete memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("delete memory", err)
	}
	if n == 0 {
		return notFound(title)
	}
	return nil
}

// ClearAll wipes the table.
func (s *SQLiteStore) ClearAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories")
	if err != nil {
		return 0, unavailable("clear memories", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FullText ranks memories with the FTS4 index. Each query term is OR'd so
// partial matches still rank; mneme_rank weighs title hits over content hits.
func (s *SQLiteStore) FullText(ctx context.Context, query string, limit int) ([]Memory, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.title, m.content, m.importance, m.created_at, m.updated_at,
			mneme_rank(matchinfo(memories_fts, 'pcx')) AS score
		FROM memories_fts
		JOIN memories m ON m.id = memories_fts.docid
		WHERE memories_fts MATCH ?
		ORDER BY score DESC, m.importance DESC
		LIMIT ?
	`, strings.Join(quoted, " OR "), limit)
	if err != nil {
		return nil, unavailable("full-text search", err)
	}
	return s.scanScored(rows)
}

// Trigram ranks memories by fuzzy similarity to the query.
func (s *SQLiteStore) Trigram(ctx context.Context, query string, limit int) ([]Memory, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT title, content, importance, created_at, updated_at,
			mneme_fuzzy(?1, title, content) * 100 AS score
		FROM memories
		WHERE mneme_fuzzy(?1, title, content) >= ?2
		ORDER BY score DESC, importance DESC
		LIMIT ?3
	`, query, DefaultSimilarityThreshold, limit)
	if err != nil {
		return nil, unavailable("trigram search", err)
	}
	return s.scanScored(rows)
}

func (s *SQLiteStore) scanScored(rows *sql.Rows) ([]Memory, error) {
	defer rows.Close()
	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.Title, &m.Content, &m.Importance, &m.CreatedAt, &m.UpdatedAt, &m.Score); err != nil {
			return nil, unavailable("scan search row", err)
		}
		if err := m.Validate(); err != nil {
			s.logger.Warn("Dropping invalid search row", "title", m.Title, "error", err)
			continue
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("search rows", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// matchInfoRank scores an FTS4 matchinfo('pcx') blob on a 0..100 scale.
// Layout: [phrases, columns, then per phrase per column: hits-this-row,
// hits-all-rows, rows-with-hits]. Column 0 is title, column 1 is content.
func matchInfoRank(info []byte) float64 {
	if len(info) < 8 {
		return 0
	}
	u32 := func(i int) uint32 {
		return binary.NativeEndian.Uint32(info[i*4:])
	}
	phrases, cols := int(u32(0)), int(u32(1))
	if phrases == 0 || cols == 0 || len(info) < 4*(2+3*phrases*cols) {
		return 0
	}

	var score float64
	for p := 0; p < phrases; p++ {
		for c := 0; c < cols && c < 2; c++ {
			hits := u32(2 + 3*(c+p*cols))
			if hits == 0 {
				continue
			}
			if c == 0 {
				score += 2
			} else {
				score += 1
			}
		}
	}
	return score / float64(3*phrases) * 100
}
