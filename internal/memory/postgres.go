package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists memories in PostgreSQL with tsvector full-text
// ranking and pg_trgm similarity search.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger Logger
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string, logger Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, unavailable("connect postgres", errors.New("empty connection string"))
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, unavailable("connect postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping postgres", err)
	}

	s := &PostgresStore{pool: pool, logger: orNop(logger)}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate memory database: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE TABLE IF NOT EXISTS memory (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			importance INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			search_vector tsvector GENERATED ALWAYS AS (
				setweight(to_tsvector('english', coalesce(title, '')), 'A') ||
				setweight(to_tsvector('english', coalesce(content, '')), 'B')
			) STORED
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS memory_title_key ON memory (lower(title))`,
		`CREATE INDEX IF NOT EXISTS memory_search_idx ON memory USING GIN (search_vector)`,
		`CREATE INDEX IF NOT EXISTS memory_title_trgm_idx ON memory USING GIN (title gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS memory_content_trgm_idx ON memory USING GIN (content gin_trgm_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Read returns valid memories ordered by importance.
func (s *PostgresStore) Read(ctx context.Context) ([]Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT title, content, importance, created_at, updated_at
		FROM memory
		ORDER BY importance DESC, title ASC
	`)
	if err != nil {
		return nil, unavailable("read memories", err)
	}
	all, err := pgx.CollectRows(rows, scanMemory)
	if err != nil {
		return nil, unavailable("read memories", err)
	}

	valid, dropped := filterValid(all)
	logDropped(s.logger, dropped)
	return valid, nil
}

// Write replaces every memory inside one transaction.
func (s *PostgresStore) Write(ctx context.Context, all []Memory) error {
	batch, err := checkBatch(all)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM memory"); err != nil {
			return unavailable("clear before write", err)
		}
		rows := make([][]any, len(batch))
		now := time.Now()
		for i, m := range batch {
			rows[i] = []any{m.Title, m.Content, m.Importance, now, now}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"memory"},
			[]string{"title", "content", "importance", "created_at", "updated_at"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return unavailable("insert memories", err)
		}
		return nil
	})
}

// Add inserts one memory.
func (s *PostgresStore) Add(ctx context.Context, m Memory) error {
	m = m.Normalize()
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO memory (title, content, importance) VALUES ($1, $2, $3)",
		m.Title, m.Content, m.Importance)
	if err != nil {
		if isPgUniqueViolation(err) {
			return duplicate(m.Title, err)
		}
		return unavailable("add memory", err)
	}
	return nil
}

// Update patches the memory matched by title.
func (s *PostgresStore) Update(ctx context.Context, title string, patch Patch) (Memory, error) {
	var updated Memory
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT title FROM memory WHERE strpos(lower(title), lower($1)) > 0",
			strings.TrimSpace(title))
		if err != nil {
			return unavailable("match memory title", err)
		}
		candidates, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return unavailable("match memory title", err)
		}

		target, err := resolveTitle(candidates, title)
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `
			SELECT title, content, importance, created_at, updated_at
			FROM memory WHERE title = $1 FOR UPDATE
		`, target)
		if err != nil {
			return unavailable("load memory", err)
		}
		current, err := pgx.CollectExactlyOneRow(rows, scanMemory)
		if err != nil {
			return unavailable("load memory", err)
		}

		updated = patch.Apply(current).Normalize()
		if err := updated.Validate(); err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			UPDATE memory SET title = $1, content = $2, importance = $3, updated_at = now()
			WHERE title = $4
			RETURNING updated_at
		`, updated.Title, updated.Content, updated.Importance, target).Scan(&updated.UpdatedAt)
		if err != nil {
			if isPgUniqueViolation(err) {
				return duplicate(updated.Title, err)
			}
			return unavailable("update memory", err)
		}
		return nil
	})
	if err != nil {
		return Memory{}, err
	}
	return updated, nil
}

// Delete removes the memory with this exact title (case-insensitive).
func (s *PostgresStore) Delete(ctx context.Context, title string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM memory WHERE lower(title) = lower($1)", strings.TrimSpace(title))
	if err != nil {
		return unavailable("delete memory", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(title)
	}
	return nil
}

// ClearAll wipes the table.
func (s *PostgresStore) ClearAll(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM memory")
	if err != nil {
		return 0, unavailable("clear memories", err)
	}
	return int(tag.RowsAffected()), nil
}

// FullText ranks with ts_rank over the weighted search vector.
func (s *PostgresStore) FullText(ctx context.Context, query string, limit int) ([]Memory, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT title, content, importance, created_at, updated_at,
			LEAST(100, ts_rank(search_vector, q) * 100)::float8 AS score
		FROM memory, to_tsquery('english', $1) q
		WHERE search_vector @@ q
		ORDER BY score DESC, importance DESC
		LIMIT $2
	`, strings.Join(terms, " | "), limit)
	if err != nil {
		return nil, unavailable("full-text search", err)
	}
	return s.collectScored(rows)
}

// Trigram ranks with pg_trgm similarity on title and word similarity on content.
func (s *PostgresStore) Trigram(ctx context.Context, query string, limit int) ([]Memory, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT title, content, importance, created_at, updated_at, score * 100 AS score
		FROM (
			SELECT *, GREATEST(similarity($1, title), word_similarity($1, content))::float8 AS score
			FROM memory
		) ranked
		WHERE score >= $2
		ORDER BY score DESC, importance DESC
		LIMIT $3
	`, query, DefaultSimilarityThreshold, limit)
	if err != nil {
		return nil, unavailable("trigram search", err)
	}
	return s.collectScored(rows)
}

func (s *PostgresStore) collectScored(rows pgx.Rows) ([]Memory, error) {
	all, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Memory, error) {
		var m Memory
		err := row.Scan(&m.Title, &m.Content, &m.Importance, &m.CreatedAt, &m.UpdatedAt, &m.Score)
		return m, err
	})
	if err != nil {
		return nil, unavailable("scan search rows", err)
	}
	valid, dropped := filterValid(all)
	logDropped(s.logger, dropped)
	return valid, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanMemory(row pgx.CollectableRow) (Memory, error) {
	var m Memory
	err := row.Scan(&m.Title, &m.Content, &m.Importance, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
