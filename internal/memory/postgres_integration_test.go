//go:build integration

package memory

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
)

// Run with: MNEME_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/memory/
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("MNEME_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MNEME_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn, nil)
	require.NoError(t, err)
	_, err = s.ClearAll(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.ClearAll(context.Background())
		s.Close()
	})
	return s
}

func TestPostgresStore_CRUD(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	seedPetFood(t, s)

	all, err := s.Read(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Pet", all[0].Title)

	err = s.Add(ctx, Memory{Title: "pet", Content: "dog", Importance: 5})
	assert.True(t, errors.Is(err, mnemeErrors.ErrDuplicateTitle))

	updated, err := s.Update(ctx, "FOOD", Patch{Content: strPtr("likes sushi")})
	require.NoError(t, err)
	assert.Equal(t, "likes sushi", updated.Content)

	assert.True(t, errors.Is(s.Delete(ctx, "missing"), mnemeErrors.ErrNotFound))
	require.NoError(t, s.Delete(ctx, "pet"))

	n, err := s.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostgresStore_Search(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	seedPetFood(t, s)

	results, err := s.FullText(ctx, "What's my name?", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "User identity", results[0].Title)

	results, err = s.Trigram(ctx, "piza", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Food", results[0].Title)

	searcher := NewSearcher(s, SearcherOptions{})
	_, strategy := searcher.Search(ctx, "cat", nil)
	assert.Equal(t, StrategyFullText, strategy)
}
