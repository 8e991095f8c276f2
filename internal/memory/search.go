package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cadre-oss/mneme/internal/telemetry"
)

// Strategy names the search path that produced a result set.
type Strategy string

const (
	StrategyFullText Strategy = "fulltext"
	StrategyTrigram  Strategy = "trigram"
	StrategyKeyword  Strategy = "keyword"
	StrategyNone     Strategy = "none"
)

// DefaultSearchLimit is the primary strategy's default result count.
const DefaultSearchLimit = 5

var errNoTextSearch = errors.New("store has no text search")

// SearcherOptions configures a Searcher.
type SearcherOptions struct {
	Limit         int // primary strategy limit
	FallbackLimit int // in-process keyword limit
	Cache         *ResultCache
	Logger        Logger
	Metrics       *telemetry.Metrics
}

// Searcher ranks memories against a query. It prefers the store's own text
// search and degrades to keyword scoring over the caller's local list.
type Searcher struct {
	store         Store
	limit         int
	fallbackLimit int
	cache         *ResultCache
	logger        Logger
	metrics       *telemetry.Metrics
}

// NewSearcher creates a searcher over store.
func NewSearcher(store Store, opts SearcherOptions) *Searcher {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.FallbackLimit <= 0 {
		opts.FallbackLimit = DefaultKeywordResults
	}
	return &Searcher{
		store:         store,
		limit:         opts.Limit,
		fallbackLimit: opts.FallbackLimit,
		cache:         opts.Cache,
		logger:        orNop(opts.Logger),
		metrics:       opts.Metrics,
	}
}

// Search never fails: primary errors are logged and answered from local.
func (s *Searcher) Search(ctx context.Context, query string, local []Memory) ([]Memory, Strategy) {
	return s.SearchN(ctx, query, local, 0)
}

// SearchN is Search with an explicit result cap; n <= 0 uses the defaults.
func (s *Searcher) SearchN(ctx context.Context, query string, local []Memory, n int) ([]Memory, Strategy) {
	if strings.TrimSpace(query) == "" {
		return nil, StrategyNone
	}

	ctx, span := telemetry.StartSpan(ctx, "memory.search", attribute.Int("query.length", len(query)))
	defer span.End()
	start := time.Now()

	limit := s.limit
	if n > 0 {
		limit = n
	}

	results, strategy, err := s.primary(ctx, query, limit)
	if err != nil {
		if !errors.Is(err, errNoTextSearch) {
			s.logger.Warn("Primary memory search failed, using keyword fallback", "error", err)
			s.metrics.IncFallback(ctx)
			span.RecordError(err)
		}
		fallback := s.fallbackLimit
		if n > 0 {
			fallback = n
		}
		results, strategy = KeywordSearch(local, query, fallback), StrategyKeyword
	}

	span.SetAttributes(
		attribute.String("search.strategy", string(strategy)),
		attribute.Int("search.results", len(results)),
	)
	s.metrics.RecordSearch(ctx, string(strategy), float64(time.Since(start).Microseconds())/1000)
	s.logger.Debug("Memory search complete", "strategy", strategy, "results", len(results))
	return results, strategy
}

func (s *Searcher) primary(ctx context.Context, query string, limit int) ([]Memory, Strategy, error) {
	ts, ok := s.store.(TextSearcher)
	if !ok {
		return nil, "", errNoTextSearch
	}

	gen := s.cache.Generation()
	if cached, strategy, ok := s.cache.Get(query, limit); ok {
		return cached, strategy, nil
	}

	results, err := ts.FullText(ctx, query, limit)
	if err != nil {
		return nil, "", err
	}
	strategy := StrategyFullText
	if len(results) == 0 {
		results, err = ts.Trigram(ctx, query, limit)
		if err != nil {
			return nil, "", err
		}
		strategy = StrategyTrigram
	}

	if !s.cache.Set(query, limit, results, strategy, gen) {
		s.logger.Debug("Memory changed during search, result not cached")
	}
	return results, strategy, nil
}

// Invalidate drops cached results; call after any write.
func (s *Searcher) Invalidate() {
	s.cache.Purge()
}
