// Package search combines structured filtering, keyword matching, and
// semantic ranking into one unified retrieval entry point.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/permitflow/permitflow/internal/index"
	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/types"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeDual     Mode = "dual"
)

// Defaults mirroring the configuration surface.
const (
	DefaultTopK       = 20
	DefaultOversample = 5

	// minOverlap is the fraction of filtered candidates that must appear in
	// the index before semantic scores are trusted; below it the text-score
	// fallback takes over.
	minOverlap = 0.5
)

// Request is one unified search call.
type Request struct {
	Query        string
	Mode         Mode
	Filters      *storage.Filters
	TopK         int
	Oversample   int
	ReturnScores bool
}

// Result holds up to two independent result sets. Keyword is populated for
// keyword and dual modes, Semantic for semantic and dual modes. No
// deduplication is performed between them.
type Result struct {
	Keyword  []types.ScoredPermit `json:"keyword,omitempty"`
	Semantic []types.ScoredPermit `json:"semantic,omitempty"`
	// UsedFallback is true when the semantic set came from the whole-word
	// text scorer instead of the vector index.
	UsedFallback bool `json:"used_fallback,omitempty"`
}

// Store is the slice of the permit store retrieval needs.
type Store interface {
	QueryFiltered(ctx context.Context, filters *storage.Filters, limit int) ([]*types.Permit, error)
	SearchDescription(ctx context.Context, substr string, filters *storage.Filters, limit int) ([]*types.Permit, error)
}

// Searcher evaluates unified search requests against a permit store and an
// index snapshot.
type Searcher struct {
	store  Store
	idx    *index.Manager
	logger *slog.Logger
}

// New creates a Searcher. A nil logger discards.
func New(store Store, idx *index.Manager, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Searcher{store: store, idx: idx, logger: logger}
}

// Unified runs one search request.
func (s *Searcher) Unified(ctx context.Context, req Request) (*Result, error) {
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.Oversample <= 0 {
		req.Oversample = DefaultOversample
	}

	res := &Result{}
	switch req.Mode {
	case ModeKeyword:
		rows, err := s.keyword(ctx, req)
		if err != nil {
			return nil, err
		}
		res.Keyword = rows
	case ModeSemantic, "":
		rows, fallback, err := s.semantic(ctx, req)
		if err != nil {
			return nil, err
		}
		res.Semantic = rows
		res.UsedFallback = fallback
	case ModeDual:
		kw, err := s.keyword(ctx, req)
		if err != nil {
			return nil, err
		}
		sem, fallback, err := s.semantic(ctx, req)
		if err != nil {
			return nil, err
		}
		res.Keyword = kw
		res.Semantic = sem
		res.UsedFallback = fallback
	default:
		return nil, fmt.Errorf("unknown search mode %q", req.Mode)
	}
	return res, nil
}

func (s *Searcher) keyword(ctx context.Context, req Request) ([]types.ScoredPermit, error) {
	rows, err := s.store.SearchDescription(ctx, req.Query, req.Filters, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	out := make([]types.ScoredPermit, len(rows))
	for i, p := range rows {
		out[i] = types.ScoredPermit{Permit: p}
	}
	return out, nil
}

// PoolSize computes the database candidate pool for semantic search. A wider
// pool when filters are present keeps the ranking from starving on selective
// filters.
func PoolSize(topK, oversample int, hasFilters bool) int {
	if hasFilters {
		return max(topK*oversample, 1000)
	}
	return max(topK*3, 500)
}

func (s *Searcher) semantic(ctx context.Context, req Request) ([]types.ScoredPermit, bool, error) {
	poolSize := PoolSize(req.TopK, req.Oversample, !req.Filters.Empty())
	pool, err := s.store.QueryFiltered(ctx, req.Filters, poolSize)
	if err != nil {
		return nil, false, fmt.Errorf("semantic search: filtered pool: %w", err)
	}
	if len(pool) == 0 {
		return nil, false, nil
	}

	// Empty query: degrade to filter-only retrieval, pool order.
	if req.Query == "" {
		n := min(req.TopK, len(pool))
		out := make([]types.ScoredPermit, n)
		for i := range out {
			out[i] = types.ScoredPermit{Permit: pool[i]}
		}
		return out, false, nil
	}

	ranked, ok, err := s.RankWithin(ctx, req.Query, pool, req.TopK)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return ranked, false, nil
	}

	// Index unloaded or mostly stale relative to this pool.
	s.logger.Debug("semantic search falling back to text scoring",
		"pool", len(pool), "query", req.Query)
	return scoreTextPool(req.Query, pool, req.TopK), true, nil
}

// RankWithin ranks the given permits by cosine similarity to the query.
// ok is false when the index is unloaded or fewer than half the permits are
// indexed, in which case the caller decides the fallback.
func (s *Searcher) RankWithin(ctx context.Context, query string, permits []*types.Permit, topK int) ([]types.ScoredPermit, bool, error) {
	snap := s.idx.Snapshot()
	if snap == nil || len(permits) == 0 {
		return nil, false, nil
	}

	indexed := 0
	for _, p := range permits {
		if snap.Has(p.ID) {
			indexed++
		}
	}
	if float64(indexed) < minOverlap*float64(len(permits)) {
		return nil, false, nil
	}

	qv, err := s.idx.QueryVector(ctx, query)
	if err != nil {
		return nil, false, err
	}

	scored := make([]types.ScoredPermit, 0, indexed)
	for _, p := range permits {
		// Stale candidates (absent from the index) are excluded outright.
		if score, ok := snap.Score(qv, p.ID); ok {
			scored = append(scored, types.ScoredPermit{Permit: p, Score: score})
		}
	}
	sortScored(scored)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, true, nil
}

// RankOrFallback ranks permits semantically, falling back to the text scorer
// when the index cannot cover them. The bool reports whether the fallback
// ran. An empty query returns the input order truncated to topK, unscored.
func (s *Searcher) RankOrFallback(ctx context.Context, query string, permits []*types.Permit, topK int) ([]types.ScoredPermit, bool, error) {
	if len(permits) == 0 {
		return nil, false, nil
	}
	if query == "" {
		n := min(topK, len(permits))
		out := make([]types.ScoredPermit, n)
		for i := range out {
			out[i] = types.ScoredPermit{Permit: permits[i]}
		}
		return out, false, nil
	}

	ranked, ok, err := s.RankWithin(ctx, query, permits, topK)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return ranked, false, nil
	}
	return scoreTextPool(query, permits, topK), true, nil
}

// sortScored orders by score descending, ties by permit id ascending, which
// keeps every downstream stage deterministic.
func sortScored(sp []types.ScoredPermit) {
	sort.SliceStable(sp, func(i, j int) bool {
		if sp[i].Score != sp[j].Score {
			return sp[i].Score > sp[j].Score
		}
		return sp[i].Permit.ID < sp[j].Permit.ID
	})
}
