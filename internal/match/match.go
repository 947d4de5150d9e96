// Package match runs the per-client sequential pipeline: structural filter,
// inclusion keywords, exclusion keywords, semantic ranking.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/permitflow/permitflow/internal/search"
	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/types"
	"github.com/permitflow/permitflow/internal/wordmatch"
)

// PoolLimit caps the structural candidate pool per client.
const PoolLimit = 1000

// DefaultPerClientTopK caps each client's semantic set before contention.
const DefaultPerClientTopK = 200

// DefaultMatchConcurrency bounds the per-client fan-out.
const DefaultMatchConcurrency = 4

// Options are request-level overrides that supersede a client's own
// preferences. A nil Query means "use the client's"; a pointer to the empty
// string forces unranked retrieval.
type Options struct {
	Query   *string
	Filters *storage.Filters
	TopK    int
}

// ClientError records one contained per-client failure.
type ClientError struct {
	ClientID int64
	Name     string
	Err      error
}

func (e ClientError) Error() string {
	return fmt.Sprintf("client %d (%s): %v", e.ClientID, e.Name, e.Err)
}

// Store is the slice of the permit store the matcher needs.
type Store interface {
	QueryFiltered(ctx context.Context, filters *storage.Filters, limit int) ([]*types.Permit, error)
}

// Matcher produces the three result sets for each client.
type Matcher struct {
	store       Store
	searcher    *search.Searcher
	logger      *slog.Logger
	topK        int
	concurrency int
}

// New creates a Matcher. topK <= 0 uses DefaultPerClientTopK.
func New(store Store, searcher *search.Searcher, topK int, logger *slog.Logger) *Matcher {
	if topK <= 0 {
		topK = DefaultPerClientTopK
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Matcher{
		store:       store,
		searcher:    searcher,
		logger:      logger,
		topK:        topK,
		concurrency: DefaultMatchConcurrency,
	}
}

// clientFilters builds the structural filter set: request-level overrides
// win wholesale, otherwise the client's profile supplies each field.
func clientFilters(c *types.ClientProfile, opts Options) *storage.Filters {
	if opts.Filters != nil {
		return opts.Filters
	}
	f := &storage.Filters{}
	if c.City != "" {
		f.City = []string{c.City}
	}
	if c.PermitType != "" {
		f.PermitType = []string{c.PermitType}
	}
	if c.PermitClassMapped != "" {
		f.PermitClassMapped = []string{c.PermitClassMapped}
	}
	if len(c.WorkClasses) > 0 {
		f.WorkClass = append([]string(nil), c.WorkClasses...)
	}
	return f
}

// ResolveQuery picks the semantic query: request override, else the client's
// seed, else a query inferred from structural preferences, else a generic
// construction query.
func ResolveQuery(c *types.ClientProfile, opts Options) string {
	if opts.Query != nil {
		return *opts.Query
	}
	if q := strings.TrimSpace(c.RAGQuery); q != "" {
		return q
	}
	parts := make([]string, 0, 3)
	for _, v := range []string{c.PermitClassMapped, c.PermitType, c.City} {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "construction permit"
	}
	return strings.Join(parts, " ")
}

// MatchClient runs the four-stage pipeline for one client.
func (m *Matcher) MatchClient(ctx context.Context, c *types.ClientProfile, opts Options) (types.ResultSets, error) {
	var sets types.ResultSets

	// Stage 1: structural filter.
	pool, err := m.store.QueryFiltered(ctx, clientFilters(c, opts), PoolLimit)
	if err != nil {
		return sets, fmt.Errorf("structural filter: %w", err)
	}

	// Stage 2: inclusion keywords (OR, whole word). No keywords passes the
	// pool through untouched.
	inclusion := pool
	if len(c.KeywordsInclude) > 0 {
		inclusion = inclusion[:0:0]
		for _, p := range pool {
			if _, ok := wordmatch.FirstMatch(c.KeywordsInclude, p.Description); ok {
				inclusion = append(inclusion, p)
			}
		}
	}
	sets.Inclusion = inclusion

	// Stage 3: exclusion keywords partition the inclusion set. Removed rows
	// are kept for auditability, never for contention or the ledger.
	cleaned := inclusion
	if len(c.KeywordsExclude) > 0 {
		cleaned = cleaned[:0:0]
		for _, p := range inclusion {
			if kw, ok := wordmatch.FirstMatch(c.KeywordsExclude, p.Description); ok {
				sets.Exclusion = append(sets.Exclusion, types.ExcludedPermit{
					Permit: p,
					Reason: fmt.Sprintf("contained keyword '%s'", kw),
				})
			} else {
				cleaned = append(cleaned, p)
			}
		}
	}

	// Stage 4: semantic ranking over the cleaned set.
	if len(cleaned) == 0 {
		return sets, nil
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = m.topK
	}
	semantic, usedFallback, err := m.searcher.RankOrFallback(ctx, ResolveQuery(c, opts), cleaned, topK)
	if err != nil {
		return sets, fmt.Errorf("semantic ranking: %w", err)
	}
	if usedFallback {
		m.logger.Warn("matcher used text-score fallback", "client", c.ID)
	}
	sets.Semantic = semantic
	return sets, nil
}

// MatchAll runs every client, bounded-concurrently. Per-client failures are
// contained and reported; successful assignments come back in client id
// order so downstream stages are deterministic.
func (m *Matcher) MatchAll(ctx context.Context, clients []*types.ClientProfile, opts Options) ([]types.Assignment, []ClientError) {
	var mu sync.Mutex
	var assignments []types.Assignment
	var failures []ClientError

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, c := range clients {
		g.Go(func() error {
			sets, err := m.MatchClient(gctx, c, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Error("matcher failed for client", "client", c.ID, "error", err)
				failures = append(failures, ClientError{ClientID: c.ID, Name: c.Name, Err: err})
				return nil // contained
			}
			assignments = append(assignments, types.Assignment{Client: c, Sets: sets})
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].Client.ID < assignments[j].Client.ID
	})
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].ClientID < failures[j].ClientID
	})
	return assignments, failures
}
