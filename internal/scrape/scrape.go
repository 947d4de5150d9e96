// Package scrape defines the scraper contract and the fan-out that runs all
// configured sources for a cycle.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/types"
)

// Scraper is the external contract for one municipal data source. Scrape
// returns source-keyed raw rows; Normalize maps them onto the canonical
// field set and drops rows lacking a permit number.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context, startDate, endDate string) ([]types.RawPermit, error)
	Normalize(rows []types.RawPermit) []types.RawPermit
}

// Windower is optionally implemented by scrapers that need a rolling window
// wider than the default single day (sources that publish few recent rows).
type Windower interface {
	WindowDays() int
}

// SourceError wraps a scraper transport failure; it is contained per source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// SourceResult summarizes one source within a cycle.
type SourceResult struct {
	Source   string              `json:"source"`
	Stats    storage.InsertStats `json:"stats"`
	Duration time.Duration       `json:"duration"`
	Err      error               `json:"-"`
}

// DefaultConcurrency bounds the per-source fan-out.
const DefaultConcurrency = 3

// Inserter is the slice of the permit store the manager needs.
type Inserter interface {
	Insert(ctx context.Context, city string, rows []types.RawPermit) (storage.InsertStats, error)
}

// Manager fans out over the configured scrapers and ingests their output.
type Manager struct {
	scrapers []Scraper
	store    Inserter
	logger   *slog.Logger
	now      func() time.Time // injectable for tests
}

// NewManager creates a Manager. A nil logger discards.
func NewManager(scrapers []Scraper, store Inserter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{scrapers: scrapers, store: store, logger: logger, now: time.Now}
}

// window computes the date range for one scraper: same-day by default, a
// rolling window for scrapers that declare one.
func (m *Manager) window(s Scraper) (string, string) {
	end := m.now()
	start := end
	if w, ok := s.(Windower); ok && w.WindowDays() > 0 {
		start = end.AddDate(0, 0, -w.WindowDays())
	}
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}

// ScrapeAll runs every scraper concurrently and inserts the normalized rows.
// A failing source contributes zero rows and its error; the cycle goes on.
// Results come back sorted by source name.
func (m *Manager) ScrapeAll(ctx context.Context) []SourceResult {
	var mu sync.Mutex
	results := make([]SourceResult, 0, len(m.scrapers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)
	for _, s := range m.scrapers {
		g.Go(func() error {
			res := m.scrapeOne(gctx, s)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil // contained
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Source < results[j].Source })
	return results
}

func (m *Manager) scrapeOne(ctx context.Context, s Scraper) SourceResult {
	start := time.Now()
	res := SourceResult{Source: s.Name()}

	from, to := m.window(s)
	raw, err := s.Scrape(ctx, from, to)
	if err != nil {
		res.Err = &SourceError{Source: s.Name(), Err: err}
		res.Duration = time.Since(start)
		m.logger.Error("scrape failed", "source", s.Name(), "error", err)
		return res
	}

	rows := s.Normalize(raw)
	dropped := len(raw) - len(rows)

	stats, err := m.store.Insert(ctx, s.Name(), rows)
	if err != nil {
		res.Err = fmt.Errorf("ingest for source %s: %w", s.Name(), err)
		res.Duration = time.Since(start)
		return res
	}
	stats.Dropped += dropped
	res.Stats = stats
	res.Duration = time.Since(start)
	m.logger.Info("source scraped", "source", s.Name(),
		"window_start", from, "window_end", to,
		"inserted", stats.Inserted, "skipped", stats.Skipped, "dropped", stats.Dropped)
	return res
}
