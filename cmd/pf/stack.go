package main

import (
	"context"
	"fmt"

	"github.com/permitflow/permitflow/internal/config"
	"github.com/permitflow/permitflow/internal/deliver"
	"github.com/permitflow/permitflow/internal/index"
	"github.com/permitflow/permitflow/internal/match"
	"github.com/permitflow/permitflow/internal/orchestrate"
	"github.com/permitflow/permitflow/internal/resolve"
	"github.com/permitflow/permitflow/internal/scrape"
	"github.com/permitflow/permitflow/internal/search"
	"github.com/permitflow/permitflow/internal/telemetry"
)

// buildOrchestrator assembles the full cycle stack from configuration.
func buildOrchestrator(ctx context.Context) (*orchestrate.Orchestrator, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	idx := index.NewManager(cfg.RAGIndexDir, nil, cfg.BatchSize, logger)
	searcher := search.New(st, idx, logger)
	matcher := match.New(st, searcher, cfg.PerClientTopK, logger)

	scrapers, err := buildScrapers()
	if err != nil {
		return nil, err
	}

	o := orchestrate.New(orchestrate.Deps{
		Store:    st,
		Index:    idx,
		Matcher:  matcher,
		Resolver: resolve.New(logger),
		Scrapers: scrape.NewManager(scrapers, st, logger),
		NewDeliverer: func(cycleID string) deliver.Deliverer {
			return deliver.NewDirDeliverer(cfg.DeliveryDir, cycleID, logger)
		},
		Metrics: telemetry.NewCycleMetrics(),
		Logger:  logger,
	}, orchestrate.Options{
		Interval: cfg.CycleInterval,
		TopK:     cfg.PerClientTopK,
	})
	return o, nil
}

// buildScrapers loads the configured sources. No sources file means no
// scraping; cycles then run matching over the existing catalog only.
func buildScrapers() ([]scrape.Scraper, error) {
	if cfg.SourcesFile == "" {
		logger.Warn("no sources file configured, cycles will not scrape")
		return nil, nil
	}
	srcCfgs, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	scrapers := make([]scrape.Scraper, 0, len(srcCfgs))
	for _, sc := range srcCfgs {
		src, err := scrape.NewHTTPSource(sc)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		scrapers = append(scrapers, src)
	}
	return scrapers, nil
}
