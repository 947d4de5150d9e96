package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const cycleScopeName = "github.com/permitflow/permitflow/orchestrate"

// CycleMetrics holds the instruments recorded over a distribution cycle.
// With telemetry disabled the global meter is a no-op, so recording is free.
type CycleMetrics struct {
	cycles     metric.Int64Counter
	stageDur   metric.Float64Histogram
	ingested   metric.Int64Counter
	delivered  metric.Int64Counter
	scrapeErrs metric.Int64Counter
}

// NewCycleMetrics creates the cycle instruments on the global meter.
func NewCycleMetrics() *CycleMetrics {
	m := Meter(cycleScopeName)
	cycles, _ := m.Int64Counter("pf.cycle.runs",
		metric.WithDescription("Distribution cycles run, by outcome"),
	)
	stageDur, _ := m.Float64Histogram("pf.cycle.stage.duration",
		metric.WithDescription("Cycle stage duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	ingested, _ := m.Int64Counter("pf.permits.ingested",
		metric.WithDescription("New permits inserted during scraping"),
	)
	delivered, _ := m.Int64Counter("pf.assignments.delivered",
		metric.WithDescription("Permit rows delivered to clients"),
	)
	scrapeErrs, _ := m.Int64Counter("pf.scrape.errors",
		metric.WithDescription("Scrape failures by source"),
	)
	return &CycleMetrics{
		cycles:     cycles,
		stageDur:   stageDur,
		ingested:   ingested,
		delivered:  delivered,
		scrapeErrs: scrapeErrs,
	}
}

// RecordCycle counts one finished cycle with its outcome ("ok" or "error").
func (c *CycleMetrics) RecordCycle(ctx context.Context, outcome string) {
	c.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordStage records how long one named cycle stage took.
func (c *CycleMetrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	c.stageDur.Record(ctx, float64(d.Milliseconds()),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordIngested counts permits inserted for one source.
func (c *CycleMetrics) RecordIngested(ctx context.Context, source string, n int) {
	c.ingested.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}

// RecordDelivered counts rows delivered to one client.
func (c *CycleMetrics) RecordDelivered(ctx context.Context, clientID int64, n int) {
	c.delivered.Add(ctx, int64(n), metric.WithAttributes(attribute.Int64("client_id", clientID)))
}

// RecordScrapeError counts one failed source scrape.
func (c *CycleMetrics) RecordScrapeError(ctx context.Context, source string) {
	c.scrapeErrs.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
