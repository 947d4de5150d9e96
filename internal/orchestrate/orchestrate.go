// Package orchestrate drives the distribution cycle: scrape, reindex, match,
// resolve, deliver, record. One cycle runs at a time; the rest of the system
// stays read-consistent through index snapshots and the delivery ledger.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/permitflow/permitflow/internal/deliver"
	"github.com/permitflow/permitflow/internal/index"
	"github.com/permitflow/permitflow/internal/match"
	"github.com/permitflow/permitflow/internal/resolve"
	"github.com/permitflow/permitflow/internal/scrape"
	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/telemetry"
	"github.com/permitflow/permitflow/internal/types"
)

// Stage is the orchestrator's current position in the cycle.
type Stage int32

const (
	StageIdle Stage = iota
	StageScraping
	StageReindexing
	StageMatching
	StageResolving
	StageDelivering
	StageRecording
)

var stageNames = [...]string{"idle", "scraping", "reindexing", "matching", "resolving", "delivering", "recording"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// ErrCycleActive is returned when a cycle is requested while one is running.
var ErrCycleActive = errors.New("distribution cycle already running")

// DefaultInterval is the wall-clock period between scheduled cycles.
const DefaultInterval = 4 * time.Hour

// RelaxedTopK caps the semantic set in the relaxed second pass.
const RelaxedTopK = 50

// recordTimeout bounds the best-effort ledger write after delivery.
const recordTimeout = 30 * time.Second

// Deps wires the cycle stages together. NewDeliverer is called once per
// cycle with the cycle id.
type Deps struct {
	Store        storage.Store
	Index        *index.Manager
	Matcher      *match.Matcher
	Resolver     *resolve.Resolver
	Scrapers     *scrape.Manager
	NewDeliverer func(cycleID string) deliver.Deliverer
	Metrics      *telemetry.CycleMetrics
	Logger       *slog.Logger
}

// Options tune the cycle schedule.
type Options struct {
	Interval time.Duration
	TopK     int // per-client semantic cap; zero means the matcher default
}

// Orchestrator owns the cycle loop.
type Orchestrator struct {
	store        storage.Store
	idx          *index.Manager
	matcher      *match.Matcher
	resolver     *resolve.Resolver
	scrapers     *scrape.Manager
	newDeliverer func(cycleID string) deliver.Deliverer
	metrics      *telemetry.CycleMetrics
	logger       *slog.Logger

	interval time.Duration
	topK     int

	cycleMu sync.Mutex // held for the duration of one cycle
	state   atomic.Int32
	trigger chan struct{}
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewCycleMetrics()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Orchestrator{
		store:        deps.Store,
		idx:          deps.Index,
		matcher:      deps.Matcher,
		resolver:     deps.Resolver,
		scrapers:     deps.Scrapers,
		newDeliverer: deps.NewDeliverer,
		metrics:      metrics,
		logger:       logger,
		interval:     interval,
		topK:         opts.TopK,
		trigger:      make(chan struct{}, 1),
	}
}

// State reports the current cycle stage.
func (o *Orchestrator) State() Stage {
	return Stage(o.state.Load())
}

func (o *Orchestrator) setState(s Stage) {
	o.state.Store(int32(s))
}

// IndexOutcome describes the reindex stage of one cycle.
type IndexOutcome struct {
	FullRebuild bool `json:"full_rebuild"`
	Added       int  `json:"added"`
	Vectors     int  `json:"vectors"`
}

// ClientOutcome describes one client's share of one cycle.
type ClientOutcome struct {
	ClientID  int64    `json:"client_id"`
	Name      string   `json:"name"`
	Matched   int      `json:"matched"`
	Delivered int      `json:"delivered"`
	Relaxed   bool     `json:"relaxed,omitempty"`
	Files     []string `json:"files,omitempty"`
	Err       error    `json:"-"`
}

// Summary is the full record of one cycle.
type Summary struct {
	CycleID     string                   `json:"cycle_id"`
	Started     time.Time                `json:"started"`
	Finished    time.Time                `json:"finished"`
	Stages      map[string]time.Duration `json:"stages"`
	Sources     []scrape.SourceResult    `json:"sources"`
	Index       IndexOutcome             `json:"index"`
	Clients     []ClientOutcome          `json:"clients"`
	MatchErrors []match.ClientError      `json:"-"`
	Err         error                    `json:"-"`
}

// stage runs fn under the named stage, recording its duration.
func (o *Orchestrator) stage(ctx context.Context, sum *Summary, s Stage, fn func(context.Context) error) error {
	o.setState(s)
	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	sum.Stages[s.String()] = d
	o.metrics.RecordStage(ctx, s.String(), d)
	if err != nil {
		sum.Err = fmt.Errorf("%s: %w", s, err)
	}
	return err
}

// RunCycle runs one full distribution cycle. Only one may run at a time.
func (o *Orchestrator) RunCycle(ctx context.Context) (*Summary, error) {
	if !o.cycleMu.TryLock() {
		return nil, ErrCycleActive
	}
	defer o.cycleMu.Unlock()
	defer o.setState(StageIdle)

	sum := &Summary{
		CycleID: uuid.NewString(),
		Started: time.Now(),
		Stages:  make(map[string]time.Duration),
	}
	defer func() {
		sum.Finished = time.Now()
		outcome := "ok"
		if sum.Err != nil {
			outcome = "error"
		}
		o.metrics.RecordCycle(context.WithoutCancel(ctx), outcome)
		o.logger.Info("cycle finished", "cycle_id", sum.CycleID,
			"duration", sum.Finished.Sub(sum.Started), "outcome", outcome)
	}()
	o.logger.Info("cycle started", "cycle_id", sum.CycleID)

	// The watermark separates pre-existing rows from this cycle's ingest.
	watermark, err := o.store.MaxPermitID(ctx)
	if err != nil {
		sum.Err = err
		return sum, err
	}

	if err := o.stage(ctx, sum, StageScraping, func(ctx context.Context) error {
		sum.Sources = o.scrapers.ScrapeAll(ctx)
		for _, sr := range sum.Sources {
			if sr.Err != nil {
				o.metrics.RecordScrapeError(ctx, sr.Source)
				continue
			}
			o.metrics.RecordIngested(ctx, sr.Source, sr.Stats.Inserted)
		}
		return ctx.Err()
	}); err != nil {
		return sum, err
	}

	if err := o.stage(ctx, sum, StageReindexing, func(ctx context.Context) error {
		out, err := o.reindex(ctx, watermark)
		sum.Index = out
		return err
	}); err != nil {
		return sum, err
	}

	var clients []*types.ClientProfile
	var assignments []types.Assignment
	if err := o.stage(ctx, sum, StageMatching, func(ctx context.Context) error {
		var err error
		clients, err = o.store.ListClients(ctx, types.ClientFilter{Status: types.ClientActive})
		if err != nil {
			return err
		}
		assignments, sum.MatchErrors = o.matcher.MatchAll(ctx, clients, match.Options{TopK: o.topK})
		for _, ce := range sum.MatchErrors {
			o.logger.Warn("client match failed", "cycle_id", sum.CycleID,
				"client_id", ce.ClientID, "error", ce.Err)
		}
		return ctx.Err()
	}); err != nil {
		return sum, err
	}

	if err := o.stage(ctx, sum, StageResolving, func(ctx context.Context) error {
		var err error
		assignments, err = o.resolver.Resolve(assignments)
		return err
	}); err != nil {
		return sum, err
	}

	deliveredIDs := make(map[int64][]int64)
	if err := o.stage(ctx, sum, StageDelivering, func(ctx context.Context) error {
		outcomes, delivered, err := o.deliverAll(ctx, sum, clients, assignments)
		sum.Clients = outcomes
		for id, ids := range delivered {
			deliveredIDs[id] = ids
		}
		return err
	}); err != nil {
		return sum, err
	}

	// Recording is best-effort even under cancellation: rows already handed
	// to clients must land in the ledger or they would be re-sent next cycle.
	if err := o.stage(ctx, sum, StageRecording, func(ctx context.Context) error {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		return o.recordAll(rctx, deliveredIDs)
	}); err != nil {
		return sum, err
	}

	return sum, nil
}

// reindex refreshes the vector index with rows inserted after the watermark,
// escalating to a full rebuild when the artifacts are absent or damaged.
func (o *Orchestrator) reindex(ctx context.Context, watermark int64) (IndexOutcome, error) {
	newIDs, err := o.store.PermitIDsSince(ctx, watermark)
	if err != nil {
		return IndexOutcome{}, err
	}

	inc, err := o.idx.BuildIncremental(ctx, o.store, newIDs)
	if err == nil {
		return IndexOutcome{Added: inc.Added, Vectors: o.idx.Status().Vectors}, nil
	}
	if !errors.Is(err, index.ErrIndexMissing) && !errors.Is(err, index.ErrIndexInconsistent) {
		return IndexOutcome{}, err
	}

	o.logger.Warn("incremental refresh unavailable, rebuilding index", "reason", err)
	full, err := o.idx.Build(ctx, o.store)
	if err != nil {
		return IndexOutcome{}, err
	}
	return IndexOutcome{FullRebuild: true, Added: full.Count, Vectors: full.Count}, nil
}

// preparedDelivery is one client's deliverable slice of the cycle.
type preparedDelivery struct {
	client  *types.ClientProfile
	sets    types.ResultSets
	ids     []int64
	relaxed bool
}

// deliverAll gates each assignment on contactability and the ledger, falls
// back to a relaxed pass when nothing at all is deliverable, and hands the
// survivors to the deliverer.
func (o *Orchestrator) deliverAll(ctx context.Context, sum *Summary, clients []*types.ClientProfile, assignments []types.Assignment) ([]ClientOutcome, map[int64][]int64, error) {
	cycleID := sum.CycleID
	prepared := make([]preparedDelivery, 0, len(assignments))
	total := 0
	for _, a := range assignments {
		sets, ids, err := o.prepareDeliverable(ctx, a.Client.ID, a.Sets)
		if err != nil {
			return nil, nil, err
		}
		prepared = append(prepared, preparedDelivery{client: a.Client, sets: sets, ids: ids})
		total += len(ids)
	}

	// Nothing survived the gates anywhere: rerun without per-client queries
	// so clients still receive fresh rows, skipping contention since there
	// is no overlap worth protecting.
	if total == 0 && len(assignments) > 0 {
		o.logger.Info("no deliverable rows, running relaxed pass", "cycle_id", cycleID)
		emptyQuery := ""
		relaxed, relaxedErrs := o.matcher.MatchAll(ctx, clients, match.Options{Query: &emptyQuery, TopK: RelaxedTopK})
		for _, ce := range relaxedErrs {
			o.logger.Warn("client match failed in relaxed pass", "cycle_id", cycleID,
				"client_id", ce.ClientID, "error", ce.Err)
		}
		sum.MatchErrors = append(sum.MatchErrors, relaxedErrs...)
		prepared = prepared[:0]
		for _, a := range relaxed {
			sets, ids, err := o.prepareDeliverable(ctx, a.Client.ID, a.Sets)
			if err != nil {
				return nil, nil, err
			}
			prepared = append(prepared, preparedDelivery{client: a.Client, sets: sets, ids: ids, relaxed: true})
		}
	}

	dl := o.newDeliverer(cycleID)
	outcomes := make([]ClientOutcome, 0, len(prepared))
	delivered := make(map[int64][]int64, len(prepared))
	for _, p := range prepared {
		oc := ClientOutcome{ClientID: p.client.ID, Name: p.client.Name,
			Matched: p.sets.Total(), Relaxed: p.relaxed}
		if len(p.ids) == 0 {
			outcomes = append(outcomes, oc)
			continue
		}
		out, err := dl.Deliver(ctx, p.client, p.sets)
		if err != nil {
			// Contained: one client's transport failure must not starve the rest.
			oc.Err = err
			o.logger.Error("delivery failed", "cycle_id", cycleID,
				"client_id", p.client.ID, "error", err)
			outcomes = append(outcomes, oc)
			continue
		}
		oc.Delivered = out.Rows
		oc.Files = out.Files
		delivered[p.client.ID] = p.ids
		o.metrics.RecordDelivered(ctx, p.client.ID, out.Rows)
		outcomes = append(outcomes, oc)
	}
	return outcomes, delivered, nil
}

// prepareDeliverable drops rows without a contact phone from every set, then
// removes semantic rows the ledger says this client has already received. The
// inclusion and exclusion sets are audit reports: they are never filtered
// against the ledger and never recorded to it. The returned ids are the
// semantic leads that survived both gates.
func (o *Orchestrator) prepareDeliverable(ctx context.Context, clientID int64, sets types.ResultSets) (types.ResultSets, []int64, error) {
	contactable := func(p *types.Permit) bool { return p.BestPhone() != "" }

	var out types.ResultSets
	for _, p := range sets.Inclusion {
		if contactable(p) {
			out.Inclusion = append(out.Inclusion, p)
		}
	}
	for _, e := range sets.Exclusion {
		if contactable(e.Permit) {
			out.Exclusion = append(out.Exclusion, e)
		}
	}

	candidates := make([]int64, 0, len(sets.Semantic))
	for _, sp := range sets.Semantic {
		if contactable(sp.Permit) {
			candidates = append(candidates, sp.Permit.ID)
		}
	}
	if len(candidates) == 0 {
		return out, nil, nil
	}

	unsent, err := o.store.FilterUnsent(ctx, clientID, candidates)
	if err != nil {
		return types.ResultSets{}, nil, err
	}
	allowed := make(map[int64]bool, len(unsent))
	for _, id := range unsent {
		allowed[id] = true
	}
	for _, sp := range sets.Semantic {
		if allowed[sp.Permit.ID] {
			out.Semantic = append(out.Semantic, sp)
		}
	}
	return out, unsent, nil
}

// recordAll writes the delivered ids to the ledger, clients in id order.
func (o *Orchestrator) recordAll(ctx context.Context, delivered map[int64][]int64) error {
	clientIDs := make([]int64, 0, len(delivered))
	for id := range delivered {
		clientIDs = append(clientIDs, id)
	}
	sort.Slice(clientIDs, func(i, j int) bool { return clientIDs[i] < clientIDs[j] })

	var firstErr error
	for _, cid := range clientIDs {
		if err := o.store.RecordSent(ctx, cid, delivered[cid]); err != nil {
			o.logger.Error("ledger record failed", "client_id", cid, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
