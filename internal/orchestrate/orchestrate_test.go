package orchestrate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/permitflow/permitflow/internal/deliver"
	"github.com/permitflow/permitflow/internal/index"
	"github.com/permitflow/permitflow/internal/match"
	"github.com/permitflow/permitflow/internal/resolve"
	"github.com/permitflow/permitflow/internal/scrape"
	"github.com/permitflow/permitflow/internal/search"
	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/storage/sqlite"
	"github.com/permitflow/permitflow/internal/types"
)

type cycleScraper struct {
	rows []types.RawPermit
}

func (s *cycleScraper) Name() string { return "austin" }

func (s *cycleScraper) Scrape(context.Context, string, string) ([]types.RawPermit, error) {
	return s.rows, nil
}

func (s *cycleScraper) Normalize(rows []types.RawPermit) []types.RawPermit {
	out := make([]types.RawPermit, 0, len(rows))
	for _, r := range rows {
		if r.Get("permit_number") != "" {
			out = append(out, r)
		}
	}
	return out
}

type captureDeliverer struct {
	calls []deliver.Outcome
	sets  []types.ResultSets
}

func (d *captureDeliverer) Deliver(_ context.Context, client *types.ClientProfile, sets types.ResultSets) (deliver.Outcome, error) {
	out := deliver.Outcome{ClientID: client.ID, Rows: sets.Total()}
	d.calls = append(d.calls, out)
	d.sets = append(d.sets, sets)
	return out, nil
}

func seedClient(t *testing.T, st *sqlite.Store, name, city, query string) int64 {
	t.Helper()
	res, err := st.UnderlyingDB().Exec(`
		INSERT INTO clients (name, city, rag_query, slider_percentage, priority, status)
		VALUES (?, ?, ?, 100, 1, 'active')`, name, city, query)
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func setupOrchestrator(t *testing.T, scraperRows []types.RawPermit) (*Orchestrator, *sqlite.Store, *captureDeliverer) {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "pf.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	idx := index.NewManager(filepath.Join(t.TempDir(), "index"), nil, 0, nil)
	searcher := search.New(st, idx, nil)
	matcher := match.New(st, searcher, 0, nil)
	scrapers := scrape.NewManager([]scrape.Scraper{&cycleScraper{rows: scraperRows}}, st, nil)
	dl := &captureDeliverer{}

	o := New(Deps{
		Store:        st,
		Index:        idx,
		Matcher:      matcher,
		Resolver:     resolve.New(nil),
		Scrapers:     scrapers,
		NewDeliverer: func(string) deliver.Deliverer { return dl },
	}, Options{Interval: time.Hour})
	return o, st, dl
}

func austinRows() []types.RawPermit {
	return []types.RawPermit{
		{"permit_number": "BP-1", "description": "roof replacement and repair",
			"permit_type": "Building", "issued_date": "2026-08-20", "contractor_phone": "5125550001"},
		{"permit_number": "BP-2", "description": "full roof replacement on duplex",
			"permit_type": "Building", "issued_date": "2026-08-21", "contractor_phone": "5125550002"},
		{"permit_number": "BP-3", "description": "roof and gutter work",
			"permit_type": "Building", "issued_date": "2026-08-22"},
	}
}

func TestRunCycleEndToEnd(t *testing.T) {
	o, st, dl := setupOrchestrator(t, austinRows())
	ctx := context.Background()
	clientID := seedClient(t, st, "Roof Leads LLC", "austin", "roof replacement")

	sum, err := o.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(sum.Sources) != 1 || sum.Sources[0].Stats.Inserted != 3 {
		t.Fatalf("sources = %+v, want 3 inserted from austin", sum.Sources)
	}
	if sum.Index.Vectors != 3 {
		t.Errorf("index vectors = %d, want 3", sum.Index.Vectors)
	}
	if len(sum.Clients) != 1 {
		t.Fatalf("client outcomes = %d, want 1", len(sum.Clients))
	}
	oc := sum.Clients[0]
	if oc.ClientID != clientID || oc.Delivered == 0 || oc.Relaxed {
		t.Errorf("outcome = %+v, want a normal delivery", oc)
	}

	// BP-3 has no contact phone; it must not reach the client or the ledger.
	if len(dl.sets) != 1 {
		t.Fatalf("deliverer called %d times, want 1", len(dl.sets))
	}
	for _, p := range dl.sets[0].Inclusion {
		if p.BestPhone() == "" {
			t.Errorf("permit %d delivered without a contact phone", p.ID)
		}
	}

	sent, err := st.SentCount(ctx, clientID)
	if err != nil {
		t.Fatalf("SentCount: %v", err)
	}
	if sent != 2 {
		t.Errorf("ledger has %d rows, want 2", sent)
	}

	if o.State() != StageIdle {
		t.Errorf("state after cycle = %v, want idle", o.State())
	}
	for _, stage := range []string{"scraping", "reindexing", "matching", "resolving", "delivering", "recording"} {
		if _, ok := sum.Stages[stage]; !ok {
			t.Errorf("missing stage duration for %q", stage)
		}
	}
}

func TestSecondCycleDeliversNothingTwice(t *testing.T) {
	o, st, dl := setupOrchestrator(t, austinRows())
	ctx := context.Background()
	clientID := seedClient(t, st, "Roof Leads LLC", "austin", "roof replacement")

	if _, err := o.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	firstCalls := len(dl.calls)

	sum, err := o.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if sum.Sources[0].Stats.Inserted != 0 || sum.Sources[0].Stats.Skipped != 3 {
		t.Errorf("second scrape stats = %+v, want all skipped", sum.Sources[0].Stats)
	}
	if len(dl.calls) != firstCalls {
		t.Errorf("deliverer called again with already-sent rows")
	}
	if len(sum.Clients) != 1 || sum.Clients[0].Delivered != 0 {
		t.Errorf("second cycle outcome = %+v, want zero delivered", sum.Clients)
	}
	// With nothing deliverable the cycle falls back to the relaxed pass.
	if !sum.Clients[0].Relaxed {
		t.Error("second cycle should have taken the relaxed pass")
	}

	sent, _ := st.SentCount(ctx, clientID)
	if sent != 2 {
		t.Errorf("ledger grew to %d rows across identical cycles, want 2", sent)
	}
}

func TestPhonelessRowsNeverDeliver(t *testing.T) {
	rows := []types.RawPermit{
		{"permit_number": "BP-9", "description": "roof replacement", "issued_date": "2026-08-20"},
	}
	o, st, dl := setupOrchestrator(t, rows)
	ctx := context.Background()
	clientID := seedClient(t, st, "Roof Leads LLC", "austin", "roof replacement")

	sum, err := o.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(dl.calls) != 0 {
		t.Errorf("deliverer called for phoneless rows: %+v", dl.calls)
	}
	if sent, _ := st.SentCount(ctx, clientID); sent != 0 {
		t.Errorf("ledger has %d rows, want 0", sent)
	}
	if len(sum.Clients) != 1 || sum.Clients[0].Delivered != 0 {
		t.Errorf("outcome = %+v, want nothing delivered", sum.Clients)
	}
}

func TestExcludedRowsStayOutOfLedger(t *testing.T) {
	rows := append(austinRows(), types.RawPermit{
		"permit_number": "BP-4", "description": "roof and gutter replacement",
		"permit_type": "Building", "issued_date": "2026-08-23", "contractor_phone": "5125550004"})
	o, st, dl := setupOrchestrator(t, rows)
	ctx := context.Background()
	clientID := seedClient(t, st, "Roof Leads LLC", "austin", "roof replacement")
	if _, err := st.UnderlyingDB().Exec(
		`UPDATE clients SET keywords_exclude = '["gutter"]' WHERE id = ?`, clientID); err != nil {
		t.Fatalf("set exclude keywords: %v", err)
	}

	if _, err := o.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	// BP-4 lands in the exclusion report; it is an audit row, not a lead.
	if len(dl.sets) != 1 {
		t.Fatalf("deliverer called %d times, want 1", len(dl.sets))
	}
	foundExcluded := false
	for _, e := range dl.sets[0].Exclusion {
		if e.Permit.PermitNumber == "BP-4" {
			foundExcluded = true
		}
	}
	if !foundExcluded {
		t.Fatal("BP-4 missing from the exclusion report")
	}
	for _, sp := range dl.sets[0].Semantic {
		if sp.Permit.PermitNumber == "BP-4" {
			t.Fatal("excluded permit ranked as a semantic lead")
		}
	}

	// Only the semantic leads enter the ledger. BP-4 must remain
	// deliverable if a later profile change surfaces it as a lead.
	sent, err := st.SentCount(ctx, clientID)
	if err != nil {
		t.Fatalf("SentCount: %v", err)
	}
	if sent != 2 {
		t.Errorf("ledger has %d rows, want 2 semantic leads", sent)
	}

	var bp4ID int64
	if err := st.UnderlyingDB().QueryRow(
		`SELECT id FROM permits WHERE permit_number = 'BP-4'`).Scan(&bp4ID); err != nil {
		t.Fatalf("lookup BP-4: %v", err)
	}
	unsent, err := st.FilterUnsent(ctx, clientID, []int64{bp4ID})
	if err != nil {
		t.Fatalf("FilterUnsent: %v", err)
	}
	if len(unsent) != 1 {
		t.Errorf("audit-only row was recorded as sent")
	}
}

// gatedPool forwards pool queries until failAfter calls have passed, then
// errors. Lets a test break the matcher partway through a cycle.
type gatedPool struct {
	inner     match.Store
	calls     int
	failAfter int // 0 disables
}

func (g *gatedPool) QueryFiltered(ctx context.Context, filters *storage.Filters, limit int) ([]*types.Permit, error) {
	g.calls++
	if g.failAfter > 0 && g.calls > g.failAfter {
		return nil, errors.New("pool query refused")
	}
	return g.inner.QueryFiltered(ctx, filters, limit)
}

func TestRelaxedPassFailuresReported(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "pf.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	pool := &gatedPool{inner: st}
	idx := index.NewManager(filepath.Join(t.TempDir(), "index"), nil, 0, nil)
	searcher := search.New(st, idx, nil)
	matcher := match.New(pool, searcher, 0, nil)
	dl := &captureDeliverer{}
	o := New(Deps{
		Store:        st,
		Index:        idx,
		Matcher:      matcher,
		Resolver:     resolve.New(nil),
		Scrapers:     scrape.NewManager([]scrape.Scraper{&cycleScraper{rows: austinRows()}}, st, nil),
		NewDeliverer: func(string) deliver.Deliverer { return dl },
	}, Options{Interval: time.Hour})
	seedClient(t, st, "Roof Leads LLC", "austin", "roof replacement")

	if _, err := o.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// Second cycle: everything already sent, so the relaxed pass runs.
	// Allow the main match one more pool query, then fail the relaxed one.
	pool.failAfter = pool.calls + 1
	sum, err := o.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(sum.MatchErrors) == 0 {
		t.Fatal("relaxed-pass failure missing from the cycle summary")
	}
}

func TestRunCycleExclusiveGate(t *testing.T) {
	o, _, _ := setupOrchestrator(t, nil)

	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	if _, err := o.RunCycle(context.Background()); err != ErrCycleActive {
		t.Fatalf("RunCycle during active cycle = %v, want ErrCycleActive", err)
	}
}

func TestTriggerQueuesOnce(t *testing.T) {
	o, _, _ := setupOrchestrator(t, nil)
	if !o.Trigger() {
		t.Fatal("first Trigger should queue")
	}
	if o.Trigger() {
		t.Fatal("second Trigger should report already queued")
	}
}
