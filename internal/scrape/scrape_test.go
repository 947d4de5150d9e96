package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/types"
)

func TestHTTPSourceScrape(t *testing.T) {
	var gotWhere string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWhere = r.URL.Query().Get("$where")
		fmt.Fprint(w, `[
			{"PermitNum": "BP-1", "Description": "new roof", "SqFt": 1200},
			{"PermitNum": "BP-2", "Description": null}
		]`)
	}))
	defer srv.Close()

	src, err := NewHTTPSource(HTTPSourceConfig{Name: "austin", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}
	rows, err := src.Scrape(context.Background(), "2026-08-25", "2026-08-26")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if !strings.Contains(gotWhere, "issued_date between '2026-08-25' and '2026-08-26'") {
		t.Errorf("unexpected $where clause: %q", gotWhere)
	}
	if rows[0]["permitnum"] != "BP-1" {
		t.Errorf("keys should be lowercased: %v", rows[0])
	}
	if rows[0]["sqft"] != "1200" {
		t.Errorf("numeric value not flattened: %q", rows[0]["sqft"])
	}
	if _, ok := rows[1]["description"]; ok {
		t.Error("null values should be skipped")
	}
}

func TestHTTPSourceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[{"permit_number": "BP-9"}]`)
	}))
	defer srv.Close()

	src, err := NewHTTPSource(HTTPSourceConfig{Name: "flaky", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}
	rows, err := src.Scrape(context.Background(), "2026-08-26", "2026-08-26")
	if err != nil {
		t.Fatalf("Scrape should have recovered: %v", err)
	}
	if len(rows) != 1 || calls.Load() != 3 {
		t.Fatalf("got %d rows after %d calls, want 1 row after 3 calls", len(rows), calls.Load())
	}
}

func TestHTTPSourceClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	src, err := NewHTTPSource(HTTPSourceConfig{Name: "denied", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}
	if _, err := src.Scrape(context.Background(), "2026-08-26", "2026-08-26"); err == nil {
		t.Fatal("expected error on 403")
	}
	if calls.Load() != 1 {
		t.Fatalf("403 retried %d times, want 1 attempt", calls.Load())
	}
}

func TestNormalizeFieldMapAndDrop(t *testing.T) {
	src, err := NewHTTPSource(HTTPSourceConfig{
		Name:     "mapped",
		Endpoint: "http://example.invalid/api",
		FieldMap: map[string]string{
			"permit_number": "permitnum",
			"description":   "projectdesc",
		},
	})
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}
	rows := src.Normalize([]types.RawPermit{
		{"permitnum": "BP-1", "projectdesc": "kitchen remodel", "noise": "x"},
		{"projectdesc": "no permit number here"},
		{"permitnum": "  "},
	})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0]["permit_number"] != "BP-1" || rows[0]["description"] != "kitchen remodel" {
		t.Errorf("field map not applied: %v", rows[0])
	}
	if _, ok := rows[0]["noise"]; ok {
		t.Error("unmapped fields should be dropped when a field map is set")
	}
}

type fakeScraper struct {
	name   string
	rows   []types.RawPermit
	err    error
	window int

	gotStart, gotEnd string
}

func (f *fakeScraper) Name() string { return f.name }

func (f *fakeScraper) Scrape(_ context.Context, startDate, endDate string) ([]types.RawPermit, error) {
	f.gotStart, f.gotEnd = startDate, endDate
	return f.rows, f.err
}

func (f *fakeScraper) Normalize(rows []types.RawPermit) []types.RawPermit {
	out := make([]types.RawPermit, 0, len(rows))
	for _, r := range rows {
		if r.Get("permit_number") != "" {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeScraper) WindowDays() int { return f.window }

type fakeInserter struct {
	calls map[string]int
}

func (f *fakeInserter) Insert(_ context.Context, city string, rows []types.RawPermit) (storage.InsertStats, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[city] += len(rows)
	return storage.InsertStats{Inserted: len(rows)}, nil
}

func TestScrapeAllContainsFailures(t *testing.T) {
	good := &fakeScraper{name: "austin", rows: []types.RawPermit{{"permit_number": "BP-1"}, {"other": "x"}}}
	bad := &fakeScraper{name: "boston", err: errors.New("connection refused")}

	ins := &fakeInserter{}
	m := NewManager([]Scraper{good, bad}, ins, nil)
	results := m.ScrapeAll(context.Background())

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Sorted by name.
	if results[0].Source != "austin" || results[1].Source != "boston" {
		t.Fatalf("unexpected order: %s, %s", results[0].Source, results[1].Source)
	}
	if results[0].Err != nil {
		t.Errorf("austin should succeed: %v", results[0].Err)
	}
	if results[0].Stats.Inserted != 1 || results[0].Stats.Dropped != 1 {
		t.Errorf("austin stats = %+v, want 1 inserted, 1 dropped", results[0].Stats)
	}
	var srcErr *SourceError
	if !errors.As(results[1].Err, &srcErr) || srcErr.Source != "boston" {
		t.Errorf("boston error = %v, want SourceError", results[1].Err)
	}
	if ins.calls["boston"] != 0 {
		t.Error("failed source must not reach the store")
	}
}

func TestScrapeWindow(t *testing.T) {
	daily := &fakeScraper{name: "daily"}
	rolling := &fakeScraper{name: "rolling", window: 30}

	m := NewManager([]Scraper{daily, rolling}, &fakeInserter{}, nil)
	m.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	m.ScrapeAll(context.Background())

	if daily.gotStart != "2026-08-26" || daily.gotEnd != "2026-08-26" {
		t.Errorf("daily window = [%s, %s], want same-day", daily.gotStart, daily.gotEnd)
	}
	if rolling.gotStart != "2026-07-27" || rolling.gotEnd != "2026-08-26" {
		t.Errorf("rolling window = [%s, %s], want 30-day", rolling.gotStart, rolling.gotEnd)
	}
}
