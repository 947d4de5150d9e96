package sqlite

import (
	"context"
	"testing"

	"github.com/permitflow/permitflow/internal/types"
)

func TestListClients(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()

	seedClient(t, store, &types.ClientProfile{
		Name:            "Roofers Inc",
		City:            "Austin",
		PermitType:      "Building",
		WorkClasses:     []string{"Residential", "Repair"},
		RAGQuery:        "re-roof residential",
		KeywordsInclude: []string{"roof", "shingle"},
		KeywordsExclude: []string{"solar"},
		SliderPercentage: 75,
		Priority:         1,
	})
	seedClient(t, store, &types.ClientProfile{
		Name:   "Dormant LLC",
		Status: types.ClientInactive,
	})

	all, err := store.ListClients(ctx, types.ClientFilter{})
	if err != nil {
		t.Fatalf("ListClients failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d clients, want 2", len(all))
	}

	active, err := store.ListClients(ctx, types.ClientFilter{Status: types.ClientActive})
	if err != nil {
		t.Fatalf("ListClients(active) failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active clients, want 1", len(active))
	}

	c := active[0]
	if c.Name != "Roofers Inc" {
		t.Fatalf("got client %q", c.Name)
	}
	if len(c.WorkClasses) != 2 {
		t.Fatalf("got work classes %v, want 2", c.WorkClasses)
	}
	if len(c.KeywordsInclude) != 2 || c.KeywordsInclude[0] != "roof" {
		t.Fatalf("got include keywords %v", c.KeywordsInclude)
	}
	if len(c.KeywordsExclude) != 1 || c.KeywordsExclude[0] != "solar" {
		t.Fatalf("got exclude keywords %v", c.KeywordsExclude)
	}
	if c.SliderPercentage != 75 || c.Priority != 1 {
		t.Fatalf("got slider %d priority %d", c.SliderPercentage, c.Priority)
	}
}

func TestListClientsClampsSlider(t *testing.T) {
	store := newTestStore(t, "")
	ctx := context.Background()

	id := seedClient(t, store, &types.ClientProfile{Name: "Loud LLC"})
	// The clients database is externally owned; its schema may lack the
	// slider CHECK entirely. Simulate an out-of-range row on a pinned
	// connection so the pragma and the update share a session.
	conn, err := store.db.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "PRAGMA ignore_check_constraints = ON"); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if _, err := conn.ExecContext(ctx,
		"UPDATE clients SET slider_percentage = 150 WHERE id = ?", id); err != nil {
		t.Fatalf("update slider: %v", err)
	}

	clients, err := store.ListClients(ctx, types.ClientFilter{})
	if err != nil {
		t.Fatalf("ListClients failed: %v", err)
	}
	if len(clients) != 1 || clients[0].SliderPercentage != 100 {
		t.Fatalf("got %+v, want slider clamped to 100", clients)
	}
}

func TestParseKeywordList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"empty string", "", 0},
		{"empty array", "[]", 0},
		{"null literal", "null", 0},
		{"values", `["roof", "deck"]`, 2},
		{"null entry dropped", `["roof", null, "  "]`, 1},
		{"malformed", `{"not": "a list"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseKeywordList(tt.raw)
			if len(got) != tt.want {
				t.Fatalf("parseKeywordList(%q) = %v, want %d entries", tt.raw, got, tt.want)
			}
		})
	}
}
