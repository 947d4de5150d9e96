package permitflow

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := OpenStore(ctx, filepath.Join(t.TempDir(), "pf.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer st.Close()

	stats, err := st.Insert(ctx, "austin", []RawPermit{
		{"permit_number": "BP-1", "description": "deck addition"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if stats.Inserted != 1 {
		t.Fatalf("stats = %+v, want 1 inserted", stats)
	}

	n, err := st.CountPermits(ctx)
	if err != nil {
		t.Fatalf("CountPermits: %v", err)
	}
	if n != 1 {
		t.Errorf("CountPermits = %d, want 1", n)
	}
}
