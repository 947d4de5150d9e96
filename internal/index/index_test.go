package index

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/permitflow/permitflow/internal/types"
)

// fakeStore is a minimal in-memory PermitSource for index tests.
type fakeStore struct {
	permits []*types.Permit
}

func (f *fakeStore) StreamAll(ctx context.Context, chunkSize int, fn func([]*types.Permit) error) error {
	for i := 0; i < len(f.permits); i += chunkSize {
		end := min(i+chunkSize, len(f.permits))
		if err := fn(f.permits[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) FetchByIDs(ctx context.Context, ids []int64) ([]*types.Permit, error) {
	var out []*types.Permit
	for _, id := range ids {
		for _, p := range f.permits {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func testPermits(n int) []*types.Permit {
	descs := []string{
		"new residential roof replacement",
		"kitchen remodel with plumbing",
		"commercial hvac install",
		"", // exercises the empty-description recipe
		"deck addition and repair",
	}
	permits := make([]*types.Permit, n)
	for i := range permits {
		permits[i] = &types.Permit{ID: int64(i + 1), City: "austin",
			PermitNumber: "T", Description: descs[i%len(descs)]}
	}
	return permits
}

func TestRecipeText(t *testing.T) {
	if got := RecipeText(&types.Permit{Description: ""}); got != "no description available" {
		t.Fatalf("empty description recipe = %q", got)
	}
	if got := RecipeText(&types.Permit{Description: "new roof"}); got != "project: new roof" {
		t.Fatalf("recipe = %q", got)
	}
}

func TestBuildAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{permits: testPermits(10)}
	m := NewManager(dir, nil, 0, nil)

	stats, err := m.Build(context.Background(), store)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if stats.Count != 10 || stats.Dim != DefaultDim {
		t.Fatalf("build stats %+v", stats)
	}

	// Every store id is mapped exactly once.
	snap := m.Snapshot()
	seen := make(map[int64]int)
	for _, id := range snap.IDs() {
		seen[id]++
	}
	for _, p := range store.permits {
		if seen[p.ID] != 1 {
			t.Fatalf("permit %d mapped %d times", p.ID, seen[p.ID])
		}
	}

	// A fresh manager loads the same artifacts from disk.
	m2 := NewManager(dir, nil, 0, nil)
	ok, err := m2.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	st := m2.Status()
	if !st.Loaded || st.Vectors != 10 {
		t.Fatalf("status after load %+v", st)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	store := &fakeStore{permits: testPermits(5)}

	m1 := NewManager(t.TempDir(), nil, 0, nil)
	m2 := NewManager(t.TempDir(), nil, 0, nil)
	if _, err := m1.Build(context.Background(), store); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := m2.Build(context.Background(), store); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	q, err := m1.QueryVector(context.Background(), "roof replacement")
	if err != nil {
		t.Fatalf("QueryVector failed: %v", err)
	}
	for _, id := range m1.Snapshot().IDs() {
		s1, ok1 := m1.Snapshot().Score(q, id)
		s2, ok2 := m2.Snapshot().Score(q, id)
		if !ok1 || !ok2 || s1 != s2 {
			t.Fatalf("score mismatch for id %d: %v/%v %v/%v", id, s1, ok1, s2, ok2)
		}
	}
}

func TestBuildIncremental(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{permits: testPermits(5)}
	m := NewManager(dir, nil, 0, nil)

	if _, err := m.Build(context.Background(), store); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	before := append([]int64(nil), m.Snapshot().IDs()...)

	store.permits = append(store.permits,
		&types.Permit{ID: 6, City: "austin", PermitNumber: "T", Description: "garage conversion"},
		&types.Permit{ID: 7, City: "austin", PermitNumber: "T", Description: "pool install"},
	)
	stats, err := m.BuildIncremental(context.Background(), store, []int64{1, 6, 7})
	if err != nil {
		t.Fatalf("BuildIncremental failed: %v", err)
	}
	if stats.Added != 2 {
		t.Fatalf("added %d, want 2 (id 1 already indexed)", stats.Added)
	}

	ids := m.Snapshot().IDs()
	if len(ids) != 7 {
		t.Fatalf("snapshot has %d ids, want 7", len(ids))
	}
	// Existing rows keep their positions.
	for i, id := range before {
		if ids[i] != id {
			t.Fatalf("incremental build reordered row %d: %d -> %d", i, id, ids[i])
		}
	}
}

func TestBuildIncrementalMissingArtifacts(t *testing.T) {
	m := NewManager(t.TempDir(), nil, 0, nil)
	store := &fakeStore{permits: testPermits(2)}

	_, err := m.BuildIncremental(context.Background(), store, []int64{1})
	if !errors.Is(err, ErrIndexMissing) {
		t.Fatalf("got %v, want ErrIndexMissing", err)
	}
}

func TestLoadDetectsInconsistency(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{permits: testPermits(4)}
	m := NewManager(dir, nil, 0, nil)
	if _, err := m.Build(context.Background(), store); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Drop one entry from the hash file; the triple no longer agrees.
	if err := os.WriteFile(filepath.Join(dir, hashesFile), []byte(`{"1":"aa"}`), 0o640); err != nil {
		t.Fatalf("corrupt hashes: %v", err)
	}

	m2 := NewManager(dir, nil, 0, nil)
	_, err := m2.Load(context.Background())
	if !errors.Is(err, ErrIndexInconsistent) {
		t.Fatalf("got %v, want ErrIndexInconsistent", err)
	}
}

func TestLoadRejectsOversizedCountHeader(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{permits: testPermits(4)}
	m := NewManager(dir, nil, 0, nil)
	if _, err := m.Build(context.Background(), store); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Rewrite the count field with a value the file cannot possibly hold;
	// the header must fail validation before any allocation happens.
	path := filepath.Join(dir, vectorsFile)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open vectors: %v", err)
	}
	huge := make([]byte, 8)
	binary.LittleEndian.PutUint64(huge, 1<<50)
	if _, err := f.WriteAt(huge, 6+4); err != nil {
		t.Fatalf("corrupt count: %v", err)
	}
	f.Close()

	m2 := NewManager(dir, nil, 0, nil)
	_, err = m2.Load(context.Background())
	if !errors.Is(err, ErrIndexInconsistent) {
		t.Fatalf("got %v, want ErrIndexInconsistent", err)
	}
}

func TestLoadAbsent(t *testing.T) {
	m := NewManager(t.TempDir(), nil, 0, nil)
	ok, err := m.Load(context.Background())
	if err != nil || ok {
		t.Fatalf("Load of empty dir = %v, %v; want false, nil", ok, err)
	}
}
