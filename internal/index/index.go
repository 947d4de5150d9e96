// Package index maintains the persistent semantic index over permit
// descriptions: build, incremental refresh, load, and in-memory snapshots
// for retrieval.
package index

import (
	"context"
	"crypto/md5" // #nosec G401 - staleness fingerprint, not security
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/permitflow/permitflow/internal/types"
)

// PermitSource is the slice of the permit store the index needs.
type PermitSource interface {
	StreamAll(ctx context.Context, chunkSize int, fn func([]*types.Permit) error) error
	FetchByIDs(ctx context.Context, ids []int64) ([]*types.Permit, error)
}

var (
	// ErrIndexMissing is returned by incremental builds when no artifacts
	// exist yet; callers escalate to a full build.
	ErrIndexMissing = errors.New("index artifacts missing")

	// ErrIndexInconsistent is returned when the artifact triple disagrees;
	// the next cycle forces a full rebuild.
	ErrIndexInconsistent = errors.New("index artifacts inconsistent")

	// ErrBuildInProgress is returned when a build overlaps another.
	ErrBuildInProgress = errors.New("index build already in progress")
)

// DefaultBatchSize bounds one embedding call.
const DefaultBatchSize = 256

// StreamChunkSize is how many permits one store read pulls during a build.
const StreamChunkSize = 2000

// RecipeText is the canonical text embedded for a permit. Only the
// description participates; other fields would dilute the semantic signal.
func RecipeText(p *types.Permit) string {
	if p.Description == "" {
		return "no description available"
	}
	return "project: " + p.Description
}

// HashText fingerprints a recipe text for staleness detection.
func HashText(text string) string {
	sum := md5.Sum([]byte(text)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// BuildStats summarizes a full build.
type BuildStats struct {
	Count    int           `json:"count"`
	Dim      int           `json:"dim"`
	Duration time.Duration `json:"duration"`
}

// IncrementalStats summarizes an incremental refresh.
type IncrementalStats struct {
	Added    int           `json:"added"`
	Duration time.Duration `json:"duration"`
}

// Status describes the in-memory snapshot.
type Status struct {
	Loaded  bool `json:"loaded"`
	Vectors int  `json:"vectors"`
	Dim     int  `json:"dim"`
}

// Manager owns the index artifacts in one directory. Builds are mutually
// exclusive; readers take immutable snapshots and are unaffected by an
// in-progress rebuild.
type Manager struct {
	dir       string
	embedder  Embedder
	batchSize int
	logger    *slog.Logger

	buildMu sync.Mutex // serializes Build / BuildIncremental

	mu   sync.RWMutex
	snap *Snapshot // nil until Load or Build succeeds
}

// NewManager creates a Manager over dir. A nil embedder gets the default
// hashing embedder; a nil logger discards.
func NewManager(dir string, embedder Embedder, batchSize int, logger *slog.Logger) *Manager {
	if embedder == nil {
		embedder = NewHashingEmbedder(0)
	}
	if batchSize <= 0 || batchSize > DefaultBatchSize {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{dir: dir, embedder: embedder, batchSize: batchSize, logger: logger}
}

// Dir returns the artifact directory.
func (m *Manager) Dir() string { return m.dir }

// Snapshot returns the current in-memory snapshot, or nil if not loaded.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Status reports the snapshot state.
func (m *Manager) Status() Status {
	snap := m.Snapshot()
	if snap == nil {
		return Status{}
	}
	return Status{Loaded: true, Vectors: snap.Count(), Dim: snap.Dim()}
}

// Load reads the artifacts from disk into a fresh snapshot. Idempotent.
// Returns false with a nil error when no artifacts exist yet.
func (m *Manager) Load(ctx context.Context) (bool, error) {
	a, err := readArtifacts(m.dir)
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.installSnapshot(newSnapshot(a))
	m.logger.Debug("index loaded", "vectors", a.count(), "dim", a.dim)
	return true, nil
}

// Build streams the whole permit catalog, embeds every recipe text, and
// atomically replaces the artifacts, then installs the new snapshot.
func (m *Manager) Build(ctx context.Context, store PermitSource) (BuildStats, error) {
	if !m.buildMu.TryLock() {
		return BuildStats{}, ErrBuildInProgress
	}
	defer m.buildMu.Unlock()

	start := time.Now()
	a := &artifacts{dim: m.embedder.Dim(), hashes: make(map[int64]string)}

	err := store.StreamAll(ctx, StreamChunkSize, func(chunk []*types.Permit) error {
		return m.appendPermits(ctx, a, chunk)
	})
	if err != nil {
		return BuildStats{}, fmt.Errorf("index build: %w", err)
	}

	if err := writeArtifacts(m.dir, a); err != nil {
		return BuildStats{}, fmt.Errorf("index build: %w", err)
	}
	m.installSnapshot(newSnapshot(a))

	stats := BuildStats{Count: a.count(), Dim: a.dim, Duration: time.Since(start)}
	m.logger.Info("index built", "vectors", stats.Count, "dim", stats.Dim,
		"duration", stats.Duration)
	return stats, nil
}

// BuildIncremental loads the existing artifacts and appends vectors for the
// given permit ids that are not yet indexed. Existing rows are never
// reordered. Fails with ErrIndexMissing when no artifacts exist.
func (m *Manager) BuildIncremental(ctx context.Context, store PermitSource, permitIDs []int64) (IncrementalStats, error) {
	if !m.buildMu.TryLock() {
		return IncrementalStats{}, ErrBuildInProgress
	}
	defer m.buildMu.Unlock()

	start := time.Now()
	if !artifactsExist(m.dir) {
		return IncrementalStats{}, ErrIndexMissing
	}
	a, err := readArtifacts(m.dir)
	if err != nil {
		if isNotExist(err) {
			return IncrementalStats{}, ErrIndexMissing
		}
		return IncrementalStats{}, err
	}
	if a.dim != m.embedder.Dim() {
		return IncrementalStats{}, fmt.Errorf("%w: artifact dim %d != embedder dim %d",
			ErrIndexInconsistent, a.dim, m.embedder.Dim())
	}

	var missing []int64
	for _, id := range permitIDs {
		if _, ok := a.hashes[id]; !ok {
			missing = append(missing, id)
		}
	}

	added := 0
	for i := 0; i < len(missing); i += StreamChunkSize {
		end := min(i+StreamChunkSize, len(missing))
		permits, err := store.FetchByIDs(ctx, missing[i:end])
		if err != nil {
			return IncrementalStats{}, fmt.Errorf("incremental build: %w", err)
		}
		before := a.count()
		if err := m.appendPermits(ctx, a, permits); err != nil {
			return IncrementalStats{}, fmt.Errorf("incremental build: %w", err)
		}
		added += a.count() - before
	}

	if added > 0 {
		if err := writeArtifacts(m.dir, a); err != nil {
			return IncrementalStats{}, fmt.Errorf("incremental build: %w", err)
		}
	}
	m.installSnapshot(newSnapshot(a))

	stats := IncrementalStats{Added: added, Duration: time.Since(start)}
	m.logger.Info("index refreshed", "added", added, "vectors", a.count(),
		"duration", stats.Duration)
	return stats, nil
}

// QueryVector embeds a free-text query.
func (m *Manager) QueryVector(ctx context.Context, query string) ([]float32, error) {
	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vecs[0], nil
}

// appendPermits embeds a chunk in batches and appends rows to a. Ids already
// hashed are skipped, so duplicate inputs cannot double-index a permit.
func (m *Manager) appendPermits(ctx context.Context, a *artifacts, permits []*types.Permit) error {
	fresh := permits[:0:0]
	for _, p := range permits {
		if _, ok := a.hashes[p.ID]; !ok {
			fresh = append(fresh, p)
		}
	}

	for i := 0; i < len(fresh); i += m.batchSize {
		end := min(i+m.batchSize, len(fresh))
		batch := fresh[i:end]

		texts := make([]string, len(batch))
		for j, p := range batch {
			texts[j] = RecipeText(p)
		}
		vecs, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}
		for j, p := range batch {
			a.ids = append(a.ids, p.ID)
			a.vectors = append(a.vectors, vecs[j]...)
			a.hashes[p.ID] = HashText(texts[j])
		}
	}
	return nil
}

func (m *Manager) installSnapshot(s *Snapshot) {
	m.mu.Lock()
	m.snap = s
	m.mu.Unlock()
}
