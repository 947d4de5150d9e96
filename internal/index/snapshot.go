package index

// Snapshot is an immutable view of a loaded index. Retrieval holds one for
// the duration of a search and is unaffected by concurrent rebuilds.
type Snapshot struct {
	dim     int
	ids     []int64
	vectors []float32 // row-major, len == len(ids)*dim
	pos     map[int64]int
}

func newSnapshot(a *artifacts) *Snapshot {
	pos := make(map[int64]int, len(a.ids))
	for i, id := range a.ids {
		pos[id] = i
	}
	return &Snapshot{dim: a.dim, ids: a.ids, vectors: a.vectors, pos: pos}
}

// Count returns the number of indexed permits.
func (s *Snapshot) Count() int { return len(s.ids) }

// Dim returns the vector width.
func (s *Snapshot) Dim() int { return s.dim }

// Has reports whether a permit id is indexed.
func (s *Snapshot) Has(id int64) bool {
	_, ok := s.pos[id]
	return ok
}

// Score returns the inner product between query and the permit's vector.
// On unit vectors this is cosine similarity. ok is false for ids not in
// the index (stale candidates).
func (s *Snapshot) Score(query []float32, id int64) (float64, bool) {
	i, ok := s.pos[id]
	if !ok || len(query) != s.dim {
		return 0, false
	}
	row := s.vectors[i*s.dim : (i+1)*s.dim]
	var dot float64
	for j, q := range query {
		dot += float64(q) * float64(row[j])
	}
	return dot, true
}

// IDs returns the indexed permit ids positionally aligned with vector rows.
// Callers must not mutate the returned slice.
func (s *Snapshot) IDs() []int64 { return s.ids }
