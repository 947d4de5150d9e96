package types

// ScoredPermit pairs a permit with its semantic (or fallback text) score.
// Scores are comparable only within a single result set.
type ScoredPermit struct {
	Permit *Permit `json:"permit"`
	Score  float64 `json:"rag_score,omitempty"`
}

// ExcludedPermit is a row removed by the exclusion-keyword stage, kept for
// auditability with a human-readable reason.
type ExcludedPermit struct {
	Permit *Permit `json:"permit"`
	Reason string  `json:"exclusion_reason"`
}

// ResultSets are the three per-client matcher outputs. Inclusion and
// Exclusion are audit artifacts and may overlap across clients; only
// Semantic is subject to contention and ledger dedup.
type ResultSets struct {
	Inclusion []*Permit        `json:"inclusion"`
	Exclusion []ExcludedPermit `json:"exclusion"`
	Semantic  []ScoredPermit   `json:"semantic"`
}

// SemanticIDs returns the permit ids of the semantic set in order.
func (r *ResultSets) SemanticIDs() []int64 {
	ids := make([]int64, 0, len(r.Semantic))
	for _, sp := range r.Semantic {
		ids = append(ids, sp.Permit.ID)
	}
	return ids
}

// Total counts rows across all three sets.
func (r *ResultSets) Total() int {
	return len(r.Inclusion) + len(r.Exclusion) + len(r.Semantic)
}

// Assignment is one client's resolved output for a cycle.
type Assignment struct {
	Client *ClientProfile `json:"client"`
	Sets   ResultSets     `json:"sets"`
}
