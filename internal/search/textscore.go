package search

import (
	"strings"

	"github.com/permitflow/permitflow/internal/types"
	"github.com/permitflow/permitflow/internal/wordmatch"
)

// scoreTextPool is the staleness hedge: a crude lexical scorer used when the
// vector index cannot cover the candidate pool. Rows that never mention the
// query are dropped.
//
// Score: occurrences x 10, +20 when the query appears as a standalone word,
// +10 when the first occurrence starts within the first 50 characters.
func scoreTextPool(query string, pool []*types.Permit, topK int) []types.ScoredPermit {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var scored []types.ScoredPermit
	for _, p := range pool {
		desc := strings.ToLower(p.Description)
		occurrences := strings.Count(desc, q)
		if occurrences == 0 {
			continue
		}

		score := float64(occurrences * 10)
		if wordmatch.Match(q, p.Description) {
			score += 20
		}
		if idx := strings.Index(desc, q); idx >= 0 && idx < 50 {
			score += 10
		}
		scored = append(scored, types.ScoredPermit{Permit: p, Score: score})
	}

	sortScored(scored)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}
