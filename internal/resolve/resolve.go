// Package resolve implements group-wise contention resolution: proportional
// allocation by declared demand, priority-ordered round-robin, and global
// exclusivity over each cycle's semantic assignments.
package resolve

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/types"
)

// ErrExclusivityViolated means a permit ended up assigned to two clients.
// It is fatal to the cycle: nothing is delivered and nothing is recorded.
var ErrExclusivityViolated = errors.New("permit assigned to more than one client")

// Resolver distributes each cycle's semantic sets. Inclusion and exclusion
// sets pass through untouched; they are per-client audit artifacts.
type Resolver struct {
	logger *slog.Logger
}

// New creates a Resolver. A nil logger discards.
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{logger: logger}
}

// GroupKey identifies a contention group: clients with identical structural
// preferences compete for the same permits. Values are normalized and work
// classes sorted so spelling differences cannot split a group.
func GroupKey(c *types.ClientProfile) string {
	wcs := storage.NormalizeSet(c.WorkClasses)
	sort.Strings(wcs)
	return strings.Join([]string{
		storage.Normalize(c.PermitType),
		storage.Normalize(c.PermitClassMapped),
		storage.Normalize(c.City),
		strings.Join(wcs, ","),
	}, "|")
}

// Resolve rewrites every assignment's semantic set so that no permit is
// granted to more than one client. Input assignments must be the complete
// matcher output for the cycle; the result preserves their order.
func (r *Resolver) Resolve(assignments []types.Assignment) ([]types.Assignment, error) {
	out := make([]types.Assignment, len(assignments))
	copy(out, assignments)

	byKey := make(map[string][]int) // group key -> indexes into out
	for i := range out {
		k := GroupKey(out[i].Client)
		byKey[k] = append(byKey[k], i)
	}

	// Deterministic group order.
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	globalAssigned := make(map[int64]bool)
	for _, k := range keys {
		members := byKey[k]
		if len(members) == 1 {
			r.resolveSingle(&out[members[0]], globalAssigned)
			continue
		}
		r.resolveCompeting(out, members, globalAssigned)
	}

	if err := verifyExclusivity(out); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveSingle applies only the slider cap: the first
// floor(slider% x |semantic|) rows that are still globally unassigned.
func (r *Resolver) resolveSingle(a *types.Assignment, globalAssigned map[int64]bool) {
	limit := min(len(a.Sets.Semantic)*a.Client.SliderPercentage/100, len(a.Sets.Semantic))
	final := make([]types.ScoredPermit, 0, limit)
	for _, sp := range a.Sets.Semantic[:limit] {
		if globalAssigned[sp.Permit.ID] {
			continue
		}
		globalAssigned[sp.Permit.ID] = true
		final = append(final, sp)
	}
	a.Sets.Semantic = final
}

// resolveCompeting distributes the union of a group's candidates.
func (r *Resolver) resolveCompeting(out []types.Assignment, members []int, globalAssigned map[int64]bool) {
	groupSize := len(members)

	// Union of not-yet-assigned candidates with per-permit score sums.
	type candidate struct {
		permit *types.Permit
		avg    float64
	}
	sums := make(map[int64]float64)
	permits := make(map[int64]*types.Permit)
	for _, i := range members {
		for _, sp := range out[i].Sets.Semantic {
			if globalAssigned[sp.Permit.ID] {
				continue
			}
			sums[sp.Permit.ID] += sp.Score
			permits[sp.Permit.ID] = sp.Permit
		}
	}
	union := make([]candidate, 0, len(sums))
	for id, sum := range sums {
		// Clients that did not surface the permit contribute zero.
		union = append(union, candidate{permit: permits[id], avg: sum / float64(groupSize)})
	}
	sort.Slice(union, func(i, j int) bool {
		if union[i].avg != union[j].avg {
			return union[i].avg > union[j].avg
		}
		return union[i].permit.ID < union[j].permit.ID
	})

	// Per-client allocations, proportional to slider within the group.
	sliderSum := 0
	for _, i := range members {
		sliderSum += out[i].Client.SliderPercentage
	}
	alloc := make(map[int]int, groupSize)
	for _, i := range members {
		n := 0
		if sliderSum > 0 && len(union) > 0 && out[i].Client.SliderPercentage > 0 {
			n = out[i].Client.SliderPercentage * len(union) / sliderSum
			if n < 1 {
				n = 1
			}
		}
		alloc[i] = n
	}

	// Priority-ordered round-robin over the score-ordered union.
	order := append([]int(nil), members...)
	sort.Slice(order, func(a, b int) bool {
		ca, cb := out[order[a]].Client, out[order[b]].Client
		if ca.Priority != cb.Priority {
			return ca.Priority < cb.Priority
		}
		return ca.ID < cb.ID
	})

	final := make(map[int][]types.ScoredPermit, groupSize)
	next := 0
	for next < len(union) {
		progressed := false
		for _, i := range order {
			if next >= len(union) {
				break
			}
			if len(final[i]) >= alloc[i] {
				continue
			}
			c := union[next]
			next++
			globalAssigned[c.permit.ID] = true
			final[i] = append(final[i], types.ScoredPermit{Permit: c.permit, Score: c.avg})
			progressed = true
		}
		if !progressed {
			break // every client at its allocation
		}
	}

	for _, i := range members {
		out[i].Sets.Semantic = final[i]
		r.logger.Debug("group allocation",
			"client", out[i].Client.ID, "alloc", alloc[i], "granted", len(final[i]))
	}
}

// verifyExclusivity re-checks the global invariant after distribution.
func verifyExclusivity(assignments []types.Assignment) error {
	owner := make(map[int64]int64)
	for _, a := range assignments {
		for _, sp := range a.Sets.Semantic {
			if prev, ok := owner[sp.Permit.ID]; ok {
				return fmt.Errorf("%w: permit %d granted to clients %d and %d",
					ErrExclusivityViolated, sp.Permit.ID, prev, a.Client.ID)
			}
			owner[sp.Permit.ID] = a.Client.ID
		}
	}
	return nil
}
