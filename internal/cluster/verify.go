package cluster

import (
	"fmt"
	"sort"

	"github.com/kalambet/dailymatch/internal/match"
)

// Verify asserts the partition invariants: every member is in the pool,
// nobody is in two clusters or twice in one, every pool member is placed,
// and sizes are in bounds unless the run is degraded. Any failure is an
// InternalInvariantViolation.
func Verify(pool []match.Participant, clusters []match.Cluster, degraded bool) error {
	inPool := make(map[string]bool, len(pool))
	for _, p := range pool {
		inPool[p.ID] = true
	}

	where := make(map[string]int, len(pool))
	var bad []string
	var problems []string
	for i, c := range clusters {
		if !degraded && (len(c) < match.MinClusterSize || len(c) > match.MaxClusterSize) {
			problems = append(problems, fmt.Sprintf("cluster %d has %d members", i, len(c)))
		}
		for _, id := range c {
			if !inPool[id] {
				bad = append(bad, id)
				problems = append(problems, fmt.Sprintf("unknown participant in cluster %d", i))
				continue
			}
			if j, seen := where[id]; seen {
				bad = append(bad, id)
				problems = append(problems, fmt.Sprintf("participant in clusters %d and %d", j, i))
				continue
			}
			where[id] = i
		}
	}
	for _, p := range pool {
		if _, ok := where[p.ID]; !ok {
			bad = append(bad, p.ID)
			problems = append(problems, "participant not placed")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(bad)
	e := match.Errorf(match.CodeInternalInvariant, "partition invalid: %s", problems[0])
	if len(problems) > 1 {
		e.Msg += fmt.Sprintf(" (and %d more)", len(problems)-1)
	}
	e.Participants = bad
	return e
}
