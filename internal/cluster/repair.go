// Package cluster turns an oracle proposal into a partition that satisfies
// the structural rules: every eligible participant in exactly one cluster,
// clusters of five to seven, and best-effort gender balance.
package cluster

import (
	"log/slog"
	"sort"

	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/oracle"
)

// Outcome is a repaired partition and the report of how it was reached.
type Outcome struct {
	Clusters []match.Cluster
	Report   match.Report
}

// Repairer validates and repairs oracle proposals. It is deterministic:
// the same pool and proposal always give the same outcome.
type Repairer struct {
	logger *slog.Logger
}

// NewRepairer creates a Repairer.
func NewRepairer() *Repairer {
	return &Repairer{logger: slog.Default().With("component", "cluster")}
}

// state is the working partition.
type state struct {
	groups   [][]string
	affinity map[string]float64
	gender   map[string]match.Gender
	report   match.Report
}

// Repair applies normalization, completeness, size and gender passes to the
// proposal, then asserts the result. pool is the eligible participant list.
// A gender shortfall is only reported and never yields UnassignableParticipants.
func (r *Repairer) Repair(pool []match.Participant, p oracle.Proposal) (Outcome, error) {
	n := len(pool)
	if n == 0 {
		return Outcome{}, match.Errorf(match.CodeInternalInvariant, "repair called with an empty pool")
	}

	s := &state{
		affinity: p.Affinities(),
		gender:   make(map[string]match.Gender, n),
	}
	s.report.ProposedClusters = len(p.Clusters)
	for _, pt := range pool {
		s.gender[pt.ID] = pt.Gender
	}

	s.normalize(p)
	omitted := s.fold(pool)

	switch {
	case n < match.MinClusterSize:
		s.collapse()
		s.report.Degraded = true
		s.report.DegradedReason = "pool smaller than minimum cluster size"
		r.logger.Warn("degraded run: single undersized cluster", "pool", n)
	default:
		kMin := (n + match.MaxClusterSize - 1) / match.MaxClusterSize
		kMax := n / match.MinClusterSize
		if kMin > kMax {
			if len(omitted) > 0 {
				e := match.Errorf(match.CodeUnassignableParticipants,
					"pool of %d cannot be split into clusters of %d-%d after folding omitted participants",
					n, match.MinClusterSize, match.MaxClusterSize)
				e.Participants = omitted
				return Outcome{}, e
			}
			return Outcome{}, match.Errorf(match.CodeUnsatisfiableClusterSizes,
				"pool of %d cannot be split into clusters of %d-%d", n, match.MinClusterSize, match.MaxClusterSize)
		}
		k := min(max(len(s.groups), kMin), kMax)
		s.resize(k)
		s.rebalance()
	}

	s.balanceGenders()
	s.recordShortfalls()
	for _, sf := range s.report.Shortfalls {
		r.logger.Warn("gender balance shortfall", "cluster", sf.Cluster, "counts", sf.Counts, "structural", sf.Structural)
	}

	clusters := make([]match.Cluster, len(s.groups))
	for i, g := range s.groups {
		clusters[i] = match.Cluster(g).Sorted()
	}
	if err := Verify(pool, clusters, s.report.Degraded); err != nil {
		r.logger.Error("partition failed verification", "error", err, "clusters", clusters, "repairs", s.report.Repairs)
		return Outcome{}, err
	}
	return Outcome{Clusters: clusters, Report: s.report}, nil
}

// normalize copies the proposal into working groups, dropping unknown ids,
// repeated appearances and empty clusters.
func (s *state) normalize(p oracle.Proposal) {
	placed := make(map[string]int)
	for i, c := range p.Clusters {
		var g []string
		for _, id := range c.IDs() {
			if _, ok := s.gender[id]; !ok {
				s.report.Repairs = append(s.report.Repairs, match.Repair{Kind: match.RepairUnknown, ParticipantID: id, From: i, To: -1})
				continue
			}
			if first, dup := placed[id]; dup {
				s.report.Repairs = append(s.report.Repairs, match.Repair{Kind: match.RepairDuplicate, ParticipantID: id, From: i, To: first})
				continue
			}
			placed[id] = len(s.groups)
			g = append(g, id)
		}
		if len(g) > 0 {
			s.groups = append(s.groups, g)
		}
	}
}

// fold places every pool member the proposal left out into the currently
// smallest cluster and returns their ids.
func (s *state) fold(pool []match.Participant) []string {
	placed := make(map[string]bool)
	for _, g := range s.groups {
		for _, id := range g {
			placed[id] = true
		}
	}
	var omitted []string
	for _, pt := range pool {
		if !placed[pt.ID] {
			omitted = append(omitted, pt.ID)
		}
	}
	sort.Strings(omitted)
	s.report.Omitted = omitted

	for _, id := range omitted {
		if len(s.groups) == 0 {
			s.groups = append(s.groups, nil)
		}
		to := s.smallest()
		s.groups[to] = append(s.groups[to], id)
		s.report.Repairs = append(s.report.Repairs, match.Repair{Kind: match.RepairFold, ParticipantID: id, From: -1, To: to})
	}
	return omitted
}

// collapse merges all groups into the first.
func (s *state) collapse() {
	var all []string
	for i, g := range s.groups {
		if i > 0 {
			for _, id := range g {
				s.report.Repairs = append(s.report.Repairs, match.Repair{Kind: match.RepairMove, ParticipantID: id, From: i, To: 0})
			}
		}
		all = append(all, g...)
	}
	s.groups = [][]string{all}
}

// resize dissolves or splits clusters until there are exactly k. Dissolve
// repairs number both From and To as the groups stood before the victim was
// removed.
func (s *state) resize(k int) {
	for len(s.groups) > k {
		victim := 0
		for i := range s.groups {
			if len(s.groups[i]) <= len(s.groups[victim]) {
				victim = i
			}
		}
		members := s.byAffinity(s.groups[victim], true)
		s.groups = append(s.groups[:victim], s.groups[victim+1:]...)
		for _, id := range members {
			to := s.smallest()
			s.groups[to] = append(s.groups[to], id)
			before := to
			if to >= victim {
				before++
			}
			s.report.Repairs = append(s.report.Repairs, match.Repair{Kind: match.RepairDissolve, ParticipantID: id, From: victim, To: before})
		}
	}
	for len(s.groups) < k {
		from := s.largest()
		id := s.weakest(from)
		s.remove(from, id)
		s.groups = append(s.groups, []string{id})
		s.report.Repairs = append(s.report.Repairs, match.Repair{Kind: match.RepairSplit, ParticipantID: id, From: from, To: len(s.groups) - 1})
	}
}

// rebalance moves lowest-affinity members from over-target clusters to the
// cluster with the largest deficit until every cluster meets its target.
func (s *state) rebalance() {
	targets := s.targets()
	for {
		over, under := -1, -1
		for i, g := range s.groups {
			d := len(g) - targets[i]
			if d > 0 && (over == -1 || d > len(s.groups[over])-targets[over]) {
				over = i
			}
			if d < 0 && (under == -1 || -d > targets[under]-len(s.groups[under])) {
				under = i
			}
		}
		if over == -1 || under == -1 {
			return
		}
		id := s.weakest(over)
		s.remove(over, id)
		s.groups[under] = append(s.groups[under], id)
		s.report.Repairs = append(s.report.Repairs, match.Repair{Kind: match.RepairMove, ParticipantID: id, From: over, To: under})
	}
}

// targets spreads the pool as evenly as possible; the larger targets go to
// the currently larger clusters.
func (s *state) targets() []int {
	n := 0
	for _, g := range s.groups {
		n += len(g)
	}
	k := len(s.groups)
	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(s.groups[order[a]]) > len(s.groups[order[b]])
	})
	targets := make([]int, k)
	for rank, i := range order {
		targets[i] = n / k
		if rank < n%k {
			targets[i]++
		}
	}
	return targets
}

func (s *state) smallest() int {
	best := 0
	for i := range s.groups {
		if len(s.groups[i]) < len(s.groups[best]) {
			best = i
		}
	}
	return best
}

func (s *state) largest() int {
	best := 0
	for i := range s.groups {
		if len(s.groups[i]) > len(s.groups[best]) {
			best = i
		}
	}
	return best
}

// weakest returns the member of group i with the lowest affinity; ties go
// to the largest id so that earlier ids stay put.
func (s *state) weakest(i int) string {
	ordered := s.byAffinity(s.groups[i], false)
	return ordered[0]
}

// byAffinity sorts ids by affinity, descending when high is set. Ties are
// broken by id, ascending for high and descending otherwise.
func (s *state) byAffinity(ids []string, high bool) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(a, b int) bool {
		fa, fb := s.affinity[out[a]], s.affinity[out[b]]
		if fa != fb {
			if high {
				return fa > fb
			}
			return fa < fb
		}
		if high {
			return out[a] < out[b]
		}
		return out[a] > out[b]
	})
	return out
}

func (s *state) remove(i int, id string) {
	g := s.groups[i]
	for j, m := range g {
		if m == id {
			s.groups[i] = append(g[:j:j], g[j+1:]...)
			return
		}
	}
}
