package cluster

import (
	"github.com/kalambet/dailymatch/internal/match"
)

var countedGenders = []match.Gender{match.GenderMale, match.GenderFemale, match.GenderOther}

// deficit is how many more members of its best-represented gender a group
// needs to reach match.MinPerGender. Zero means balanced.
func deficit(counts map[match.Gender]int) int {
	best := match.MinPerGender
	for _, g := range countedGenders {
		best = min(best, max(0, match.MinPerGender-counts[g]))
	}
	return best
}

func (s *state) counts(i int) map[match.Gender]int {
	c := make(map[match.Gender]int, 4)
	for _, id := range s.groups[i] {
		c[s.gender[id]]++
	}
	return c
}

// balanceGenders swaps members between clusters while a swap strictly
// lowers the summed deficit. Swaps never change cluster sizes.
func (s *state) balanceGenders() {
	if len(s.groups) < 2 {
		return
	}
	counts := make([]map[match.Gender]int, len(s.groups))
	for i := range s.groups {
		counts[i] = s.counts(i)
	}

	limit := 0
	for _, g := range s.groups {
		limit += len(g)
	}
	for range limit {
		type swap struct {
			a, b   int
			ua, ub int
			gain   int
			weight float64
		}
		var best *swap
		for a := 0; a < len(s.groups); a++ {
			for b := a + 1; b < len(s.groups); b++ {
				before := deficit(counts[a]) + deficit(counts[b])
				if before == 0 {
					continue
				}
				for ia, ua := range s.groups[a] {
					ga := s.gender[ua]
					for ib, ub := range s.groups[b] {
						gb := s.gender[ub]
						if ga == gb {
							continue
						}
						counts[a][ga]--
						counts[a][gb]++
						counts[b][gb]--
						counts[b][ga]++
						after := deficit(counts[a]) + deficit(counts[b])
						counts[a][ga]++
						counts[a][gb]--
						counts[b][gb]++
						counts[b][ga]--

						gain := before - after
						if gain <= 0 {
							continue
						}
						w := s.affinity[ua] + s.affinity[ub]
						if best == nil || gain > best.gain || (gain == best.gain && w < best.weight) {
							best = &swap{a: a, b: b, ua: ia, ub: ib, gain: gain, weight: w}
						}
					}
				}
			}
		}
		if best == nil {
			return
		}

		ua, ub := s.groups[best.a][best.ua], s.groups[best.b][best.ub]
		ga, gb := s.gender[ua], s.gender[ub]
		s.groups[best.a][best.ua], s.groups[best.b][best.ub] = ub, ua
		counts[best.a][ga]--
		counts[best.a][gb]++
		counts[best.b][gb]--
		counts[best.b][ga]++
		s.report.Repairs = append(s.report.Repairs,
			match.Repair{Kind: match.RepairSwap, ParticipantID: ua, From: best.a, To: best.b},
			match.Repair{Kind: match.RepairSwap, ParticipantID: ub, From: best.b, To: best.a},
		)
	}
}

// balanceCapacity is how many clusters the pool's genders can balance at
// once.
func (s *state) balanceCapacity() int {
	total := make(map[match.Gender]int)
	for _, g := range s.gender {
		total[g]++
	}
	capacity := 0
	for _, g := range countedGenders {
		capacity += total[g] / match.MinPerGender
	}
	return capacity
}

// recordShortfalls reports every cluster still short of the gender target.
// A shortfall is structural when the pool cannot balance every cluster.
func (s *state) recordShortfalls() {
	structural := s.balanceCapacity() < len(s.groups)
	for i := range s.groups {
		c := s.counts(i)
		if deficit(c) == 0 {
			continue
		}
		s.report.Shortfalls = append(s.report.Shortfalls, match.GenderShortfall{
			Cluster:    i,
			Counts:     c,
			Structural: structural,
		})
	}
}
