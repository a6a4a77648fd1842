package cluster

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"slices"
	"testing"

	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/oracle"
)

// makePool builds participants p00, p01, ... with genders taken from the
// letters of genders: F, M, O or U.
func makePool(genders string) []match.Participant {
	pool := make([]match.Participant, len(genders))
	for i, g := range genders {
		pool[i] = match.Participant{ID: fmt.Sprintf("p%02d", i), CohortID: "c", Gender: letterGender(g)}
	}
	return pool
}

func letterGender(r rune) match.Gender {
	switch r {
	case 'F':
		return match.GenderFemale
	case 'M':
		return match.GenderMale
	case 'O':
		return match.GenderOther
	}
	return match.GenderUnknown
}

func proposal(groups ...[]string) oracle.Proposal {
	var p oracle.Proposal
	for _, g := range groups {
		var c oracle.Cluster
		for _, id := range g {
			c.Members = append(c.Members, oracle.Member{ParticipantID: id, Affinity: 0.5})
		}
		p.Clusters = append(p.Clusters, c)
	}
	return p
}

func ids(from, to int) []string {
	var out []string
	for i := from; i < to; i++ {
		out = append(out, fmt.Sprintf("p%02d", i))
	}
	return out
}

func assertPartition(t *testing.T, pool []match.Participant, out Outcome) {
	t.Helper()
	if err := Verify(pool, out.Clusters, out.Report.Degraded); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func repairKinds(r match.Report) map[string]int {
	kinds := make(map[string]int)
	for _, rep := range r.Repairs {
		kinds[rep.Kind]++
	}
	return kinds
}

func TestRepair_TwelveSplitIntoTwoBalancedClusters(t *testing.T) {
	pool := makePool("FFFFFFFMMMMM")
	out, err := NewRepairer().Repair(pool, proposal(ids(0, 12)))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	assertPartition(t, pool, out)

	if len(out.Clusters) != 2 {
		t.Fatalf("clusters = %d, want 2", len(out.Clusters))
	}
	for i, c := range out.Clusters {
		if len(c) != 6 {
			t.Errorf("cluster %d size = %d, want 6", i, len(c))
		}
	}
	if len(out.Report.Shortfalls) != 0 {
		t.Errorf("shortfalls = %+v, want none", out.Report.Shortfalls)
	}
	if out.Report.Degraded {
		t.Error("run marked degraded")
	}
}

func TestRepair_SplitMovesLowestAffinity(t *testing.T) {
	pool := makePool("FFFFFMMMMMFM")
	p := proposal(ids(0, 12))
	for i := range p.Clusters[0].Members {
		p.Clusters[0].Members[i].Affinity = 0.9
	}
	// p03 fits worst and must be the one that leaves.
	p.Clusters[0].Members[3].Affinity = 0.1

	out, err := NewRepairer().Repair(pool, p)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	first := out.Report.Repairs[0]
	if first.Kind != match.RepairSplit || first.ParticipantID != "p03" {
		t.Errorf("first repair = %+v, want split of p03", first)
	}
}

func TestRepair_FoldsOmittedIntoSmallest(t *testing.T) {
	pool := makePool("FFFFFFFMMMMM")
	out, err := NewRepairer().Repair(pool, proposal(ids(0, 6), ids(6, 10)))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	assertPartition(t, pool, out)

	if want := []string{"p10", "p11"}; !slices.Equal(out.Report.Omitted, want) {
		t.Errorf("Omitted = %v, want %v", out.Report.Omitted, want)
	}
	if repairKinds(out.Report)[match.RepairFold] != 2 {
		t.Errorf("repairs = %+v, want two folds", out.Report.Repairs)
	}
	if !out.Clusters[1].Contains("p10") || !out.Clusters[1].Contains("p11") {
		t.Errorf("omitted participants not folded into the smaller cluster: %v", out.Clusters)
	}
}

func TestRepair_NoClustersProposed(t *testing.T) {
	pool := makePool("FFFFFMMMMMFM")
	out, err := NewRepairer().Repair(pool, oracle.Proposal{})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	assertPartition(t, pool, out)
	if len(out.Report.Omitted) != 12 {
		t.Errorf("Omitted = %d, want 12", len(out.Report.Omitted))
	}
}

func TestRepair_DropsDuplicatesAndUnknowns(t *testing.T) {
	pool := makePool("FFFFFMMMMMFM")
	a := append(ids(0, 6), "ghost")
	b := append(ids(6, 12), "p02")

	out, err := NewRepairer().Repair(pool, proposal(a, b))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	assertPartition(t, pool, out)
	kinds := repairKinds(out.Report)
	if kinds[match.RepairDuplicate] != 1 || kinds[match.RepairUnknown] != 1 {
		t.Errorf("repairs = %+v", out.Report.Repairs)
	}
	if !out.Clusters[0].Contains("p02") {
		t.Error("duplicate should keep its first placement")
	}
}

func TestRepair_MergesTooManyClusters(t *testing.T) {
	pool := makePool("FFFFFFMMMMMM")
	out, err := NewRepairer().Repair(pool, proposal(ids(0, 3), ids(3, 6), ids(6, 9), ids(9, 12)))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	assertPartition(t, pool, out)
	if len(out.Clusters) != 2 {
		t.Fatalf("clusters = %d, want 2", len(out.Clusters))
	}
	// Three members from the first dissolved cluster, then four.
	if repairKinds(out.Report)[match.RepairDissolve] != 7 {
		t.Errorf("repairs = %+v, want 7 dissolve moves", out.Report.Repairs)
	}
}

func TestRepair_DissolveRepairsUseProposalNumbering(t *testing.T) {
	pool := makePool("FFFFFFMMMMMM")
	out, err := NewRepairer().Repair(pool, proposal(ids(0, 2), ids(2, 7), ids(7, 12)))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	assertPartition(t, pool, out)

	var n int
	for _, rp := range out.Report.Repairs {
		if rp.Kind != match.RepairDissolve {
			continue
		}
		n++
		if rp.From != 0 {
			t.Errorf("%s dissolved from cluster %d, want 0", rp.ParticipantID, rp.From)
		}
		if rp.To != 1 && rp.To != 2 {
			t.Errorf("%s moved to cluster %d, want 1 or 2", rp.ParticipantID, rp.To)
		}
	}
	if n != 2 {
		t.Errorf("dissolve repairs = %d, want 2: %+v", n, out.Report.Repairs)
	}
}

func TestRepair_RebalancesUnevenSizes(t *testing.T) {
	pool := makePool("FFFFFMMMMM")
	out, err := NewRepairer().Repair(pool, proposal(ids(0, 8), ids(8, 10)))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	assertPartition(t, pool, out)
	if len(out.Clusters[0]) != 5 || len(out.Clusters[1]) != 5 {
		t.Errorf("sizes = %d,%d want 5,5", len(out.Clusters[0]), len(out.Clusters[1]))
	}
}

func TestRepair_FourParticipantsDegraded(t *testing.T) {
	pool := makePool("FFMM")
	out, err := NewRepairer().Repair(pool, proposal(ids(0, 2), ids(2, 4)))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	assertPartition(t, pool, out)
	if !out.Report.Degraded || out.Report.DegradedReason == "" {
		t.Error("undersized pool must be reported as degraded")
	}
	if len(out.Clusters) != 1 || len(out.Clusters[0]) != 4 {
		t.Fatalf("clusters = %v, want one cluster of 4", out.Clusters)
	}
	if len(out.Report.Shortfalls) != 1 || !out.Report.Shortfalls[0].Structural {
		t.Errorf("shortfalls = %+v, want one structural", out.Report.Shortfalls)
	}
}

func TestRepair_InfeasiblePools(t *testing.T) {
	t.Run("eight", func(t *testing.T) {
		pool := makePool("FFFFMMMM")
		_, err := NewRepairer().Repair(pool, proposal(ids(0, 4), ids(4, 8)))
		if !errors.Is(err, match.ErrUnsatisfiableClusterSizes) {
			t.Fatalf("error = %v, want UnsatisfiableClusterSizes", err)
		}
	})
	t.Run("nine with omission", func(t *testing.T) {
		pool := makePool("FFFFFMMMM")
		_, err := NewRepairer().Repair(pool, proposal(ids(0, 8)))
		if !errors.Is(err, match.ErrUnassignableParticipants) {
			t.Fatalf("error = %v, want UnassignableParticipants", err)
		}
		var me *match.Error
		if !errors.As(err, &me) {
			t.Fatalf("error %T is not *match.Error", err)
		}
		if !slices.Equal(me.Participants, []string{"p08"}) {
			t.Errorf("participants = %v, want [p08]", me.Participants)
		}
	})
}

func TestRepair_GenderSwap(t *testing.T) {
	// p00-p02 male, p03-p05 female, p06-p09 unknown.
	pool := makePool("MMMFFFUUUU")
	a := []string{"p00", "p01", "p03", "p06", "p07"}
	b := []string{"p02", "p04", "p05", "p08", "p09"}

	out, err := NewRepairer().Repair(pool, proposal(a, b))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	assertPartition(t, pool, out)
	if len(out.Report.Shortfalls) != 0 {
		t.Fatalf("shortfalls = %+v, want none after swap", out.Report.Shortfalls)
	}
	if repairKinds(out.Report)[match.RepairSwap] != 2 {
		t.Errorf("repairs = %+v, want one swap", out.Report.Repairs)
	}
	if !out.Clusters[0].Contains("p02") || !out.Clusters[1].Contains("p03") {
		t.Errorf("clusters = %v, want p02 and p03 exchanged", out.Clusters)
	}
}

func TestRepair_StructuralShortfall(t *testing.T) {
	pool := makePool("MMFFUUUUUU")
	out, err := NewRepairer().Repair(pool, proposal(ids(0, 5), ids(5, 10)))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	assertPartition(t, pool, out)
	if len(out.Report.Shortfalls) != 2 {
		t.Fatalf("shortfalls = %+v, want 2", out.Report.Shortfalls)
	}
	for _, sf := range out.Report.Shortfalls {
		if !sf.Structural {
			t.Errorf("shortfall %+v should be structural", sf)
		}
	}
}

func TestRepair_Deterministic(t *testing.T) {
	pool := makePool("FMOUFMFMFMUOFFMMFU")
	p := proposal(ids(0, 4), ids(4, 13), ids(14, 18))
	a, errA := NewRepairer().Repair(pool, p)
	b, errB := NewRepairer().Repair(pool, p)
	if errA != nil || errB != nil {
		t.Fatalf("Repair: %v / %v", errA, errB)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different outcomes")
	}
}

// TestRepair_RandomProposals feeds arbitrary oracle output and checks the
// structural guarantees hold for every feasible pool size.
func TestRepair_RandomProposals(t *testing.T) {
	letters := []rune("FMOU")
	for seed := int64(1); seed <= 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		n := 10 + rng.Intn(50)
		genders := make([]rune, n)
		for i := range genders {
			genders[i] = letters[rng.Intn(len(letters))]
		}
		pool := makePool(string(genders))

		var groups [][]string
		for range 1 + rng.Intn(12) {
			var g []string
			for range rng.Intn(10) {
				g = append(g, fmt.Sprintf("p%02d", rng.Intn(n+3)))
			}
			groups = append(groups, g)
		}
		p := proposal(groups...)
		for _, c := range p.Clusters {
			for i := range c.Members {
				c.Members[i].Affinity = rng.Float64()
			}
		}

		out, err := NewRepairer().Repair(pool, p)
		if err != nil {
			t.Fatalf("seed %d (n=%d): %v", seed, n, err)
		}
		assertPartition(t, pool, out)

		reported := make(map[int]bool)
		for _, sf := range out.Report.Shortfalls {
			reported[sf.Cluster] = true
		}
		for i, c := range out.Clusters {
			counts := make(map[match.Gender]int)
			for _, id := range c {
				counts[letterGender(genders[idIndex(id)])]++
			}
			if deficit(counts) > 0 && !reported[i] {
				t.Errorf("seed %d: cluster %d unbalanced %v but not reported", seed, i, counts)
			}
		}
	}
}

func idIndex(id string) int {
	var i int
	fmt.Sscanf(id, "p%02d", &i)
	return i
}
