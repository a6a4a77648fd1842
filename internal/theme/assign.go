// Package theme expands clusters into per-viewer match lists and labels each
// pair "similar" or "opposite" from the oracle's pairwise signals.
package theme

import (
	"fmt"
	"sort"

	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/oracle"
)

type edge struct{ from, to string }

// Assign returns, for every member of every cluster, the other members of
// its cluster with a theme. The theme of (A,B) comes from the oracle's
// (A,B) signal, then (B,A), and is similar when neither exists. Pairs the
// oracle gave for members that ended up in different clusters are ignored.
func Assign(clusters []match.Cluster, pairs []oracle.Pair) (map[string][]match.Match, error) {
	signals := make(map[edge]oracle.Pair, len(pairs))
	for _, p := range pairs {
		e := edge{p.From, p.To}
		if _, ok := signals[e]; !ok {
			signals[e] = p
		}
	}

	members := make(map[string][]match.Match)
	for ci, c := range clusters {
		for _, a := range c {
			if _, dup := members[a]; dup {
				return nil, &match.Error{Code: match.CodeInternalInvariant,
					Msg: "participant placed in more than one cluster", Participants: []string{a}}
			}
			list := make([]match.Match, 0, len(c)-1)
			for _, b := range c {
				if a == b {
					continue
				}
				list = append(list, lookup(signals, a, b))
			}
			if len(list) != len(c)-1 {
				return nil, &match.Error{Code: match.CodeInternalInvariant,
					Msg: fmt.Sprintf("participant appears twice in cluster %d", ci), Participants: []string{a}}
			}
			sort.Slice(list, func(i, j int) bool { return list[i].ParticipantID < list[j].ParticipantID })
			members[a] = list
		}
	}
	if err := Check(members); err != nil {
		return nil, err
	}
	return members, nil
}

func lookup(signals map[edge]oracle.Pair, a, b string) match.Match {
	if p, ok := signals[edge{a, b}]; ok {
		return match.Match{ParticipantID: b, Theme: p.Relation, Score: p.Score}
	}
	if p, ok := signals[edge{b, a}]; ok {
		return match.Match{ParticipantID: b, Theme: p.Relation, Score: p.Score}
	}
	return match.Match{ParticipantID: b, Theme: match.ThemeSimilar}
}

// Check asserts that no one is matched with themself and that the relation
// is symmetric: B is in A's list exactly when A is in B's.
func Check(members map[string][]match.Match) error {
	for a, list := range members {
		seen := make(map[string]bool, len(list))
		for _, m := range list {
			b := m.ParticipantID
			switch {
			case b == a:
				return &match.Error{Code: match.CodeInternalInvariant, Msg: "self-match", Participants: []string{a}}
			case seen[b]:
				return &match.Error{Code: match.CodeInternalInvariant, Msg: "repeated match", Participants: []string{a, b}}
			case !contains(members[b], a):
				return &match.Error{Code: match.CodeInternalInvariant, Msg: "asymmetric match", Participants: []string{a, b}}
			}
			seen[b] = true
		}
	}
	return nil
}

func contains(list []match.Match, id string) bool {
	for _, m := range list {
		if m.ParticipantID == id {
			return true
		}
	}
	return false
}
