package oracle

import (
	"context"
	"sort"
	"strings"

	"github.com/kalambet/dailymatch/internal/match"
)

// similarThreshold splits pairs into similar and opposite in the Fake.
const similarThreshold = 0.15

// Fake is a deterministic Oracle that groups entries by word overlap. It is
// used for offline runs and tests.
type Fake struct{}

// Propose partitions the pool into evenly sized clusters of about six,
// greedily placing each entry where its mean Jaccard similarity is highest.
func (Fake) Propose(ctx context.Context, req Request) (Proposal, error) {
	if err := ctx.Err(); err != nil {
		return Proposal{}, match.Wrap(match.CodeOracleUnavailable, err, "fake oracle")
	}
	entries := append([]Entry(nil), req.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ParticipantID < entries[j].ParticipantID })
	n := len(entries)
	if n == 0 {
		return Proposal{}, match.Errorf(match.CodeOracleUnavailable, "fake oracle: empty request")
	}

	terms := make(map[string]map[string]bool, n)
	for _, e := range entries {
		terms[e.ParticipantID] = termSet(e.Review + " " + e.Answer)
	}

	k := max(1, (n+3)/6)
	caps := make([]int, k)
	for i := range caps {
		caps[i] = n / k
		if i < n%k {
			caps[i]++
		}
	}

	groups := make([][]string, k)
	for i := 0; i < k; i++ {
		groups[i] = []string{entries[i].ParticipantID}
	}
	for _, e := range entries[k:] {
		best, bestScore := -1, -1.0
		for g := range groups {
			if len(groups[g]) >= caps[g] {
				continue
			}
			if s := meanSimilarity(terms, e.ParticipantID, groups[g]); s > bestScore {
				best, bestScore = g, s
			}
		}
		groups[best] = append(groups[best], e.ParticipantID)
	}

	var p Proposal
	for _, g := range groups {
		var c Cluster
		for _, id := range g {
			c.Members = append(c.Members, Member{ParticipantID: id, Affinity: meanSimilarity(terms, id, g)})
		}
		for i := 0; i < len(g); i++ {
			for j := i + 1; j < len(g); j++ {
				s := JaccardSimilarity(terms[g[i]], terms[g[j]])
				rel := match.ThemeSimilar
				if s < similarThreshold {
					rel = match.ThemeOpposite
				}
				c.Pairs = append(c.Pairs, Pair{From: g[i], To: g[j], Relation: rel, Score: s})
			}
		}
		p.Clusters = append(p.Clusters, c)
	}
	return p, nil
}

func meanSimilarity(terms map[string]map[string]bool, id string, group []string) float64 {
	var sum float64
	var count int
	for _, other := range group {
		if other == id {
			continue
		}
		sum += JaccardSimilarity(terms[id], terms[other])
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

var stopWords = map[string]bool{
	"the": true, "and": true, "are": true, "was": true, "were": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "must": true,
	"this": true, "that": true, "these": true, "those": true,
	"but": true, "then": true, "for": true, "from": true, "with": true,
	"about": true, "into": true, "its": true, "which": true, "who": true,
	"what": true, "when": true, "where": true, "how": true, "why": true,
}

// termSet tokenizes text into lowercase words of three or more letters,
// minus stop words.
func termSet(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	terms := make(map[string]bool, len(words))
	for _, w := range words {
		if len([]rune(w)) >= 3 && !stopWords[w] {
			terms[w] = true
		}
	}
	return terms
}

// JaccardSimilarity returns |a∩b| / |a∪b|, 1 for two empty sets.
func JaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
