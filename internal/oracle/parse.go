package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/dailymatch/internal/match"
)

// Wire shapes use pointers so missing required fields are detectable.
type wireProposal struct {
	Clusters *[]wireCluster `json:"clusters"`
}

type wireCluster struct {
	Members *[]wireMember `json:"members"`
	Pairs   *[]wirePair   `json:"pairs"`
}

type wireMember struct {
	ParticipantID *string  `json:"participant_id"`
	Affinity      *float64 `json:"affinity"`
}

type wirePair struct {
	From     *string  `json:"from"`
	To       *string  `json:"to"`
	Relation *string  `json:"relation"`
	Score    *float64 `json:"score"`
}

// ParseProposal decodes and validates an oracle response against the
// request's pool. Code fences and surrounding prose are tolerated; anything
// structurally wrong is an error.
func ParseProposal(raw string, req Request) (Proposal, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return Proposal{}, err
	}

	var w wireProposal
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return Proposal{}, fmt.Errorf("unmarshal proposal: %w", err)
	}
	if w.Clusters == nil {
		return Proposal{}, errors.New("missing clusters")
	}

	known := make(map[string]bool, len(req.Entries))
	for _, e := range req.Entries {
		known[e.ParticipantID] = true
	}

	var p Proposal
	members := 0
	for i, wc := range *w.Clusters {
		c, err := convertCluster(wc, known)
		if err != nil {
			return Proposal{}, fmt.Errorf("cluster %d: %w", i, err)
		}
		members += len(c.Members)
		p.Clusters = append(p.Clusters, c)
	}
	if members == 0 {
		return Proposal{}, errors.New("proposal has no members")
	}
	return p, nil
}

func convertCluster(wc wireCluster, known map[string]bool) (Cluster, error) {
	if wc.Members == nil {
		return Cluster{}, errors.New("missing members")
	}
	if wc.Pairs == nil {
		return Cluster{}, errors.New("missing pairs")
	}

	var c Cluster
	for j, wm := range *wc.Members {
		if wm.ParticipantID == nil || wm.Affinity == nil {
			return Cluster{}, fmt.Errorf("member %d: missing field", j)
		}
		if !known[*wm.ParticipantID] {
			return Cluster{}, fmt.Errorf("member %d: unknown participant %q", j, *wm.ParticipantID)
		}
		if !inUnit(*wm.Affinity) {
			return Cluster{}, fmt.Errorf("member %d: affinity %v out of range", j, *wm.Affinity)
		}
		c.Members = append(c.Members, Member{ParticipantID: *wm.ParticipantID, Affinity: *wm.Affinity})
	}

	for j, wp := range *wc.Pairs {
		if wp.From == nil || wp.To == nil || wp.Relation == nil || wp.Score == nil {
			return Cluster{}, fmt.Errorf("pair %d: missing field", j)
		}
		if !known[*wp.From] || !known[*wp.To] {
			return Cluster{}, fmt.Errorf("pair %d: unknown participant", j)
		}
		theme, ok := match.ParseTheme(*wp.Relation)
		if !ok {
			return Cluster{}, fmt.Errorf("pair %d: invalid relation %q", j, *wp.Relation)
		}
		if !inUnit(*wp.Score) {
			return Cluster{}, fmt.Errorf("pair %d: score %v out of range", j, *wp.Score)
		}
		if *wp.From == *wp.To {
			continue
		}
		c.Pairs = append(c.Pairs, Pair{From: *wp.From, To: *wp.To, Relation: theme, Score: *wp.Score})
	}
	return c, nil
}

func inUnit(f float64) bool { return f >= 0 && f <= 1 }

// extractJSON strips markdown fences and returns the outermost JSON object.
func extractJSON(resp string) (string, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", errors.New("no JSON object in response")
	}
	return s[start : end+1], nil
}
