// Package oracle asks an external judge to propose clusters of participants
// whose reflections read alike, along with pairwise similar/opposite signals.
package oracle

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/kalambet/dailymatch/internal/match"
)

// Oracle proposes a partition of the eligible pool. Any failure is reported
// as a match.CodeOracleUnavailable error.
type Oracle interface {
	Propose(ctx context.Context, req Request) (Proposal, error)
}

// Entry is one participant's input to the oracle.
type Entry struct {
	ParticipantID string `json:"participant_id"`
	Gender        string `json:"gender"`
	Review        string `json:"review"`
	Answer        string `json:"answer,omitempty"`
}

// Request carries the day's texts and the structural constraints the oracle
// should aim for.
type Request struct {
	CohortID     string
	Date         civil.Date
	Question     string
	Entries      []Entry
	MinSize      int
	MaxSize      int
	MinPerGender int
}

// NewRequest builds a request from eligible candidates. The day's question
// is taken from the first submission that carries one.
func NewRequest(cohortID string, date civil.Date, candidates []match.Candidate) Request {
	req := Request{
		CohortID:     cohortID,
		Date:         date,
		Entries:      make([]Entry, len(candidates)),
		MinSize:      match.MinClusterSize,
		MaxSize:      match.MaxClusterSize,
		MinPerGender: match.MinPerGender,
	}
	for i, c := range candidates {
		req.Entries[i] = Entry{
			ParticipantID: c.Participant.ID,
			Gender:        string(c.Participant.Gender),
			Review:        c.Submission.Review,
			Answer:        c.Submission.DailyAnswer,
		}
		if req.Question == "" {
			req.Question = c.Submission.DailyQuestion
		}
	}
	return req
}

// IDs returns the participant ids in request order.
func (r Request) IDs() []string {
	ids := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		ids[i] = e.ParticipantID
	}
	return ids
}

// Member is a proposed cluster member with its affinity to the rest of the
// cluster, in [0,1].
type Member struct {
	ParticipantID string  `json:"participant_id"`
	Affinity      float64 `json:"affinity"`
}

// Pair is a directional relation between two members of a cluster.
type Pair struct {
	From     string      `json:"from"`
	To       string      `json:"to"`
	Relation match.Theme `json:"relation"`
	Score    float64     `json:"score"`
}

// Cluster is one proposed group.
type Cluster struct {
	Members []Member `json:"members"`
	Pairs   []Pair   `json:"pairs"`
}

// IDs returns the member ids in proposal order.
func (c Cluster) IDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ParticipantID
	}
	return ids
}

// Proposal is a validated oracle response.
type Proposal struct {
	Clusters []Cluster `json:"clusters"`
}

// Affinities flattens member affinities. A participant proposed twice keeps
// its first affinity.
func (p Proposal) Affinities() map[string]float64 {
	out := make(map[string]float64)
	for _, c := range p.Clusters {
		for _, m := range c.Members {
			if _, ok := out[m.ParticipantID]; !ok {
				out[m.ParticipantID] = m.Affinity
			}
		}
	}
	return out
}

// Pairs returns every pair across clusters.
func (p Proposal) Pairs() []Pair {
	var out []Pair
	for _, c := range p.Clusters {
		out = append(out, c.Pairs...)
	}
	return out
}
