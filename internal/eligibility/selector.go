// Package eligibility computes who takes part in a day's matching run.
package eligibility

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dailymatch/internal/match"
)

// readConcurrency bounds parallel directory batches.
const readConcurrency = 4

// SubmissionSource reads daily reflections. Implemented by storage.Store.
type SubmissionSource interface {
	SubmissionsInRange(ctx context.Context, cohortID string, from, to civil.Date) ([]match.Submission, error)
}

// Directory reads participant records in batches of at most BatchSize ids.
// Implemented by storage.Store.
type Directory interface {
	ParticipantsByIDs(ctx context.Context, ids []string) ([]match.Participant, error)
}

// Selector computes the eligible pool for a cohort and date.
type Selector struct {
	submissions SubmissionSource
	directory   Directory
	exclude     map[string]bool
	logger      *slog.Logger
}

// NewSelector creates a Selector. excludeIDs lists administrative or system
// accounts that never take part, in addition to directory-flagged ones.
func NewSelector(submissions SubmissionSource, directory Directory, excludeIDs []string) *Selector {
	ex := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		if id != "" {
			ex[id] = true
		}
	}
	return &Selector{
		submissions: submissions,
		directory:   directory,
		exclude:     ex,
		logger:      slog.Default().With("component", "eligibility"),
	}
}

// Select returns the candidates for the run, sorted by participant id.
// It fails with InsufficientParticipants when either the qualifying
// submission count or the eligible participant count is below its minimum.
func (s *Selector) Select(ctx context.Context, cohortID string, date civil.Date) ([]match.Candidate, error) {
	subs, err := s.submissions.SubmissionsInRange(ctx, cohortID, date, date)
	if err != nil {
		return nil, match.Wrap(match.CodeDirectoryReadFailure, err, "reading submissions for %s on %s", cohortID, date)
	}

	chosen := pickOnePerParticipant(cohortID, date, subs)
	if dupes := countQualifying(cohortID, date, subs) - len(chosen); dupes > 0 {
		s.logger.Warn("duplicate submissions resolved to earliest", "cohort", cohortID, "date", date.String(), "dropped", dupes)
	}
	if len(chosen) < match.MinSubmissionsForMatching {
		return nil, match.Errorf(match.CodeInsufficientParticipants,
			"%d qualifying submissions on %s, need %d", len(chosen), date, match.MinSubmissionsForMatching)
	}

	ids := make([]string, 0, len(chosen))
	for id := range chosen {
		if s.exclude[id] {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	participants, err := s.readParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]match.Candidate, 0, len(participants))
	for _, p := range participants {
		switch {
		case p.CohortID != cohortID:
			s.logger.Debug("participant outside cohort skipped", "participant", p.ID, "cohort", p.CohortID)
			continue
		case p.Excluded:
			continue
		}
		candidates = append(candidates, match.Candidate{Participant: p, Submission: chosen[p.ID]})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Participant.ID < candidates[j].Participant.ID
	})

	if len(candidates) < match.MinParticipants {
		return nil, match.Errorf(match.CodeInsufficientParticipants,
			"%d eligible participants on %s, need %d", len(candidates), date, match.MinParticipants)
	}
	return candidates, nil
}

// readParticipants reads every id in fixed-size batches, concurrently, and
// only returns once all batches are in.
func (s *Selector) readParticipants(ctx context.Context, ids []string) ([]match.Participant, error) {
	s.logger.Debug("reading directory", "plan", planString(ids))
	batches := Chunk(ids, BatchSize)
	results := make([][]match.Participant, len(batches))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			ps, err := s.directory.ParticipantsByIDs(gCtx, batch)
			if err != nil {
				return match.Wrap(match.CodeDirectoryReadFailure, err, "reading participant batch %d/%d", i+1, len(batches))
			}
			results[i] = ps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}
	var out []match.Participant
	seen := make(map[string]bool, len(ids))
	for _, batch := range results {
		for _, p := range batch {
			if !requested[p.ID] || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	if missing := len(ids) - len(out); missing > 0 {
		s.logger.Debug("submitters missing from directory", "count", missing)
	}
	return out, nil
}

// pickOnePerParticipant keeps the earliest qualifying submission per
// participant; ties on CreatedAt go to the smallest submission id.
func pickOnePerParticipant(cohortID string, date civil.Date, subs []match.Submission) map[string]match.Submission {
	chosen := make(map[string]match.Submission)
	for _, sub := range subs {
		if !qualifies(cohortID, date, sub) {
			continue
		}
		cur, ok := chosen[sub.ParticipantID]
		if !ok || earlier(sub, cur) {
			chosen[sub.ParticipantID] = sub
		}
	}
	return chosen
}

func countQualifying(cohortID string, date civil.Date, subs []match.Submission) int {
	n := 0
	for _, sub := range subs {
		if qualifies(cohortID, date, sub) {
			n++
		}
	}
	return n
}

func qualifies(cohortID string, date civil.Date, sub match.Submission) bool {
	return sub.CohortID == cohortID && sub.Date == date && sub.ParticipantID != "" && sub.Qualifies()
}

func earlier(a, b match.Submission) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// planString renders a batch plan for log lines.
func planString(ids []string) string {
	return fmt.Sprintf("%d ids in %d batches", len(ids), len(Chunk(ids, BatchSize)))
}
