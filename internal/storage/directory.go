package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/kalambet/dailymatch/internal/match"
)

// --- Cohorts ---

func (s *Store) UpsertCohort(ctx context.Context, c match.Cohort) error {
	seq := c.Sequence
	if seq == "" {
		seq = "1"
	}
	tz := c.Timezone
	if tz == "" {
		tz = "UTC"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cohorts (id, title, sequence, timezone, active, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, sequence = excluded.sequence,
			timezone = excluded.timezone, active = excluded.active`,
		c.ID, c.Title, seq, tz, boolInt(c.Active), formatTime(s.now()),
	)
	return err
}

func (s *Store) GetCohort(ctx context.Context, id string) (match.Cohort, error) {
	var c match.Cohort
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, sequence, timezone, active FROM cohorts WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.Sequence, &c.Timezone, &active)
	if err == sql.ErrNoRows {
		return match.Cohort{}, ErrNotFound
	}
	if err != nil {
		return match.Cohort{}, err
	}
	c.Active = active != 0
	return c, nil
}

// ListCohorts returns cohorts ordered by id, optionally only active ones.
func (s *Store) ListCohorts(ctx context.Context, activeOnly bool) ([]match.Cohort, error) {
	q := `SELECT id, title, sequence, timezone, active FROM cohorts`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []match.Cohort
	for rows.Next() {
		var c match.Cohort
		var active int
		if err := rows.Scan(&c.ID, &c.Title, &c.Sequence, &c.Timezone, &active); err != nil {
			return nil, err
		}
		c.Active = active != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Participants ---

func (s *Store) UpsertParticipant(ctx context.Context, p match.Participant) error {
	gender := p.Gender
	if gender == "" {
		gender = match.GenderUnknown
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (id, cohort_id, name, gender, excluded) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET cohort_id = excluded.cohort_id, name = excluded.name,
			gender = excluded.gender, excluded = excluded.excluded`,
		p.ID, p.CohortID, p.Name, string(gender), boolInt(p.Excluded),
	)
	return err
}

const participantColumns = `p.id, p.cohort_id, p.name, p.gender, p.excluded,
	(SELECT COUNT(*) FROM submissions s WHERE s.participant_id = p.id)`

// ParticipantsByIDs reads at most MaxIDsPerRead participants. Unknown ids
// are skipped. Larger requests fail with ErrBatchTooLarge.
func (s *Store) ParticipantsByIDs(ctx context.Context, ids []string) ([]match.Participant, error) {
	if len(ids) > MaxIDsPerRead {
		return nil, fmt.Errorf("%d ids: %w", len(ids), ErrBatchTooLarge)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT ` + participantColumns + ` FROM participants p
		WHERE p.id IN (?` + strings.Repeat(",?", len(ids)-1) + `) ORDER BY p.id`
	return s.queryParticipants(ctx, q, args...)
}

func (s *Store) ParticipantsByCohort(ctx context.Context, cohortID string) ([]match.Participant, error) {
	q := `SELECT ` + participantColumns + ` FROM participants p WHERE p.cohort_id = ? ORDER BY p.id`
	return s.queryParticipants(ctx, q, cohortID)
}

func (s *Store) queryParticipants(ctx context.Context, q string, args ...any) ([]match.Participant, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []match.Participant
	for rows.Next() {
		var p match.Participant
		var gender string
		var excluded int
		if err := rows.Scan(&p.ID, &p.CohortID, &p.Name, &gender, &excluded, &p.SubmissionCount); err != nil {
			return nil, err
		}
		p.Gender = match.ParseGender(gender)
		p.Excluded = excluded != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Submissions ---

func (s *Store) AddSubmission(ctx context.Context, sub match.Submission) error {
	if !sub.Date.IsValid() {
		return fmt.Errorf("submission %s: invalid date", sub.ID)
	}
	created := sub.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, participant_id, cohort_id, run_date, review, daily_answer, daily_question, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ParticipantID, sub.CohortID, sub.Date.String(),
		sub.Review, sub.DailyAnswer, sub.DailyQuestion, formatTime(created),
	)
	return err
}

// SubmissionsInRange returns the cohort's submissions dated from..to
// inclusive, ordered by date, creation time and id.
func (s *Store) SubmissionsInRange(ctx context.Context, cohortID string, from, to civil.Date) ([]match.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participant_id, cohort_id, run_date, review, daily_answer, daily_question, created_at
		FROM submissions WHERE cohort_id = ? AND run_date >= ? AND run_date <= ?
		ORDER BY run_date, created_at, id`,
		cohortID, from.String(), to.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []match.Submission
	for rows.Next() {
		var sub match.Submission
		var date, created string
		if err := rows.Scan(&sub.ID, &sub.ParticipantID, &sub.CohortID, &date,
			&sub.Review, &sub.DailyAnswer, &sub.DailyQuestion, &created); err != nil {
			return nil, err
		}
		if sub.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parsing run_date for submission %s: %w", sub.ID, err)
		}
		if sub.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parsing created_at for submission %s: %w", sub.ID, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
