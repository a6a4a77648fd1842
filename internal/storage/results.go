package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/kalambet/dailymatch/internal/match"
)

// --- Matching results ---

// WriteResult persists r in one transaction. The caller must hold a live
// claim on r.Key, otherwise the write fails with LockHeld. An existing
// result for the same cohort and date fails with AlreadyComputed unless
// override is set, in which case it is replaced.
func (s *Store) WriteResult(ctx context.Context, holder string, r match.Result, override bool) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", r.Key, err)
	}
	key := r.Key.String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning result transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	var expires int64
	err = tx.QueryRowContext(ctx, `SELECT holder, expires_at FROM run_claims WHERE result_key = ?`, key).Scan(&owner, &expires)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("checking claim for %s: %w", key, err)
	}
	if err == sql.ErrNoRows || owner != holder || expires <= s.now().UnixMilli() {
		return match.Wrap(match.CodeLockHeld, ErrClaimLost, "writing %s", key)
	}

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT result_key FROM matching_results WHERE cohort_id = ? AND run_date = ?`,
		r.Key.CohortID, r.Key.Date.String()).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("checking existing result for %s: %w", key, err)
	case !override:
		return match.Errorf(match.CodeAlreadyComputed, "result %s already exists", existing)
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM matching_results WHERE cohort_id = ? AND run_date = ?`,
			r.Key.CohortID, r.Key.Date.String()); err != nil {
			return fmt.Errorf("replacing result %s: %w", existing, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO matching_results (result_key, cohort_id, run_date, run_id, degraded, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, r.Key.CohortID, r.Key.Date.String(), r.RunID, boolInt(r.Degraded), string(payload), formatTime(r.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting result %s: %w", key, err)
	}
	return tx.Commit()
}

// ResultExists reports whether a result is stored for the cohort and date.
func (s *Store) ResultExists(ctx context.Context, cohortID string, date civil.Date) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matching_results WHERE cohort_id = ? AND run_date = ?`,
		cohortID, date.String()).Scan(&n)
	return n > 0, err
}

// Result loads the full stored result, or ErrNotComputed.
func (s *Store) Result(ctx context.Context, cohortID string, date civil.Date) (match.Result, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM matching_results WHERE cohort_id = ? AND run_date = ?`,
		cohortID, date.String()).Scan(&payload)
	if err == sql.ErrNoRows {
		return match.Result{}, ErrNotComputed
	}
	if err != nil {
		return match.Result{}, err
	}
	var r match.Result
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return match.Result{}, fmt.Errorf("decoding result for %s on %s: %w", cohortID, date, err)
	}
	return r, nil
}

// ReadResult returns the viewer's matches for the day. It fails with
// ErrNotComputed when no run has completed, and ErrNotFound when the viewer
// did not take part.
func (s *Store) ReadResult(ctx context.Context, cohortID string, date civil.Date, viewer string) ([]match.Match, error) {
	r, err := s.Result(ctx, cohortID, date)
	if err != nil {
		return nil, err
	}
	m, ok := r.MatchesFor(viewer)
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

// --- Run claims ---

// AcquireClaim takes the lease on key for holder. A holder may renew its own
// claim; an expired claim of another holder is taken over.
func (s *Store) AcquireClaim(ctx context.Context, key, holder string, lease time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	var owner string
	var expires int64
	err = tx.QueryRowContext(ctx, `SELECT holder, expires_at FROM run_claims WHERE result_key = ?`, key).Scan(&owner, &expires)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("reading claim for %s: %w", key, err)
	}
	if err == nil && owner != holder && expires > now.UnixMilli() {
		return ErrClaimHeld
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO run_claims (result_key, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(result_key) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at`,
		key, holder, now.Add(lease).UnixMilli(),
	); err != nil {
		return fmt.Errorf("writing claim for %s: %w", key, err)
	}
	return tx.Commit()
}

// ReleaseClaim drops holder's claim on key. Releasing a claim held by
// someone else is a no-op.
func (s *Store) ReleaseClaim(ctx context.Context, key, holder string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_claims WHERE result_key = ? AND holder = ?`, key, holder)
	return err
}

// --- Run history ---

func (s *Store) StartRun(ctx context.Context, r Run) error {
	status := r.Status
	if status == "" {
		status = RunRunning
	}
	started := r.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, result_key, cohort_id, run_date, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ResultKey, r.CohortID, r.Date.String(), status, formatTime(started),
	)
	return err
}

// FinishRun records the outcome of a started run.
func (s *Store) FinishRun(ctx context.Context, r Run) error {
	finished := r.FinishedAt
	if finished.IsZero() {
		finished = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, code = ?, attempts = ?, degraded = ?, shortfalls = ?, repairs = ?,
			finished_at = ?, error = ?
		WHERE id = ?`,
		r.Status, r.Code, r.Attempts, boolInt(r.Degraded), r.Shortfalls, r.Repairs,
		formatTime(finished), r.Error, r.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentRuns lists the newest runs first. An empty cohortID lists all cohorts.
func (s *Store) RecentRuns(ctx context.Context, cohortID string, limit int) ([]Run, error) {
	q := `SELECT id, result_key, cohort_id, run_date, status, code, attempts, degraded, shortfalls, repairs,
		started_at, finished_at, error FROM runs`
	args := []any{}
	if cohortID != "" {
		q += ` WHERE cohort_id = ?`
		args = append(args, cohortID)
	}
	q += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var date, started, finished string
		var degraded int
		if err := rows.Scan(&r.ID, &r.ResultKey, &r.CohortID, &date, &r.Status, &r.Code, &r.Attempts,
			&degraded, &r.Shortfalls, &r.Repairs, &started, &finished, &r.Error); err != nil {
			return nil, err
		}
		r.Degraded = degraded != 0
		if r.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parsing run_date for run %s: %w", r.ID, err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parsing started_at for run %s: %w", r.ID, err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("parsing finished_at for run %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
