// Package pipeline runs one day's matching for one cohort: selection, the
// oracle, repair, themes and the result write, under a per-key claim.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/dailymatch/internal/cluster"
	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/oracle"
	"github.com/kalambet/dailymatch/internal/storage"
	"github.com/kalambet/dailymatch/internal/theme"
)

// Store is the persistence the runner needs. Implemented by storage.Store.
type Store interface {
	GetCohort(ctx context.Context, id string) (match.Cohort, error)
	ResultExists(ctx context.Context, cohortID string, date civil.Date) (bool, error)
	AcquireClaim(ctx context.Context, key, holder string, lease time.Duration) error
	ReleaseClaim(ctx context.Context, key, holder string) error
	WriteResult(ctx context.Context, holder string, r match.Result, override bool) error
	StartRun(ctx context.Context, r storage.Run) error
	FinishRun(ctx context.Context, r storage.Run) error
}

// Selector computes the eligible pool. Implemented by eligibility.Selector.
type Selector interface {
	Select(ctx context.Context, cohortID string, date civil.Date) ([]match.Candidate, error)
}

// Recorder receives run measurements. Implemented by metrics.Manager.
type Recorder interface {
	RunFinished(cohortID, outcome string, d time.Duration)
	PoolSelected(n int)
	OracleAttempt(err error)
	Partition(r match.Report)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(string, string, time.Duration) {}
func (nopRecorder) PoolSelected(int)                          {}
func (nopRecorder) OracleAttempt(error)                       {}
func (nopRecorder) Partition(match.Report)                    {}

// Config bounds retries and the claim lease.
type Config struct {
	// MaxAttempts applies separately to selection and to the oracle.
	MaxAttempts int
	// InitialBackoff is the wait before the first retry; it doubles after.
	InitialBackoff time.Duration
	// OracleTimeout bounds one oracle attempt.
	OracleTimeout time.Duration
	// LockLease is how long a claim stays valid without a write.
	LockLease time.Duration
}

// DefaultConfig returns the production retry and lease settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    match.OracleMaxAttempts,
		InitialBackoff: time.Second,
		OracleTimeout:  match.OracleTimeout,
		LockLease:      5 * time.Minute,
	}
}

// Request asks for one run. A zero Date means yesterday in the cohort's
// timezone. Force replaces an existing result.
type Request struct {
	CohortID string
	Date     civil.Date
	Force    bool
}

// Runner executes matching runs. At most one run per result key executes
// at a time in this process; the store claim extends that across processes.
type Runner struct {
	store    Store
	selector Selector
	oracle   oracle.Oracle
	repairer *cluster.Repairer
	recorder Recorder
	cfg      Config
	group    singleflight.Group
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder sets the metrics sink.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithSleep overrides the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// New creates a Runner. Zero fields of cfg take DefaultConfig values.
func New(store Store, selector Selector, orc oracle.Oracle, cfg Config, opts ...Option) *Runner {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = def.OracleTimeout
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = def.LockLease
	}
	r := &Runner{
		store:    store,
		selector: selector,
		oracle:   orc,
		repairer: cluster.NewRepairer(),
		recorder: nopRecorder{},
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepContext,
		logger:   slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes one matching run and returns the written result. A run that
// finds the day already computed fails with AlreadyComputed; one that finds
// another run in progress fails with LockHeld. Both are conflicts, not
// failures, and nothing is written.
func (r *Runner) Run(ctx context.Context, req Request) (match.Result, error) {
	cohort, err := r.store.GetCohort(ctx, req.CohortID)
	if err != nil {
		return match.Result{}, fmt.Errorf("loading cohort %s: %w", req.CohortID, err)
	}
	date := req.Date
	if date == (civil.Date{}) {
		date = cohort.Yesterday(r.now())
	}
	key, err := match.NewResultKey(cohort, date)
	if err != nil {
		return match.Result{}, err
	}

	executed := false
	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		executed = true
		return r.execute(ctx, key, req.Force)
	})
	if !executed {
		return match.Result{}, match.Errorf(match.CodeLockHeld, "run for %s already in progress", key)
	}
	if err != nil {
		return match.Result{}, err
	}
	return v.(match.Result), nil
}

func (r *Runner) execute(ctx context.Context, key match.ResultKey, force bool) (res match.Result, err error) {
	start := r.now()
	runID := uuid.NewString()
	log := r.logger.With("key", key.String(), "run_id", runID)

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(match.CodeOf(err))
			if outcome == "" {
				outcome = "error"
			}
		}
		r.recorder.RunFinished(key.CohortID, outcome, r.now().Sub(start))
	}()

	if err := r.store.AcquireClaim(ctx, key.String(), runID, r.cfg.LockLease); err != nil {
		if errors.Is(err, storage.ErrClaimHeld) {
			log.Info("run already claimed elsewhere")
			return match.Result{}, match.Wrap(match.CodeLockHeld, err, "claiming %s", key)
		}
		return match.Result{}, fmt.Errorf("claiming %s: %w", key, err)
	}
	defer func() {
		if err := r.store.ReleaseClaim(context.WithoutCancel(ctx), key.String(), runID); err != nil {
			log.Warn("releasing claim failed", "error", err)
		}
	}()

	if !force {
		exists, err := r.store.ResultExists(ctx, key.CohortID, key.Date)
		if err != nil {
			return match.Result{}, fmt.Errorf("checking existing result: %w", err)
		}
		if exists {
			log.Info("result already computed")
			return match.Result{}, match.Errorf(match.CodeAlreadyComputed, "result for %s on %s exists", key.CohortID, key.Date)
		}
	}

	var report match.Report
	hist := storage.Run{ID: runID, ResultKey: key.String(), CohortID: key.CohortID, Date: key.Date, StartedAt: start}
	if err := r.store.StartRun(ctx, hist); err != nil {
		log.Warn("recording run start failed", "error", err)
	}
	defer func() {
		hist.Status = storage.RunSucceeded
		if err != nil {
			hist.Status = storage.RunFailed
			if match.CodeOf(err).Class() == match.ClassConflict {
				hist.Status = storage.RunSkipped
			}
			hist.Code = string(match.CodeOf(err))
			hist.Error = err.Error()
		}
		hist.Attempts = report.OracleAttempts
		hist.Degraded = report.Degraded
		hist.Shortfalls = len(report.Shortfalls)
		hist.Repairs = len(report.Repairs)
		hist.FinishedAt = r.now()
		if err := r.store.FinishRun(context.WithoutCancel(ctx), hist); err != nil {
			log.Warn("recording run finish failed", "error", err)
		}
	}()

	res, err = r.compute(ctx, log, key, runID, &report)
	if err != nil {
		if match.CodeOf(err).Class() == match.ClassInternal {
			log.Error("matching run hit an internal invariant", "error", err)
		} else {
			log.Warn("matching run failed", "error", err)
		}
		return match.Result{}, err
	}

	if err := r.store.WriteResult(ctx, runID, res, force); err != nil {
		return match.Result{}, fmt.Errorf("writing result %s: %w", key, err)
	}
	r.recorder.Partition(res.Report)
	log.Info("matching result written",
		"participants", len(res.Members),
		"clusters", len(res.Clusters),
		"degraded", res.Degraded,
		"repairs", len(res.Report.Repairs),
		"shortfalls", len(res.Report.Shortfalls),
		"oracle_attempts", res.Report.OracleAttempts,
	)
	return res, nil
}

// compute produces the result without touching the store. report is filled
// as steps complete, so a failed run still shows how far it got.
func (r *Runner) compute(ctx context.Context, log *slog.Logger, key match.ResultKey, runID string, report *match.Report) (match.Result, error) {
	var candidates []match.Candidate
	_, err := r.retry(ctx, log, "selection", func(ctx context.Context) error {
		var err error
		candidates, err = r.selector.Select(ctx, key.CohortID, key.Date)
		return err
	})
	if err != nil {
		return match.Result{}, err
	}
	r.recorder.PoolSelected(len(candidates))

	req := oracle.NewRequest(key.CohortID, key.Date, candidates)
	var proposal oracle.Proposal
	attempts, err := r.retry(ctx, log, "oracle", func(ctx context.Context) error {
		var err error
		proposal, err = r.propose(ctx, req)
		r.recorder.OracleAttempt(err)
		return err
	})
	report.OracleAttempts = attempts
	if err != nil {
		return match.Result{}, err
	}

	pool := make([]match.Participant, len(candidates))
	for i, c := range candidates {
		pool[i] = c.Participant
	}
	out, err := r.repairer.Repair(pool, proposal)
	if err != nil {
		return match.Result{}, err
	}
	out.Report.OracleAttempts = attempts
	*report = out.Report
	members, err := theme.Assign(out.Clusters, proposal.Pairs())
	if err != nil {
		return match.Result{}, err
	}

	return match.Result{
		Key:       key,
		RunID:     runID,
		CreatedAt: r.now().UTC(),
		Degraded:  out.Report.Degraded,
		Members:   members,
		Clusters:  out.Clusters,
		Report:    out.Report,
	}, nil
}

// propose makes one bounded oracle attempt. Unclassified failures count as
// the oracle being unavailable.
func (r *Runner) propose(ctx context.Context, req oracle.Request) (oracle.Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OracleTimeout)
	defer cancel()
	p, err := r.oracle.Propose(ctx, req)
	if err != nil && match.CodeOf(err) == "" {
		err = match.Wrap(match.CodeOracleUnavailable, err, "oracle attempt")
	}
	return p, err
}

// retry calls fn until it succeeds, fails with a non-retryable error, or
// runs out of attempts. It returns the number of attempts made. Exhaustion
// wraps the last error in MatchingRunFailed.
func (r *Runner) retry(ctx context.Context, log *slog.Logger, what string, fn func(ctx context.Context) error) (int, error) {
	var last error
	for attempt := range r.cfg.MaxAttempts {
		if attempt > 0 {
			wait := time.Duration(math.Pow(2, float64(attempt-1))) * r.cfg.InitialBackoff
			log.Warn("retrying after external failure", "step", what, "attempt", attempt+1, "wait", wait, "error", last)
			if err := r.sleep(ctx, wait); err != nil {
				return attempt, match.Wrap(match.CodeRunFailed, last, "%s interrupted after %d attempts", what, attempt)
			}
		}
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if !match.Retryable(err) {
			return attempt + 1, err
		}
		last = err
	}
	return r.cfg.MaxAttempts, match.Wrap(match.CodeRunFailed, last, "%s failed after %d attempts", what, r.cfg.MaxAttempts)
}
