// Package scheduler triggers the daily matching run for every active
// cohort once its local clock passes the configured hour.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/pipeline"
)

// Store lists cohorts and reports computed days. Implemented by storage.Store.
type Store interface {
	ListCohorts(ctx context.Context, activeOnly bool) ([]match.Cohort, error)
	ResultExists(ctx context.Context, cohortID string, date civil.Date) (bool, error)
}

// Runner executes one matching run. Implemented by pipeline.Runner.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (match.Result, error)
}

// Config controls when runs fire.
type Config struct {
	// RunHour is the cohort-local hour (0-23) after which yesterday is matched.
	RunHour int
	// CheckInterval is how often cohorts are polled. Defaults to 5 minutes.
	CheckInterval time.Duration
	// Cooldown is the wait after a failed run before the same day is retried.
	// Defaults to 30 minutes.
	Cooldown time.Duration
}

// Scheduler polls active cohorts and runs any day that is due.
type Scheduler struct {
	store  Store
	runner Runner
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	coolUntil map[string]time.Time // result key -> earliest retry
}

// New creates a Scheduler.
func New(store Store, runner Runner, cfg Config) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Minute
	}
	return &Scheduler{
		store:     store,
		runner:    runner,
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default().With("component", "scheduler"),
		coolUntil: make(map[string]time.Time),
	}
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "run_hour", s.cfg.RunHour, "interval", s.cfg.CheckInterval)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduler pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.CheckInterval):
		}
	}
}

// RunOnce checks every active cohort and runs the due ones. It returns how
// many results were written. Conflicts with other runs are not errors.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	cohorts, err := s.store.ListCohorts(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("listing cohorts: %w", err)
	}

	now := s.now()
	written := 0
	var errs []error
	for _, c := range cohorts {
		if now.In(c.Location()).Hour() < s.cfg.RunHour {
			continue
		}
		date := c.Yesterday(now)
		key := c.ID + "/" + date.String()
		if s.coolingDown(key, now) {
			continue
		}
		exists, err := s.store.ResultExists(ctx, c.ID, date)
		if err != nil {
			errs = append(errs, fmt.Errorf("cohort %s: %w", c.ID, err))
			continue
		}
		if exists {
			continue
		}

		_, err = s.runner.Run(ctx, pipeline.Request{CohortID: c.ID, Date: date})
		switch {
		case err == nil:
			written++
			s.clear(key)
		case match.CodeOf(err).Class() == match.ClassConflict:
			s.logger.Debug("run skipped", "cohort", c.ID, "date", date.String(), "reason", match.CodeOf(err))
		default:
			s.cool(key, now)
			errs = append(errs, fmt.Errorf("cohort %s on %s: %w", c.ID, date, err))
		}
	}
	return written, errors.Join(errs...)
}

func (s *Scheduler) coolingDown(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.coolUntil[key]
	return ok && now.Before(until)
}

func (s *Scheduler) cool(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coolUntil[key] = now.Add(s.cfg.Cooldown)
}

func (s *Scheduler) clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.coolUntil, key)
}
