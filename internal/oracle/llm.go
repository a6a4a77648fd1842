package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kalambet/dailymatch/internal/engine"
	"github.com/kalambet/dailymatch/internal/match"
)

const (
	breakerName         = "clustering-oracle"
	breakerTripFailures = 5
	breakerOpenTimeout  = time.Minute
)

// LLM is an Oracle backed by a chat engine with schema-constrained output.
type LLM struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[Proposal]
	onState func(name string, from, to gobreaker.State)
	logger  *slog.Logger
}

// Option configures an LLM oracle.
type Option func(*LLM)

// WithTimeout bounds each Propose call. Defaults to match.OracleTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *LLM) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithStateListener is notified on circuit breaker transitions.
func WithStateListener(fn func(name string, from, to gobreaker.State)) Option {
	return func(o *LLM) { o.onState = fn }
}

// NewLLM creates an LLM oracle using model on eng.
func NewLLM(eng engine.Engine, model string, opts ...Option) *LLM {
	o := &LLM{
		engine:  eng,
		model:   model,
		timeout: match.OracleTimeout,
		logger:  slog.Default().With("component", "oracle", "backend", eng.Name()),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.breaker = gobreaker.NewCircuitBreaker[Proposal](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if o.onState != nil {
				o.onState(name, from, to)
			}
		},
	})
	return o
}

// Propose asks the model for a partition. Transport errors, timeouts,
// malformed responses and an open breaker all map to OracleUnavailable.
func (o *LLM) Propose(ctx context.Context, req Request) (Proposal, error) {
	messages, err := BuildPrompt(req)
	if err != nil {
		return Proposal{}, match.Wrap(match.CodeOracleUnavailable, err, "building prompt")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	p, err := o.breaker.Execute(func() (Proposal, error) {
		raw, err := o.engine.Chat(ctx, o.model, messages, ProposalSchema())
		if err != nil {
			return Proposal{}, err
		}
		p, err := ParseProposal(raw, req)
		if err != nil {
			o.logger.Debug("malformed proposal", "error", err, "response", raw)
			return Proposal{}, err
		}
		return p, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return Proposal{}, match.Wrap(match.CodeOracleUnavailable, err, "circuit open")
		case errors.Is(err, context.DeadlineExceeded):
			return Proposal{}, match.Wrap(match.CodeOracleUnavailable, err, "no response within %s", o.timeout)
		}
		return Proposal{}, match.Wrap(match.CodeOracleUnavailable, err, "proposal from %s", o.model)
	}

	o.logger.Debug("proposal received", "clusters", len(p.Clusters), "duration", time.Since(start))
	return p, nil
}
