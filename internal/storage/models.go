package storage

import (
	"errors"
	"time"

	"cloud.google.com/go/civil"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotComputed is returned when no run has completed for a cohort and date.
	ErrNotComputed = errors.New("matching not yet computed")
	// ErrBatchTooLarge is returned by directory reads asked for more than
	// MaxIDsPerRead ids at once.
	ErrBatchTooLarge = errors.New("too many ids in one read")
	// ErrClaimHeld is returned when another holder owns an unexpired claim.
	ErrClaimHeld = errors.New("run claim held by another holder")
	// ErrClaimLost is returned when a write is attempted without a live claim.
	ErrClaimLost = errors.New("run claim not held")
)

// MaxIDsPerRead is the "in"-query limit of the participant directory.
const MaxIDsPerRead = 10

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunSkipped   = "skipped"
)

// Run is one row of run history.
type Run struct {
	ID         string     `json:"id"`
	ResultKey  string     `json:"result_key"`
	CohortID   string     `json:"cohort_id"`
	Date       civil.Date `json:"date"`
	Status     string     `json:"status"`
	Code       string     `json:"code,omitempty"` // error code for failed or skipped runs
	Attempts   int        `json:"attempts"`       // oracle attempts
	Degraded   bool       `json:"degraded"`
	Shortfalls int        `json:"shortfalls"`
	Repairs    int        `json:"repairs"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"` // zero while running
	Error      string     `json:"error,omitempty"`
}
