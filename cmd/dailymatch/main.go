package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/dailymatch/internal/match"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "dailymatch",
	Short:         "Daily reflection matching for book club cohorts",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(cohortCmd)
	rootCmd.AddCommand(participantCmd)
	rootCmd.AddCommand(submissionCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	var ok *noopError
	if errors.As(err, &ok) {
		printWarning("%v", ok.err)
	} else {
		printError("%v", err)
	}
	os.Exit(exitCode(err))
}

// Exit codes.
const (
	exitOK            = 0
	exitFailure       = 1
	exitInsufficient  = 3
	exitUnavailable   = 4
	exitUnsatisfiable = 5
	exitUnassignable  = 6
	exitAlreadyDone   = 10
	exitLockHeld      = 11
	exitInternal      = 70
)

// noopError marks a conflict outcome that --strict turns into a failure.
type noopError struct{ err error }

func (e *noopError) Error() string { return e.err.Error() }
func (e *noopError) Unwrap() error { return e.err }

// exitCode maps a command error onto the process exit status. The whole
// cause chain is consulted, so a MatchingRunFailed wrapping an exhausted
// oracle exits like the oracle failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, match.ErrInternalInvariant):
		return exitInternal
	case errors.Is(err, match.ErrAlreadyComputed):
		return exitAlreadyDone
	case errors.Is(err, match.ErrLockHeld):
		return exitLockHeld
	case errors.Is(err, match.ErrInsufficientParticipants):
		return exitInsufficient
	case errors.Is(err, match.ErrUnsatisfiableClusterSizes):
		return exitUnsatisfiable
	case errors.Is(err, match.ErrUnassignableParticipants):
		return exitUnassignable
	case errors.Is(err, match.ErrOracleUnavailable), errors.Is(err, match.ErrDirectoryReadFailure):
		return exitUnavailable
	}
	return exitFailure
}

// conflictOutcome turns a conflict into nil unless strict is set.
func conflictOutcome(err error, strict bool) error {
	if !errors.Is(err, match.ErrAlreadyComputed) && !errors.Is(err, match.ErrLockHeld) {
		return err
	}
	if strict {
		return &noopError{err: err}
	}
	printWarning("%v", err)
	return nil
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
