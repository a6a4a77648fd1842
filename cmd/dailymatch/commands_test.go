package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/kalambet/dailymatch/internal/eligibility"
	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/oracle"
	"github.com/kalambet/dailymatch/internal/pipeline"
	"github.com/kalambet/dailymatch/internal/storage"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stderr
	stderr = &buf
	t.Cleanup(func() { stderr = old })
	return &buf
}

func TestExitCode(t *testing.T) {
	oracleDown := match.Errorf(match.CodeOracleUnavailable, "timeout")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"insufficient", match.Errorf(match.CodeInsufficientParticipants, "3"), 3},
		{"oracle", oracleDown, 4},
		{"run failed wrapping oracle", match.Wrap(match.CodeRunFailed, oracleDown, "exhausted"), 4},
		{"run failed wrapping plain", match.Wrap(match.CodeRunFailed, errors.New("x"), "exhausted"), 1},
		{"directory", match.Errorf(match.CodeDirectoryReadFailure, "read"), 4},
		{"unsatisfiable", match.Errorf(match.CodeUnsatisfiableClusterSizes, "8"), 5},
		{"unassignable", match.Errorf(match.CodeUnassignableParticipants, "p1"), 6},
		{"already computed", &noopError{err: match.Errorf(match.CodeAlreadyComputed, "c1")}, 10},
		{"lock held", &noopError{err: match.Errorf(match.CodeLockHeld, "c1")}, 11},
		{"internal", fmt.Errorf("run: %w", match.Errorf(match.CodeInternalInvariant, "self-match")), 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestConflictOutcome(t *testing.T) {
	captureStderr(t)
	done := match.Errorf(match.CodeAlreadyComputed, "c1-1-2025-05-06")

	if err := conflictOutcome(done, false); err != nil {
		t.Errorf("non-strict conflict = %v, want nil", err)
	}
	err := conflictOutcome(done, true)
	var noop *noopError
	if !errors.As(err, &noop) {
		t.Fatalf("strict conflict = %v, want *noopError", err)
	}
	if exitCode(err) != exitAlreadyDone {
		t.Errorf("exitCode = %d, want %d", exitCode(err), exitAlreadyDone)
	}

	failure := match.Errorf(match.CodeInsufficientParticipants, "2")
	if err := conflictOutcome(failure, false); err != failure {
		t.Errorf("failure passed through as %v", err)
	}
}

func TestRunCommand_MissingCohort(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"run"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "cohort") {
		t.Errorf("err = %v, want missing --cohort error", err)
	}
}

func TestParseOptionalDate(t *testing.T) {
	if d, err := parseOptionalDate(""); err != nil || d != (civil.Date{}) {
		t.Errorf("empty = %v, %v; want zero date", d, err)
	}
	d, err := parseOptionalDate("2025-05-06")
	if err != nil || d != (civil.Date{Year: 2025, Month: time.May, Day: 6}) {
		t.Errorf("parse = %v, %v", d, err)
	}
	if _, err := parseOptionalDate("06/05/2025"); err == nil {
		t.Error("expected error for non-ISO date")
	}
}

func TestReadReview(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "review.txt")
	if err := os.WriteFile(txt, []byte("  The ending felt earned.\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := readReview(txt)
	if err != nil {
		t.Fatalf("readReview: %v", err)
	}
	if got != "The ending felt earned." {
		t.Errorf("review = %q", got)
	}

	if _, err := readReview(filepath.Join(dir, "review.docx")); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("docx err = %v, want unsupported", err)
	}
	if _, err := readReview(filepath.Join(dir, "missing.md")); err == nil {
		t.Error("expected error for missing file")
	}
	broken := filepath.Join(dir, "broken.pdf")
	if err := os.WriteFile(broken, []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readReview(broken); err == nil {
		t.Error("expected error for invalid PDF")
	}
}

const seedJSON = `{
  "cohorts": [{"id": "spring", "title": "Spring", "timezone": "Europe/Berlin", "active": true}],
  "participants": [
    {"id": "p1", "cohort_id": "spring", "gender": "female"},
    {"id": "p2", "cohort_id": "spring", "gender": "male"},
    {"id": "p3", "cohort_id": "spring", "gender": "female"},
    {"id": "p4", "cohort_id": "spring", "gender": "male"},
    {"id": "p5", "cohort_id": "spring", "gender": "female"},
    {"id": "p6", "cohort_id": "spring", "gender": "male", "excluded": true}
  ],
  "submissions": [
    {"participant_id": "p1", "cohort_id": "spring", "date": "2025-05-06", "review": "grief and the sea"},
    {"participant_id": "p2", "cohort_id": "spring", "date": "2025-05-06", "review": "the sea as memory"},
    {"participant_id": "p3", "cohort_id": "spring", "date": "2025-05-06", "daily_answer": "I would forgive him"},
    {"participant_id": "p4", "cohort_id": "spring", "date": "2025-05-06", "review": "a cold ending"},
    {"participant_id": "p5", "cohort_id": "spring", "date": "2025-05-06", "review": "hopeful and quiet"},
    {"participant_id": "p6", "cohort_id": "spring", "date": "2025-05-06", "review": "skip me"}
  ]
}`

func TestImportSeedThenRun(t *testing.T) {
	s := openTestStore(t)

	n, err := importSeed(ctx, s, strings.NewReader(seedJSON))
	if err != nil {
		t.Fatalf("importSeed: %v", err)
	}
	if n != (seedCounts{Cohorts: 1, Participants: 6, Submissions: 6}) {
		t.Errorf("counts = %+v", n)
	}

	c, err := s.GetCohort(ctx, "spring")
	if err != nil {
		t.Fatalf("GetCohort: %v", err)
	}
	if c.Timezone != "Europe/Berlin" || c.Sequence != "1" {
		t.Errorf("cohort = %+v, want Berlin timezone and default sequence", c)
	}

	runner := pipeline.New(s, eligibility.NewSelector(s, s, nil), oracle.Fake{}, pipeline.Config{})
	res, err := runner.Run(ctx, pipeline.Request{CohortID: "spring", Date: civil.Date{Year: 2025, Month: time.May, Day: 6}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := res.MatchesFor("p6"); ok {
		t.Error("excluded participant was matched")
	}

	old := noColor
	defer func() { noColor = old }()
	noColor = true
	var out bytes.Buffer
	if err := showResult(&out, res, "p1", false); err != nil {
		t.Fatalf("showResult: %v", err)
	}
	if lines := strings.Count(out.String(), "\n"); lines != 4 {
		t.Errorf("p1 has %d matches, want 4:\n%s", lines, out.String())
	}
	if err := showResult(&out, res, "p6", false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("showResult for excluded = %v, want ErrNotFound", err)
	}
}

func TestImportSeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"unknown field", `{"cohort": []}`},
		{"bad timezone", `{"cohorts": [{"id": "c", "timezone": "Mars/Olympus"}]}`},
		{"bad date", `{"submissions": [{"participant_id": "p1", "cohort_id": "c", "date": "May 6"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := importSeed(ctx, openTestStore(t), strings.NewReader(tt.json)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPrintRuns(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var out bytes.Buffer
	printRuns(&out, nil)
	if !strings.Contains(out.String(), "No runs") {
		t.Errorf("empty output = %q", out.String())
	}

	out.Reset()
	printRuns(&out, []storage.Run{
		{ResultKey: "c1-1-2025-05-06", Status: storage.RunSucceeded, Degraded: true, Shortfalls: 2},
		{ResultKey: "c1-1-2025-05-05", Status: storage.RunFailed, Code: string(match.CodeOracleUnavailable)},
	})
	got := out.String()
	for _, want := range []string{"succeeded", "degraded", "shortfalls=2", "failed", "OracleUnavailable"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorRed, "test")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	result = colorize(colorRed, "test")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestPrintHelpersWriteToStderr(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true
	buf := captureStderr(t)

	printSuccess("saved %s", "c1")
	printWarning("degraded")
	printStatus("Oracle", "%s", "fake")

	got := buf.String()
	for _, want := range []string{"✓ saved c1", "⚠ degraded", "Oracle: fake"} {
		if !strings.Contains(got, want) {
			t.Errorf("stderr missing %q:\n%s", want, got)
		}
	}
}
