package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/kalambet/dailymatch/internal/api"
	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/pipeline"
	"github.com/kalambet/dailymatch/internal/storage"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute matches for one cohort and day",
	Long: `Compute matches for one cohort and day.

The day defaults to yesterday in the cohort's timezone. A day that is
already computed, or being computed elsewhere, is a no-op unless --strict.

Examples:
  dailymatch run --cohort spring-25
  dailymatch run --cohort spring-25 --date 2025-05-06 --force
  dailymatch run --cohort spring-25 --oracle fake`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cohortID, _ := cmd.Flags().GetString("cohort")
		rawDate, _ := cmd.Flags().GetString("date")
		force, _ := cmd.Flags().GetBool("force")
		strict, _ := cmd.Flags().GetBool("strict")
		provider, _ := cmd.Flags().GetString("oracle")

		date, err := parseOptionalDate(rawDate)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(provider)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Matching %s with the %s oracle", cohortID, cfg.Oracle.Provider)
		res, err := a.runner.Run(cmd.Context(), pipeline.Request{CohortID: cohortID, Date: date, Force: force})
		if err != nil {
			return conflictOutcome(err, strict)
		}
		printRunSummary(os.Stdout, res)
		return nil
	},
}

func init() {
	runCmd.Flags().String("cohort", "", "cohort id (required)")
	runCmd.Flags().String("date", "", "day to match, YYYY-MM-DD (default: yesterday, cohort-local)")
	runCmd.Flags().Bool("force", false, "replace an existing result for the day")
	runCmd.Flags().Bool("strict", false, "exit non-zero when the run is a no-op")
	runCmd.Flags().String("oracle", "", "override oracle.provider (ollama, openrouter, gemini, fake)")
	runCmd.MarkFlagRequired("cohort")
}

func parseOptionalDate(raw string) (civil.Date, error) {
	if raw == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", raw)
	}
	return d, nil
}

func printRunSummary(w io.Writer, res match.Result) {
	sum := api.Summarize(res)
	printSuccess("Matched %d participants into %d clusters (%s)", sum.Participants, sum.Clusters, sum.ResultKey)
	if res.Degraded {
		printWarning("Degraded run: %s", res.Report.DegradedReason)
	}
	for _, sf := range res.Report.Shortfalls {
		kind := "below gender-balance target"
		if sf.Structural {
			kind = "structurally unbalanced"
		}
		printWarning("Cluster %d %s: %s", sf.Cluster+1, kind, formatCounts(sf.Counts))
	}
	for i, c := range res.Clusters {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, fmt.Sprintf("cluster %d", i+1)), strings.Join(c, " "))
	}
}

func formatCounts(counts map[match.Gender]int) string {
	keys := make([]string, 0, len(counts))
	for g := range counts {
		keys = append(keys, string(g))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[match.Gender(k)])
	}
	return strings.Join(parts, " ")
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a computed day",
	Long: `Show a computed day: every cluster, or one participant's matches.

Examples:
  dailymatch show --cohort spring-25 --date 2025-05-06
  dailymatch show --cohort spring-25 --viewer p-104 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cohortID, _ := cmd.Flags().GetString("cohort")
		rawDate, _ := cmd.Flags().GetString("date")
		viewer, _ := cmd.Flags().GetString("viewer")
		asJSON, _ := cmd.Flags().GetBool("json")

		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		date, err := parseOptionalDate(rawDate)
		if err != nil {
			return err
		}
		if date == (civil.Date{}) {
			cohort, err := store.GetCohort(cmd.Context(), cohortID)
			if err != nil {
				return fmt.Errorf("loading cohort %s: %w", cohortID, err)
			}
			date = cohort.Yesterday(time.Now())
		}

		res, err := store.Result(cmd.Context(), cohortID, date)
		if errors.Is(err, storage.ErrNotComputed) {
			return fmt.Errorf("%s on %s: %w", cohortID, date, err)
		}
		if err != nil {
			return err
		}
		return showResult(os.Stdout, res, viewer, asJSON)
	},
}

func init() {
	showCmd.Flags().String("cohort", "", "cohort id (required)")
	showCmd.Flags().String("date", "", "day, YYYY-MM-DD (default: yesterday, cohort-local)")
	showCmd.Flags().String("viewer", "", "only this participant's matches")
	showCmd.Flags().Bool("json", false, "print JSON")
	showCmd.MarkFlagRequired("cohort")
}

func showResult(w io.Writer, res match.Result, viewer string, asJSON bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if viewer != "" {
		matches, ok := res.MatchesFor(viewer)
		if !ok {
			return fmt.Errorf("%s has no matches on %s: %w", viewer, res.Key.Date, storage.ErrNotFound)
		}
		if asJSON {
			return enc.Encode(matches)
		}
		for _, m := range matches {
			fmt.Fprintf(w, "%s  %s\n", colorize(colorCyan, m.ParticipantID), m.Theme)
		}
		return nil
	}

	if asJSON {
		return enc.Encode(res)
	}
	fmt.Fprintf(w, "%s  run %s  %s\n", colorize(colorBold, res.Key.String()), res.RunID, res.CreatedAt.Format(time.RFC3339))
	for i, c := range res.Clusters {
		fmt.Fprintf(w, "  cluster %d: %s\n", i+1, strings.Join(c, " "))
	}
	if n := len(res.Report.Repairs); n > 0 {
		fmt.Fprintf(w, "  repairs: %d\n", n)
	}
	return nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, server health and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cohortID, _ := cmd.Flags().GetString("cohort")
		limit, _ := cmd.Flags().GetInt("limit")

		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				printStatus("Server", "running on port %d", cfg.Server.Port)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}
		printStatus("Oracle", "%s (%s)", cfg.Oracle.Provider, cfg.Oracle.Model)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)

		runs, err := store.RecentRuns(cmd.Context(), cohortID, limit)
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}
		printRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	statusCmd.Flags().String("cohort", "", "only runs of this cohort")
	statusCmd.Flags().Int("limit", 10, "maximum number of runs to list")
}

func printRuns(w io.Writer, runs []storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		status := runStatusColor(fmt.Sprintf("%-9s", r.Status))
		line := fmt.Sprintf("%s  %s  %s", r.StartedAt.Format("2006-01-02 15:04"), r.ResultKey, status)
		if r.Code != "" {
			line += "  " + r.Code
		}
		if r.Degraded {
			line += "  degraded"
		}
		if r.Shortfalls > 0 {
			line += fmt.Sprintf("  shortfalls=%d", r.Shortfalls)
		}
		fmt.Fprintln(w, line)
	}
}
