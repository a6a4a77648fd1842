package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/dailymatch/internal/match"
	"github.com/kalambet/dailymatch/internal/storage"
)

// --- cohort ---

var cohortCmd = &cobra.Command{
	Use:   "cohort",
	Short: "Manage cohorts",
}

var cohortAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Create or update a cohort",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		seq, _ := cmd.Flags().GetString("sequence")
		tz, _ := cmd.Flags().GetString("timezone")
		inactive, _ := cmd.Flags().GetBool("inactive")

		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid --timezone %q: %w", tz, err)
		}
		c := match.Cohort{ID: args[0], Title: title, Sequence: seq, Timezone: tz, Active: !inactive}
		if _, err := match.NewResultKey(c, civil.DateOf(time.Now())); err != nil {
			return err
		}

		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.UpsertCohort(cmd.Context(), c); err != nil {
			return fmt.Errorf("saving cohort: %w", err)
		}
		printSuccess("Saved cohort %s", c.ID)
		return nil
	},
}

var cohortListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cohorts",
	RunE: func(cmd *cobra.Command, args []string) error {
		activeOnly, _ := cmd.Flags().GetBool("active")

		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		cohorts, err := store.ListCohorts(cmd.Context(), activeOnly)
		if err != nil {
			return err
		}
		if len(cohorts) == 0 {
			fmt.Println("No cohorts found.")
			return nil
		}
		for _, c := range cohorts {
			state := colorize(colorGreen, "active")
			if !c.Active {
				state = colorize(colorYellow, "inactive")
			}
			fmt.Printf("%s  %s  seq=%s  tz=%s  %s\n", colorize(colorCyan, c.ID), state, c.Sequence, c.Timezone, c.Title)
		}
		return nil
	},
}

func init() {
	cohortAddCmd.Flags().String("title", "", "display title")
	cohortAddCmd.Flags().String("sequence", "1", "result key sequence segment (no '-')")
	cohortAddCmd.Flags().String("timezone", "UTC", "IANA timezone defining the cohort's day")
	cohortAddCmd.Flags().Bool("inactive", false, "exclude the cohort from scheduled runs")
	cohortListCmd.Flags().Bool("active", false, "only active cohorts")
	cohortCmd.AddCommand(cohortAddCmd)
	cohortCmd.AddCommand(cohortListCmd)
}

// --- participant ---

var participantCmd = &cobra.Command{
	Use:   "participant",
	Short: "Manage participants",
}

var participantAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Create or update a participant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cohortID, _ := cmd.Flags().GetString("cohort")
		name, _ := cmd.Flags().GetString("name")
		gender, _ := cmd.Flags().GetString("gender")
		excluded, _ := cmd.Flags().GetBool("excluded")

		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		p := match.Participant{ID: args[0], CohortID: cohortID, Name: name, Gender: match.ParseGender(gender), Excluded: excluded}
		if err := store.UpsertParticipant(cmd.Context(), p); err != nil {
			return fmt.Errorf("saving participant: %w", err)
		}
		printSuccess("Saved participant %s (%s)", p.ID, p.Gender)
		return nil
	},
}

func init() {
	participantAddCmd.Flags().String("cohort", "", "cohort id (required)")
	participantAddCmd.Flags().String("name", "", "display name")
	participantAddCmd.Flags().String("gender", "", "female, male or other")
	participantAddCmd.Flags().Bool("excluded", false, "never match this participant")
	participantAddCmd.MarkFlagRequired("cohort")
	participantCmd.AddCommand(participantAddCmd)
}

// --- submission ---

var submissionCmd = &cobra.Command{
	Use:   "submission",
	Short: "Manage daily submissions",
}

var submissionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a participant's daily reflection",
	Long: `Record a participant's daily reflection.

Examples:
  dailymatch submission add --cohort spring-25 --participant p-104 --review "The ending felt earned"
  dailymatch submission add --cohort spring-25 --participant p-104 --review-file ./review.pdf --date 2025-05-06`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cohortID, _ := cmd.Flags().GetString("cohort")
		participantID, _ := cmd.Flags().GetString("participant")
		rawDate, _ := cmd.Flags().GetString("date")
		review, _ := cmd.Flags().GetString("review")
		reviewFile, _ := cmd.Flags().GetString("review-file")
		answer, _ := cmd.Flags().GetString("answer")
		question, _ := cmd.Flags().GetString("question")

		if review != "" && reviewFile != "" {
			return fmt.Errorf("use only one of --review and --review-file")
		}
		if reviewFile != "" {
			text, err := readReview(reviewFile)
			if err != nil {
				return err
			}
			review = text
		}
		if review == "" && answer == "" {
			return fmt.Errorf("one of --review, --review-file or --answer is required")
		}

		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		cohort, err := store.GetCohort(cmd.Context(), cohortID)
		if err != nil {
			return fmt.Errorf("loading cohort %s: %w", cohortID, err)
		}
		date, err := parseOptionalDate(rawDate)
		if err != nil {
			return err
		}
		if date == (civil.Date{}) {
			date = civil.DateOf(time.Now().In(cohort.Location()))
		}

		sub := match.Submission{
			ID:            uuid.NewString(),
			ParticipantID: participantID,
			CohortID:      cohortID,
			Date:          date,
			Review:        review,
			DailyAnswer:   answer,
			DailyQuestion: question,
		}
		if err := store.AddSubmission(cmd.Context(), sub); err != nil {
			return fmt.Errorf("saving submission: %w", err)
		}
		printSuccess("Recorded submission %s for %s on %s", sub.ID, participantID, date)
		return nil
	},
}

func init() {
	submissionAddCmd.Flags().String("cohort", "", "cohort id (required)")
	submissionAddCmd.Flags().String("participant", "", "participant id (required)")
	submissionAddCmd.Flags().String("date", "", "day, YYYY-MM-DD (default: today, cohort-local)")
	submissionAddCmd.Flags().String("review", "", "review text")
	submissionAddCmd.Flags().String("review-file", "", "read the review from a .txt, .md or .pdf file")
	submissionAddCmd.Flags().String("answer", "", "answer to the daily question")
	submissionAddCmd.Flags().String("question", "", "the daily question")
	submissionAddCmd.MarkFlagRequired("cohort")
	submissionAddCmd.MarkFlagRequired("participant")
	submissionCmd.AddCommand(submissionAddCmd)
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed <file.json>",
	Short: "Import cohorts, participants and submissions from JSON",
	Long: `Import cohorts, participants and submissions from JSON ("-" reads stdin).

The file holds three optional arrays:
  {"cohorts": [...], "participants": [...], "submissions": [...]}
Cohorts and participants are upserted. Submissions without an id get one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening seed file: %w", err)
			}
			defer f.Close()
			r = f
		}

		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := importSeed(cmd.Context(), store, r)
		if err != nil {
			return err
		}
		printSuccess("Imported %d cohorts, %d participants, %d submissions", n.Cohorts, n.Participants, n.Submissions)
		return nil
	},
}

type seedFile struct {
	Cohorts      []match.Cohort    `json:"cohorts"`
	Participants []seedParticipant `json:"participants"`
	Submissions  []seedSubmission  `json:"submissions"`
}

type seedParticipant struct {
	ID       string `json:"id"`
	CohortID string `json:"cohort_id"`
	Name     string `json:"name"`
	Gender   string `json:"gender"`
	Excluded bool   `json:"excluded"`
}

type seedSubmission struct {
	ID            string     `json:"id"`
	ParticipantID string     `json:"participant_id"`
	CohortID      string     `json:"cohort_id"`
	Date          civil.Date `json:"date"`
	Review        string     `json:"review"`
	DailyAnswer   string     `json:"daily_answer"`
	DailyQuestion string     `json:"daily_question"`
	CreatedAt     time.Time  `json:"created_at"`
}

type seedCounts struct {
	Cohorts, Participants, Submissions int
}

func importSeed(ctx context.Context, store *storage.Store, r io.Reader) (seedCounts, error) {
	var f seedFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return seedCounts{}, fmt.Errorf("decoding seed file: %w", err)
	}

	var n seedCounts
	for _, c := range f.Cohorts {
		if c.Timezone != "" {
			if _, err := time.LoadLocation(c.Timezone); err != nil {
				return n, fmt.Errorf("cohort %s: invalid timezone %q", c.ID, c.Timezone)
			}
		}
		if err := store.UpsertCohort(ctx, c); err != nil {
			return n, fmt.Errorf("cohort %s: %w", c.ID, err)
		}
		n.Cohorts++
	}
	for _, p := range f.Participants {
		err := store.UpsertParticipant(ctx, match.Participant{
			ID:       p.ID,
			CohortID: p.CohortID,
			Name:     p.Name,
			Gender:   match.ParseGender(p.Gender),
			Excluded: p.Excluded,
		})
		if err != nil {
			return n, fmt.Errorf("participant %s: %w", p.ID, err)
		}
		n.Participants++
	}
	for _, s := range f.Submissions {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		err := store.AddSubmission(ctx, match.Submission{
			ID:            s.ID,
			ParticipantID: s.ParticipantID,
			CohortID:      s.CohortID,
			Date:          s.Date,
			Review:        s.Review,
			DailyAnswer:   s.DailyAnswer,
			DailyQuestion: s.DailyQuestion,
			CreatedAt:     s.CreatedAt,
		})
		if err != nil {
			return n, fmt.Errorf("submission %s: %w", s.ID, err)
		}
		n.Submissions++
	}
	return n, nil
}
