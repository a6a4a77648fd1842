// Package match holds the domain types shared by every stage of the daily
// matching run: participants, submissions, clusters, themes and the persisted
// result.
package match

import (
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

const (
	// MinParticipants is the smallest eligible pool a run will accept.
	MinParticipants = 4
	// MinSubmissionsForMatching is the smallest number of qualifying
	// submissions a run will accept. Counted separately from participants.
	MinSubmissionsForMatching = 4

	MinClusterSize = 5
	MaxClusterSize = 7

	// MinPerGender is the soft gender-balance target per cluster.
	MinPerGender = 3

	// OracleTimeout bounds a single oracle attempt.
	OracleTimeout = 30 * time.Second
	// OracleMaxAttempts is one call plus two retries.
	OracleMaxAttempts = 3
)

// Gender of a participant as recorded by the directory.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

// ParseGender normalizes directory values. Anything unrecognised is unknown.
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m":
		return GenderMale
	case "female", "f":
		return GenderFemale
	case "other":
		return GenderOther
	default:
		return GenderUnknown
	}
}

// Counted reports whether the gender participates in balance checks.
func (g Gender) Counted() bool {
	return g == GenderMale || g == GenderFemale || g == GenderOther
}

// Cohort is one cycle of the reading program.
type Cohort struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Sequence string `json:"sequence"` // opaque middle segment of the result key
	Timezone string `json:"timezone"` // IANA zone name; defines the cohort-local calendar
	Active   bool   `json:"active"`
}

// Location resolves the cohort's timezone, falling back to UTC.
func (c Cohort) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Yesterday returns the cohort-local calendar day before now.
func (c Cohort) Yesterday(now time.Time) civil.Date {
	return civil.DateOf(now.In(c.Location())).AddDays(-1)
}

// Participant is a directory record. The core never writes it.
type Participant struct {
	ID              string
	CohortID        string
	Name            string
	Gender          Gender
	SubmissionCount int
	Excluded        bool
}

// Submission is one daily reflection.
type Submission struct {
	ID            string
	ParticipantID string
	CohortID      string
	Date          civil.Date
	Review        string
	DailyAnswer   string
	DailyQuestion string
	CreatedAt     time.Time
}

// Qualifies reports whether the submission carries any text to match on.
func (s Submission) Qualifies() bool {
	return strings.TrimSpace(s.Review) != "" || strings.TrimSpace(s.DailyAnswer) != ""
}

// Candidate is an eligible participant together with the submission chosen
// for the run.
type Candidate struct {
	Participant Participant
	Submission  Submission
}

// Theme is the display framing of a matched pair.
type Theme string

const (
	ThemeSimilar  Theme = "similar"
	ThemeOpposite Theme = "opposite"
)

// ParseTheme accepts the two known themes and reports whether s was one.
func ParseTheme(s string) (Theme, bool) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case ThemeSimilar:
		return ThemeSimilar, true
	case ThemeOpposite:
		return ThemeOpposite, true
	}
	return "", false
}

// Cluster is an ephemeral group of participant ids. It is never persisted
// on its own, only expanded into pairwise matches.
type Cluster []string

// Contains reports whether id is a member.
func (c Cluster) Contains(id string) bool {
	for _, m := range c {
		if m == id {
			return true
		}
	}
	return false
}

// Sorted returns a sorted copy.
func (c Cluster) Sorted() Cluster {
	out := append(Cluster(nil), c...)
	sort.Strings(out)
	return out
}

// Match is one entry in a viewer's match list.
type Match struct {
	ParticipantID string  `json:"participant_id"`
	Theme         Theme   `json:"theme"`
	Score         float64 `json:"score,omitempty"`
}

// Result is the persisted outcome of a successful run.
type Result struct {
	Key       ResultKey          `json:"key"`
	RunID     string             `json:"run_id"`
	CreatedAt time.Time          `json:"created_at"`
	Degraded  bool               `json:"degraded"`
	Members   map[string][]Match `json:"members"`
	Clusters  []Cluster          `json:"clusters"`
	Report    Report             `json:"report"`
}

// MatchesFor returns the viewer's matches and whether the viewer took part.
func (r Result) MatchesFor(viewer string) ([]Match, bool) {
	m, ok := r.Members[viewer]
	return m, ok
}

// Repair records one change the repairer made to the oracle's proposal.
type Repair struct {
	Kind          string `json:"kind"`
	ParticipantID string `json:"participant_id,omitempty"`
	From          int    `json:"from"`
	To            int    `json:"to"`
}

// Repair kinds.
const (
	RepairDuplicate = "duplicate"
	RepairUnknown   = "unknown"
	RepairFold      = "fold"
	RepairDissolve  = "dissolve"
	RepairSplit     = "split"
	RepairMove      = "move"
	RepairSwap      = "gender_swap"
)

// GenderShortfall records a cluster that misses the gender-balance target.
type GenderShortfall struct {
	Cluster    int            `json:"cluster"`
	Counts     map[Gender]int `json:"counts"`
	Structural bool           `json:"structural"`
}

// Report describes how the final partition was reached.
type Report struct {
	ProposedClusters int               `json:"proposed_clusters"`
	Repairs          []Repair          `json:"repairs,omitempty"`
	Omitted          []string          `json:"omitted,omitempty"`
	Degraded         bool              `json:"degraded"`
	DegradedReason   string            `json:"degraded_reason,omitempty"`
	Shortfalls       []GenderShortfall `json:"shortfalls,omitempty"`
	OracleAttempts   int               `json:"oracle_attempts"`
}
