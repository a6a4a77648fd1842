package match

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
)

const dateLen = len("2006-01-02")

// ResultKey identifies one day's result for one cohort. Its string form is
// {cohortId}-{sequence}-{YYYY-MM-DD}. Sequence is an opaque disambiguator:
// nothing may assume it orders runs.
type ResultKey struct {
	CohortID string     `json:"cohort_id"`
	Sequence string     `json:"sequence"`
	Date     civil.Date `json:"date"`
}

// NewResultKey builds a key for the cohort and date.
func NewResultKey(c Cohort, date civil.Date) (ResultKey, error) {
	k := ResultKey{CohortID: c.ID, Sequence: c.Sequence, Date: date}
	if k.Sequence == "" {
		k.Sequence = "1"
	}
	return k, k.Validate()
}

// Validate checks that the key formats to something ParseResultKey accepts.
func (k ResultKey) Validate() error {
	switch {
	case k.CohortID == "":
		return fmt.Errorf("result key: empty cohort id")
	case k.Sequence == "":
		return fmt.Errorf("result key: empty sequence")
	case strings.Contains(k.Sequence, "-"):
		return fmt.Errorf("result key: sequence %q contains '-'", k.Sequence)
	case !k.Date.IsValid():
		return fmt.Errorf("result key: invalid date %v", k.Date)
	}
	return nil
}

// String is the document id form.
func (k ResultKey) String() string {
	return k.CohortID + "-" + k.Sequence + "-" + k.Date.String()
}

// ParseResultKey parses the document id form. The cohort id may itself
// contain dashes; the sequence may not.
func ParseResultKey(s string) (ResultKey, error) {
	if len(s) < dateLen+4 || s[len(s)-dateLen-1] != '-' {
		return ResultKey{}, fmt.Errorf("result key %q: missing date suffix", s)
	}
	date, err := civil.ParseDate(s[len(s)-dateLen:])
	if err != nil {
		return ResultKey{}, fmt.Errorf("result key %q: %w", s, err)
	}
	rest := s[:len(s)-dateLen-1]
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 || i == len(rest)-1 {
		return ResultKey{}, fmt.Errorf("result key %q: missing cohort or sequence", s)
	}
	k := ResultKey{CohortID: rest[:i], Sequence: rest[i+1:], Date: date}
	return k, k.Validate()
}
