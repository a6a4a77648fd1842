package match

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func TestResultKey_RoundTrip(t *testing.T) {
	tests := []ResultKey{
		{CohortID: "spring", Sequence: "3", Date: civil.Date{Year: 2025, Month: time.March, Day: 9}},
		{CohortID: "book-club-2025", Sequence: "a7", Date: civil.Date{Year: 2024, Month: time.December, Day: 31}},
		{CohortID: "x", Sequence: "1", Date: civil.Date{Year: 2026, Month: time.January, Day: 1}},
	}
	for _, k := range tests {
		s := k.String()
		got, err := ParseResultKey(s)
		if err != nil {
			t.Fatalf("ParseResultKey(%q): %v", s, err)
		}
		if got != k {
			t.Errorf("round trip %q: got %+v, want %+v", s, got, k)
		}
	}
}

func TestResultKey_Format(t *testing.T) {
	k := ResultKey{CohortID: "c-1", Sequence: "2", Date: civil.Date{Year: 2025, Month: time.May, Day: 4}}
	if got, want := k.String(), "c-1-2-2025-05-04"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseResultKey_Invalid(t *testing.T) {
	bad := []string{
		"",
		"2025-05-04",
		"-1-2025-05-04",
		"cohort--2025-05-04",
		"cohort-1-2025-13-04",
		"cohort-1_2025-05-04",
		"cohort1-2025-05-04x",
	}
	for _, s := range bad {
		if _, err := ParseResultKey(s); err == nil {
			t.Errorf("ParseResultKey(%q) succeeded, want error", s)
		}
	}
}

func TestNewResultKey_DefaultsSequence(t *testing.T) {
	d := civil.Date{Year: 2025, Month: time.June, Day: 1}
	k, err := NewResultKey(Cohort{ID: "c"}, d)
	if err != nil {
		t.Fatalf("NewResultKey: %v", err)
	}
	if k.Sequence != "1" {
		t.Errorf("Sequence = %q, want %q", k.Sequence, "1")
	}
	if _, err := NewResultKey(Cohort{ID: "c", Sequence: "a-b"}, d); err == nil {
		t.Error("expected error for dashed sequence")
	}
}

func TestCohort_Yesterday(t *testing.T) {
	c := Cohort{ID: "c", Timezone: "Asia/Seoul"}
	// 2025-03-10 16:30 UTC is already 2025-03-11 01:30 in Seoul.
	now := time.Date(2025, time.March, 10, 16, 30, 0, 0, time.UTC)
	got := c.Yesterday(now)
	want := civil.Date{Year: 2025, Month: time.March, Day: 10}
	if got != want {
		t.Errorf("Yesterday = %v, want %v", got, want)
	}

	utc := Cohort{ID: "c"}
	if got := utc.Yesterday(now); got != (civil.Date{Year: 2025, Month: time.March, Day: 9}) {
		t.Errorf("UTC Yesterday = %v", got)
	}
}
