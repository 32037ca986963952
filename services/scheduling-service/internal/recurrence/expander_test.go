package recurrence

import (
	"testing"
	"time"

	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
)

func collect(start time.Time, rule Rule) []time.Time {
	var out []time.Time
	for occ := range Expand(start, rule) {
		out = append(out, occ)
	}
	return out
}

func TestExpand_WeeklyCount(t *testing.T) {
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC) // Monday
	occs := collect(start, Rule{Frequency: Weekly, Interval: 1, Count: 4})

	if len(occs) != 4 {
		t.Fatalf("expected 4 occurrences, got %d", len(occs))
	}
	for i, occ := range occs {
		if occ.Weekday() != time.Monday {
			t.Fatalf("occurrence %d is a %s", i, occ.Weekday())
		}
		if want := start.AddDate(0, 0, 7*i); !occ.Equal(want) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, want, occ)
		}
	}
}

func TestExpand_DailyIntervalUntil(t *testing.T) {
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	until := time.Date(2026, 2, 8, 23, 0, 0, 0, time.UTC)
	occs := collect(start, Rule{Frequency: Daily, Interval: 2, Until: until})

	// Feb 2, 4, 6, 8. Feb 10 is past until.
	if len(occs) != 4 {
		t.Fatalf("expected 4 occurrences, got %d", len(occs))
	}
	if !occs[3].Equal(time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected last occurrence Feb 8, got %s", occs[3])
	}
}

func TestExpand_MonthlyClampsDayOfMonth(t *testing.T) {
	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	occs := collect(start, Rule{Frequency: Monthly, Interval: 1, Count: 4})

	want := []time.Time{
		time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 30, 10, 0, 0, 0, time.UTC),
	}
	if len(occs) != len(want) {
		t.Fatalf("expected %d occurrences, got %d", len(want), len(occs))
	}
	for i := range want {
		if !occs[i].Equal(want[i]) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, want[i], occs[i])
		}
	}
}

func TestExpand_MonthlyLeapFebruary(t *testing.T) {
	start := time.Date(2027, 12, 31, 10, 0, 0, 0, time.UTC)
	occs := collect(start, Rule{Frequency: Monthly, Interval: 2, Count: 2})

	// Two months after Dec 31 2027 is Feb 2028, a leap year.
	if !occs[1].Equal(time.Date(2028, 2, 29, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected Feb 29 2028, got %s", occs[1])
	}
}

func TestExpand_KeepsTimeOfDay(t *testing.T) {
	start := time.Date(2026, 2, 2, 14, 30, 0, 0, time.UTC)
	occs := collect(start, Rule{Frequency: Monthly, Interval: 1, Count: 3})
	for _, occ := range occs {
		if occ.Hour() != 14 || occ.Minute() != 30 {
			t.Fatalf("expected 14:30, got %s", occ.Format("15:04"))
		}
	}
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{Frequency: Weekly, Interval: 1, Count: 3}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}

	cases := []Rule{
		{Frequency: "yearly", Interval: 1, Count: 3},
		{Frequency: Daily, Interval: 0, Count: 3},
		{Frequency: Daily, Interval: 1},
		{Frequency: Daily, Interval: 1, Count: 3, Until: time.Now()},
	}
	for i, rule := range cases {
		if err := rule.Validate(); !model.IsInvalid(err) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestExpand_UntilCap(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	until := start.AddDate(50, 0, 0)
	occs := collect(start, Rule{Frequency: Daily, Interval: 1, Until: until})
	if len(occs) != maxOccurrences {
		t.Fatalf("expected expansion capped at %d, got %d", maxOccurrences, len(occs))
	}
}
