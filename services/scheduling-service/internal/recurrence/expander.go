package recurrence

import (
	"context"
	"iter"
	"time"

	"github.com/bookline/schedcore/services/scheduling-service/internal/booking"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
)

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Rule describes a bounded recurrence. Exactly one of Count and Until
// terminates it; Validate rejects rules with both, neither, or an interval
// below one.
type Rule struct {
	Frequency Frequency
	Interval  int
	Count     int
	Until     time.Time
}

func (r Rule) Validate() error {
	switch r.Frequency {
	case Daily, Weekly, Monthly:
	default:
		return model.Invalid("unknown recurrence frequency %q", r.Frequency)
	}
	if r.Interval < 1 {
		return model.Invalid("recurrence interval must be at least 1")
	}
	hasCount := r.Count > 0
	hasUntil := !r.Until.IsZero()
	if hasCount == hasUntil {
		return model.Invalid("recurrence needs exactly one of count and until")
	}
	return nil
}

// maxOccurrences caps until-bounded rules so a far-future until date cannot
// expand without bound.
const maxOccurrences = 366

// Expand yields the occurrence start times of rule anchored at start, the
// anchor included as the first occurrence. Monthly steps keep the anchor's
// day of month, clamping to the last day of shorter months (an anchor on the
// 31st lands on Apr 30, not May 1). Expansion is lazy; callers that stop
// consuming stop the walk.
func Expand(start time.Time, rule Rule) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		emitted := 0
		for i := 0; ; i++ {
			occ := nth(start, rule, i)
			if rule.Count > 0 && emitted >= rule.Count {
				return
			}
			if !rule.Until.IsZero() && occ.After(rule.Until) {
				return
			}
			if emitted >= maxOccurrences {
				return
			}
			if !yield(occ) {
				return
			}
			emitted++
		}
	}
}

func nth(start time.Time, rule Rule, n int) time.Time {
	switch rule.Frequency {
	case Daily:
		return start.AddDate(0, 0, n*rule.Interval)
	case Weekly:
		return start.AddDate(0, 0, 7*n*rule.Interval)
	default:
		return addMonthsClamped(start, n*rule.Interval)
	}
}

// addMonthsClamped advances by whole months without the normalization
// time.AddDate does, so Jan 31 plus one month is Feb 28/29 rather than
// Mar 2/3.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// OccurrenceResult reports one occurrence's booking outcome. Err is nil on
// success; conflicts carry the model conflict error.
type OccurrenceResult struct {
	Start       time.Time
	Appointment model.Appointment
	Err         error
}

// Scheduler books every occurrence of a rule independently. A conflict on
// one occurrence never rolls back its siblings; the caller gets the full
// per-occurrence ledger and decides what to surface.
type Scheduler struct {
	manager *booking.Manager
}

func NewScheduler(manager *booking.Manager) *Scheduler {
	return &Scheduler{manager: manager}
}

func (s *Scheduler) ScheduleAll(ctx context.Context, req booking.BookRequest, rule Rule) ([]OccurrenceResult, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	var results []OccurrenceResult
	for occ := range Expand(req.Start, rule) {
		attempt := req
		attempt.Start = occ
		appt, err := s.manager.AttemptBook(ctx, attempt)
		results = append(results, OccurrenceResult{Start: occ, Appointment: appt, Err: err})
		if err != nil && !model.IsConflict(err) && !model.IsInvalid(err) {
			// Infrastructure failure: stop expanding, report what happened.
			return results, err
		}
	}
	return results, nil
}
