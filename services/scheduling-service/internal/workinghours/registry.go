package workinghours

import (
	"context"
	"sort"
	"time"

	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
)

// Interval is a contiguous open block on a staff member's calendar. Both ends
// are in the staff member's timezone; the interval is half-open [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Contains(start, end time.Time) bool {
	return !start.Before(iv.Start) && !end.After(iv.End)
}

// Store loads working-hours rows. The postgres implementation lives in the
// storage package.
type Store interface {
	GetStaff(ctx context.Context, businessID, staffID string) (model.Staff, error)
	ListWorkingHours(ctx context.Context, staffID string) ([]model.WorkingHour, error)
	GetDateException(ctx context.Context, staffID, date string) (model.DateException, bool, error)
}

// Registry resolves a staff member's open intervals for a calendar date by
// overlaying one-off date exceptions on the weekly template. Read-only.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// OpenIntervals returns the ordered open intervals for the given staff member
// on the calendar date containing day. day must already be in the staff
// member's timezone. An exception for the date fully replaces the template;
// a closed exception yields no intervals.
func (r *Registry) OpenIntervals(ctx context.Context, staff model.Staff, day time.Time) ([]Interval, error) {
	dateKey := day.Format("2006-01-02")

	exc, ok, err := r.store.GetDateException(ctx, staff.ID, dateKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if exc.Closed {
			return nil, nil
		}
		return minuteRangesToIntervals(day, exc.Intervals), nil
	}

	rows, err := r.store.ListWorkingHours(ctx, staff.ID)
	if err != nil {
		return nil, err
	}

	var ranges []model.MinuteRange
	for _, row := range rows {
		if row.Weekday != day.Weekday() {
			continue
		}
		if row.EndMinute <= row.StartMinute {
			continue
		}
		ranges = append(ranges, model.MinuteRange{StartMinute: row.StartMinute, EndMinute: row.EndMinute})
	}
	return minuteRangesToIntervals(day, ranges), nil
}

// ResolveStaff loads the staff member for registry lookups, reporting
// NotFoundError for unknown ids.
func (r *Registry) ResolveStaff(ctx context.Context, businessID, staffID string) (model.Staff, error) {
	return r.store.GetStaff(ctx, businessID, staffID)
}

func minuteRangesToIntervals(day time.Time, ranges []model.MinuteRange) []Interval {
	if len(ranges) == 0 {
		return nil
	}
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())

	out := make([]Interval, 0, len(ranges))
	for _, mr := range ranges {
		if mr.EndMinute <= mr.StartMinute {
			continue
		}
		out = append(out, Interval{
			Start: midnight.Add(time.Duration(mr.StartMinute) * time.Minute),
			End:   midnight.Add(time.Duration(mr.EndMinute) * time.Minute),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
