package availability

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/bookline/schedcore/services/scheduling-service/internal/clock"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/workinghours"
)

// Slot is one candidate bookable interval, half-open [Start, End).
type Slot struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Occupied bool      `json:"occupied"`
}

// Generator derives candidate slots from working hours, service duration,
// and buffer time. All arithmetic happens in the staff member's timezone.
type Generator struct {
	registry *workinghours.Registry
	clk      clock.Clock
}

func NewGenerator(registry *workinghours.Registry, clk clock.Clock) *Generator {
	return &Generator{registry: registry, clk: clk}
}

// Slots yields candidate slots for each date in [from, to], lazily and
// restartably. Within each open interval the cursor starts at the interval
// open, emits a slot of the service duration, and advances by duration plus
// buffer; it stops once the next slot would cross the interval end. Slots
// never span interval boundaries (a lunch break is modeled as two intervals).
// Dates beyond the service's advance-booking horizon, evaluated against the
// clock in the staff timezone, are excluded entirely, and slots that have
// already started are skipped so the output only contains bookable starts.
func (g *Generator) Slots(ctx context.Context, staff model.Staff, svc model.Service, from, to time.Time) iter.Seq2[Slot, error] {
	return func(yield func(Slot, error) bool) {
		if svc.DurationMinutes <= 0 {
			yield(Slot{}, fmt.Errorf("service %s has non-positive duration", svc.ID))
			return
		}
		loc, err := time.LoadLocation(staff.Timezone)
		if err != nil {
			yield(Slot{}, fmt.Errorf("staff %s timezone: %w", staff.ID, err))
			return
		}

		dur := svc.Duration()
		step := dur + svc.Buffer()
		now := g.clk.Now()

		day := dateOnly(from.In(loc))
		last := dateOnly(to.In(loc))

		if svc.MaxAdvanceDays > 0 {
			horizon := dateOnly(g.clk.Now().In(loc)).AddDate(0, 0, svc.MaxAdvanceDays)
			if last.After(horizon) {
				last = horizon
			}
		}

		for ; !day.After(last); day = day.AddDate(0, 0, 1) {
			intervals, err := g.registry.OpenIntervals(ctx, staff, day)
			if err != nil {
				yield(Slot{}, err)
				return
			}
			for _, iv := range intervals {
				for cursor := iv.Start; !cursor.Add(dur).After(iv.End); cursor = cursor.Add(step) {
					if !cursor.After(now) {
						continue
					}
					if !yield(Slot{Start: cursor, End: cursor.Add(dur)}, nil) {
						return
					}
				}
			}
		}
	}
}

// CollectSlots materializes the generator output.
func (g *Generator) CollectSlots(ctx context.Context, staff model.Staff, svc model.Service, from, to time.Time) ([]Slot, error) {
	var out []Slot
	for slot, err := range g.Slots(ctx, staff, svc, from, to) {
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
