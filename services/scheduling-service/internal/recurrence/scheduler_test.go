package recurrence

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bookline/schedcore/services/scheduling-service/internal/booking"
	"github.com/bookline/schedcore/services/scheduling-service/internal/clock"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/outbox"
	"github.com/bookline/schedcore/services/scheduling-service/internal/workinghours"
)

type stubStore struct {
	mu    sync.Mutex
	svc   model.Service
	appts []model.Appointment
}

func (s *stubStore) GetService(_ context.Context, _, _ string) (model.Service, error) {
	return s.svc, nil
}

func (s *stubStore) GetAppointment(_ context.Context, _, id string) (model.Appointment, error) {
	return model.Appointment{}, model.NotFound("appointment", id)
}

func (s *stubStore) CreateAppointment(_ context.Context, appt model.Appointment, _ []outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.appts {
		if appt.Start.Before(existing.BlockedUntil()) && existing.Start.Before(appt.BlockedUntil()) {
			return model.Conflict(model.ReasonSlotTaken)
		}
	}
	s.appts = append(s.appts, appt)
	return nil
}

func (s *stubStore) SetStatus(_ context.Context, appt model.Appointment, _ model.AppointmentStatus, _ []outbox.Event) (model.Appointment, error) {
	return appt, nil
}

func (s *stubStore) Reschedule(_ context.Context, _ model.Appointment, _ model.Appointment, _ []outbox.Event) error {
	return nil
}

type stubSchedule struct{ staff model.Staff }

func (s *stubSchedule) GetStaff(_ context.Context, _, _ string) (model.Staff, error) {
	return s.staff, nil
}

func (s *stubSchedule) ListWorkingHours(_ context.Context, _ string) ([]model.WorkingHour, error) {
	// Open every weekday 09:00-17:00.
	var hours []model.WorkingHour
	for wd := time.Monday; wd <= time.Friday; wd++ {
		hours = append(hours, model.WorkingHour{StaffID: s.staff.ID, Weekday: wd, StartMinute: 9 * 60, EndMinute: 17 * 60})
	}
	return hours, nil
}

func (s *stubSchedule) GetDateException(_ context.Context, _, _ string) (model.DateException, bool, error) {
	return model.DateException{}, false, nil
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(_ context.Context, _ string) {}

func newTestScheduler(store *stubStore) *Scheduler {
	staff := model.Staff{
		ID:         "staff-1",
		BusinessID: "biz-1",
		Timezone:   "UTC",
		ServiceIDs: []string{"svc-1"},
		IsActive:   true,
	}
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	mgr := booking.NewManager(store, workinghours.NewRegistry(&stubSchedule{staff: staff}),
		noopInvalidator{}, clock.Fixed(now), nil, slog.New(slog.DiscardHandler))
	return NewScheduler(mgr)
}

func TestScheduleAll_PartialConflicts(t *testing.T) {
	store := &stubStore{svc: model.Service{ID: "svc-1", BusinessID: "biz-1", DurationMinutes: 60}}
	sched := newTestScheduler(store)

	// Pre-book the second occurrence's slot.
	taken := model.Appointment{
		ID:      "taken",
		StaffID: "staff-1",
		Start:   time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC),
		Status:  model.AppointmentScheduled,
	}
	store.appts = append(store.appts, taken)

	results, err := sched.ScheduleAll(context.Background(), booking.BookRequest{
		BusinessID: "biz-1",
		ServiceID:  "svc-1",
		StaffID:    "staff-1",
		CustomerID: "cust-1",
		Start:      time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
	}, Rule{Frequency: Weekly, Interval: 1, Count: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("expected first and third to book: %v / %v", results[0].Err, results[2].Err)
	}
	if reason, ok := model.ConflictReasonOf(results[1].Err); !ok || reason != model.ReasonSlotTaken {
		t.Fatalf("expected second occurrence to conflict, got %v", results[1].Err)
	}
}

func TestScheduleAll_InvalidRule(t *testing.T) {
	store := &stubStore{svc: model.Service{ID: "svc-1", DurationMinutes: 60}}
	sched := newTestScheduler(store)

	_, err := sched.ScheduleAll(context.Background(), booking.BookRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", StaffID: "staff-1", CustomerID: "c",
		Start: time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
	}, Rule{Frequency: Weekly, Interval: 1})
	if !model.IsInvalid(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
