package booking

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bookline/schedcore/services/scheduling-service/internal/clock"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/outbox"
	"github.com/bookline/schedcore/services/scheduling-service/internal/workinghours"
)

// memStore mimics the postgres repository: the overlap check and the insert
// happen under one mutex, like rows guarded by the exclusion constraint.
type memStore struct {
	mu       sync.Mutex
	services map[string]model.Service
	appts    map[string]model.Appointment
	events   []outbox.Event
}

func newMemStore(svcs ...model.Service) *memStore {
	s := &memStore{
		services: make(map[string]model.Service),
		appts:    make(map[string]model.Appointment),
	}
	for _, svc := range svcs {
		s.services[svc.ID] = svc
	}
	return s
}

func (s *memStore) GetService(_ context.Context, _, serviceID string) (model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return model.Service{}, model.NotFound("service", serviceID)
	}
	return svc, nil
}

func (s *memStore) GetAppointment(_ context.Context, _, appointmentID string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[appointmentID]
	if !ok {
		return model.Appointment{}, model.NotFound("appointment", appointmentID)
	}
	return appt, nil
}

func (s *memStore) CreateAppointment(_ context.Context, appt model.Appointment, evts []outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlapsLocked(appt, "") {
		return model.Conflict(model.ReasonSlotTaken)
	}
	s.appts[appt.ID] = appt
	s.events = append(s.events, evts...)
	return nil
}

func (s *memStore) SetStatus(_ context.Context, appt model.Appointment, status model.AppointmentStatus, evts []outbox.Event) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.appts[appt.ID]
	if !ok || current.Status != appt.Status {
		return model.Appointment{}, &model.InvalidStateError{Op: string(status), Status: appt.Status}
	}
	current.Status = status
	s.appts[appt.ID] = current
	s.events = append(s.events, evts...)
	return current, nil
}

func (s *memStore) Reschedule(_ context.Context, old model.Appointment, replacement model.Appointment, evts []outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.appts[old.ID]
	if !ok || current.Status != model.AppointmentScheduled {
		return &model.InvalidStateError{Op: "reschedule", Status: old.Status}
	}
	if s.overlapsLocked(replacement, old.ID) {
		return model.Conflict(model.ReasonSlotTaken)
	}
	current.Status = model.AppointmentCancelled
	s.appts[old.ID] = current
	s.appts[replacement.ID] = replacement
	s.events = append(s.events, evts...)
	return nil
}

func (s *memStore) overlapsLocked(appt model.Appointment, ignoreID string) bool {
	for id, existing := range s.appts {
		if id == ignoreID || existing.StaffID != appt.StaffID || !existing.Status.Occupies() {
			continue
		}
		if appt.Start.Before(existing.BlockedUntil()) && existing.Start.Before(appt.BlockedUntil()) {
			return true
		}
	}
	return false
}

func (s *memStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, evt := range s.events {
		out = append(out, evt.EventType)
	}
	return out
}

type noopInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (n *noopInvalidator) Invalidate(_ context.Context, _ string) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

type fixture struct {
	store *memStore
	inval *noopInvalidator
	mgr   *Manager
	staff model.Staff
	svc   model.Service
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := model.Service{
		ID:              "svc-1",
		BusinessID:      "biz-1",
		Name:            "Consult",
		DurationMinutes: 30,
		BufferMinutes:   10,
		MaxAdvanceDays:  30,
	}
	staff := model.Staff{
		ID:         "staff-1",
		BusinessID: "biz-1",
		Name:       "Dana",
		Timezone:   "UTC",
		ServiceIDs: []string{"svc-1"},
		IsActive:   true,
	}
	store := newMemStore(svc)
	schedule := &scheduleStub{
		staff: staff,
		hours: []model.WorkingHour{
			{StaffID: "staff-1", Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 12 * 60},
		},
	}
	// Sunday 2026-02-01, the Monday under test is 2026-02-02.
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	inval := &noopInvalidator{}
	mgr := NewManager(store, workinghours.NewRegistry(schedule), inval, clock.Fixed(now),
		nil, slog.New(slog.DiscardHandler))
	return &fixture{store: store, inval: inval, mgr: mgr, staff: staff, svc: svc, now: now}
}

type scheduleStub struct {
	staff model.Staff
	hours []model.WorkingHour
}

func (s *scheduleStub) GetStaff(_ context.Context, _, staffID string) (model.Staff, error) {
	if staffID != s.staff.ID {
		return model.Staff{}, model.NotFound("staff", staffID)
	}
	return s.staff, nil
}

func (s *scheduleStub) ListWorkingHours(_ context.Context, _ string) ([]model.WorkingHour, error) {
	return s.hours, nil
}

func (s *scheduleStub) GetDateException(_ context.Context, _, _ string) (model.DateException, bool, error) {
	return model.DateException{}, false, nil
}

func (f *fixture) request(start time.Time) BookRequest {
	return BookRequest{
		BusinessID: "biz-1",
		ServiceID:  "svc-1",
		StaffID:    "staff-1",
		CustomerID: "cust-1",
		Start:      start,
	}
}

func TestAttemptBook_Succeeds(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	appt, err := f.mgr.AttemptBook(context.Background(), f.request(start))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !appt.End.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("expected end 30m after start, got %s", appt.End)
	}
	if appt.BufferMinutes != 10 {
		t.Fatalf("expected buffer snapshot of 10, got %d", appt.BufferMinutes)
	}
	if got := f.store.eventTypes(); len(got) != 1 || got[0] != "scheduling.appointment.confirmed.v1" {
		t.Fatalf("expected a confirmed event, got %v", got)
	}
	if f.inval.calls != 1 {
		t.Fatalf("expected one cache invalidation, got %d", f.inval.calls)
	}
}

func TestAttemptBook_BufferBlocksAdjacentStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.AttemptBook(ctx, f.request(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	// 09:30 collides with the first slot's trailing buffer (blocked to 09:40).
	_, err := f.mgr.AttemptBook(ctx, f.request(time.Date(2026, 2, 2, 9, 30, 0, 0, time.UTC)))
	reason, ok := model.ConflictReasonOf(err)
	if !ok || reason != model.ReasonSlotTaken {
		t.Fatalf("expected slot_taken conflict, got %v", err)
	}
	// 09:40 is clear of the buffer.
	if _, err := f.mgr.AttemptBook(ctx, f.request(time.Date(2026, 2, 2, 9, 40, 0, 0, time.UTC))); err != nil {
		t.Fatalf("expected 09:40 to be bookable, got %v", err)
	}
}

func TestAttemptBook_OutsideWorkingHours(t *testing.T) {
	f := newFixture(t)

	// 11:45 + 30m runs past the noon close.
	_, err := f.mgr.AttemptBook(context.Background(), f.request(time.Date(2026, 2, 2, 11, 45, 0, 0, time.UTC)))
	reason, ok := model.ConflictReasonOf(err)
	if !ok || reason != model.ReasonOutsideWorkingHours {
		t.Fatalf("expected outside_working_hours, got %v", err)
	}

	// Tuesday has no template rows at all.
	_, err = f.mgr.AttemptBook(context.Background(), f.request(time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)))
	if reason, ok := model.ConflictReasonOf(err); !ok || reason != model.ReasonOutsideWorkingHours {
		t.Fatalf("expected outside_working_hours for a day off, got %v", err)
	}
}

func TestAttemptBook_TrailingBufferMaySpillPastClose(t *testing.T) {
	f := newFixture(t)

	// 11:30-12:00 fits the open interval exactly; only the buffer crosses noon.
	if _, err := f.mgr.AttemptBook(context.Background(), f.request(time.Date(2026, 2, 2, 11, 30, 0, 0, time.UTC))); err != nil {
		t.Fatalf("expected closing-time slot to book, got %v", err)
	}
}

func TestAttemptBook_HorizonRejection(t *testing.T) {
	f := newFixture(t)

	// 2026-03-09 is a Monday more than 30 days out from 2026-02-01.
	_, err := f.mgr.AttemptBook(context.Background(), f.request(time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)))
	reason, ok := model.ConflictReasonOf(err)
	if !ok || reason != model.ReasonTooFarInAdvance {
		t.Fatalf("expected too_far_in_advance, got %v", err)
	}
}

func TestAttemptBook_PastStartRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.AttemptBook(context.Background(), f.request(f.now.Add(-time.Hour)))
	if !model.IsInvalid(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAttemptBook_ConcurrentSameSlotOneWinner(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	const attempts = 16
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.AttemptBook(context.Background(), f.request(start))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case model.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", attempts-1, wins, conflicts)
	}
}

func TestCancel_FreesSlotForRebooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	appt, err := f.mgr.AttemptBook(ctx, f.request(start))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	cancelled, err := f.mgr.Cancel(ctx, "biz-1", appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.AppointmentCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}

	types := f.store.eventTypes()
	if len(types) != 3 || types[1] != "scheduling.appointment.cancelled.v1" || types[2] != "scheduling.slot.freed.v1" {
		t.Fatalf("expected cancelled and slot.freed events, got %v", types)
	}

	// The exact same slot books again.
	if _, err := f.mgr.AttemptBook(ctx, f.request(start)); err != nil {
		t.Fatalf("expected rebooking after cancel, got %v", err)
	}
}

func TestCancel_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.mgr.AttemptBook(ctx, f.request(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if _, err := f.mgr.Cancel(ctx, "biz-1", appt.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if _, err := f.mgr.Cancel(ctx, "biz-1", appt.ID); !model.IsInvalidState(err) {
		t.Fatalf("expected invalid state on double cancel, got %v", err)
	}
}

func TestCancel_UnknownAppointment(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.Cancel(context.Background(), "biz-1", "missing"); !model.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReschedule_MovesAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.mgr.AttemptBook(ctx, f.request(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	moved, err := f.mgr.Reschedule(ctx, "biz-1", appt.ID, time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.ID == appt.ID {
		t.Fatal("expected a fresh appointment id for the new slot")
	}
	if got, _ := f.store.GetAppointment(ctx, "biz-1", appt.ID); got.Status != model.AppointmentCancelled {
		t.Fatalf("expected original cancelled, got %s", got.Status)
	}

	// The old 09:00 slot is free again.
	if _, err := f.mgr.AttemptBook(ctx, f.request(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("expected old slot free after reschedule, got %v", err)
	}
}

func TestReschedule_TargetTakenLeavesOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.mgr.AttemptBook(ctx, f.request(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if _, err := f.mgr.AttemptBook(ctx, f.request(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("second booking: %v", err)
	}

	_, err = f.mgr.Reschedule(ctx, "biz-1", appt.ID, time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))
	if reason, ok := model.ConflictReasonOf(err); !ok || reason != model.ReasonSlotTaken {
		t.Fatalf("expected slot_taken, got %v", err)
	}
	if got, _ := f.store.GetAppointment(ctx, "biz-1", appt.ID); got.Status != model.AppointmentScheduled {
		t.Fatalf("expected original untouched after failed move, got %s", got.Status)
	}
}

func TestReschedule_WithinOwnRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.mgr.AttemptBook(ctx, f.request(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	// Moving 15 minutes into the slot's own occupied range must not
	// self-conflict.
	if _, err := f.mgr.Reschedule(ctx, "biz-1", appt.ID, time.Date(2026, 2, 2, 9, 15, 0, 0, time.UTC)); err != nil {
		t.Fatalf("expected overlap with own slot to be allowed, got %v", err)
	}
}

func TestAttemptBook_StaffCannotPerformService(t *testing.T) {
	f := newFixture(t)
	f.store.services["svc-2"] = model.Service{ID: "svc-2", BusinessID: "biz-1", DurationMinutes: 30}

	req := f.request(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC))
	req.ServiceID = "svc-2"
	if _, err := f.mgr.AttemptBook(context.Background(), req); !model.IsInvalid(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
