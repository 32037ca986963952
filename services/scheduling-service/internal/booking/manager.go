package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bookline/schedcore/services/scheduling-service/internal/clock"
	"github.com/bookline/schedcore/services/scheduling-service/internal/events"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/observability"
	"github.com/bookline/schedcore/services/scheduling-service/internal/outbox"
	"github.com/bookline/schedcore/services/scheduling-service/internal/workinghours"
)

// Store is the transactional persistence contract for appointments. Every
// method that writes takes its outbox events and commits them in the same
// transaction as the row change.
type Store interface {
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	GetAppointment(ctx context.Context, businessID, appointmentID string) (model.Appointment, error)

	// CreateAppointment inserts the appointment if and only if no occupying
	// appointment for the same staff member overlaps [Start, BlockedUntil).
	// An overlap fails the whole transaction with a slot_taken conflict.
	CreateAppointment(ctx context.Context, appt model.Appointment, evts []outbox.Event) error

	// SetStatus moves the appointment to the given status and returns the
	// updated row.
	SetStatus(ctx context.Context, appt model.Appointment, status model.AppointmentStatus, evts []outbox.Event) (model.Appointment, error)

	// Reschedule cancels old and inserts replacement in one transaction. The
	// cancelled row does not count as occupying for replacement's overlap
	// check, so moving within the freed range succeeds.
	Reschedule(ctx context.Context, old model.Appointment, replacement model.Appointment, evts []outbox.Event) error
}

// Invalidator drops cached availability for a staff member after a calendar
// mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, staffID string)
}

// Manager serializes booking mutations per staff calendar and enforces the
// booking rules the store cannot express: working hours, the advance-booking
// horizon, and status transitions. Overlap is double-checked by the store so
// a second process can never slip a conflicting row past this instance.
type Manager struct {
	store    Store
	registry *workinghours.Registry
	locks    *staffLocks
	index    Invalidator
	clk      clock.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewManager(store Store, registry *workinghours.Registry, index Invalidator, clk clock.Clock, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		locks:    newStaffLocks(0),
		index:    index,
		clk:      clk,
		metrics:  metrics,
		logger:   logger,
	}
}

// BookRequest is one booking attempt. Start may carry any offset; it is
// normalized to the staff timezone before validation.
type BookRequest struct {
	BusinessID string
	ServiceID  string
	StaffID    string
	CustomerID string
	Start      time.Time
}

// AttemptBook validates the request against working hours and the horizon,
// then inserts under the per-staff lock. Exactly one of two concurrent
// attempts for the same slot wins; the loser gets a slot_taken conflict.
func (m *Manager) AttemptBook(ctx context.Context, req BookRequest) (model.Appointment, error) {
	staff, svc, err := m.resolve(ctx, req.BusinessID, req.StaffID, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}

	appt, err := m.validateSlot(ctx, staff, svc, req.CustomerID, req.Start)
	if err != nil {
		m.countConflict(err)
		return model.Appointment{}, err
	}

	release, err := m.locks.acquire(ctx, staff.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	defer release()

	evt := events.NewAppointmentConfirmed(appt)
	if err := m.store.CreateAppointment(ctx, appt, []outbox.Event{evt}); err != nil {
		m.countConflict(err)
		return model.Appointment{}, err
	}

	m.index.Invalidate(ctx, staff.ID)
	m.metrics.RecordConfirmed()
	m.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"staff_id", appt.StaffID,
		"service_id", appt.ServiceID,
		"starts_at", appt.Start,
	)
	return appt, nil
}

// Cancel moves a scheduled appointment to cancelled and frees its slot.
// Cancelling anything but a scheduled appointment is an invalid state
// transition, including a second cancel of the same appointment.
func (m *Manager) Cancel(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := m.store.GetAppointment(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status != model.AppointmentScheduled {
		return model.Appointment{}, &model.InvalidStateError{Op: "cancel", Status: appt.Status}
	}

	svc, err := m.store.GetService(ctx, businessID, appt.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}

	release, err := m.locks.acquire(ctx, appt.StaffID)
	if err != nil {
		return model.Appointment{}, err
	}
	defer release()

	evts := []outbox.Event{
		events.NewAppointmentCancelled(appt, svc, m.clk.Now()),
		events.NewSlotFreed(appt),
	}
	updated, err := m.store.SetStatus(ctx, appt, model.AppointmentCancelled, evts)
	if err != nil {
		return model.Appointment{}, err
	}

	m.index.Invalidate(ctx, appt.StaffID)
	m.metrics.RecordCancelled()
	m.logger.Info("appointment cancelled", "appointment_id", appt.ID, "staff_id", appt.StaffID)
	return updated, nil
}

// Reschedule atomically moves a scheduled appointment to newStart with the
// same staff member and service. Either both the cancel and the rebook
// commit, or neither does; the calendar never holds zero or two slots for
// the customer mid-move.
func (m *Manager) Reschedule(ctx context.Context, businessID, appointmentID string, newStart time.Time) (model.Appointment, error) {
	old, err := m.store.GetAppointment(ctx, businessID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if old.Status != model.AppointmentScheduled {
		return model.Appointment{}, &model.InvalidStateError{Op: "reschedule", Status: old.Status}
	}

	staff, svc, err := m.resolve(ctx, businessID, old.StaffID, old.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}

	replacement, err := m.validateSlot(ctx, staff, svc, old.CustomerID, newStart)
	if err != nil {
		m.countConflict(err)
		return model.Appointment{}, err
	}

	release, err := m.locks.acquire(ctx, staff.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	defer release()

	evts := []outbox.Event{
		events.NewAppointmentCancelled(old, svc, m.clk.Now()),
		events.NewSlotFreed(old),
		events.NewAppointmentConfirmed(replacement),
	}
	if err := m.store.Reschedule(ctx, old, replacement, evts); err != nil {
		m.countConflict(err)
		return model.Appointment{}, err
	}

	m.index.Invalidate(ctx, staff.ID)
	m.metrics.RecordReschedule()
	m.logger.Info("appointment rescheduled",
		"appointment_id", old.ID,
		"replacement_id", replacement.ID,
		"staff_id", staff.ID,
		"starts_at", replacement.Start,
	)
	return replacement, nil
}

func (m *Manager) resolve(ctx context.Context, businessID, staffID, serviceID string) (model.Staff, model.Service, error) {
	staff, err := m.registry.ResolveStaff(ctx, businessID, staffID)
	if err != nil {
		return model.Staff{}, model.Service{}, err
	}
	if !staff.IsActive {
		return model.Staff{}, model.Service{}, model.NotFound("staff", staffID)
	}
	svc, err := m.store.GetService(ctx, businessID, serviceID)
	if err != nil {
		return model.Staff{}, model.Service{}, err
	}
	if !staff.CanPerform(svc.ID) {
		return model.Staff{}, model.Service{}, model.Invalid("staff %s does not offer service %s", staffID, svc.ID)
	}
	return staff, svc, nil
}

// validateSlot runs every check that does not need the lock: past starts,
// the advance horizon, and containment in an open working-hours interval.
// The trailing buffer may spill past the interval end; only the service time
// itself must fit.
func (m *Manager) validateSlot(ctx context.Context, staff model.Staff, svc model.Service, customerID string, start time.Time) (model.Appointment, error) {
	loc, err := time.LoadLocation(staff.Timezone)
	if err != nil {
		return model.Appointment{}, err
	}
	start = start.In(loc)
	end := start.Add(svc.Duration())
	now := m.clk.Now().In(loc)

	if !start.After(now) {
		return model.Appointment{}, model.Invalid("start %s is not in the future", start.Format(time.RFC3339))
	}
	if svc.MaxAdvanceDays > 0 {
		horizon := dateOnly(now).AddDate(0, 0, svc.MaxAdvanceDays)
		if dateOnly(start).After(horizon) {
			return model.Appointment{}, model.Conflict(model.ReasonTooFarInAdvance)
		}
	}

	intervals, err := m.registry.OpenIntervals(ctx, staff, start)
	if err != nil {
		return model.Appointment{}, err
	}
	inside := false
	for _, iv := range intervals {
		if iv.Contains(start, end) {
			inside = true
			break
		}
	}
	if !inside {
		return model.Appointment{}, model.Conflict(model.ReasonOutsideWorkingHours)
	}

	now = m.clk.Now()
	return model.Appointment{
		ID:            uuid.NewString(),
		BusinessID:    staff.BusinessID,
		ServiceID:     svc.ID,
		StaffID:       staff.ID,
		CustomerID:    customerID,
		Start:         start,
		End:           end,
		BufferMinutes: svc.BufferMinutes,
		Status:        model.AppointmentScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (m *Manager) countConflict(err error) {
	if reason, ok := model.ConflictReasonOf(err); ok {
		m.metrics.RecordConflict(string(reason))
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
