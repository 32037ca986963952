package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/outbox"
)

func testAppointment() model.Appointment {
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	return model.Appointment{
		ID:            "appt-1",
		BusinessID:    "biz-1",
		ServiceID:     "svc-1",
		StaffID:       "staff-1",
		CustomerID:    "cust-1",
		Start:         start,
		End:           start.Add(30 * time.Minute),
		BufferMinutes: 10,
		Status:        model.AppointmentScheduled,
		CreatedAt:     start.Add(-24 * time.Hour),
		UpdatedAt:     start.Add(-24 * time.Hour),
	}
}

func TestCreateAppointment_ExclusionViolationIsSlotTaken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	appt := testAppointment()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(appt.ID, appt.BusinessID, appt.ServiceID, appt.StaffID, appt.CustomerID,
			appt.Start, appt.End, appt.BufferMinutes, appt.Status, appt.CreatedAt, appt.UpdatedAt).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})
	mock.ExpectRollback()

	repo := NewAppointmentRepository(mock, outbox.NewRepository(mock))
	err = repo.CreateAppointment(context.Background(), appt, nil)

	reason, ok := model.ConflictReasonOf(err)
	if !ok || reason != model.ReasonSlotTaken {
		t.Fatalf("expected slot_taken conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAppointment_CommitsRowAndEvents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	appt := testAppointment()
	evt := outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     "scheduling.appointment.confirmed.v1",
		Payload:       []byte(`{}`),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(appt.ID, appt.BusinessID, appt.ServiceID, appt.StaffID, appt.CustomerID,
			appt.Start, appt.End, appt.BufferMinutes, appt.Status, appt.CreatedAt, appt.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewAppointmentRepository(mock, outbox.NewRepository(mock))
	if err := repo.CreateAppointment(context.Background(), appt, []outbox.Event{evt}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetService_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT id, business_id, name, duration_minutes").
		WithArgs("svc-missing", "biz-1").
		WillReturnError(pgx.ErrNoRows)

	repo := NewAppointmentRepository(mock, outbox.NewRepository(mock))
	_, err = repo.GetService(context.Background(), "biz-1", "svc-missing")
	if !model.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetStatus_MissedRowIsInvalidState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	appt := testAppointment()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(appt.ID, appt.BusinessID, model.AppointmentCancelled, appt.Status).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	repo := NewAppointmentRepository(mock, outbox.NewRepository(mock))
	_, err = repo.SetStatus(context.Background(), appt, model.AppointmentCancelled, nil)
	if !model.IsInvalidState(err) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestListOccupied_ScansRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	appt := testAppointment()
	from := appt.Start.Add(-time.Hour)
	to := appt.Start.Add(time.Hour)

	rows := pgxmock.NewRows([]string{
		"id", "business_id", "service_id", "staff_id", "customer_id",
		"start_time", "end_time", "buffer_minutes", "status", "created_at", "updated_at",
	}).AddRow(appt.ID, appt.BusinessID, appt.ServiceID, appt.StaffID, appt.CustomerID,
		appt.Start, appt.End, appt.BufferMinutes, appt.Status, appt.CreatedAt, appt.UpdatedAt)

	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs("biz-1", "staff-1", from, to).
		WillReturnRows(rows)

	repo := NewAppointmentRepository(mock, outbox.NewRepository(mock))
	got, err := repo.ListOccupied(context.Background(), "biz-1", "staff-1", from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != appt.ID {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !got[0].BlockedUntil().Equal(appt.End.Add(10 * time.Minute)) {
		t.Fatalf("buffer lost in scan: %s", got[0].BlockedUntil())
	}
}
