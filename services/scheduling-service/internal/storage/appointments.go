package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookline/schedcore/libs/db"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/outbox"
)

// AppointmentRepository is the postgres side of booking. The appointments
// table carries an exclusion constraint over (staff_id, occupied range) for
// rows in status 'scheduled', so two overlapping inserts can never both
// commit even across processes; the constraint firing surfaces as a
// slot_taken conflict.
type AppointmentRepository struct {
	pool   db.Querier
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool db.Querier, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

const appointmentColumns = `id, business_id, service_id, staff_id, customer_id,
	start_time, end_time, buffer_minutes, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID,
		&a.BusinessID,
		&a.ServiceID,
		&a.StaffID,
		&a.CustomerID,
		&a.Start,
		&a.End,
		&a.BufferMinutes,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func (r *AppointmentRepository) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	var svc model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, business_id, name, duration_minutes, buffer_minutes,
			max_advance_days, cancel_min_notice_hours, refund_tier
		FROM services
		WHERE id = $1 AND business_id = $2
	`, serviceID, businessID).Scan(
		&svc.ID,
		&svc.BusinessID,
		&svc.Name,
		&svc.DurationMinutes,
		&svc.BufferMinutes,
		&svc.MaxAdvanceDays,
		&svc.CancelMinNoticeHours,
		&svc.RefundTier,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, model.NotFound("service", serviceID)
	}
	if err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

func (r *AppointmentRepository) GetAppointment(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, model.NotFound("appointment", appointmentID)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) CreateAppointment(ctx context.Context, appt model.Appointment, evts []outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := r.insert(ctx, tx, appt); err != nil {
		return err
	}
	for _, evt := range evts {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) SetStatus(ctx context.Context, appt model.Appointment, status model.AppointmentStatus, evts []outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer tx.Rollback(ctx)

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND business_id = $2 AND status = $4
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.BusinessID, status, appt.Status))
	if errors.Is(err, pgx.ErrNoRows) {
		// Row gone or already transitioned by a concurrent request.
		return model.Appointment{}, &model.InvalidStateError{Op: string(status), Status: appt.Status}
	}
	if err != nil {
		return model.Appointment{}, err
	}

	for _, evt := range evts {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return updated, nil
}

func (r *AppointmentRepository) Reschedule(ctx context.Context, old model.Appointment, replacement model.Appointment, evts []outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND business_id = $2 AND status = $4
	`, old.ID, old.BusinessID, model.AppointmentCancelled, model.AppointmentScheduled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &model.InvalidStateError{Op: "reschedule", Status: old.Status}
	}

	// The cancelled row has left the exclusion constraint's scope, so a move
	// into the just-freed range passes.
	if err := r.insert(ctx, tx, replacement); err != nil {
		return err
	}
	for _, evt := range evts {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) insert(ctx context.Context, tx pgx.Tx, appt model.Appointment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointments
			(`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, appt.ID, appt.BusinessID, appt.ServiceID, appt.StaffID, appt.CustomerID,
		appt.Start, appt.End, appt.BufferMinutes, appt.Status, appt.CreatedAt, appt.UpdatedAt)
	if isExclusionViolation(err) {
		return model.Conflict(model.ReasonSlotTaken)
	}
	return err
}

// ListOccupied returns scheduled appointments whose occupied range, trailing
// buffer included, intersects [from, to).
func (r *AppointmentRepository) ListOccupied(ctx context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND staff_id = $2
			AND status = 'scheduled'
			AND start_time < $4
			AND end_time + make_interval(mins => buffer_minutes) > $3
		ORDER BY start_time
	`, businessID, staffID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}
