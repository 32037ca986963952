package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookline/schedcore/libs/db"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
)

// ScheduleRepository serves the read side of the calendar: staff, weekly
// working-hours templates, and one-off date exceptions.
type ScheduleRepository struct {
	pool db.Querier
}

func NewScheduleRepository(pool db.Querier) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) GetStaff(ctx context.Context, businessID, staffID string) (model.Staff, error) {
	var staff model.Staff
	err := r.pool.QueryRow(ctx, `
		SELECT s.id, s.business_id, s.name, s.timezone, s.is_active,
			COALESCE(array_agg(ss.service_id) FILTER (WHERE ss.service_id IS NOT NULL), '{}')
		FROM staff s
		LEFT JOIN staff_services ss ON ss.staff_id = s.id
		WHERE s.id = $1 AND s.business_id = $2
		GROUP BY s.id
	`, staffID, businessID).Scan(
		&staff.ID,
		&staff.BusinessID,
		&staff.Name,
		&staff.Timezone,
		&staff.IsActive,
		&staff.ServiceIDs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Staff{}, model.NotFound("staff", staffID)
	}
	if err != nil {
		return model.Staff{}, err
	}
	return staff, nil
}

func (r *ScheduleRepository) ListWorkingHours(ctx context.Context, staffID string) ([]model.WorkingHour, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT staff_id, weekday, start_minute, end_minute
		FROM working_hours
		WHERE staff_id = $1
		ORDER BY weekday, start_minute
	`, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WorkingHour
	for rows.Next() {
		var wh model.WorkingHour
		var weekday int
		if err := rows.Scan(&wh.StaffID, &weekday, &wh.StartMinute, &wh.EndMinute); err != nil {
			return nil, err
		}
		wh.Weekday = time.Weekday(weekday)
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) GetDateException(ctx context.Context, staffID, date string) (model.DateException, bool, error) {
	var exc model.DateException
	err := r.pool.QueryRow(ctx, `
		SELECT staff_id, on_date, closed
		FROM date_exceptions
		WHERE staff_id = $1 AND on_date = $2
	`, staffID, date).Scan(&exc.StaffID, &exc.Date, &exc.Closed)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DateException{}, false, nil
	}
	if err != nil {
		return model.DateException{}, false, err
	}
	if exc.Closed {
		return exc, true, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT start_minute, end_minute
		FROM date_exception_intervals
		WHERE staff_id = $1 AND on_date = $2
		ORDER BY start_minute
	`, staffID, date)
	if err != nil {
		return model.DateException{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var mr model.MinuteRange
		if err := rows.Scan(&mr.StartMinute, &mr.EndMinute); err != nil {
			return model.DateException{}, false, err
		}
		exc.Intervals = append(exc.Intervals, mr)
	}
	return exc, true, rows.Err()
}
