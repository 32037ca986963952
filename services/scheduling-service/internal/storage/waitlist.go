package storage

import (
	"context"

	"github.com/bookline/schedcore/libs/db"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/outbox"
)

type WaitlistRepository struct {
	pool   db.Querier
	outbox *outbox.Repository
}

func NewWaitlistRepository(pool db.Querier, outboxRepo *outbox.Repository) *WaitlistRepository {
	return &WaitlistRepository{pool: pool, outbox: outboxRepo}
}

func (r *WaitlistRepository) CreateEntry(ctx context.Context, entry model.WaitlistEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO waitlist_entries
			(id, business_id, staff_id, service_id, customer_id, range_start, range_end, registered_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.BusinessID, entry.StaffID, entry.ServiceID, entry.CustomerID,
		entry.RangeStart, entry.RangeEnd, entry.RegisteredAt, entry.Status)
	return err
}

// ListWaiting returns waiting entries for the (staff, service) pair in
// registration order. Promotion fairness depends on this ordering.
func (r *WaitlistRepository) ListWaiting(ctx context.Context, businessID, staffID, serviceID string) ([]model.WaitlistEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, staff_id, service_id, customer_id,
			range_start, range_end, registered_at, status
		FROM waitlist_entries
		WHERE business_id = $1 AND staff_id = $2 AND service_id = $3 AND status = 'waiting'
		ORDER BY registered_at
	`, businessID, staffID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WaitlistEntry
	for rows.Next() {
		var e model.WaitlistEntry
		if err := rows.Scan(
			&e.ID,
			&e.BusinessID,
			&e.StaffID,
			&e.ServiceID,
			&e.CustomerID,
			&e.RangeStart,
			&e.RangeEnd,
			&e.RegisteredAt,
			&e.Status,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CancelEntry withdraws a waiting entry. Entries already promoted, expired,
// or cancelled read as not found.
func (r *WaitlistRepository) CancelEntry(ctx context.Context, businessID, entryID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'cancelled'
		WHERE id = $1 AND business_id = $2 AND status = 'waiting'
	`, entryID, businessID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("waitlist entry", entryID)
	}
	return nil
}

func (r *WaitlistRepository) SetEntryStatus(ctx context.Context, entryID string, status model.WaitlistStatus, evts []outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = $2
		WHERE id = $1 AND status = 'waiting'
	`, entryID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("waitlist entry", entryID)
	}

	for _, evt := range evts {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
