package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bookline/schedcore/libs/db"
)

// IdempotencyRecord is a stored response for a (business, key) pair. A row
// with StatusCode zero was claimed but never finalized, which happens when
// the original request died mid-flight; callers treat that as absent and
// redo the work.
type IdempotencyRecord struct {
	BusinessID      string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

type IdempotencyRepository struct {
	pool db.Querier
}

func NewIdempotencyRepository(pool db.Querier) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

// Claim records the key or returns the stored response for a replay. The
// FOR UPDATE select serializes two racing requests with the same key: the
// second blocks until the first commits its response, then sees it.
func (r *IdempotencyRepository) Claim(ctx context.Context, tx pgx.Tx, businessID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectForUpdate(ctx, tx, businessID, key)
	if err == nil {
		return rec, rec.StatusCode != 0, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectForUpdate(ctx, tx, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, rec.StatusCode != 0, nil
}

func (r *IdempotencyRepository) Finalize(ctx context.Context, tx pgx.Tx, businessID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key, appointmentID, statusCode, response)
	return err
}

func (r *IdempotencyRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *IdempotencyRepository) selectForUpdate(ctx context.Context, tx pgx.Tx, businessID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := tx.QueryRow(ctx, `
		SELECT business_id, idempotency_key, COALESCE(appointment_id, ''),
			COALESCE(status_code, 0), COALESCE(response_payload, ''::bytea)
		FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, businessID, key).Scan(
		&rec.BusinessID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&rec.ResponsePayload,
	)
	return rec, err
}
