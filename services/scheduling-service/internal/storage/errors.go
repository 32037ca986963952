package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// isExclusionViolation detects the appointments overlap constraint firing.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
