package sentinel

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// SQLState extracts the SQLSTATE from either driver's error type.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// FromPostgres maps concurrency and uniqueness failures onto sentinels.
// Other errors are returned unchanged.
func FromPostgres(err error) error {
	if err == nil {
		return nil
	}
	switch SQLState(err) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case sqlStateUniqueViolation:
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
