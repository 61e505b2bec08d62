package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("not_found")
	// ErrDuplicateReport is returned when a report with the same idempotency key already exists.
	ErrDuplicateReport = errors.New("duplicate clinic report")
	// ErrInFlightConflict is returned when the partial unique index on in-flight payments rejects an insert.
	ErrInFlightConflict = errors.New("agent already has an in-flight payment")
)

const (
	pqUniqueViolation = "23505"

	clinicReportsMessageIDKey = "clinic_reports_email_message_id_key"
	paymentsOneInFlightIndex  = "payments_one_in_flight"
)

// uniqueViolation returns the violated constraint name when err is a Postgres unique violation.
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
