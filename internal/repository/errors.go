package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"

	// raised by postgres for ids that are not valid UUIDs
	pqInvalidTextRepresentation = "22P02"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pqCode(err) == pqForeignKeyViolation
}

func isInvalidID(err error) bool {
	return pqCode(err) == pqInvalidTextRepresentation
}

// isNotFound treats a malformed id like an unknown one: no row can match it.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || isInvalidID(err)
}
