package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether the error is a unique-constraint breach on
// either engine. When constraintName is provided, it must appear in the
// violation for a match.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	matched := false

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		matched = true
	case errors.As(err, &pgErr):
		matched = pgErr.Code == pgUniqueViolation
	default:
		// mattn/go-sqlite3 reports these as plain error strings
		msg := err.Error()
		matched = strings.Contains(msg, "UNIQUE constraint failed") ||
			strings.Contains(msg, "duplicate key value")
	}

	if !matched {
		return false
	}
	if constraintName == "" {
		return true
	}
	return strings.Contains(err.Error(), constraintName) ||
		(pgErr != nil && pgErr.ConstraintName == constraintName)
}

// IsSerializationFailure reports whether the error is a transient transaction
// conflict worth retrying: Postgres serialization/deadlock errors or the
// embedded engine's write-lock contention.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
