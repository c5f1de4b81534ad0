package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/venue-ledger/pkg/errors"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation raised
// by Postgres (pgx or lib/pq) or SQLite. When constraintName is provided, the
// violated constraint (or, for SQLite, the message) must reference it.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if code, constraint, _, _, ok := pkgerrors.PGFields(err); ok {
		if code != pgUniqueViolation {
			return false
		}
		return constraintName == "" || constraint == constraintName
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "duplicate key value") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}
