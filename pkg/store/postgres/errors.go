package postgres

import (
	"errors"

	goerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
)

// uniqueViolationCode is the Postgres SQLSTATE for a unique/exclusion
// constraint violation.
const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return false
}

// dbErr wraps a raw driver/query error with the failing operation before
// handing it to apperrors, so the pgx/sql cause survives underneath the
// operation context instead of being flattened into a single message
// string. Every repository method in this package routes its database
// errors through here rather than calling apperrors.NewDatabaseError
// directly.
func dbErr(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return apperrors.NewDatabaseError(op, goerrors.Wrap(cause, op))
}
