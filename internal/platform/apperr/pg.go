package apperr

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgSerializationFail   = "40001"
)

// FromDB translates a storage error into the taxonomy. Errors already in the
// taxonomy pass through unchanged; what names the entity in the resulting
// message.
func FromDB(err error, what string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound("%s not found", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return &Error{Kind: KindNotFound, Message: what + " references a missing record", Err: err}
		case pgUniqueViolation:
			return &Error{Kind: KindConflict, Message: what + " already exists", Err: err}
		case pgSerializationFail:
			return &Error{Kind: KindConflict, Message: "concurrent update on " + what + ", retry", Err: err}
		}
	}
	return Internal(err, "storage failure")
}
