package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PostgreSQL error codes the ledger reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// Classify maps PostgreSQL failures onto the shared error taxonomy. Errors that
// already carry a taxonomy kind, and unknown errors, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if shared.KindOf(err) != shared.KindInternal {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: unique constraint %s", shared.ErrConflict, pgErr.ConstraintName)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: referenced by %s", shared.ErrConflict, pgErr.ConstraintName)
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
		return fmt.Errorf("%w (sqlstate %s)", shared.ErrBusy, pgErr.Code)
	default:
		return err
	}
}

// IsUniqueViolation reports whether err is a unique constraint failure on constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeUniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}
