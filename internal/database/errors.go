package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/example/dentalsrs/internal/errs"
)

// classify wraps a driver error with the operation name and maps it onto
// the error taxonomy: missing rows become errs.ErrNotFound, key collisions
// errs.ErrConflict, and availability failures *errs.TransientStoreError.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, sql.ErrNoRows):
		return errors.Wrap(errs.ErrNotFound, op)
	case isUniqueViolation(err):
		return errors.Wrapf(errs.ErrConflict, "%s: %v", op, err)
	case isTransient(err):
		return &errs.TransientStoreError{Op: op, Err: err}
	}
	return errors.Wrapf(err, "failed to %s", op)
}

func isTransient(err error) bool {
	if stderrors.Is(err, driver.ErrBadConn) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "57P01", "57P03":
			return true
		}
		return pqErr.Code.Class() == "08"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
