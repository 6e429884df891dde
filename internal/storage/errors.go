package storage

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrConflict means a concurrent transaction won: serialization failure, deadlock or a busy database.
	ErrConflict = errors.New("storage: concurrent modification conflict")
	// ErrUniqueViolation means a unique constraint or index rejected the write.
	ErrUniqueViolation = errors.New("storage: unique constraint violation")
	// ErrForeignKeyViolation means a referenced row does not exist.
	ErrForeignKeyViolation = errors.New("storage: foreign key violation")
)

const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type classifiedError struct {
	kind  error
	cause error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *classifiedError) Is(target error) bool {
	return target == e.kind
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Classify maps driver specific errors from lib/pq, pgx and modernc sqlite onto the storage sentinels.
// Errors it does not recognise are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var already *classifiedError
	if errors.As(err, &already) {
		return err
	}

	if kind := kindOf(err); kind != nil {
		return &classifiedError{kind: kind, cause: err}
	}
	return err
}

func kindOf(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgKind(string(pqErr.Code))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgKind(pgErr.Code)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return sqliteKind(liteErr.Code(), liteErr.Error())
	}
	return nil
}

func pgKind(code string) error {
	switch code {
	case pgUniqueViolation:
		return ErrUniqueViolation
	case pgForeignKeyViolation:
		return ErrForeignKeyViolation
	case pgSerializationFailure, pgDeadlockDetected:
		return ErrConflict
	}
	return nil
}

func sqliteKind(code int, msg string) error {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return ErrUniqueViolation
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ErrForeignKeyViolation
	}

	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return ErrConflict
	case sqlite3.SQLITE_CONSTRAINT:
		// primary result code only: fall back to the message
		if strings.Contains(msg, "UNIQUE constraint failed") {
			return ErrUniqueViolation
		}
		if strings.Contains(msg, "FOREIGN KEY constraint failed") {
			return ErrForeignKeyViolation
		}
	}
	return nil
}

// IsConflict reports whether retrying the transaction could succeed.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUniqueViolation)
}
