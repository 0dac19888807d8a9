package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// ErrorLabel tags a storage error with how callers may react to it.
type ErrorLabel string

const (
	// LabelTransientTransaction marks contention errors that may succeed on a fresh attempt.
	LabelTransientTransaction ErrorLabel = "TransientTransactionError"
)

// postgres: serialization_failure, deadlock_detected, lock_not_available
var transientPgCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"55P03": {},
}

// mysql: ER_LOCK_DEADLOCK, ER_LOCK_WAIT_TIMEOUT
var transientMySQLCodes = map[uint16]struct{}{
	1213: {},
	1205: {},
}

var transientSQLiteMessages = []string{
	"database is locked",
	"database table is locked",
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
}

type labeledError struct {
	err    error
	labels []ErrorLabel
}

func (e *labeledError) Error() string { return e.err.Error() }
func (e *labeledError) Unwrap() error { return e.err }

// WithLabels attaches labels to err.
func WithLabels(err error, labels ...ErrorLabel) error {
	if err == nil {
		return nil
	}
	return &labeledError{err: err, labels: labels}
}

// Labels returns the label set the storage layer assigns to err.
func Labels(err error) []ErrorLabel {
	if err == nil {
		return nil
	}

	var out []ErrorLabel
	var labeled *labeledError
	if errors.As(err, &labeled) {
		out = append(out, labeled.labels...)
	}
	if isTransient(err) {
		out = append(out, LabelTransientTransaction)
	}
	return out
}

func HasLabel(err error, label ErrorLabel) bool {
	for _, l := range Labels(err) {
		if l == label {
			return true
		}
	}
	return false
}

func IsTransientErr(err error) bool {
	return HasLabel(err, LabelTransientTransaction)
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := transientPgCodes[pgErr.Code]
		return ok
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := transientMySQLCodes[myErr.Number]
		return ok
	}

	msg := err.Error()
	for _, fragment := range transientSQLiteMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
