package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

const (
	codeUniqueViolation       = pq.ErrorCode("23505")
	codeForeignKeyViolation   = pq.ErrorCode("23503")
	codeCheckViolation        = pq.ErrorCode("23514")
	codeSerializationFailure  = pq.ErrorCode("40001")
	codeDeadlockDetected      = pq.ErrorCode("40P01")
	codeQueryCanceled         = pq.ErrorCode("57014")
	codeTooManyConnections    = pq.ErrorCode("53300")
	classConnectionException  = pq.ErrorClass("08")
	classOperatorIntervention = pq.ErrorClass("57")
)

// Error implements repositories.RepositoryError for Postgres backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
	retryable   bool
	constraint  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a constraint violation or a lost race.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

// IsRetryable reports whether the transaction may succeed when run again (serialization failure
// or deadlock).
func (e *Error) IsRetryable() bool {
	return e != nil && e.retryable
}

// Constraint names the violated constraint, when the database reported one.
func (e *Error) Constraint() string {
	if e == nil {
		return ""
	}
	return e.constraint
}

// NotFound builds a not-found error for lookups that detect absence without sql.ErrNoRows.
func NotFound(op string, detail string) error {
	return &Error{op: op, err: errors.New(detail), notFound: true}
}

// Conflict builds a conflict error for conditional updates that matched no row.
func Conflict(op string, detail string) error {
	return &Error{op: op, err: errors.New(detail), conflict: true}
}

func newError(op string, err error) *Error {
	e := &Error{op: op, err: err}
	if errors.Is(err, sql.ErrNoRows) {
		e.notFound = true
		return e
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		e.constraint = pqErr.Constraint
		switch {
		case pqErr.Code == codeUniqueViolation, pqErr.Code == codeCheckViolation, pqErr.Code == codeForeignKeyViolation:
			e.conflict = true
		case pqErr.Code == codeSerializationFailure, pqErr.Code == codeDeadlockDetected:
			e.retryable = true
		case pqErr.Code == codeTooManyConnections,
			pqErr.Code.Class() == classConnectionException,
			pqErr.Code.Class() == classOperatorIntervention && pqErr.Code != codeQueryCanceled:
			e.unavailable = true
		}
		return e
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		e.unavailable = true
	}
	return e
}

// WrapError annotates database errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return newError(op, err)
}

// IsUniqueViolation reports whether err is a unique constraint violation, optionally on the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func isRetryable(err error) bool {
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr.IsRetryable()
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
	}
	return false
}
