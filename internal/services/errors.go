package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/myshop/api/internal/platform/pagination"
	"github.com/myshop/api/internal/repositories"
)

// Base error kinds. Every error returned by a service wraps exactly one of these so that the HTTP
// layer can translate with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStorageFailure    = errors.New("storage failure")
)

// ErrStorageUnavailable marks storage failures caused by an unreachable backend.
var ErrStorageUnavailable = newKindError(ErrStorageFailure, "storage unavailable")

var baseKinds = []error{
	ErrNotFound,
	ErrForbidden,
	ErrUnauthorized,
	ErrInvalidState,
	ErrInvalidArgument,
	ErrConflict,
	ErrInsufficientStock,
	ErrStorageFailure,
}

type kindError struct {
	msg  string
	kind error
}

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// IsServiceError reports whether err already carries one of the base kinds.
func IsServiceError(err error) bool {
	for _, kind := range baseKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// mapRepoError translates repository failures into service kinds. notFound and conflict select the
// domain specific sentinel; nil falls back to the base kind. The repository error stays in the chain
// so the transaction runner can still recognise retryable failures.
func mapRepoError(err error, notFound, conflict error) error {
	if err == nil {
		return nil
	}
	if IsServiceError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if stockErr, ok := repositories.AsInsufficientStock(err); ok {
		return fmt.Errorf("%w: product %s", ErrInsufficientStock, stockErr.ProductID)
	}

	if notFound == nil {
		notFound = ErrNotFound
	}
	if conflict == nil {
		conflict = ErrConflict
	}

	if isRepoRetryable(err) {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %w", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}

// isRepoRetryable reports serialization failures and deadlocks.
func isRepoRetryable(err error) bool {
	var retryable interface{ IsRetryable() bool }
	return errors.As(err, &retryable) && retryable.IsRetryable()
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
