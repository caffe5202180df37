package repositories

import (
	"errors"
	"fmt"
)

// InsufficientStockError reports that a conditional stock decrement matched no row.
type InsufficientStockError struct {
	Op        string
	ProductID string
	Requested int
}

// Error implements the error interface.
func (e *InsufficientStockError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("insufficient stock for product %s (requested %d)", e.ProductID, e.Requested)
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// IsNotFound implements RepositoryError.
func (e *InsufficientStockError) IsNotFound() bool { return false }

// IsConflict implements RepositoryError; a stock shortfall is a conflict with current state.
func (e *InsufficientStockError) IsConflict() bool { return e != nil }

// IsUnavailable implements RepositoryError.
func (e *InsufficientStockError) IsUnavailable() bool { return false }

// AsInsufficientStock extracts an InsufficientStockError from err.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) && stockErr != nil {
		return stockErr, true
	}
	return nil, false
}
