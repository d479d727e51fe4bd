/*
errors.go - Error types for the ledger engine

PURPOSE:
  All error types in one place. Stores and the HTTP layer classify
  failures with errors.Is against the sentinels below.

ERROR CATEGORIES:
  1. Client errors - Unknown account, bad payment method, bad value
  2. Series errors - Occurrence already materialized, series locked
  3. Store errors  - Transient infrastructure failures (retry next tick)

PROPAGATION:
  Sweep:    Per-series errors land in the SweepReport, never abort the run
  Snapshot: Per-account errors land in the SnapshotReport
  Recalc:   ErrAccountNotFound propagates to the caller

SEE ALSO:
  - poster.go: Raises the client errors
  - api/handlers.go: Maps errors to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when the account does not exist or
	// belongs to another user.
	ErrAccountNotFound = errors.New("account not found")

	// ErrIncompatiblePaymentMethod is returned when the payment method is not
	// linked to the account.
	ErrIncompatiblePaymentMethod = errors.New("payment method not associated with account")

	// ErrInvalidMonetaryValue is returned for non-positive values.
	ErrInvalidMonetaryValue = errors.New("value must be greater than zero")

	// ErrInvalidTransaction is returned for malformed payloads (bad type,
	// installment counters out of range).
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrSeriesAlreadyMaterialized is returned by stores when an occurrence
	// for the same (series, period) already exists. The sweep reports it as
	// already-exists.
	ErrSeriesAlreadyMaterialized = errors.New("series occurrence already materialized")

	// ErrStoreUnavailable marks transient infrastructure failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTransactionNotFound is returned when reversing an unknown transaction.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidDateRange is returned when end is before start or the range
	// exceeds the configured maximum.
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrUnsupportedRecurrence is returned for unknown recurring types.
	ErrUnsupportedRecurrence = errors.New("unsupported recurrence type")

	// ErrSeriesLocked is returned when another worker holds the series lock.
	ErrSeriesLocked = errors.New("series locked by another worker")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AccountNotFoundError names the missing account.
type AccountNotFoundError struct {
	AccountID AccountID
	UserID    UserID // set when the account exists but belongs to someone else
}

func (e *AccountNotFoundError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("account not found: %s for user %s", e.AccountID, e.UserID)
	}
	return fmt.Sprintf("account not found: %s", e.AccountID)
}

func (e *AccountNotFoundError) Unwrap() error { return ErrAccountNotFound }

// PaymentMethodError names the unlinked payment method.
type PaymentMethodError struct {
	AccountID       AccountID
	PaymentMethodID PaymentMethodID
}

func (e *PaymentMethodError) Error() string {
	return fmt.Sprintf("payment method %s is not associated with account %s", e.PaymentMethodID, e.AccountID)
}

func (e *PaymentMethodError) Unwrap() error { return ErrIncompatiblePaymentMethod }

// SeriesConflictError names the (series, period) that already has a row.
type SeriesConflictError struct {
	SeriesKey string
	Period    string
}

func (e *SeriesConflictError) Error() string {
	return fmt.Sprintf("series %s already materialized for %s", e.SeriesKey, e.Period)
}

func (e *SeriesConflictError) Unwrap() error { return ErrSeriesAlreadyMaterialized }

// StoreError wraps a driver failure. It matches both ErrStoreUnavailable
// and the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// NewStoreError wraps err unless it is nil or already classified.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || errors.Is(err, ErrSeriesAlreadyMaterialized) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// IsNotFound reports whether err refers to a missing account or transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrTransactionNotFound)
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrIncompatiblePaymentMethod) ||
		errors.Is(err, ErrInvalidMonetaryValue) ||
		errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrUnsupportedRecurrence)
}

// IsConflict reports whether err is a uniqueness or locking conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSeriesAlreadyMaterialized) || errors.Is(err, ErrSeriesLocked)
}

// IsRetryable reports whether the next scheduled tick may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrSeriesLocked)
}
