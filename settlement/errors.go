/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Sentinels are matched with errors.Is; structured errors carry the
  context a caller (or a confirmation UI) needs, and Unwrap to their
  sentinel.

ERROR CATEGORIES:
  1. Scope/permission errors - rejected before any read or write
  2. Hard validation errors  - priority-rule violations, abort pre-write
  3. Soft conditions         - BalanceChangedError, designed to be
                               retried by the caller with consent
  4. Not-found errors        - missing or out-of-scope records

SEE ALSO:
  - validate.go: raises the validation errors
  - settle.go: compensation never masks the original error
*/
package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoSiteSelected is returned when an operation runs without a
	// site scope. No core operation may proceed without one.
	ErrNoSiteSelected = errors.New("no site selected")

	// ErrPermissionDenied is returned when the caller's role lacks the
	// required capability. Surfaced before any mutation is attempted.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAccountNotFound is returned when an account does not exist or
	// belongs to a different site.
	ErrAccountNotFound = errors.New("account not found")

	// ErrPaymentNotFound is returned for a missing or out-of-scope payment.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrCreditNoteNotFound is returned for a missing or out-of-scope
	// credit note.
	ErrCreditNoteNotFound = errors.New("credit note not found")

	// ErrRefundNotFound is returned for a missing or out-of-scope refund.
	ErrRefundNotFound = errors.New("refund not found")

	// ErrInvalidAllocation is returned when the requested split cannot
	// add up: credit notes exceed the payment amount, or a nonpositive
	// allocation amount was supplied.
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrAccountRequired is returned when credit notes do not cover the
	// full payment amount and no account was supplied.
	ErrAccountRequired = errors.New("account selection is required when credit notes do not cover the full payment amount")

	// ErrInsufficientCredit is returned when a credit note is allocated
	// beyond its derived balance and adjustment was not applicable.
	ErrInsufficientCredit = errors.New("insufficient credit note balance")

	// ErrPriorityViolation is returned when credit-note ordering rules
	// are broken (oldest-first, exhaustion before account funds).
	ErrPriorityViolation = errors.New("credit note priority violation")

	// ErrBalanceChanged is the soft condition raised when a credit
	// note's fresh balance is lower than the requested allocation. The
	// caller may resubmit with AllowBalanceAdjustment to accept the
	// adjusted amounts.
	ErrBalanceChanged = errors.New("credit note balance changed")

	// ErrPaymentHasAllocations is returned when deleting a payment that
	// still has allocation rows. Callers must unallocate first.
	ErrPaymentHasAllocations = errors.New("cannot delete payment with existing allocations")

	// ErrNilDependency indicates a service was constructed without a
	// required collaborator. A programming error, not a runtime state.
	ErrNilDependency = errors.New("required dependency is nil")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BalanceChangedError reports that a credit note's balance moved between
// the caller's read and validation. It carries the adjusted allocation
// map so a confirmation UI can resubmit without recomputing.
type BalanceChangedError struct {
	CreditNoteID string
	Reference    string
	Requested    decimal.Decimal
	Available    decimal.Decimal

	// AdjustedAllocations is the full allocation map with the stale
	// amounts clamped to the fresh balances.
	AdjustedAllocations map[string]decimal.Decimal
}

func (e *BalanceChangedError) Error() string {
	return fmt.Sprintf("credit note %s balance changed: requested %s, available %s",
		e.Reference, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *BalanceChangedError) Unwrap() error { return ErrBalanceChanged }

// InsufficientCreditError reports an allocation above a note's derived
// balance, with enough detail for a human-readable message.
type InsufficientCreditError struct {
	CreditNoteID string
	Reference    string
	Requested    decimal.Decimal
	Available    decimal.Decimal
	Original     decimal.Decimal
	AlreadyUsed  decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf(
		"credit note %s is not available for this amount: requested %s, available %s (original %s, already used %s)",
		e.Reference, e.Requested.StringFixed(2), e.Available.StringFixed(2),
		e.Original.StringFixed(2), e.AlreadyUsed.StringFixed(2))
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// PriorityViolationError reports a hard ordering violation: partial use
// ahead of an older note, unexhausted notes mixed with account funds,
// or unused notes left behind while account funds are spent.
type PriorityViolationError struct {
	CreditNoteID string
	Reference    string
	Rule         string // "oldest_first", "full_use_before_account", "unused_notes_remain"
	Detail       string
}

func (e *PriorityViolationError) Error() string {
	return fmt.Sprintf("credit note priority violation: %s", e.Detail)
}

func (e *PriorityViolationError) Unwrap() error { return ErrPriorityViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRecoverable reports whether the caller can retry the operation with
// consent (the soft balance-changed condition). Everything else is
// either a hard validation failure or an infrastructure error.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrBalanceChanged)
}

// IsClientError reports whether the error is due to invalid client
// input rather than engine or storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAllocation) ||
		errors.Is(err, ErrAccountRequired) ||
		errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrPriorityViolation) ||
		errors.Is(err, ErrBalanceChanged) ||
		errors.Is(err, ErrPaymentHasAllocations)
}

// IsNotFound reports whether the error indicates a missing or
// out-of-scope record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrCreditNoteNotFound) ||
		errors.Is(err, ErrRefundNotFound)
}
