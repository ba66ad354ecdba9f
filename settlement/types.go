/*
Package settlement implements the payment settlement engine for the
construction-site expense system.

PURPOSE:
  This package contains the core financial logic: splitting a vendor
  payment across credit notes, outstanding deliveries and service
  bookings, deriving account balances from an append-only transaction
  ledger, and running the multi-record settlement as a saga with
  explicit compensation (the record store has no cross-record
  transactions).

KEY CONCEPTS IN THIS FILE (types.go):
  - Account / LedgerEntry: an account's balance is NEVER stored
    authoritatively; it is opening_balance + the sum of its ledger
    entries. CurrentBalance is only a refreshed cache.
  - CreditNote / CreditNoteUsage: a credit note's balance is derived as
    credit_amount minus the sum of its usage rows.
  - Payment / PaymentAllocation: one payment split across receivables.
  - Scope: site and role context carried on context.Context; every
    operation is scoped to exactly one site.

DESIGN PRINCIPLES:
  1. Derived balances: stored balance fields are caches, the ledger and
     the usage sub-ledger are the source of truth.
  2. Precision: decimal.Decimal for all money, never float64.
  3. Compensation over transactions: multi-record writes push undo
     actions and roll themselves back on failure.

SEE ALSO:
  - store.go: persistence interfaces for each record collection
  - settle.go: the settlement saga
  - validate.go: credit-note allocation ordering rules
*/
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SCOPE - Site and role context for every operation
// =============================================================================

// Scope identifies the site a request operates on and the role of the
// caller. It travels on context.Context so the engine can be called the
// same way from HTTP handlers and from tests.
type Scope struct {
	SiteID string
	Role   Role
}

type scopeKey struct{}

// WithScope returns a context carrying the given scope.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom extracts the scope. Returns ErrNoSiteSelected when no scope
// was attached or the site is empty: no core operation may run without
// a selected site.
func ScopeFrom(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	if !ok || s.SiteID == "" {
		return Scope{}, ErrNoSiteSelected
	}
	return s, nil
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Rupees builds a decimal amount from a float literal. Test and seed
// convenience only; production amounts arrive as decimal strings.
func Rupees(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// =============================================================================
// ACCOUNT + LEDGER
// =============================================================================

// Account holds funds used to pay vendors. OpeningBalance is immutable
// after creation. CurrentBalance is a cached projection refreshed after
// every ledger mutation; it must never be treated as authoritative.
type Account struct {
	ID             string
	SiteID         string
	Name           string
	Type           string // bank, cash, credit_card
	OpeningBalance decimal.Decimal
	CurrentBalance decimal.Decimal
	IsActive       bool
	CreatedAt      time.Time
}

type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

type EntryCategory string

const (
	CategoryPayment    EntryCategory = "payment"
	CategoryRefund     EntryCategory = "refund"
	CategoryAdjustment EntryCategory = "adjustment"
)

// LedgerEntry is an immutable credit or debit against an account, the
// sole source of truth for that account's balance. Entries are created
// exactly once per financial event and deleted only by the matching
// compensation or reverse flow (delete-by-payment / delete-by-refund).
type LedgerEntry struct {
	ID          string
	SiteID      string
	AccountID   string
	Type        EntryType
	Amount      decimal.Decimal // always > 0; Type carries the sign
	Date        time.Time
	Description string
	Reference   string
	Notes       string
	Category    EntryCategory

	// Links back to the financial event that produced the entry.
	VendorID  string
	PaymentID string
	RefundID  string

	CreatedAt time.Time
}

// Signed returns the entry's contribution to the account balance.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Type == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

type CreditNoteStatus string

const (
	CreditNoteActive    CreditNoteStatus = "active"
	CreditNoteFullyUsed CreditNoteStatus = "fully_used"
	CreditNoteExpired   CreditNoteStatus = "expired"
)

// CreditNote is a vendor-specific store of value granted from a return.
// CreditAmount is fixed at issue time. Balance is NOT stored: it is
// derived as CreditAmount minus the sum of usage rows, and the Balance
// field below is only populated by reads that computed it.
type CreditNote struct {
	ID           string
	SiteID       string
	VendorID     string
	CreditAmount decimal.Decimal
	IssueDate    time.Time
	Reference    string
	Reason       string
	Status       CreditNoteStatus

	// Balance is the derived remaining value, filled in by
	// CreditNoteService reads. Never persisted as truth.
	Balance decimal.Decimal

	CreatedAt time.Time
}

// CreditNoteUsage records one application of a credit note to a payment.
// Append-only; one row per (credit note, payment) pair, deleted only as
// compensation or when the payment itself is deleted.
type CreditNoteUsage struct {
	ID           string
	SiteID       string
	CreditNoteID string
	PaymentID    string
	VendorID     string
	UsedAmount   decimal.Decimal // always > 0
	UsedDate     time.Time
	Description  string
	CreatedAt    time.Time
}

// =============================================================================
// PAYMENTS
// =============================================================================

// Payment is a single vendor payment. Amount is the total value, fixed
// at creation. AccountID is empty when credit notes cover the full
// amount. AllocationIDs is patched after allocations are created so
// downstream reads can resolve them without a reverse lookup.
type Payment struct {
	ID            string
	SiteID        string
	VendorID      string
	AccountID     string
	Amount        decimal.Decimal
	PaymentDate   time.Time
	Reference     string
	Notes         string
	AllocationIDs []string
	CreatedAt     time.Time
}

// PaymentAllocation applies a portion of a payment to exactly one
// receivable: either a delivery or a service booking, never both.
type PaymentAllocation struct {
	ID              string
	SiteID          string
	PaymentID       string
	DeliveryID      string
	BookingID       string
	AllocatedAmount decimal.Decimal // always > 0
	CreatedAt       time.Time
}

// =============================================================================
// RECEIVABLES - deliveries and service bookings (read-mostly here)
// =============================================================================

// PaymentStatus of a receivable is always derived from its allocations,
// never trusted from a stored field.
type PaymentStatus string

const (
	StatusPending         PaymentStatus = "pending"
	StatusPartial         PaymentStatus = "partial"
	StatusPaid            PaymentStatus = "paid"
	StatusCurrentlyPaidUp PaymentStatus = "currently_paid_up"
)

type Delivery struct {
	ID           string
	SiteID       string
	VendorID     string
	TotalAmount  decimal.Decimal
	DeliveryDate time.Time
	Reference    string
	CreatedAt    time.Time
}

// ServiceBooking owes money proportionally to completion: the amount
// currently due is TotalAmount * PercentCompleted / 100.
type ServiceBooking struct {
	ID               string
	SiteID           string
	VendorID         string
	TotalAmount      decimal.Decimal
	PercentCompleted decimal.Decimal // 0..100
	CreatedAt        time.Time
}

// =============================================================================
// VENDORS + REFUNDS
// =============================================================================

type Vendor struct {
	ID            string
	SiteID        string
	Name          string
	ContactPerson string
	CreatedAt     time.Time
}

// VendorRefund is money coming back from a vendor into an account. The
// refund flow writes one credit ledger entry per refund.
type VendorRefund struct {
	ID           string
	SiteID       string
	VendorID     string
	AccountID    string
	RefundAmount decimal.Decimal
	RefundDate   time.Time
	Reference    string
	Notes        string
	CreatedAt    time.Time
}
