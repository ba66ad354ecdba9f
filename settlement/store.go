/*
store.go - Persistence interfaces for the record collections

PURPOSE:
  Defines the boundary between the settlement engine and the record
  store. The backend is a generic collection store: create, list by
  filter, delete by id. There are NO multi-record transactions; the
  engine compensates for partial failures itself (see settle.go).

SCOPING:
  Every query takes an explicit siteID and must only see that site's
  records. Get methods return (nil, nil) for records that do not exist
  or belong to another site; services translate that into the NotFound
  sentinels.

DELETION:
  Ledger entries, usage rows and allocation rows support delete-by-id
  ONLY for compensation and the symmetric reverse flows. There is no
  update of financial rows; corrections happen by deleting the rows a
  failed or reversed event created.

IMPLEMENTATIONS:
  - store/sqlite: durable store
  - store/memory: in-memory store for tests

SEE ALSO:
  - settle.go: the only writer of payments and their dependent rows
*/
package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PER-COLLECTION STORES
// =============================================================================

type AccountStore interface {
	CreateAccount(ctx context.Context, a Account) (*Account, error)
	GetAccount(ctx context.Context, siteID, id string) (*Account, error)
	ListAccounts(ctx context.Context, siteID string) ([]Account, error)

	// SetCurrentBalance refreshes the cached balance projection. The
	// cache is the only mutable field on an account.
	SetCurrentBalance(ctx context.Context, siteID, id string, balance decimal.Decimal) error
}

type LedgerStore interface {
	AppendEntry(ctx context.Context, e LedgerEntry) (*LedgerEntry, error)
	EntriesByAccount(ctx context.Context, siteID, accountID string) ([]LedgerEntry, error)
	EntriesByPayment(ctx context.Context, siteID, paymentID string) ([]LedgerEntry, error)
	EntriesByRefund(ctx context.Context, siteID, refundID string) ([]LedgerEntry, error)
	DeleteEntry(ctx context.Context, siteID, id string) error
}

type CreditNoteStore interface {
	CreateCreditNote(ctx context.Context, n CreditNote) (*CreditNote, error)
	GetCreditNote(ctx context.Context, siteID, id string) (*CreditNote, error)

	// CreditNotesByVendor lists a vendor's notes. An empty status lists
	// all of them.
	CreditNotesByVendor(ctx context.Context, siteID, vendorID string, status CreditNoteStatus) ([]CreditNote, error)
	SetCreditNoteStatus(ctx context.Context, siteID, id string, status CreditNoteStatus) error
}

type UsageStore interface {
	CreateUsage(ctx context.Context, u CreditNoteUsage) (*CreditNoteUsage, error)
	UsagesByCreditNote(ctx context.Context, siteID, creditNoteID string) ([]CreditNoteUsage, error)
	UsagesByPayment(ctx context.Context, siteID, paymentID string) ([]CreditNoteUsage, error)
	DeleteUsage(ctx context.Context, siteID, id string) error
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p Payment) (*Payment, error)
	GetPayment(ctx context.Context, siteID, id string) (*Payment, error)
	ListPayments(ctx context.Context, siteID string) ([]Payment, error)

	// SetPaymentAllocationIDs patches the payment's allocation-id list
	// after allocations are created, so reads can resolve them without
	// a reverse lookup.
	SetPaymentAllocationIDs(ctx context.Context, siteID, id string, allocationIDs []string) error
	DeletePayment(ctx context.Context, siteID, id string) error
}

type AllocationStore interface {
	CreateAllocation(ctx context.Context, a PaymentAllocation) (*PaymentAllocation, error)
	AllocationsByPayment(ctx context.Context, siteID, paymentID string) ([]PaymentAllocation, error)
	AllocationsByDelivery(ctx context.Context, siteID, deliveryID string) ([]PaymentAllocation, error)
	AllocationsByBooking(ctx context.Context, siteID, bookingID string) ([]PaymentAllocation, error)
	DeleteAllocation(ctx context.Context, siteID, id string) error
}

type ReceivableStore interface {
	CreateDelivery(ctx context.Context, d Delivery) (*Delivery, error)
	GetDelivery(ctx context.Context, siteID, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, siteID string) ([]Delivery, error)

	CreateServiceBooking(ctx context.Context, b ServiceBooking) (*ServiceBooking, error)
	GetServiceBooking(ctx context.Context, siteID, id string) (*ServiceBooking, error)
	ListServiceBookings(ctx context.Context, siteID string) ([]ServiceBooking, error)
}

type VendorStore interface {
	CreateVendor(ctx context.Context, v Vendor) (*Vendor, error)
	GetVendor(ctx context.Context, siteID, id string) (*Vendor, error)
	ListVendors(ctx context.Context, siteID string) ([]Vendor, error)
}

type RefundStore interface {
	CreateRefund(ctx context.Context, r VendorRefund) (*VendorRefund, error)
	GetRefund(ctx context.Context, siteID, id string) (*VendorRefund, error)
	ListRefunds(ctx context.Context, siteID string) ([]VendorRefund, error)
	DeleteRefund(ctx context.Context, siteID, id string) error
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is the full record-store surface the engine consumes. Concrete
// backends implement all of it; tests may wrap it to inject failures.
type Store interface {
	AccountStore
	LedgerStore
	CreditNoteStore
	UsageStore
	PaymentStore
	AllocationStore
	ReceivableStore
	VendorStore
	RefundStore
}
