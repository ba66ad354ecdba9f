/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  All monetary fields cross the wire as decimal strings ("1234.50").
  They are parsed with shopspring/decimal in the handlers; float64 never
  touches an amount.

VALIDATION:
  Validation is done in handlers and in the settlement services, not in
  DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - settlement/types.go: The domain records these map to
*/
package api

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses. Balance is the
// ledger-derived value computed at read time; CachedBalance is the
// stored projection and may lag.
type AccountDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	OpeningBalance string `json:"opening_balance"`
	Balance        string `json:"balance"`
	CachedBalance  string `json:"cached_balance"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	OpeningBalance string `json:"opening_balance"`
}

// LedgerEntryDTO represents one ledger entry in API responses.
type LedgerEntryDTO struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Description string `json:"description,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Category    string `json:"category"`
	VendorID    string `json:"vendor_id,omitempty"`
	PaymentID   string `json:"payment_id,omitempty"`
	RefundID    string `json:"refund_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// =============================================================================
// VENDORS + CREDIT NOTES
// =============================================================================

// VendorDTO represents a vendor in API responses.
type VendorDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContactPerson string `json:"contact_person,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// CreateVendorRequest is the request to create a vendor.
type CreateVendorRequest struct {
	Name          string `json:"name"`
	ContactPerson string `json:"contact_person"`
}

// CreditNoteDTO represents a credit note with its derived balance.
type CreditNoteDTO struct {
	ID           string `json:"id"`
	VendorID     string `json:"vendor_id"`
	CreditAmount string `json:"credit_amount"`
	Balance      string `json:"balance"`
	IssueDate    string `json:"issue_date"`
	Reference    string `json:"reference,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// CreateCreditNoteRequest is the request to issue a credit note.
type CreateCreditNoteRequest struct {
	VendorID     string `json:"vendor_id"`
	CreditAmount string `json:"credit_amount"`
	IssueDate    string `json:"issue_date"`
	Reference    string `json:"reference"`
	Reason       string `json:"reason"`
}

// CreditNoteUsageDTO represents one application of a note to a payment.
type CreditNoteUsageDTO struct {
	ID           string `json:"id"`
	CreditNoteID string `json:"credit_note_id"`
	PaymentID    string `json:"payment_id"`
	UsedAmount   string `json:"used_amount"`
	UsedDate     string `json:"used_date"`
	Description  string `json:"description,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SettleRequest is the request body for creating a payment. Allocation
// maps are keyed by record id with decimal-string amounts.
type SettleRequest struct {
	VendorID    string `json:"vendor_id"`
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	PaymentDate string `json:"payment_date"`
	Reference   string `json:"reference"`
	Notes       string `json:"notes"`

	CreditNoteAllocations     map[string]string `json:"credit_note_allocations"`
	DeliveryAllocations       map[string]string `json:"delivery_allocations"`
	ServiceBookingAllocations map[string]string `json:"service_booking_allocations"`

	AllowBalanceAdjustment bool `json:"allow_balance_adjustment"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID            string   `json:"id"`
	VendorID      string   `json:"vendor_id"`
	AccountID     string   `json:"account_id,omitempty"`
	Amount        string   `json:"amount"`
	PaymentDate   string   `json:"payment_date"`
	Reference     string   `json:"reference,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	AllocationIDs []string `json:"allocation_ids,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
}

// AllocationDTO represents one payment allocation.
type AllocationDTO struct {
	ID              string `json:"id"`
	PaymentID       string `json:"payment_id"`
	DeliveryID      string `json:"delivery_id,omitempty"`
	BookingID       string `json:"booking_id,omitempty"`
	AllocatedAmount string `json:"allocated_amount"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// UpdateAllocationsRequest re-spreads a payment's unallocated remainder
// across the given receivables, in order.
type UpdateAllocationsRequest struct {
	DeliveryIDs       []string `json:"delivery_ids"`
	ServiceBookingIDs []string `json:"service_booking_ids"`
}

// BalanceChangedDTO is the 409 payload returned when credit note
// balances moved between preview and submit. AdjustedAllocations is the
// clamped allocation map the client may resubmit with
// allow_balance_adjustment set.
type BalanceChangedDTO struct {
	Error               string            `json:"error"`
	CreditNoteID        string            `json:"credit_note_id"`
	Reference           string            `json:"reference,omitempty"`
	Requested           string            `json:"requested"`
	Available           string            `json:"available"`
	AdjustedAllocations map[string]string `json:"adjusted_allocations"`
}

// =============================================================================
// RECEIVABLES
// =============================================================================

// DeliveryDTO includes the derived paid/outstanding amounts and status.
type DeliveryDTO struct {
	ID           string `json:"id"`
	VendorID     string `json:"vendor_id"`
	TotalAmount  string `json:"total_amount"`
	PaidAmount   string `json:"paid_amount"`
	Outstanding  string `json:"outstanding"`
	Status       string `json:"status"`
	DeliveryDate string `json:"delivery_date"`
	Reference    string `json:"reference,omitempty"`
}

// CreateDeliveryRequest is the request to record a delivery.
type CreateDeliveryRequest struct {
	VendorID     string `json:"vendor_id"`
	TotalAmount  string `json:"total_amount"`
	DeliveryDate string `json:"delivery_date"`
	Reference    string `json:"reference"`
}

// ServiceBookingDTO includes the progress-based due amount and status.
type ServiceBookingDTO struct {
	ID               string `json:"id"`
	VendorID         string `json:"vendor_id"`
	TotalAmount      string `json:"total_amount"`
	PercentCompleted string `json:"percent_completed"`
	AmountDue        string `json:"amount_due"`
	PaidAmount       string `json:"paid_amount"`
	Outstanding      string `json:"outstanding"`
	Status           string `json:"status"`
}

// CreateServiceBookingRequest is the request to record a booking.
type CreateServiceBookingRequest struct {
	VendorID         string `json:"vendor_id"`
	TotalAmount      string `json:"total_amount"`
	PercentCompleted string `json:"percent_completed"`
}

// =============================================================================
// REFUNDS
// =============================================================================

// RefundDTO represents a vendor refund in API responses.
type RefundDTO struct {
	ID           string `json:"id"`
	VendorID     string `json:"vendor_id"`
	AccountID    string `json:"account_id"`
	RefundAmount string `json:"refund_amount"`
	RefundDate   string `json:"refund_date"`
	Reference    string `json:"reference,omitempty"`
	Notes        string `json:"notes,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// CreateRefundRequest is the request to record a vendor refund.
type CreateRefundRequest struct {
	VendorID     string `json:"vendor_id"`
	AccountID    string `json:"account_id"`
	RefundAmount string `json:"refund_amount"`
	RefundDate   string `json:"refund_date"`
	Reference    string `json:"reference"`
	Notes        string `json:"notes"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
