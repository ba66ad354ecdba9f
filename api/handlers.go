/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    GET    /api/accounts               List accounts with derived balances
    POST   /api/accounts               Create account
    GET    /api/accounts/{id}          Get account with derived balance
    GET    /api/accounts/{id}/entries  Ledger history
    POST   /api/accounts/{id}/refresh  Refresh the cached balance

  Vendors / credit notes:
    GET    /api/vendors                      List vendors
    POST   /api/vendors                      Create vendor
    GET    /api/vendors/{id}/credit-notes    Active notes with balances
    POST   /api/credit-notes                 Issue credit note
    GET    /api/credit-notes/{id}            Note with derived balance
    GET    /api/credit-notes/{id}/usages     Usage history

  Payments:
    POST   /api/payments                     Settle (the saga)
    GET    /api/payments                     List payments
    GET    /api/payments/{id}/allocations    Allocation rows
    PUT    /api/payments/{id}/allocations    Re-spread the remainder
    DELETE /api/payments/{id}                Reverse a payment

  Receivables:
    GET/POST /api/deliveries, /api/service-bookings (with derived status)

  Refunds:
    GET/POST /api/refunds, DELETE /api/refunds/{id}

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (settlement services)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, missing site scope
  - 403: Role lacks the capability
  - 404: Record not found or out of scope
  - 409: Credit note balance changed (carries adjusted allocations)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sitewise/expense-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       settlement.Store
	Accounts    *settlement.AccountService
	Notes       *settlement.CreditNoteService
	Payments    *settlement.PaymentService
	Refunds     *settlement.RefundService
	Receivables *settlement.ReceivableService
}

// NewHandler creates a new handler over the given store and services.
func NewHandler(
	store settlement.Store,
	accounts *settlement.AccountService,
	notes *settlement.CreditNoteService,
	payments *settlement.PaymentService,
	refunds *settlement.RefundService,
	receivables *settlement.ReceivableService,
) *Handler {
	return &Handler{
		Store:       store,
		Accounts:    accounts,
		Notes:       notes,
		Payments:    payments,
		Refunds:     refunds,
		Receivables: receivables,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts with ledger-derived balances.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accounts, err := h.Accounts.List(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]AccountDTO, 0, len(accounts))
	for _, a := range accounts {
		balance, err := h.Accounts.CalculateBalance(ctx, a.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dtos = append(dtos, toAccountDTO(&a, balance))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account with its derived balance.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.Accounts.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	balance, err := h.Accounts.CalculateBalance(ctx, a.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a, balance))
}

// CreateAccount creates a new account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	opening, err := parseAmount(req.OpeningBalance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opening_balance", err)
		return
	}
	if req.Type == "" {
		req.Type = "bank"
	}

	a, err := h.Store.CreateAccount(r.Context(), settlement.Account{
		SiteID:         scope.SiteID,
		Name:           req.Name,
		Type:           req.Type,
		OpeningBalance: opening,
		CurrentBalance: opening,
		IsActive:       true,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a, a.OpeningBalance))
}

// GetAccountEntries returns the account's ledger history.
func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Accounts.Entries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RefreshAccountBalance recomputes and stores the cached balance.
func (h *Handler) RefreshAccountBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.Accounts.RefreshBalance(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}
	a, err := h.Accounts.Get(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a, a.CurrentBalance))
}

// =============================================================================
// VENDOR HANDLERS
// =============================================================================

// ListVendors returns all vendors for the site.
func (h *Handler) ListVendors(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	vendors, err := h.Store.ListVendors(r.Context(), scope.SiteID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]VendorDTO, len(vendors))
	for i, v := range vendors {
		dtos[i] = toVendorDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetVendor returns a single vendor.
func (h *Handler) GetVendor(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	v, err := h.Store.GetVendor(r.Context(), scope.SiteID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "Vendor not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toVendorDTO(*v))
}

// CreateVendor creates a new vendor.
func (h *Handler) CreateVendor(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateVendorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	v, err := h.Store.CreateVendor(r.Context(), settlement.Vendor{
		SiteID:        scope.SiteID,
		Name:          req.Name,
		ContactPerson: req.ContactPerson,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVendorDTO(*v))
}

// ListVendorCreditNotes returns the vendor's active notes with their
// derived balances, oldest first.
func (h *Handler) ListVendorCreditNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.Notes.ActiveByVendor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]CreditNoteDTO, len(notes))
	for i, n := range notes {
		dtos[i] = toCreditNoteDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CREDIT NOTE HANDLERS
// =============================================================================

// CreateCreditNote issues a new credit note for a vendor.
func (h *Handler) CreateCreditNote(w http.ResponseWriter, r *http.Request) {
	var req CreateCreditNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.VendorID == "" {
		writeError(w, http.StatusBadRequest, "vendor_id is required", nil)
		return
	}
	amount, err := parseAmount(req.CreditAmount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "credit_amount must be a positive decimal", err)
		return
	}
	issueDate, err := parseDate(req.IssueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid issue_date", err)
		return
	}

	n, err := h.Notes.Create(r.Context(), settlement.CreditNote{
		VendorID:     req.VendorID,
		CreditAmount: amount,
		IssueDate:    issueDate,
		Reference:    req.Reference,
		Reason:       req.Reason,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditNoteDTO(*n))
}

// GetCreditNote returns a note with its derived balance.
func (h *Handler) GetCreditNote(w http.ResponseWriter, r *http.Request) {
	n, err := h.Notes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditNoteDTO(*n))
}

// GetCreditNoteUsages returns the note's usage history.
func (h *Handler) GetCreditNoteUsages(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	usages, err := h.Store.UsagesByCreditNote(r.Context(), scope.SiteID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]CreditNoteUsageDTO, len(usages))
	for i, u := range usages {
		dtos[i] = toUsageDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// Settle creates a payment and all its dependent records. 409 with the
// adjusted allocations means the client should confirm and resubmit
// with allow_balance_adjustment.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}
	paymentDate, err := parseDate(req.PaymentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment_date", err)
		return
	}
	creditAllocs, err := parseAllocations(req.CreditNoteAllocations)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid credit_note_allocations", err)
		return
	}
	deliveryAllocs, err := parseAllocations(req.DeliveryAllocations)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery_allocations", err)
		return
	}
	bookingAllocs, err := parseAllocations(req.ServiceBookingAllocations)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid service_booking_allocations", err)
		return
	}

	payment, err := h.Payments.Settle(r.Context(), settlement.SettlementRequest{
		VendorID:                  req.VendorID,
		AccountID:                 req.AccountID,
		Amount:                    amount,
		PaymentDate:               paymentDate,
		Reference:                 req.Reference,
		Notes:                     req.Notes,
		CreditNoteAllocations:     creditAllocs,
		DeliveryAllocations:       deliveryAllocs,
		ServiceBookingAllocations: bookingAllocs,
		AllowBalanceAdjustment:    req.AllowBalanceAdjustment,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*payment))
}

// ListPayments returns all payments for the site, newest first.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Payments.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPayment returns a single payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// GetPaymentAllocations returns the payment's allocation rows.
func (h *Handler) GetPaymentAllocations(w http.ResponseWriter, r *http.Request) {
	allocations, err := h.Payments.Allocations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]AllocationDTO, len(allocations))
	for i, a := range allocations {
		dtos[i] = toAllocationDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdatePaymentAllocations spreads the payment's unallocated remainder
// across the supplied receivables in order.
func (h *Handler) UpdatePaymentAllocations(w http.ResponseWriter, r *http.Request) {
	var req UpdateAllocationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Payments.UpdateAllocations(r.Context(), chi.URLParam(r, "id"),
		req.DeliveryIDs, req.ServiceBookingIDs); err != nil {
		writeDomainError(w, err)
		return
	}

	allocations, err := h.Payments.Allocations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AllocationDTO, len(allocations))
	for i, a := range allocations {
		dtos[i] = toAllocationDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeletePayment reverses a payment: usage rows, ledger entries, then
// the payment record. Payments with allocations are rejected.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Payments.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECEIVABLE HANDLERS
// =============================================================================

// ListDeliveries returns deliveries with derived paid/outstanding state.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	deliveries, err := h.Store.ListDeliveries(r.Context(), scope.SiteID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]DeliveryDTO, 0, len(deliveries))
	for i := range deliveries {
		dto, err := h.toDeliveryDTO(r, &deliveries[i])
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDelivery returns one delivery with derived state.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	d, err := h.Store.GetDelivery(r.Context(), scope.SiteID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "Delivery not found", nil)
		return
	}
	dto, err := h.toDeliveryDTO(r, d)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateDelivery records a delivery receivable.
func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	total, err := parseAmount(req.TotalAmount)
	if err != nil || !total.IsPositive() {
		writeError(w, http.StatusBadRequest, "total_amount must be a positive decimal", err)
		return
	}
	deliveryDate, err := parseDate(req.DeliveryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery_date", err)
		return
	}

	d, err := h.Store.CreateDelivery(r.Context(), settlement.Delivery{
		SiteID:       scope.SiteID,
		VendorID:     req.VendorID,
		TotalAmount:  total,
		DeliveryDate: deliveryDate,
		Reference:    req.Reference,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto, err := h.toDeliveryDTO(r, d)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// ListServiceBookings returns bookings with progress-based due amounts.
func (h *Handler) ListServiceBookings(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	bookings, err := h.Store.ListServiceBookings(r.Context(), scope.SiteID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ServiceBookingDTO, 0, len(bookings))
	for i := range bookings {
		dto, err := h.toBookingDTO(r, &bookings[i])
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetServiceBooking returns one booking with derived state.
func (h *Handler) GetServiceBooking(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	b, err := h.Store.GetServiceBooking(r.Context(), scope.SiteID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "Service booking not found", nil)
		return
	}
	dto, err := h.toBookingDTO(r, b)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateServiceBooking records a service booking receivable.
func (h *Handler) CreateServiceBooking(w http.ResponseWriter, r *http.Request) {
	scope, err := settlement.ScopeFrom(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateServiceBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	total, err := parseAmount(req.TotalAmount)
	if err != nil || !total.IsPositive() {
		writeError(w, http.StatusBadRequest, "total_amount must be a positive decimal", err)
		return
	}
	percent := decimal.Zero
	if req.PercentCompleted != "" {
		percent, err = parseAmount(req.PercentCompleted)
		if err != nil || percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
			writeError(w, http.StatusBadRequest, "percent_completed must be between 0 and 100", err)
			return
		}
	}

	b, err := h.Store.CreateServiceBooking(r.Context(), settlement.ServiceBooking{
		SiteID:           scope.SiteID,
		VendorID:         req.VendorID,
		TotalAmount:      total,
		PercentCompleted: percent,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto, err := h.toBookingDTO(r, b)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// =============================================================================
// REFUND HANDLERS
// =============================================================================

// ListRefunds returns all vendor refunds for the site.
func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := h.Refunds.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]RefundDTO, len(refunds))
	for i, rf := range refunds {
		dtos[i] = toRefundDTO(rf)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRefund records money coming back from a vendor.
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req CreateRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.RefundAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid refund_amount", err)
		return
	}
	refundDate, err := parseDate(req.RefundDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid refund_date", err)
		return
	}

	rf, err := h.Refunds.Create(r.Context(), settlement.RefundRequest{
		VendorID:     req.VendorID,
		AccountID:    req.AccountID,
		RefundAmount: amount,
		RefundDate:   refundDate,
		Reference:    req.Reference,
		Notes:        req.Notes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRefundDTO(*rf))
}

// DeleteRefund reverses a refund and its ledger entry.
func (h *Handler) DeleteRefund(w http.ResponseWriter, r *http.Request) {
	if err := h.Refunds.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DTO MAPPING
// =============================================================================

func toAccountDTO(a *settlement.Account, balance decimal.Decimal) AccountDTO {
	return AccountDTO{
		ID:             a.ID,
		Name:           a.Name,
		Type:           a.Type,
		OpeningBalance: a.OpeningBalance.StringFixed(2),
		Balance:        balance.StringFixed(2),
		CachedBalance:  a.CurrentBalance.StringFixed(2),
		IsActive:       a.IsActive,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e settlement.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:          e.ID,
		AccountID:   e.AccountID,
		Type:        string(e.Type),
		Amount:      e.Amount.StringFixed(2),
		Date:        e.Date.Format("2006-01-02"),
		Description: e.Description,
		Reference:   e.Reference,
		Category:    string(e.Category),
		VendorID:    e.VendorID,
		PaymentID:   e.PaymentID,
		RefundID:    e.RefundID,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

func toVendorDTO(v settlement.Vendor) VendorDTO {
	return VendorDTO{
		ID:            v.ID,
		Name:          v.Name,
		ContactPerson: v.ContactPerson,
		CreatedAt:     v.CreatedAt.Format(time.RFC3339),
	}
}

func toCreditNoteDTO(n settlement.CreditNote) CreditNoteDTO {
	return CreditNoteDTO{
		ID:           n.ID,
		VendorID:     n.VendorID,
		CreditAmount: n.CreditAmount.StringFixed(2),
		Balance:      n.Balance.StringFixed(2),
		IssueDate:    n.IssueDate.Format("2006-01-02"),
		Reference:    n.Reference,
		Reason:       n.Reason,
		Status:       string(n.Status),
		CreatedAt:    n.CreatedAt.Format(time.RFC3339),
	}
}

func toUsageDTO(u settlement.CreditNoteUsage) CreditNoteUsageDTO {
	return CreditNoteUsageDTO{
		ID:           u.ID,
		CreditNoteID: u.CreditNoteID,
		PaymentID:    u.PaymentID,
		UsedAmount:   u.UsedAmount.StringFixed(2),
		UsedDate:     u.UsedDate.Format("2006-01-02"),
		Description:  u.Description,
	}
}

func toPaymentDTO(p settlement.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            p.ID,
		VendorID:      p.VendorID,
		AccountID:     p.AccountID,
		Amount:        p.Amount.StringFixed(2),
		PaymentDate:   p.PaymentDate.Format("2006-01-02"),
		Reference:     p.Reference,
		Notes:         p.Notes,
		AllocationIDs: p.AllocationIDs,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
}

func toAllocationDTO(a settlement.PaymentAllocation) AllocationDTO {
	return AllocationDTO{
		ID:              a.ID,
		PaymentID:       a.PaymentID,
		DeliveryID:      a.DeliveryID,
		BookingID:       a.BookingID,
		AllocatedAmount: a.AllocatedAmount.StringFixed(2),
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
	}
}

func toRefundDTO(r settlement.VendorRefund) RefundDTO {
	return RefundDTO{
		ID:           r.ID,
		VendorID:     r.VendorID,
		AccountID:    r.AccountID,
		RefundAmount: r.RefundAmount.StringFixed(2),
		RefundDate:   r.RefundDate.Format("2006-01-02"),
		Reference:    r.Reference,
		Notes:        r.Notes,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) toDeliveryDTO(r *http.Request, d *settlement.Delivery) (DeliveryDTO, error) {
	ctx := r.Context()
	paid, err := h.Receivables.DeliveryPaidAmount(ctx, d.ID)
	if err != nil {
		return DeliveryDTO{}, err
	}
	outstanding, err := h.Receivables.DeliveryOutstanding(ctx, d)
	if err != nil {
		return DeliveryDTO{}, err
	}
	status, err := h.Receivables.DeliveryStatus(ctx, d)
	if err != nil {
		return DeliveryDTO{}, err
	}
	return DeliveryDTO{
		ID:           d.ID,
		VendorID:     d.VendorID,
		TotalAmount:  d.TotalAmount.StringFixed(2),
		PaidAmount:   paid.StringFixed(2),
		Outstanding:  outstanding.StringFixed(2),
		Status:       string(status),
		DeliveryDate: d.DeliveryDate.Format("2006-01-02"),
		Reference:    d.Reference,
	}, nil
}

func (h *Handler) toBookingDTO(r *http.Request, b *settlement.ServiceBooking) (ServiceBookingDTO, error) {
	ctx := r.Context()
	paid, err := h.Receivables.BookingPaidAmount(ctx, b.ID)
	if err != nil {
		return ServiceBookingDTO{}, err
	}
	outstanding, err := h.Receivables.BookingOutstanding(ctx, b)
	if err != nil {
		return ServiceBookingDTO{}, err
	}
	status, err := h.Receivables.BookingStatus(ctx, b)
	if err != nil {
		return ServiceBookingDTO{}, err
	}
	return ServiceBookingDTO{
		ID:               b.ID,
		VendorID:         b.VendorID,
		TotalAmount:      b.TotalAmount.StringFixed(2),
		PercentCompleted: b.PercentCompleted.StringFixed(0),
		AmountDue:        settlement.ProgressBasedAmount(b).StringFixed(2),
		PaidAmount:       paid.StringFixed(2),
		Outstanding:      outstanding.StringFixed(2),
		Status:           string(status),
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// parseDate accepts YYYY-MM-DD or RFC3339; empty means today.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseAllocations(in map[string]string) (map[string]decimal.Decimal, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]decimal.Decimal, len(in))
	for id, raw := range in {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		out[id] = amount
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps settlement errors onto HTTP statuses. The
// balance-changed condition gets its own 409 payload so clients can
// confirm the adjusted allocations.
func writeDomainError(w http.ResponseWriter, err error) {
	var bc *settlement.BalanceChangedError
	if errors.As(err, &bc) {
		adjusted := make(map[string]string, len(bc.AdjustedAllocations))
		for id, amount := range bc.AdjustedAllocations {
			adjusted[id] = amount.StringFixed(2)
		}
		writeJSON(w, http.StatusConflict, BalanceChangedDTO{
			Error:               bc.Error(),
			CreditNoteID:        bc.CreditNoteID,
			Reference:           bc.Reference,
			Requested:           bc.Requested.StringFixed(2),
			Available:           bc.Available.StringFixed(2),
			AdjustedAllocations: adjusted,
		})
		return
	}

	switch {
	case errors.Is(err, settlement.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "Permission denied", err)
	case settlement.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, settlement.ErrNoSiteSelected) || settlement.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Request rejected", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
