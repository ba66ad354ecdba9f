/*
handlers_test.go - HTTP-level tests for the settlement API

Tests run against the real router over the in-memory store, exercising
the full request path: scope middleware, handlers, domain services and
the error-to-status mapping.
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewise/expense-engine/settlement"
	"github.com/sitewise/expense-engine/store/memory"
)

const testSite = "site-1"

type testAPI struct {
	store  settlement.Store
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.New()
	log := logrus.New()
	log.SetOutput(io.Discard)

	accounts, err := settlement.NewAccountService(store)
	require.NoError(t, err)
	notes, err := settlement.NewCreditNoteService(store, log)
	require.NoError(t, err)
	validator, err := settlement.NewAllocationValidator(store, notes)
	require.NoError(t, err)
	receivables, err := settlement.NewReceivableService(store)
	require.NoError(t, err)
	payments, err := settlement.NewPaymentService(store, validator, notes, accounts, receivables, log)
	require.NoError(t, err)
	refunds, err := settlement.NewRefundService(store, accounts, log)
	require.NoError(t, err)

	h := NewHandler(store, accounts, notes, payments, refunds, receivables)
	return &testAPI{store: store, router: NewRouter(h, nil)}
}

// request performs a request with the site scope headers set. An empty
// role sends the owner header; the middleware treats a missing role
// header as read-only.
func (a *testAPI) request(t *testing.T, method, path string, body any, role string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	if role == "" {
		role = string(settlement.RoleOwner)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Site-ID", testSite)
	req.Header.Set("X-User-Role", role)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func (a *testAPI) seedVendor(t *testing.T, name string) string {
	t.Helper()
	rec := a.request(t, http.MethodPost, "/api/vendors", CreateVendorRequest{Name: name}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var dto VendorDTO
	decodeInto(t, rec, &dto)
	return dto.ID
}

func (a *testAPI) seedAccount(t *testing.T, name, opening string) string {
	t.Helper()
	rec := a.request(t, http.MethodPost, "/api/accounts", CreateAccountRequest{
		Name:           name,
		OpeningBalance: opening,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var dto AccountDTO
	decodeInto(t, rec, &dto)
	return dto.ID
}

func (a *testAPI) seedNote(t *testing.T, vendorID, amount, issued string) string {
	t.Helper()
	rec := a.request(t, http.MethodPost, "/api/credit-notes", CreateCreditNoteRequest{
		VendorID:     vendorID,
		CreditAmount: amount,
		IssueDate:    issued,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var dto CreditNoteDTO
	decodeInto(t, rec, &dto)
	return dto.ID
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestAPI_SettleWithCreditNote(t *testing.T) {
	// GIVEN: A vendor with a 400 credit note and a 5000 account
	// WHEN: Settling a 1000 payment split 400 note / 600 account
	// THEN: 201, and the account balance drops to 4400

	a := newTestAPI(t)
	vendorID := a.seedVendor(t, "Sharma Steel")
	accountID := a.seedAccount(t, "Site Bank", "5000")
	noteID := a.seedNote(t, vendorID, "400", "2025-01-05")

	rec := a.request(t, http.MethodPost, "/api/payments", SettleRequest{
		VendorID:    vendorID,
		AccountID:   accountID,
		Amount:      "1000",
		PaymentDate: "2025-02-01",
		CreditNoteAllocations: map[string]string{
			noteID: "400",
		},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var payment PaymentDTO
	decodeInto(t, rec, &payment)
	assert.Equal(t, "1000.00", payment.Amount)
	assert.Equal(t, vendorID, payment.VendorID)

	// Note is drained.
	rec = a.request(t, http.MethodGet, "/api/credit-notes/"+noteID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var note CreditNoteDTO
	decodeInto(t, rec, &note)
	assert.Equal(t, "0.00", note.Balance)
	assert.Equal(t, string(settlement.CreditNoteFullyUsed), note.Status)

	// Account balance derived from the ledger.
	rec = a.request(t, http.MethodGet, "/api/accounts/"+accountID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var account AccountDTO
	decodeInto(t, rec, &account)
	assert.Equal(t, "4400.00", account.Balance)
}

func TestAPI_SettleBalanceChangedReturns409(t *testing.T) {
	// GIVEN: A credit note partially used since the client last read it
	// WHEN: Settling with the stale allocation
	// THEN: 409 with the clamped adjusted allocations, resubmit succeeds

	a := newTestAPI(t)
	vendorID := a.seedVendor(t, "Verma Cement")
	accountID := a.seedAccount(t, "Site Bank", "5000")
	noteID := a.seedNote(t, vendorID, "500", "2025-01-05")

	// First settlement consumes 300 of the note.
	rec := a.request(t, http.MethodPost, "/api/payments", SettleRequest{
		VendorID:    vendorID,
		Amount:      "300",
		PaymentDate: "2025-02-01",
		CreditNoteAllocations: map[string]string{
			noteID: "300",
		},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Stale request still asking for 500.
	stale := SettleRequest{
		VendorID:    vendorID,
		AccountID:   accountID,
		Amount:      "500",
		PaymentDate: "2025-02-02",
		CreditNoteAllocations: map[string]string{
			noteID: "500",
		},
	}
	rec = a.request(t, http.MethodPost, "/api/payments", stale, "")
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var conflict BalanceChangedDTO
	decodeInto(t, rec, &conflict)
	assert.Equal(t, noteID, conflict.CreditNoteID)
	assert.Equal(t, "500.00", conflict.Requested)
	assert.Equal(t, "200.00", conflict.Available)
	assert.Equal(t, "200.00", conflict.AdjustedAllocations[noteID])

	// Resubmit with the adjusted allocations accepted.
	stale.CreditNoteAllocations = conflict.AdjustedAllocations
	stale.AllowBalanceAdjustment = true
	rec = a.request(t, http.MethodPost, "/api/payments", stale, "")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAPI_SettleWithoutSiteHeaderFails(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/payments",
		bytes.NewReader([]byte(`{"vendor_id":"v-1","amount":"100"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_AccountantGets403OnWrites(t *testing.T) {
	a := newTestAPI(t)
	vendorID := a.seedVendor(t, "Sharma Steel")
	accountID := a.seedAccount(t, "Site Bank", "5000")

	rec := a.request(t, http.MethodPost, "/api/payments", SettleRequest{
		VendorID:    vendorID,
		AccountID:   accountID,
		Amount:      "100",
		PaymentDate: "2025-02-01",
	}, string(settlement.RoleAccountant))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_MissingRoleHeaderIsReadOnly(t *testing.T) {
	// GIVEN: A request carrying a site but no role header
	// WHEN: Attempting a write
	// THEN: 403, the default role cannot create

	a := newTestAPI(t)
	vendorID := a.seedVendor(t, "Sharma Steel")
	accountID := a.seedAccount(t, "Site Bank", "5000")

	raw, err := json.Marshal(SettleRequest{
		VendorID:    vendorID,
		AccountID:   accountID,
		Amount:      "100",
		PaymentDate: "2025-02-01",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Site-ID", testSite)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Reads still work without the header.
	req = httptest.NewRequest(http.MethodGet, "/api/payments", nil)
	req.Header.Set("X-Site-ID", testSite)
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_GetMissingPaymentReturns404(t *testing.T) {
	a := newTestAPI(t)
	rec := a.request(t, http.MethodGet, "/api/payments/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_DeletePaymentWithAllocationsRejected(t *testing.T) {
	// GIVEN: A payment allocated to a delivery
	// WHEN: Deleting it
	// THEN: 400, and the payment survives

	a := newTestAPI(t)
	vendorID := a.seedVendor(t, "Gupta Traders")
	accountID := a.seedAccount(t, "Site Bank", "5000")

	rec := a.request(t, http.MethodPost, "/api/deliveries", CreateDeliveryRequest{
		VendorID:     vendorID,
		TotalAmount:  "600",
		DeliveryDate: "2025-01-10",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var delivery DeliveryDTO
	decodeInto(t, rec, &delivery)

	rec = a.request(t, http.MethodPost, "/api/payments", SettleRequest{
		VendorID:    vendorID,
		AccountID:   accountID,
		Amount:      "600",
		PaymentDate: "2025-02-01",
		DeliveryAllocations: map[string]string{
			delivery.ID: "600",
		},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var payment PaymentDTO
	decodeInto(t, rec, &payment)

	rec = a.request(t, http.MethodDelete, "/api/payments/"+payment.ID, nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.request(t, http.MethodGet, "/api/payments/"+payment.ID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// RECEIVABLES
// =============================================================================

func TestAPI_DeliveryCarriesDerivedStatus(t *testing.T) {
	// GIVEN: A 1000 delivery with a 400 payment allocated
	// WHEN: Reading it back
	// THEN: paid 400, outstanding 600, status partially_paid

	a := newTestAPI(t)
	vendorID := a.seedVendor(t, "Gupta Traders")
	accountID := a.seedAccount(t, "Site Bank", "5000")

	rec := a.request(t, http.MethodPost, "/api/deliveries", CreateDeliveryRequest{
		VendorID:     vendorID,
		TotalAmount:  "1000",
		DeliveryDate: "2025-01-10",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var delivery DeliveryDTO
	decodeInto(t, rec, &delivery)
	assert.Equal(t, string(settlement.StatusPending), delivery.Status)

	rec = a.request(t, http.MethodPost, "/api/payments", SettleRequest{
		VendorID:    vendorID,
		AccountID:   accountID,
		Amount:      "400",
		PaymentDate: "2025-02-01",
		DeliveryAllocations: map[string]string{
			delivery.ID: "400",
		},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.request(t, http.MethodGet, "/api/deliveries/"+delivery.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &delivery)
	assert.Equal(t, "400.00", delivery.PaidAmount)
	assert.Equal(t, "600.00", delivery.Outstanding)
	assert.Equal(t, string(settlement.StatusPartial), delivery.Status)
}

func TestAPI_ServiceBookingCurrentlyPaidUp(t *testing.T) {
	// GIVEN: A 20000 booking at 50% completion paid exactly 10000
	// WHEN: Reading it back
	// THEN: status currently_paid_up with zero outstanding

	a := newTestAPI(t)
	vendorID := a.seedVendor(t, "Electric Works")
	accountID := a.seedAccount(t, "Site Bank", "20000")

	rec := a.request(t, http.MethodPost, "/api/service-bookings", CreateServiceBookingRequest{
		VendorID:         vendorID,
		TotalAmount:      "20000",
		PercentCompleted: "50",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var booking ServiceBookingDTO
	decodeInto(t, rec, &booking)
	assert.Equal(t, "10000.00", booking.AmountDue)

	rec = a.request(t, http.MethodPost, "/api/payments", SettleRequest{
		VendorID:    vendorID,
		AccountID:   accountID,
		Amount:      "10000",
		PaymentDate: "2025-02-01",
		ServiceBookingAllocations: map[string]string{
			booking.ID: "10000",
		},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.request(t, http.MethodGet, "/api/service-bookings/"+booking.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &booking)
	assert.Equal(t, "10000.00", booking.PaidAmount)
	assert.Equal(t, "0.00", booking.Outstanding)
	assert.Equal(t, string(settlement.StatusCurrentlyPaidUp), booking.Status)
}

// =============================================================================
// REFUNDS
// =============================================================================

func TestAPI_RefundLifecycle(t *testing.T) {
	// GIVEN: An account opened at 5000
	// WHEN: Recording and then deleting a 300 refund
	// THEN: The balance rises to 5300 and returns to 5000

	a := newTestAPI(t)
	vendorID := a.seedVendor(t, "Sharma Steel")
	accountID := a.seedAccount(t, "Site Bank", "5000")

	rec := a.request(t, http.MethodPost, "/api/refunds", CreateRefundRequest{
		VendorID:     vendorID,
		AccountID:    accountID,
		RefundAmount: "300",
		RefundDate:   "2025-02-10",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var refund RefundDTO
	decodeInto(t, rec, &refund)
	assert.Equal(t, "300.00", refund.RefundAmount)

	rec = a.request(t, http.MethodGet, "/api/accounts/"+accountID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var account AccountDTO
	decodeInto(t, rec, &account)
	assert.Equal(t, "5300.00", account.Balance)

	rec = a.request(t, http.MethodDelete, "/api/refunds/"+refund.ID, nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.request(t, http.MethodGet, "/api/accounts/"+accountID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &account)
	assert.Equal(t, "5000.00", account.Balance)
}

// =============================================================================
// ALLOCATION REBALANCING
// =============================================================================

func TestAPI_UpdateAllocationsSpreadsRemainder(t *testing.T) {
	// GIVEN: An unallocated 1000 payment and a 600 delivery
	// WHEN: Re-spreading via PUT
	// THEN: One 600 allocation lands on the delivery

	a := newTestAPI(t)
	vendorID := a.seedVendor(t, "Gupta Traders")
	accountID := a.seedAccount(t, "Site Bank", "5000")

	rec := a.request(t, http.MethodPost, "/api/deliveries", CreateDeliveryRequest{
		VendorID:     vendorID,
		TotalAmount:  "600",
		DeliveryDate: "2025-01-10",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var delivery DeliveryDTO
	decodeInto(t, rec, &delivery)

	rec = a.request(t, http.MethodPost, "/api/payments", SettleRequest{
		VendorID:    vendorID,
		AccountID:   accountID,
		Amount:      "1000",
		PaymentDate: "2025-02-01",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var payment PaymentDTO
	decodeInto(t, rec, &payment)

	rec = a.request(t, http.MethodPut, "/api/payments/"+payment.ID+"/allocations",
		UpdateAllocationsRequest{DeliveryIDs: []string{delivery.ID}}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var allocations []AllocationDTO
	decodeInto(t, rec, &allocations)
	require.Len(t, allocations, 1)
	assert.Equal(t, delivery.ID, allocations[0].DeliveryID)
	assert.Equal(t, "600.00", allocations[0].AllocatedAmount)
}
