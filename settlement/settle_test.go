package settlement_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewise/expense-engine/settlement"
	"github.com/sitewise/expense-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================
// Helpers here are shared by every _test.go file in this package.

const testSite = "site-1"

func ownerCtx() context.Context {
	return settlement.WithScope(context.Background(), settlement.Scope{
		SiteID: testSite,
		Role:   settlement.RoleOwner,
	})
}

func roleCtx(role settlement.Role) context.Context {
	return settlement.WithScope(context.Background(), settlement.Scope{
		SiteID: testSite,
		Role:   role,
	})
}

type env struct {
	store       settlement.Store
	accounts    *settlement.AccountService
	notes       *settlement.CreditNoteService
	payments    *settlement.PaymentService
	refunds     *settlement.RefundService
	receivables *settlement.ReceivableService
}

func newEnv(t *testing.T) *env {
	return newEnvWith(t, memory.New())
}

func newEnvWith(t *testing.T, store settlement.Store) *env {
	t.Helper()

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

	return &env{
		store:       store,
		accounts:    accounts,
		notes:       notes,
		payments:    payments,
		refunds:     refunds,
		receivables: receivables,
	}
}

func (e *env) seedVendor(t *testing.T, name string) *settlement.Vendor {
	t.Helper()
	v, err := e.store.CreateVendor(ownerCtx(), settlement.Vendor{SiteID: testSite, Name: name})
	require.NoError(t, err)
	return v
}

func (e *env) seedAccount(t *testing.T, name string, opening decimal.Decimal) *settlement.Account {
	t.Helper()
	a, err := e.store.CreateAccount(ownerCtx(), settlement.Account{
		SiteID:         testSite,
		Name:           name,
		Type:           "bank",
		OpeningBalance: opening,
		CurrentBalance: opening,
		IsActive:       true,
	})
	require.NoError(t, err)
	return a
}

func (e *env) seedNote(t *testing.T, vendorID string, amount decimal.Decimal, issued time.Time, ref string) *settlement.CreditNote {
	t.Helper()
	n, err := e.store.CreateCreditNote(ownerCtx(), settlement.CreditNote{
		SiteID:       testSite,
		VendorID:     vendorID,
		CreditAmount: amount,
		IssueDate:    issued,
		Reference:    ref,
		Status:       settlement.CreditNoteActive,
	})
	require.NoError(t, err)
	return n
}

func (e *env) seedDelivery(t *testing.T, vendorID string, total decimal.Decimal) *settlement.Delivery {
	t.Helper()
	d, err := e.store.CreateDelivery(ownerCtx(), settlement.Delivery{
		SiteID:       testSite,
		VendorID:     vendorID,
		TotalAmount:  total,
		DeliveryDate: jan(10),
	})
	require.NoError(t, err)
	return d
}

func (e *env) seedBooking(t *testing.T, vendorID string, total, percent decimal.Decimal) *settlement.ServiceBooking {
	t.Helper()
	b, err := e.store.CreateServiceBooking(ownerCtx(), settlement.ServiceBooking{
		SiteID:           testSite,
		VendorID:         vendorID,
		TotalAmount:      total,
		PercentCompleted: percent,
	})
	require.NoError(t, err)
	return b
}

func jan(day int) time.Time {
	return time.Date(2025, time.January, day, 0, 0, 0, 0, time.UTC)
}

func feb(day int) time.Time {
	return time.Date(2025, time.February, day, 0, 0, 0, 0, time.UTC)
}

func amt(v float64) decimal.Decimal { return settlement.Rupees(v) }

func assertAmount(t *testing.T, want decimal.Decimal, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, want.Equal(got), "%s: want %s, got %s", msg, want.String(), got.String())
}

// =============================================================================
// SETTLEMENT - HAPPY PATHS
// =============================================================================

func TestSettle_CreditNoteAndAccountSplit(t *testing.T) {
	// GIVEN: Vendor with a 400 credit note, account with 5000
	// WHEN: Settling a 1000 payment as 400 note + 600 account
	// THEN: One usage row, one debit entry, note fully used, balance 4400

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Sharma Steel")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	note := e.seedNote(t, vendor.ID, amt(400), jan(5), "CN-001")

	payment, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
		Reference:   "PAY-001",
		CreditNoteAllocations: map[string]decimal.Decimal{
			note.ID: amt(400),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, payment)

	// Usage row recorded against the note.
	usages, err := e.store.UsagesByPayment(ctx, testSite, payment.ID)
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assertAmount(t, amt(400), usages[0].UsedAmount, "used amount")
	assert.Equal(t, note.ID, usages[0].CreditNoteID)

	// Note is drained and flipped to fully_used.
	balance, err := e.notes.ActualBalance(ctx, note.ID)
	require.NoError(t, err)
	assertAmount(t, decimal.Zero, balance, "note balance")
	fresh, err := e.store.GetCreditNote(ctx, testSite, note.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.CreditNoteFullyUsed, fresh.Status)

	// One debit entry for the account portion.
	entries, err := e.store.EntriesByPayment(ctx, testSite, payment.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, settlement.EntryDebit, entries[0].Type)
	assertAmount(t, amt(600), entries[0].Amount, "debit amount")

	// Derived and cached balances agree.
	derived, err := e.accounts.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assertAmount(t, amt(4400), derived, "derived account balance")
	cached, err := e.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assertAmount(t, amt(4400), cached.CurrentBalance, "cached account balance")
}

func TestSettle_FullyCoveredByCreditNotes_NoAccountNeeded(t *testing.T) {
	// GIVEN: A credit note covering the whole payment
	// WHEN: Settling without an account
	// THEN: Payment succeeds and no ledger entry is written

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Verma Cement")
	note := e.seedNote(t, vendor.ID, amt(750), jan(5), "CN-001")

	payment, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		Amount:      amt(750),
		PaymentDate: feb(1),
		CreditNoteAllocations: map[string]decimal.Decimal{
			note.ID: amt(750),
		},
	})
	require.NoError(t, err)

	entries, err := e.store.EntriesByPayment(ctx, testSite, payment.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSettle_AllocationsToReceivables(t *testing.T) {
	// GIVEN: A delivery and a booking for the vendor
	// WHEN: Settling with explicit receivable allocations
	// THEN: Allocation rows exist and the payment carries their ids

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Gupta Traders")
	account := e.seedAccount(t, "Site Bank", amt(10000))
	delivery := e.seedDelivery(t, vendor.ID, amt(600))
	booking := e.seedBooking(t, vendor.ID, amt(2000), amt(50))

	payment, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
		DeliveryAllocations: map[string]decimal.Decimal{
			delivery.ID: amt(600),
		},
		ServiceBookingAllocations: map[string]decimal.Decimal{
			booking.ID: amt(400),
		},
	})
	require.NoError(t, err)

	allocations, err := e.payments.Allocations(ctx, payment.ID)
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	assert.Len(t, payment.AllocationIDs, 2)

	status, err := e.receivables.DeliveryStatus(ctx, delivery)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPaid, status)
}

// =============================================================================
// SETTLEMENT - VALIDATION FAILURES
// =============================================================================

func TestSettle_RequiresSiteScope(t *testing.T) {
	// GIVEN: No site scope on the context
	// WHEN: Settling
	// THEN: ErrNoSiteSelected, nothing written

	e := newEnv(t)
	_, err := e.payments.Settle(context.Background(), settlement.SettlementRequest{
		VendorID: "v-1",
		Amount:   amt(100),
	})
	assert.ErrorIs(t, err, settlement.ErrNoSiteSelected)
}

func TestSettle_AccountantCannotCreate(t *testing.T) {
	// GIVEN: Caller with the read-only accountant role
	// WHEN: Settling
	// THEN: ErrPermissionDenied

	e := newEnv(t)
	_, err := e.payments.Settle(roleCtx(settlement.RoleAccountant), settlement.SettlementRequest{
		VendorID: "v-1",
		Amount:   amt(100),
	})
	assert.ErrorIs(t, err, settlement.ErrPermissionDenied)
}

func TestSettle_RejectsNonPositiveAmount(t *testing.T) {
	e := newEnv(t)
	_, err := e.payments.Settle(ownerCtx(), settlement.SettlementRequest{
		VendorID: "v-1",
		Amount:   decimal.Zero,
	})
	assert.ErrorIs(t, err, settlement.ErrInvalidAllocation)
}

func TestSettle_CreditNotesExceedPaymentAmount(t *testing.T) {
	// GIVEN: Note allocations summing above the payment amount
	// WHEN: Settling
	// THEN: ErrInvalidAllocation

	e := newEnv(t)
	vendor := e.seedVendor(t, "Sharma Steel")
	note := e.seedNote(t, vendor.ID, amt(1200), jan(5), "CN-001")

	_, err := e.payments.Settle(ownerCtx(), settlement.SettlementRequest{
		VendorID:    vendor.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
		CreditNoteAllocations: map[string]decimal.Decimal{
			note.ID: amt(1200),
		},
	})
	assert.ErrorIs(t, err, settlement.ErrInvalidAllocation)
}

func TestSettle_AccountRequiredWhenNotesDoNotCover(t *testing.T) {
	// GIVEN: Notes covering 400 of a 1000 payment, no account selected
	// WHEN: Settling
	// THEN: ErrAccountRequired

	e := newEnv(t)
	vendor := e.seedVendor(t, "Sharma Steel")
	note := e.seedNote(t, vendor.ID, amt(400), jan(5), "CN-001")

	_, err := e.payments.Settle(ownerCtx(), settlement.SettlementRequest{
		VendorID:    vendor.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
		CreditNoteAllocations: map[string]decimal.Decimal{
			note.ID: amt(400),
		},
	})
	assert.ErrorIs(t, err, settlement.ErrAccountRequired)
}

func TestSettle_BalanceChangedRoundTrip(t *testing.T) {
	// GIVEN: A 500 note with 300 already consumed elsewhere
	// WHEN: Settling with a stale 500 allocation
	// THEN: BalanceChangedError carries the 200 clamp; resubmitting with
	//       AllowBalanceAdjustment succeeds using the adjusted amount

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Sharma Steel")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	note := e.seedNote(t, vendor.ID, amt(500), jan(5), "CN-001")

	// Consume 300 behind the caller's back.
	_, err := e.store.CreateUsage(ctx, settlement.CreditNoteUsage{
		SiteID:       testSite,
		CreditNoteID: note.ID,
		PaymentID:    "someone-else",
		UsedAmount:   amt(300),
		UsedDate:     jan(20),
	})
	require.NoError(t, err)

	req := settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
		CreditNoteAllocations: map[string]decimal.Decimal{
			note.ID: amt(500),
		},
	}

	_, err = e.payments.Settle(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, settlement.ErrBalanceChanged)
	assert.True(t, settlement.IsRecoverable(err))

	var changed *settlement.BalanceChangedError
	require.ErrorAs(t, err, &changed)
	assert.Equal(t, note.ID, changed.CreditNoteID)
	assertAmount(t, amt(500), changed.Requested, "requested")
	assertAmount(t, amt(200), changed.Available, "available")
	assertAmount(t, amt(200), changed.AdjustedAllocations[note.ID], "adjusted")

	// Nothing was written by the rejected attempt.
	payments, err := e.payments.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments)

	// Resubmit with consent; the engine clamps to 200 and takes 800
	// from the account.
	req.AllowBalanceAdjustment = true
	payment, err := e.payments.Settle(ctx, req)
	require.NoError(t, err)

	usages, err := e.store.UsagesByPayment(ctx, testSite, payment.ID)
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assertAmount(t, amt(200), usages[0].UsedAmount, "clamped usage")

	derived, err := e.accounts.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assertAmount(t, amt(4200), derived, "account balance after 800 debit")
}

func TestSettle_OldestFirstPriority(t *testing.T) {
	// GIVEN: Two notes, January and February, both with balance
	// WHEN: Partially using the February note, skipping January
	// THEN: Hard priority violation (oldest_first)

	e := newEnv(t)
	vendor := e.seedVendor(t, "Sharma Steel")
	e.seedNote(t, vendor.ID, amt(300), jan(5), "CN-JAN")
	newer := e.seedNote(t, vendor.ID, amt(500), feb(5), "CN-FEB")

	_, err := e.payments.Settle(ownerCtx(), settlement.SettlementRequest{
		VendorID:    vendor.ID,
		Amount:      amt(200),
		PaymentDate: feb(10),
		CreditNoteAllocations: map[string]decimal.Decimal{
			newer.ID: amt(200),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, settlement.ErrPriorityViolation)

	var violation *settlement.PriorityViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "oldest_first", violation.Rule)
	assert.Equal(t, newer.ID, violation.CreditNoteID)
}

func TestSettle_FullyDrainingNewestIsAllowedWithOlderInPlay(t *testing.T) {
	// GIVEN: Two notes, both fully allocated
	// WHEN: Settling with both drained
	// THEN: No priority violation

	e := newEnv(t)
	vendor := e.seedVendor(t, "Sharma Steel")
	older := e.seedNote(t, vendor.ID, amt(300), jan(5), "CN-JAN")
	newer := e.seedNote(t, vendor.ID, amt(500), feb(5), "CN-FEB")

	_, err := e.payments.Settle(ownerCtx(), settlement.SettlementRequest{
		VendorID:    vendor.ID,
		Amount:      amt(800),
		PaymentDate: feb(10),
		CreditNoteAllocations: map[string]decimal.Decimal{
			older.ID: amt(300),
			newer.ID: amt(500),
		},
	})
	assert.NoError(t, err)
}

func TestSettle_PartialNoteUseWithAccountFunds(t *testing.T) {
	// GIVEN: A 400 note and account funds in the same payment
	// WHEN: Allocating only 300 of the note
	// THEN: Hard violation: notes must be exhausted before account money

	e := newEnv(t)
	vendor := e.seedVendor(t, "Sharma Steel")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	note := e.seedNote(t, vendor.ID, amt(400), jan(5), "CN-001")

	_, err := e.payments.Settle(ownerCtx(), settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
		CreditNoteAllocations: map[string]decimal.Decimal{
			note.ID: amt(300),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, settlement.ErrPriorityViolation)

	var violation *settlement.PriorityViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "full_use_before_account", violation.Rule)
}

func TestSettle_SkippedNoteWithAccountFunds(t *testing.T) {
	// GIVEN: Two notes, only the older one allocated, account money used
	// WHEN: Settling
	// THEN: Hard violation: no positive-balance note may be left out

	e := newEnv(t)
	vendor := e.seedVendor(t, "Sharma Steel")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	older := e.seedNote(t, vendor.ID, amt(300), jan(5), "CN-JAN")
	e.seedNote(t, vendor.ID, amt(500), feb(5), "CN-FEB")

	_, err := e.payments.Settle(ownerCtx(), settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(1000),
		PaymentDate: feb(10),
		CreditNoteAllocations: map[string]decimal.Decimal{
			older.ID: amt(300),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, settlement.ErrPriorityViolation)

	var violation *settlement.PriorityViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "unused_notes_remain", violation.Rule)
}

func TestSettle_AccountFundsCannotIgnoreNotesEntirely(t *testing.T) {
	// GIVEN: A vendor with one unused 30 credit note
	// WHEN: Settling 100 purely from the account, referencing no notes
	// THEN: Hard violation, nothing written

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Sharma Steel")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	e.seedNote(t, vendor.ID, amt(30), jan(5), "CN-001")

	_, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(100),
		PaymentDate: feb(1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, settlement.ErrPriorityViolation)

	var violation *settlement.PriorityViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "unused_notes_remain", violation.Rule)

	payments, err := e.payments.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments)

	balance, err := e.accounts.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assertAmount(t, amt(5000), balance, "no debit written")
}

// =============================================================================
// SETTLEMENT - COMPENSATION
// =============================================================================

// failingStore wraps a real store and fails chosen operations to force
// the saga into its compensation path.
type failingStore struct {
	settlement.Store
	failCreateAllocation  bool
	failAppendEntry       bool
	failSetCurrentBalance bool
}

func (f *failingStore) CreateAllocation(ctx context.Context, a settlement.PaymentAllocation) (*settlement.PaymentAllocation, error) {
	if f.failCreateAllocation {
		return nil, errors.New("storage unavailable")
	}
	return f.Store.CreateAllocation(ctx, a)
}

func (f *failingStore) AppendEntry(ctx context.Context, e settlement.LedgerEntry) (*settlement.LedgerEntry, error) {
	if f.failAppendEntry {
		return nil, errors.New("storage unavailable")
	}
	return f.Store.AppendEntry(ctx, e)
}

func (f *failingStore) SetCurrentBalance(ctx context.Context, siteID, id string, balance decimal.Decimal) error {
	if f.failSetCurrentBalance {
		return errors.New("storage unavailable")
	}
	return f.Store.SetCurrentBalance(ctx, siteID, id, balance)
}

func TestSettle_CompensatesWhenAllocationWriteFails(t *testing.T) {
	// GIVEN: A store that fails on allocation writes
	// WHEN: Settling a payment with a note, account money and a delivery
	// THEN: The original error surfaces and every prior write is undone

	failing := &failingStore{Store: memory.New(), failCreateAllocation: true}
	e := newEnvWith(t, failing)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Sharma Steel")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	note := e.seedNote(t, vendor.ID, amt(400), jan(5), "CN-001")
	delivery := e.seedDelivery(t, vendor.ID, amt(1000))

	_, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
		CreditNoteAllocations: map[string]decimal.Decimal{
			note.ID: amt(400),
		},
		DeliveryAllocations: map[string]decimal.Decimal{
			delivery.ID: amt(1000),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage unavailable")

	// Payment rolled back.
	payments, err := e.payments.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments)

	// Usage rolled back, note balance and status restored.
	balance, err := e.notes.ActualBalance(ctx, note.ID)
	require.NoError(t, err)
	assertAmount(t, amt(400), balance, "restored note balance")
	fresh, err := e.store.GetCreditNote(ctx, testSite, note.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.CreditNoteActive, fresh.Status)

	// Ledger entry rolled back, balance restored.
	derived, err := e.accounts.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assertAmount(t, amt(5000), derived, "restored account balance")
	cached, err := e.accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	assertAmount(t, amt(5000), cached.CurrentBalance, "restored cached balance")
}

func TestSettle_CompensatesWhenLedgerWriteFails(t *testing.T) {
	// GIVEN: A store that fails on ledger appends
	// WHEN: Settling a note + account payment
	// THEN: The usage row and the payment are rolled back

	failing := &failingStore{Store: memory.New(), failAppendEntry: true}
	e := newEnvWith(t, failing)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Sharma Steel")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	note := e.seedNote(t, vendor.ID, amt(400), jan(5), "CN-001")

	_, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
		CreditNoteAllocations: map[string]decimal.Decimal{
			note.ID: amt(400),
		},
	})
	require.Error(t, err)

	payments, err := e.payments.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments)

	usages, err := e.store.UsagesByCreditNote(ctx, testSite, note.ID)
	require.NoError(t, err)
	assert.Empty(t, usages)
}

// =============================================================================
// PAYMENT DELETION (reverse flow)
// =============================================================================

func TestDeletePayment_RestoresNoteAndBalance(t *testing.T) {
	// GIVEN: A settled 1000 payment (400 note + 600 account)
	// WHEN: Deleting the payment
	// THEN: Note balance and status restored, account back to 5000

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Sharma Steel")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	note := e.seedNote(t, vendor.ID, amt(400), jan(5), "CN-001")

	payment, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
		CreditNoteAllocations: map[string]decimal.Decimal{
			note.ID: amt(400),
		},
	})
	require.NoError(t, err)

	require.NoError(t, e.payments.Delete(ctx, payment.ID))

	_, err = e.payments.Get(ctx, payment.ID)
	assert.ErrorIs(t, err, settlement.ErrPaymentNotFound)

	balance, err := e.notes.ActualBalance(ctx, note.ID)
	require.NoError(t, err)
	assertAmount(t, amt(400), balance, "restored note balance")
	fresh, err := e.store.GetCreditNote(ctx, testSite, note.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.CreditNoteActive, fresh.Status, "fully_used note reactivates on restore")

	derived, err := e.accounts.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assertAmount(t, amt(5000), derived, "restored account balance")
}

func TestDeletePayment_RefusedWhileAllocationsExist(t *testing.T) {
	// GIVEN: A payment with an allocation row
	// WHEN: Deleting it
	// THEN: ErrPaymentHasAllocations, payment untouched

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Sharma Steel")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	delivery := e.seedDelivery(t, vendor.ID, amt(500))

	payment, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(500),
		PaymentDate: feb(1),
		DeliveryAllocations: map[string]decimal.Decimal{
			delivery.ID: amt(500),
		},
	})
	require.NoError(t, err)

	err = e.payments.Delete(ctx, payment.ID)
	assert.ErrorIs(t, err, settlement.ErrPaymentHasAllocations)

	got, err := e.payments.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, got.ID)
}

func TestDeletePayment_SupervisorCannotDelete(t *testing.T) {
	// GIVEN: A settled payment
	// WHEN: A supervisor tries to delete it
	// THEN: ErrPermissionDenied (only owners delete)

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Sharma Steel")
	account := e.seedAccount(t, "Site Bank", amt(5000))

	payment, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(500),
		PaymentDate: feb(1),
	})
	require.NoError(t, err)

	err = e.payments.Delete(roleCtx(settlement.RoleSupervisor), payment.ID)
	assert.ErrorIs(t, err, settlement.ErrPermissionDenied)
}
