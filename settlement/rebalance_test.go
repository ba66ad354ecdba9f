package settlement_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewise/expense-engine/settlement"
)

// =============================================================================
// ALLOCATION REBALANCING
// =============================================================================

func TestUpdateAllocations_GreedySpreadInOrder(t *testing.T) {
	// GIVEN: An unallocated 1000 payment and two deliveries (600, 800)
	// WHEN: Spreading across them in order
	// THEN: 600 to the first, 400 to the second, ids patched on payment

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Gupta Traders")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	first := e.seedDelivery(t, vendor.ID, amt(600))
	second := e.seedDelivery(t, vendor.ID, amt(800))

	payment, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
	})
	require.NoError(t, err)

	require.NoError(t, e.payments.UpdateAllocations(ctx, payment.ID,
		[]string{first.ID, second.ID}, nil))

	allocations, err := e.payments.Allocations(ctx, payment.ID)
	require.NoError(t, err)
	require.Len(t, allocations, 2)

	byDelivery := make(map[string]decimal.Decimal)
	for _, a := range allocations {
		byDelivery[a.DeliveryID] = a.AllocatedAmount
	}
	assertAmount(t, amt(600), byDelivery[first.ID], "first delivery capped at outstanding")
	assertAmount(t, amt(400), byDelivery[second.ID], "second delivery gets the remainder")

	fresh, err := e.payments.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Len(t, fresh.AllocationIDs, 2)
}

func TestUpdateAllocations_SkipsCoveredReceivables(t *testing.T) {
	// GIVEN: A payment already allocated to a delivery
	// WHEN: Rebalancing with the same delivery plus a new one
	// THEN: The covered delivery is skipped, existing rows untouched

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Gupta Traders")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	covered := e.seedDelivery(t, vendor.ID, amt(600))
	fresh := e.seedDelivery(t, vendor.ID, amt(600))

	payment, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(1000),
		PaymentDate: feb(1),
		DeliveryAllocations: map[string]decimal.Decimal{
			covered.ID: amt(600),
		},
	})
	require.NoError(t, err)

	require.NoError(t, e.payments.UpdateAllocations(ctx, payment.ID,
		[]string{covered.ID, fresh.ID}, nil))

	allocations, err := e.payments.Allocations(ctx, payment.ID)
	require.NoError(t, err)
	require.Len(t, allocations, 2)

	byDelivery := make(map[string]decimal.Decimal)
	for _, a := range allocations {
		byDelivery[a.DeliveryID] = a.AllocatedAmount
	}
	assertAmount(t, amt(600), byDelivery[covered.ID], "existing allocation untouched")
	assertAmount(t, amt(400), byDelivery[fresh.ID], "remainder to the new delivery")
}

func TestUpdateAllocations_BookingCappedAtProgressDue(t *testing.T) {
	// GIVEN: A 20000 booking at 25% (due 5000) and a 8000 payment
	// WHEN: Rebalancing onto the booking
	// THEN: Allocation capped at the progress-based 5000

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Electric Works")
	account := e.seedAccount(t, "Site Bank", amt(20000))
	booking := e.seedBooking(t, vendor.ID, amt(20000), amt(25))

	payment, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(8000),
		PaymentDate: feb(1),
	})
	require.NoError(t, err)

	require.NoError(t, e.payments.UpdateAllocations(ctx, payment.ID,
		nil, []string{booking.ID}))

	allocations, err := e.payments.Allocations(ctx, payment.ID)
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	assertAmount(t, amt(5000), allocations[0].AllocatedAmount, "capped at progress due")
}

func TestUpdateAllocations_NoRemainderIsNoop(t *testing.T) {
	// GIVEN: A fully allocated payment
	// WHEN: Rebalancing with more receivables
	// THEN: Nothing changes

	e := newEnv(t)
	ctx := ownerCtx()
	vendor := e.seedVendor(t, "Gupta Traders")
	account := e.seedAccount(t, "Site Bank", amt(5000))
	covered := e.seedDelivery(t, vendor.ID, amt(500))
	extra := e.seedDelivery(t, vendor.ID, amt(500))

	payment, err := e.payments.Settle(ctx, settlement.SettlementRequest{
		VendorID:    vendor.ID,
		AccountID:   account.ID,
		Amount:      amt(500),
		PaymentDate: feb(1),
		DeliveryAllocations: map[string]decimal.Decimal{
			covered.ID: amt(500),
		},
	})
	require.NoError(t, err)

	require.NoError(t, e.payments.UpdateAllocations(ctx, payment.ID,
		[]string{extra.ID}, nil))

	allocations, err := e.payments.Allocations(ctx, payment.ID)
	require.NoError(t, err)
	assert.Len(t, allocations, 1)
}

func TestUpdateAllocations_Permissions(t *testing.T) {
	e := newEnv(t)

	err := e.payments.UpdateAllocations(roleCtx(settlement.RoleAccountant), "p-1", nil, nil)
	assert.ErrorIs(t, err, settlement.ErrPermissionDenied)

	err = e.payments.UpdateAllocations(ownerCtx(), "missing", nil, nil)
	assert.ErrorIs(t, err, settlement.ErrPaymentNotFound)
}
