/*
rebalance.go - Incremental allocation of a payment's remainder

PURPOSE:
  Adds allocations to an existing payment for receivables it does not
  cover yet, consuming the unallocated remainder greedily in the order
  the ids are supplied. Existing allocations are never reduced,
  removed or reordered.
*/
package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// UpdateAllocations allocates the payment's unallocated remainder
// (payment.amount - sum of existing allocations) across the supplied
// delivery and booking ids, skipping ids already covered. Each new
// allocation is capped at the lesser of the remainder and the
// receivable's outstanding amount, and the walk stops once the
// remainder reaches zero.
func (s *PaymentService) UpdateAllocations(
	ctx context.Context,
	paymentID string,
	deliveryIDs []string,
	serviceBookingIDs []string,
) error {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return err
	}
	if err := requireUpdate(scope); err != nil {
		return err
	}

	payment, err := s.store.GetPayment(ctx, scope.SiteID, paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return ErrPaymentNotFound
	}

	existing, err := s.store.AllocationsByPayment(ctx, scope.SiteID, paymentID)
	if err != nil {
		return err
	}

	coveredDeliveries := make(map[string]struct{})
	coveredBookings := make(map[string]struct{})
	allocated := decimal.Zero
	for _, a := range existing {
		if a.DeliveryID != "" {
			coveredDeliveries[a.DeliveryID] = struct{}{}
		}
		if a.BookingID != "" {
			coveredBookings[a.BookingID] = struct{}{}
		}
		allocated = allocated.Add(a.AllocatedAmount)
	}

	remaining := payment.Amount.Sub(allocated)
	if !remaining.IsPositive() {
		return nil // already fully allocated
	}

	var newIDs []string

	for _, deliveryID := range deliveryIDs {
		if !remaining.IsPositive() {
			break
		}
		if _, covered := coveredDeliveries[deliveryID]; covered {
			continue
		}

		delivery, err := s.store.GetDelivery(ctx, scope.SiteID, deliveryID)
		if err != nil {
			return err
		}
		if delivery == nil {
			continue
		}
		outstanding, err := s.receivables.DeliveryOutstanding(ctx, delivery)
		if err != nil {
			return err
		}

		amount := decimalMin(remaining, outstanding)
		if !amount.IsPositive() {
			continue
		}

		created, err := s.store.CreateAllocation(ctx, PaymentAllocation{
			SiteID:          scope.SiteID,
			PaymentID:       paymentID,
			DeliveryID:      deliveryID,
			AllocatedAmount: amount,
		})
		if err != nil {
			return err
		}
		newIDs = append(newIDs, created.ID)
		remaining = remaining.Sub(amount)
	}

	for _, bookingID := range serviceBookingIDs {
		if !remaining.IsPositive() {
			break
		}
		if _, covered := coveredBookings[bookingID]; covered {
			continue
		}

		booking, err := s.store.GetServiceBooking(ctx, scope.SiteID, bookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			continue
		}
		outstanding, err := s.receivables.BookingOutstanding(ctx, booking)
		if err != nil {
			return err
		}

		amount := decimalMin(remaining, outstanding)
		if !amount.IsPositive() {
			continue
		}

		created, err := s.store.CreateAllocation(ctx, PaymentAllocation{
			SiteID:          scope.SiteID,
			PaymentID:       paymentID,
			BookingID:       bookingID,
			AllocatedAmount: amount,
		})
		if err != nil {
			return err
		}
		newIDs = append(newIDs, created.ID)
		remaining = remaining.Sub(amount)
	}

	if len(newIDs) == 0 {
		return nil
	}

	all := append(append([]string{}, payment.AllocationIDs...), newIDs...)
	return s.store.SetPaymentAllocationIDs(ctx, scope.SiteID, paymentID, all)
}
