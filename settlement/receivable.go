/*
receivable.go - Derived payment state of deliveries and bookings

PURPOSE:
  A receivable's paid amount and payment status are always derived
  from its allocation rows, never trusted from a stored field. For
  service bookings the amount currently DUE is progress-based:
  total_amount * percent_completed / 100.
*/
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ReceivableService derives paid amounts, outstanding amounts and
// payment status for deliveries and service bookings.
type ReceivableService struct {
	store Store
}

func NewReceivableService(store Store) (*ReceivableService, error) {
	if store == nil {
		return nil, fmt.Errorf("receivable service: %w", ErrNilDependency)
	}
	return &ReceivableService{store: store}, nil
}

// =============================================================================
// DELIVERIES
// =============================================================================

// DeliveryPaidAmount sums the delivery's allocation rows.
func (s *ReceivableService) DeliveryPaidAmount(ctx context.Context, deliveryID string) (decimal.Decimal, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	allocations, err := s.store.AllocationsByDelivery(ctx, scope.SiteID, deliveryID)
	if err != nil {
		return decimal.Zero, err
	}
	paid := decimal.Zero
	for _, a := range allocations {
		paid = paid.Add(a.AllocatedAmount)
	}
	return paid, nil
}

// DeliveryOutstanding is total minus paid, floored at zero.
func (s *ReceivableService) DeliveryOutstanding(ctx context.Context, d *Delivery) (decimal.Decimal, error) {
	paid, err := s.DeliveryPaidAmount(ctx, d.ID)
	if err != nil {
		return decimal.Zero, err
	}
	outstanding := d.TotalAmount.Sub(paid)
	if outstanding.IsNegative() {
		return decimal.Zero, nil
	}
	return outstanding, nil
}

// DeliveryStatus derives pending/partial/paid from the paid amount.
func (s *ReceivableService) DeliveryStatus(ctx context.Context, d *Delivery) (PaymentStatus, error) {
	paid, err := s.DeliveryPaidAmount(ctx, d.ID)
	if err != nil {
		return "", err
	}
	switch {
	case paid.IsZero():
		return StatusPending, nil
	case paid.GreaterThanOrEqual(d.TotalAmount):
		return StatusPaid, nil
	default:
		return StatusPartial, nil
	}
}

// =============================================================================
// SERVICE BOOKINGS
// =============================================================================

// BookingPaidAmount sums the booking's allocation rows.
func (s *ReceivableService) BookingPaidAmount(ctx context.Context, bookingID string) (decimal.Decimal, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	allocations, err := s.store.AllocationsByBooking(ctx, scope.SiteID, bookingID)
	if err != nil {
		return decimal.Zero, err
	}
	paid := decimal.Zero
	for _, a := range allocations {
		paid = paid.Add(a.AllocatedAmount)
	}
	return paid, nil
}

// ProgressBasedAmount is what the booking currently owes:
// total * percent_completed / 100.
func ProgressBasedAmount(b *ServiceBooking) decimal.Decimal {
	return b.TotalAmount.Mul(b.PercentCompleted).Div(hundred)
}

// BookingOutstanding is the progress-based due minus paid, floored at
// zero.
func (s *ReceivableService) BookingOutstanding(ctx context.Context, b *ServiceBooking) (decimal.Decimal, error) {
	paid, err := s.BookingPaidAmount(ctx, b.ID)
	if err != nil {
		return decimal.Zero, err
	}
	outstanding := ProgressBasedAmount(b).Sub(paid)
	if outstanding.IsNegative() {
		return decimal.Zero, nil
	}
	return outstanding, nil
}

// BookingStatus derives the booking's payment status. A booking whose
// payments cover the progress-based due but not the full total is
// "currently paid up" while work is incomplete.
func (s *ReceivableService) BookingStatus(ctx context.Context, b *ServiceBooking) (PaymentStatus, error) {
	paid, err := s.BookingPaidAmount(ctx, b.ID)
	if err != nil {
		return "", err
	}
	progress := ProgressBasedAmount(b)

	switch {
	case paid.IsZero():
		return StatusPending, nil
	case paid.GreaterThanOrEqual(b.TotalAmount):
		return StatusPaid, nil
	case paid.GreaterThanOrEqual(progress) && b.PercentCompleted.LessThan(hundred):
		return StatusCurrentlyPaidUp, nil
	default:
		return StatusPartial, nil
	}
}
