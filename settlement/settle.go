/*
settle.go - The settlement orchestrator

PURPOSE:
  Takes one vendor payment and splits it between credit-note funds and
  account funds, writing the payment plus its dependent records as a
  saga: validation first, then the payment (the commit point), then
  usage rows, one debit ledger entry, and allocation rows - with a
  compensating delete pushed for every write.

STATE MACHINE:
  Validating -> Committing(Payment) -> Applying(CreditNotes)
    -> Applying(Ledger) -> Applying(Allocations) -> Done
  with Compensating -> Failed reachable from any Applying state.
  Either all dependent records exist or none do, as far as best-effort
  compensation can guarantee.

OWNERSHIP:
  This is the SOLE writer of payments, payment-linked ledger entries,
  usage rows and allocation rows. No other component creates these
  independently.

SEE ALSO:
  - validate.go: the pre-write ordering rules
  - saga.go: the undo stack
  - rebalance.go: incremental allocation additions
*/
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SettlementRequest is the full input for creating one payment.
// Allocation maps are keyed by record id; nonpositive amounts are
// ignored.
type SettlementRequest struct {
	VendorID    string
	AccountID   string // optional when credit notes cover the amount
	Amount      decimal.Decimal
	PaymentDate time.Time
	Reference   string
	Notes       string

	CreditNoteAllocations     map[string]decimal.Decimal
	DeliveryAllocations       map[string]decimal.Decimal
	ServiceBookingAllocations map[string]decimal.Decimal

	// AllowBalanceAdjustment accepts clamped allocations after a
	// BalanceChangedError round-trip.
	AllowBalanceAdjustment bool
}

// PaymentService owns the settlement saga, payment reads, the reverse
// (deletion) flow, and the allocation rebalancer.
type PaymentService struct {
	store       Store
	validator   *AllocationValidator
	notes       *CreditNoteService
	accounts    *AccountService
	receivables *ReceivableService
	log         *logrus.Logger
}

func NewPaymentService(
	store Store,
	validator *AllocationValidator,
	notes *CreditNoteService,
	accounts *AccountService,
	receivables *ReceivableService,
	log *logrus.Logger,
) (*PaymentService, error) {
	if store == nil || validator == nil || notes == nil || accounts == nil || receivables == nil || log == nil {
		return nil, fmt.Errorf("payment service: %w", ErrNilDependency)
	}
	return &PaymentService{
		store:       store,
		validator:   validator,
		notes:       notes,
		accounts:    accounts,
		receivables: receivables,
		log:         log,
	}, nil
}

// =============================================================================
// SETTLEMENT (forward flow)
// =============================================================================

// Settle validates, creates the payment, and applies all dependent
// records. Any failure after the payment write triggers best-effort
// compensation and re-raises the original error.
func (s *PaymentService) Settle(ctx context.Context, req SettlementRequest) (*Payment, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireCreate(scope); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrInvalidAllocation)
	}

	sg := newSaga(s.log.WithFields(logrus.Fields{
		"site":   scope.SiteID,
		"vendor": req.VendorID,
	}))

	// --- Validating: all rules run before any write. ---
	allocations := req.CreditNoteAllocations
	if len(allocations) > 0 {
		adjusted, changed, err := s.validator.CheckBalances(ctx, allocations)
		if err != nil {
			return nil, err
		}
		if changed != nil && !req.AllowBalanceAdjustment {
			return nil, changed
		}
		allocations = adjusted

		if err := s.validator.ValidateSufficiency(ctx, allocations); err != nil {
			return nil, err
		}
		if err := s.validator.ValidatePriority(ctx, req.VendorID, allocations); err != nil {
			return nil, err
		}
	}

	creditNoteAmount := decimal.Zero
	for _, amount := range allocations {
		if amount.IsPositive() {
			creditNoteAmount = creditNoteAmount.Add(amount)
		}
	}

	accountAmount := req.Amount.Sub(creditNoteAmount)
	if accountAmount.IsNegative() {
		return nil, fmt.Errorf("%w: credit note amount %s exceeds payment amount %s",
			ErrInvalidAllocation, creditNoteAmount.StringFixed(2), req.Amount.StringFixed(2))
	}
	if accountAmount.IsPositive() {
		if req.AccountID == "" {
			return nil, ErrAccountRequired
		}
		// Runs even with no notes referenced: spending account money
		// while any positive-balance note sits unused is a violation.
		if err := s.validator.ValidateFullUtilization(ctx, req.VendorID, allocations); err != nil {
			return nil, err
		}
	}

	// --- Committing: the payment row is the commit point. ---
	sg.enter(stateCommittingPayment)
	payment, err := s.store.CreatePayment(ctx, Payment{
		SiteID:      scope.SiteID,
		VendorID:    req.VendorID,
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		PaymentDate: req.PaymentDate,
		Reference:   req.Reference,
		Notes:       req.Notes,
	})
	if err != nil {
		return nil, err
	}
	sg.push("delete payment", func(ctx context.Context) error {
		return s.store.DeletePayment(ctx, scope.SiteID, payment.ID)
	})

	if err := s.applyDependents(ctx, sg, scope, payment, req, allocations, accountAmount); err != nil {
		sg.compensate(ctx)
		return nil, err
	}

	sg.enter(stateDone)
	return s.Get(ctx, payment.ID)
}

// applyDependents writes everything downstream of the payment row.
func (s *PaymentService) applyDependents(
	ctx context.Context,
	sg *saga,
	scope Scope,
	payment *Payment,
	req SettlementRequest,
	allocations map[string]decimal.Decimal,
	accountAmount decimal.Decimal,
) error {

	// --- Applying(CreditNotes): one usage row per allocated note. ---
	sg.enter(stateApplyingCreditNotes)
	for noteID, amount := range allocations {
		if !amount.IsPositive() {
			continue
		}

		usage, err := s.store.CreateUsage(ctx, CreditNoteUsage{
			SiteID:       scope.SiteID,
			CreditNoteID: noteID,
			PaymentID:    payment.ID,
			VendorID:     req.VendorID,
			UsedAmount:   amount,
			UsedDate:     req.PaymentDate,
			Description:  fmt.Sprintf("Applied to payment %s", payment.ID),
		})
		if err != nil {
			return err
		}
		usageID, noteID := usage.ID, noteID
		sg.push("delete credit note usage", func(ctx context.Context) error {
			if err := s.store.DeleteUsage(ctx, scope.SiteID, usageID); err != nil {
				return err
			}
			return s.notes.ReactivateIfRestored(ctx, noteID)
		})

		if err := s.notes.RefreshStatus(ctx, noteID); err != nil {
			return err
		}
	}

	// --- Applying(Ledger): one debit entry for the account portion. ---
	if accountAmount.IsPositive() {
		sg.enter(stateApplyingLedger)

		entry, err := s.store.AppendEntry(ctx, LedgerEntry{
			SiteID:      scope.SiteID,
			AccountID:   req.AccountID,
			Type:        EntryDebit,
			Amount:      accountAmount,
			Date:        req.PaymentDate,
			Description: fmt.Sprintf("Payment to %s", s.vendorName(ctx, scope.SiteID, req.VendorID)),
			Reference:   req.Reference,
			Notes:       req.Notes,
			Category:    CategoryPayment,
			VendorID:    req.VendorID,
			PaymentID:   payment.ID,
		})
		if err != nil {
			return err
		}
		entryID := entry.ID
		sg.push("delete ledger entry", func(ctx context.Context) error {
			if err := s.store.DeleteEntry(ctx, scope.SiteID, entryID); err != nil {
				return err
			}
			return s.accounts.RefreshBalance(ctx, req.AccountID)
		})

		if err := s.accounts.RefreshBalance(ctx, req.AccountID); err != nil {
			return err
		}
	}

	// --- Applying(Allocations): one row per receivable. ---
	sg.enter(stateApplyingAllocations)
	var allocationIDs []string

	createAllocation := func(a PaymentAllocation) error {
		created, err := s.store.CreateAllocation(ctx, a)
		if err != nil {
			return err
		}
		allocationIDs = append(allocationIDs, created.ID)
		id := created.ID
		sg.push("delete payment allocation", func(ctx context.Context) error {
			return s.store.DeleteAllocation(ctx, scope.SiteID, id)
		})
		return nil
	}

	for deliveryID, amount := range req.DeliveryAllocations {
		if !amount.IsPositive() {
			continue
		}
		if err := createAllocation(PaymentAllocation{
			SiteID:          scope.SiteID,
			PaymentID:       payment.ID,
			DeliveryID:      deliveryID,
			AllocatedAmount: amount,
		}); err != nil {
			return err
		}
	}
	for bookingID, amount := range req.ServiceBookingAllocations {
		if !amount.IsPositive() {
			continue
		}
		if err := createAllocation(PaymentAllocation{
			SiteID:          scope.SiteID,
			PaymentID:       payment.ID,
			BookingID:       bookingID,
			AllocatedAmount: amount,
		}); err != nil {
			return err
		}
	}

	if len(allocationIDs) > 0 {
		if err := s.store.SetPaymentAllocationIDs(ctx, scope.SiteID, payment.ID, allocationIDs); err != nil {
			return err
		}
	}
	return nil
}

// vendorName is display-only; a missing vendor never fails a settlement.
func (s *PaymentService) vendorName(ctx context.Context, siteID, vendorID string) string {
	vendor, err := s.store.GetVendor(ctx, siteID, vendorID)
	if err != nil || vendor == nil {
		return "Unknown Vendor"
	}
	if vendor.ContactPerson != "" {
		return vendor.ContactPerson
	}
	return vendor.Name
}

// =============================================================================
// READS
// =============================================================================

// Get returns one payment. NotFound for missing or out-of-scope ids.
func (s *PaymentService) Get(ctx context.Context, paymentID string) (*Payment, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	payment, err := s.store.GetPayment(ctx, scope.SiteID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// List returns all payments for the caller's site, newest first.
func (s *PaymentService) List(ctx context.Context) ([]Payment, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, scope.SiteID)
}

// Allocations returns the payment's allocation rows.
func (s *PaymentService) Allocations(ctx context.Context, paymentID string) ([]PaymentAllocation, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.AllocationsByPayment(ctx, scope.SiteID, paymentID)
}

// =============================================================================
// DELETION (reverse flow)
// =============================================================================

// Delete removes a payment and un-records everything it produced:
// usage rows (restoring each note's derived balance and status), the
// matching debit ledger entry, and the payment itself. Refused while
// allocation rows exist - callers must unallocate first.
//
// Cleanup of usages and ledger entries is best effort, matching the
// forward flow's compensation: sub-failures are logged and the
// deletion proceeds.
func (s *PaymentService) Delete(ctx context.Context, paymentID string) error {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return err
	}
	if err := requireDelete(scope); err != nil {
		return err
	}

	payment, err := s.store.GetPayment(ctx, scope.SiteID, paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return ErrPaymentNotFound
	}

	allocations, err := s.store.AllocationsByPayment(ctx, scope.SiteID, paymentID)
	if err != nil {
		return err
	}
	if len(allocations) > 0 {
		return ErrPaymentHasAllocations
	}

	log := s.log.WithFields(logrus.Fields{"site": scope.SiteID, "payment": paymentID})

	// Un-record credit note usage.
	usages, err := s.store.UsagesByPayment(ctx, scope.SiteID, paymentID)
	if err != nil {
		log.Error("loading credit note usages for deletion failed: " + err.Error())
	} else {
		for _, usage := range usages {
			if err := s.store.DeleteUsage(ctx, scope.SiteID, usage.ID); err != nil {
				log.Error("deleting credit note usage failed: " + err.Error())
				continue
			}
			if err := s.notes.ReactivateIfRestored(ctx, usage.CreditNoteID); err != nil {
				log.Error("restoring credit note status failed: " + err.Error())
			}
		}
	}

	// Remove the matching debit entries and refresh affected accounts.
	entries, err := s.store.EntriesByPayment(ctx, scope.SiteID, paymentID)
	if err != nil {
		log.Error("loading ledger entries for deletion failed: " + err.Error())
	} else {
		touched := make(map[string]struct{})
		for _, entry := range entries {
			if err := s.store.DeleteEntry(ctx, scope.SiteID, entry.ID); err != nil {
				log.Error("deleting ledger entry failed: " + err.Error())
				continue
			}
			touched[entry.AccountID] = struct{}{}
		}
		for accountID := range touched {
			if err := s.accounts.RefreshBalance(ctx, accountID); err != nil {
				log.Error("refreshing account balance failed: " + err.Error())
			}
		}
	}

	return s.store.DeletePayment(ctx, scope.SiteID, paymentID)
}
