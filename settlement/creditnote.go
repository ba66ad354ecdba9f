/*
creditnote.go - Credit note ledger with derived balances

PURPOSE:
  A credit note's remaining value is never stored. It is derived as
  credit_amount - sum(usage rows), recomputed on every read that needs
  it. Status transitions to fully_used when the derived balance hits
  zero; the note itself is never deleted - it remains an immutable
  record of the original grant.

ANOMALY HANDLING:
  If the subtraction would go negative the note was over-allocated
  (a race two settlements lost together). That is a recoverable
  anomaly, not a hard failure: the balance clamps to zero and a
  warning is logged with the raw value.
*/
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CreditNoteService maintains the per-vendor credit note ledger and its
// usage sub-ledger.
type CreditNoteService struct {
	store Store
	log   *logrus.Logger
}

func NewCreditNoteService(store Store, log *logrus.Logger) (*CreditNoteService, error) {
	if store == nil || log == nil {
		return nil, fmt.Errorf("credit note service: %w", ErrNilDependency)
	}
	return &CreditNoteService{store: store, log: log}, nil
}

// ActualBalance derives the note's remaining value from its usage rows.
// Clamps to zero and logs a warning when usage exceeds the grant.
func (s *CreditNoteService) ActualBalance(ctx context.Context, creditNoteID string) (decimal.Decimal, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	note, err := s.store.GetCreditNote(ctx, scope.SiteID, creditNoteID)
	if err != nil {
		return decimal.Zero, err
	}
	if note == nil {
		return decimal.Zero, ErrCreditNoteNotFound
	}
	return s.balanceOf(ctx, scope.SiteID, note)
}

func (s *CreditNoteService) balanceOf(ctx context.Context, siteID string, note *CreditNote) (decimal.Decimal, error) {
	usages, err := s.store.UsagesByCreditNote(ctx, siteID, note.ID)
	if err != nil {
		return decimal.Zero, err
	}

	used := decimal.Zero
	for _, u := range usages {
		used = used.Add(u.UsedAmount)
	}

	balance := note.CreditAmount.Sub(used)
	if balance.IsNegative() {
		s.log.WithFields(logrus.Fields{
			"credit_note": note.ID,
			"balance":     balance.String(),
		}).Warn("credit note over-used, clamping derived balance to zero")
		return decimal.Zero, nil
	}
	return balance, nil
}

// Get returns one credit note with its derived balance populated.
func (s *CreditNoteService) Get(ctx context.Context, creditNoteID string) (*CreditNote, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	note, err := s.store.GetCreditNote(ctx, scope.SiteID, creditNoteID)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, ErrCreditNoteNotFound
	}

	balance, err := s.balanceOf(ctx, scope.SiteID, note)
	if err != nil {
		return nil, err
	}
	note.Balance = balance
	return note, nil
}

// ActiveByVendor lists the vendor's active notes with derived balances,
// dropping notes whose balance has reached zero. This is the set the
// allocation rules run against.
func (s *CreditNoteService) ActiveByVendor(ctx context.Context, vendorID string) ([]CreditNote, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	notes, err := s.store.CreditNotesByVendor(ctx, scope.SiteID, vendorID, CreditNoteActive)
	if err != nil {
		return nil, err
	}

	available := make([]CreditNote, 0, len(notes))
	for i := range notes {
		balance, err := s.balanceOf(ctx, scope.SiteID, &notes[i])
		if err != nil {
			return nil, err
		}
		if balance.IsPositive() {
			notes[i].Balance = balance
			available = append(available, notes[i])
		}
	}
	return available, nil
}

// Create issues a new credit note (from a vendor return).
func (s *CreditNoteService) Create(ctx context.Context, note CreditNote) (*CreditNote, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireCreate(scope); err != nil {
		return nil, err
	}
	if !note.CreditAmount.IsPositive() {
		return nil, fmt.Errorf("%w: credit amount must be positive", ErrInvalidAllocation)
	}

	note.SiteID = scope.SiteID
	if note.Status == "" {
		note.Status = CreditNoteActive
	}
	return s.store.CreateCreditNote(ctx, note)
}

// RefreshStatus re-derives the balance after a usage was recorded and
// flips the note to fully_used once exhausted. Exhaustion is terminal
// for allocation purposes; only the reverse flow of a payment deletion
// can reactivate a note (see ReactivateIfRestored).
func (s *CreditNoteService) RefreshStatus(ctx context.Context, creditNoteID string) error {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return err
	}

	note, err := s.store.GetCreditNote(ctx, scope.SiteID, creditNoteID)
	if err != nil {
		return err
	}
	if note == nil {
		return ErrCreditNoteNotFound
	}

	balance, err := s.balanceOf(ctx, scope.SiteID, note)
	if err != nil {
		return err
	}
	if !balance.IsPositive() && note.Status == CreditNoteActive {
		return s.store.SetCreditNoteStatus(ctx, scope.SiteID, note.ID, CreditNoteFullyUsed)
	}
	return nil
}

// ReactivateIfRestored flips a fully_used note back to active when its
// derived balance is positive again. Used only after un-recording a
// deleted payment's usage rows; expired notes stay expired.
func (s *CreditNoteService) ReactivateIfRestored(ctx context.Context, creditNoteID string) error {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return err
	}

	note, err := s.store.GetCreditNote(ctx, scope.SiteID, creditNoteID)
	if err != nil {
		return err
	}
	if note == nil {
		return ErrCreditNoteNotFound
	}

	balance, err := s.balanceOf(ctx, scope.SiteID, note)
	if err != nil {
		return err
	}
	if balance.IsPositive() && note.Status == CreditNoteFullyUsed {
		return s.store.SetCreditNoteStatus(ctx, scope.SiteID, note.ID, CreditNoteActive)
	}
	return nil
}

// UsagesByPayment returns the usage rows a payment produced.
func (s *CreditNoteService) UsagesByPayment(ctx context.Context, paymentID string) ([]CreditNoteUsage, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.UsagesByPayment(ctx, scope.SiteID, paymentID)
}
