/*
validate.go - Credit-note allocation ordering rules

PURPOSE:
  Rejects any settlement whose credit-note usage violates the vendor's
  ordering rules, BEFORE any record is written. The business intent:
  spend the oldest free money first, and never mix remaining free
  credit with cash payment.

RULES, IN ORDER:
  1. Sufficiency: each requested amount fits the note's freshly re-read
     derived balance. A lower fresh balance is NOT a hard failure: the
     validator computes a clamped allocation and raises the soft
     BalanceChangedError so the caller can confirm and resubmit with
     AllowBalanceAdjustment.
  2. Oldest-first: a note may be used partially only if no older unused
     note with a positive balance exists for the vendor. Hard failure.
  3. Exhaustion before account funds: when the payment also spends
     account money, every allocated note must be drained to its full
     balance and no positive-balance note may be left out. Hard failure.

CONCURRENCY:
  The fresh re-read in rule 1 is the engine's only defense against two
  settlements racing over the same notes. It is advisory, not a lock;
  the storage backend offers no optimistic tokens. Double-spend under
  true concurrency is a known, partially mitigated risk.
*/
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// AllocationValidator evaluates a requested credit-note allocation map
// against the vendor's current ledger state.
type AllocationValidator struct {
	notes *CreditNoteService
	store Store
}

func NewAllocationValidator(store Store, notes *CreditNoteService) (*AllocationValidator, error) {
	if store == nil || notes == nil {
		return nil, fmt.Errorf("allocation validator: %w", ErrNilDependency)
	}
	return &AllocationValidator{store: store, notes: notes}, nil
}

// shortRef mirrors the UI's display of a note: its reference if set,
// otherwise the id tail.
func shortRef(note *CreditNote) string {
	if note.Reference != "" {
		return note.Reference
	}
	id := note.ID
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return id
}

// CheckBalances re-reads every referenced note's derived balance and
// clamps stale amounts. Returns the (possibly adjusted) allocation map
// and, when anything moved, the details of the first adjustment.
func (v *AllocationValidator) CheckBalances(
	ctx context.Context,
	allocations map[string]decimal.Decimal,
) (map[string]decimal.Decimal, *BalanceChangedError, error) {

	adjusted := make(map[string]decimal.Decimal, len(allocations))
	var changed *BalanceChangedError

	for noteID, amount := range allocations {
		if !amount.IsPositive() {
			adjusted[noteID] = amount
			continue
		}

		fresh, err := v.notes.Get(ctx, noteID)
		if err != nil {
			return nil, nil, err
		}

		if amount.GreaterThan(fresh.Balance) {
			if changed == nil {
				changed = &BalanceChangedError{
					CreditNoteID: noteID,
					Reference:    shortRef(fresh),
					Requested:    amount,
					Available:    fresh.Balance,
				}
			}
			adjusted[noteID] = fresh.Balance
		} else {
			adjusted[noteID] = amount
		}
	}

	if changed != nil {
		changed.AdjustedAllocations = adjusted
	}
	return adjusted, changed, nil
}

// ValidateSufficiency hard-checks every allocation against the note's
// derived balance. Runs after CheckBalances, so it only fails when a
// balance moved again in between (or the caller bypassed the check).
func (v *AllocationValidator) ValidateSufficiency(
	ctx context.Context,
	allocations map[string]decimal.Decimal,
) error {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return err
	}

	for noteID, amount := range allocations {
		if !amount.IsPositive() {
			continue
		}

		note, err := v.notes.Get(ctx, noteID)
		if err != nil {
			return err
		}

		if amount.GreaterThan(note.Balance) {
			usages, err := v.store.UsagesByCreditNote(ctx, scope.SiteID, noteID)
			if err != nil {
				return err
			}
			used := decimal.Zero
			for _, u := range usages {
				used = used.Add(u.UsedAmount)
			}
			return &InsufficientCreditError{
				CreditNoteID: noteID,
				Reference:    shortRef(note),
				Requested:    amount,
				Available:    note.Balance,
				Original:     note.CreditAmount,
				AlreadyUsed:  used,
			}
		}
	}
	return nil
}

// ValidatePriority enforces the oldest-first rule: partial use of a
// note is allowed only when no older unused positive-balance note
// exists for the same vendor.
func (v *AllocationValidator) ValidatePriority(
	ctx context.Context,
	vendorID string,
	allocations map[string]decimal.Decimal,
) error {
	available, err := v.notes.ActiveByVendor(ctx, vendorID)
	if err != nil {
		return err
	}

	byID := make(map[string]*CreditNote, len(available))
	for i := range available {
		byID[available[i].ID] = &available[i]
	}

	for noteID, amount := range allocations {
		if !amount.IsPositive() {
			continue
		}
		note, ok := byID[noteID]
		if !ok {
			continue
		}
		if amount.GreaterThanOrEqual(note.Balance) {
			continue // fully drained, nothing to order against
		}

		// Partial use: every older note must already be in play.
		for i := range available {
			older := &available[i]
			if !older.IssueDate.Before(note.IssueDate) {
				continue
			}
			alloc, has := allocations[older.ID]
			unused := !has || !alloc.IsPositive()
			if unused && older.Balance.IsPositive() {
				return &PriorityViolationError{
					CreditNoteID: noteID,
					Reference:    shortRef(note),
					Rule:         "oldest_first",
					Detail: fmt.Sprintf(
						"cannot partially use credit note %s while older credit notes remain unused; use credit notes in chronological order (oldest first)",
						shortRef(note)),
				}
			}
		}
	}
	return nil
}

// ValidateFullUtilization enforces the exhaustion-before-account-funds
// rule. Called only when the payment spends account money: every
// allocated note must be used to its full balance and no
// positive-balance note may be skipped.
func (v *AllocationValidator) ValidateFullUtilization(
	ctx context.Context,
	vendorID string,
	allocations map[string]decimal.Decimal,
) error {
	available, err := v.notes.ActiveByVendor(ctx, vendorID)
	if err != nil {
		return err
	}

	for i := range available {
		note := &available[i]
		alloc, has := allocations[note.ID]

		if has && alloc.IsPositive() {
			if alloc.LessThan(note.Balance) {
				return &PriorityViolationError{
					CreditNoteID: note.ID,
					Reference:    shortRef(note),
					Rule:         "full_use_before_account",
					Detail: fmt.Sprintf(
						"credit note %s must be fully utilized (%s) before using account payment; currently allocated: %s",
						shortRef(note), note.Balance.StringFixed(2), alloc.StringFixed(2)),
				}
			}
			continue
		}

		// Unused note with positive balance while account money is spent.
		return &PriorityViolationError{
			CreditNoteID: note.ID,
			Reference:    shortRef(note),
			Rule:         "unused_notes_remain",
			Detail: fmt.Sprintf(
				"all available credit notes must be used before account payment; unused credit note: %s",
				shortRef(note)),
		}
	}
	return nil
}
