/*
balance.go - Account balance derivation from the ledger

PURPOSE:
  An account's balance is a pure function over its append-only ledger:
  opening_balance + sum(credits) - sum(debits). The stored
  current_balance field is only a denormalized cache, refreshed after
  every ledger mutation; nothing in the engine ever reads it as truth.

WHY DERIVED?
  Partial failures cannot drift a counter that does not exist. If a
  settlement dies halfway, compensation deletes its ledger entries and
  the next balance read is correct by construction.

SEE ALSO:
  - settle.go: calls RefreshBalance after every ledger write/delete
  - refund.go: same rule for the refund flow
*/
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// AccountService derives account balances and maintains the cached
// projection. Stateless given the ledger.
type AccountService struct {
	store Store
}

func NewAccountService(store Store) (*AccountService, error) {
	if store == nil {
		return nil, fmt.Errorf("account service: %w", ErrNilDependency)
	}
	return &AccountService{store: store}, nil
}

// CalculateBalance computes opening_balance + sum(credit) - sum(debit)
// over every ledger entry for the account. No side effects.
func (s *AccountService) CalculateBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	account, err := s.store.GetAccount(ctx, scope.SiteID, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if account == nil {
		return decimal.Zero, ErrAccountNotFound
	}

	entries, err := s.store.EntriesByAccount(ctx, scope.SiteID, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	balance := account.OpeningBalance
	for _, e := range entries {
		balance = balance.Add(e.Signed())
	}
	return balance, nil
}

// RefreshBalance recomputes the derived balance and persists it into
// the account's cached current_balance. Must be called after every
// mutation that touches the account's ledger.
func (s *AccountService) RefreshBalance(ctx context.Context, accountID string) error {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return err
	}

	balance, err := s.CalculateBalance(ctx, accountID)
	if err != nil {
		return err
	}
	return s.store.SetCurrentBalance(ctx, scope.SiteID, accountID, balance)
}

// Get returns one account with its cached balance. The cache is
// refreshed on write paths, so reads do not recompute.
func (s *AccountService) Get(ctx context.Context, accountID string) (*Account, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	account, err := s.store.GetAccount(ctx, scope.SiteID, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// List returns all accounts for the caller's site.
func (s *AccountService) List(ctx context.Context) ([]Account, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListAccounts(ctx, scope.SiteID)
}

// Entries returns the account's ledger entries, newest first.
func (s *AccountService) Entries(ctx context.Context, accountID string) ([]LedgerEntry, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	account, err := s.store.GetAccount(ctx, scope.SiteID, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return s.store.EntriesByAccount(ctx, scope.SiteID, accountID)
}
