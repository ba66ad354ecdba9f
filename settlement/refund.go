/*
refund.go - Vendor refunds into an account

PURPOSE:
  A refund is the mirror image of the account half of a settlement:
  one refund record plus one credit ledger entry tagged with the
  refund id, followed by a cached-balance refresh. Deleting a refund
  un-records the credit entry the same way payment deletion un-records
  its debit.
*/
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type RefundRequest struct {
	VendorID     string
	AccountID    string
	RefundAmount decimal.Decimal
	RefundDate   time.Time
	Reference    string
	Notes        string
}

// RefundService records money coming back from vendors.
type RefundService struct {
	store    Store
	accounts *AccountService
	log      *logrus.Logger
}

func NewRefundService(store Store, accounts *AccountService, log *logrus.Logger) (*RefundService, error) {
	if store == nil || accounts == nil || log == nil {
		return nil, fmt.Errorf("refund service: %w", ErrNilDependency)
	}
	return &RefundService{store: store, accounts: accounts, log: log}, nil
}

// Create writes the refund record and its credit ledger entry. The
// entry write is compensated by deleting the refund record if it
// fails, so a refund never exists without its ledger effect.
func (s *RefundService) Create(ctx context.Context, req RefundRequest) (*VendorRefund, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireCreate(scope); err != nil {
		return nil, err
	}
	if !req.RefundAmount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive", ErrInvalidAllocation)
	}
	if req.AccountID == "" {
		return nil, ErrAccountRequired
	}

	account, err := s.store.GetAccount(ctx, scope.SiteID, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	refund, err := s.store.CreateRefund(ctx, VendorRefund{
		SiteID:       scope.SiteID,
		VendorID:     req.VendorID,
		AccountID:    req.AccountID,
		RefundAmount: req.RefundAmount,
		RefundDate:   req.RefundDate,
		Reference:    req.Reference,
		Notes:        req.Notes,
	})
	if err != nil {
		return nil, err
	}

	_, err = s.store.AppendEntry(ctx, LedgerEntry{
		SiteID:      scope.SiteID,
		AccountID:   req.AccountID,
		Type:        EntryCredit,
		Amount:      req.RefundAmount,
		Date:        req.RefundDate,
		Description: fmt.Sprintf("Refund from %s", s.vendorName(ctx, scope.SiteID, req.VendorID)),
		Reference:   req.Reference,
		Notes:       req.Notes,
		Category:    CategoryRefund,
		VendorID:    req.VendorID,
		RefundID:    refund.ID,
	})
	if err != nil {
		if cleanupErr := s.store.DeleteRefund(ctx, scope.SiteID, refund.ID); cleanupErr != nil {
			s.log.WithFields(logrus.Fields{
				"site":   scope.SiteID,
				"refund": refund.ID,
			}).Error("refund compensation failed: " + cleanupErr.Error())
		}
		return nil, err
	}

	// The refund is durably recorded at this point; a stale cached
	// balance is tolerable and self-heals on the next refresh.
	if err := s.accounts.RefreshBalance(ctx, req.AccountID); err != nil {
		s.log.WithFields(logrus.Fields{
			"site":    scope.SiteID,
			"account": req.AccountID,
			"refund":  refund.ID,
		}).Error("refreshing account balance failed: " + err.Error())
	}
	return refund, nil
}

// Delete un-records a refund: removes its credit entries, refreshes
// the affected account balances, then deletes the refund itself.
func (s *RefundService) Delete(ctx context.Context, refundID string) error {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return err
	}
	if err := requireDelete(scope); err != nil {
		return err
	}

	refund, err := s.store.GetRefund(ctx, scope.SiteID, refundID)
	if err != nil {
		return err
	}
	if refund == nil {
		return ErrRefundNotFound
	}

	entries, err := s.store.EntriesByRefund(ctx, scope.SiteID, refundID)
	if err != nil {
		return err
	}
	touched := make(map[string]struct{})
	for _, entry := range entries {
		if err := s.store.DeleteEntry(ctx, scope.SiteID, entry.ID); err != nil {
			return err
		}
		touched[entry.AccountID] = struct{}{}
	}
	for accountID := range touched {
		if err := s.accounts.RefreshBalance(ctx, accountID); err != nil {
			return err
		}
	}

	return s.store.DeleteRefund(ctx, scope.SiteID, refundID)
}

// List returns the site's refunds, newest first.
func (s *RefundService) List(ctx context.Context) ([]VendorRefund, error) {
	scope, err := ScopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListRefunds(ctx, scope.SiteID)
}

func (s *RefundService) vendorName(ctx context.Context, siteID, vendorID string) string {
	vendor, err := s.store.GetVendor(ctx, siteID, vendorID)
	if err != nil || vendor == nil {
		return "Unknown Vendor"
	}
	if vendor.ContactPerson != "" {
		return vendor.ContactPerson
	}
	return vendor.Name
}
