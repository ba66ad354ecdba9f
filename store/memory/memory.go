// Package memory provides an in-memory settlement.Store for tests and
// local development. Records are copied in and out so callers can never
// mutate stored state through aliased pointers.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sitewise/expense-engine/settlement"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex

	accounts    map[string]settlement.Account
	entries     map[string]settlement.LedgerEntry
	creditNotes map[string]settlement.CreditNote
	usages      map[string]settlement.CreditNoteUsage
	payments    map[string]settlement.Payment
	allocations map[string]settlement.PaymentAllocation
	deliveries  map[string]settlement.Delivery
	bookings    map[string]settlement.ServiceBooking
	vendors     map[string]settlement.Vendor
	refunds     map[string]settlement.VendorRefund
}

func New() *Store {
	return &Store{
		accounts:    make(map[string]settlement.Account),
		entries:     make(map[string]settlement.LedgerEntry),
		creditNotes: make(map[string]settlement.CreditNote),
		usages:      make(map[string]settlement.CreditNoteUsage),
		payments:    make(map[string]settlement.Payment),
		allocations: make(map[string]settlement.PaymentAllocation),
		deliveries:  make(map[string]settlement.Delivery),
		bookings:    make(map[string]settlement.ServiceBooking),
		vendors:     make(map[string]settlement.Vendor),
		refunds:     make(map[string]settlement.VendorRefund),
	}
}

func newID() string { return uuid.NewString() }

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Store) CreateAccount(_ context.Context, a settlement.Account) (*settlement.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = time.Now().UTC()
	m.accounts[a.ID] = a
	out := a
	return &out, nil
}

func (m *Store) GetAccount(_ context.Context, siteID, id string) (*settlement.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok || a.SiteID != siteID {
		return nil, nil
	}
	out := a
	return &out, nil
}

func (m *Store) ListAccounts(_ context.Context, siteID string) ([]settlement.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []settlement.Account
	for _, a := range m.accounts {
		if a.SiteID == siteID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Store) SetCurrentBalance(_ context.Context, siteID, id string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.SiteID != siteID {
		return settlement.ErrAccountNotFound
	}
	a.CurrentBalance = balance
	m.accounts[id] = a
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Store) AppendEntry(_ context.Context, e settlement.LedgerEntry) (*settlement.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now().UTC()
	m.entries[e.ID] = e
	out := e
	return &out, nil
}

func (m *Store) entriesWhere(siteID string, match func(settlement.LedgerEntry) bool) []settlement.LedgerEntry {
	var result []settlement.LedgerEntry
	for _, e := range m.entries {
		if e.SiteID == siteID && match(e) {
			result = append(result, e)
		}
	}
	// Newest first, matching the UI's transaction listing.
	sort.Slice(result, func(i, j int) bool { return result[i].Date.After(result[j].Date) })
	return result
}

func (m *Store) EntriesByAccount(_ context.Context, siteID, accountID string) ([]settlement.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesWhere(siteID, func(e settlement.LedgerEntry) bool { return e.AccountID == accountID }), nil
}

func (m *Store) EntriesByPayment(_ context.Context, siteID, paymentID string) ([]settlement.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesWhere(siteID, func(e settlement.LedgerEntry) bool { return e.PaymentID == paymentID }), nil
}

func (m *Store) EntriesByRefund(_ context.Context, siteID, refundID string) ([]settlement.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesWhere(siteID, func(e settlement.LedgerEntry) bool { return e.RefundID == refundID }), nil
}

func (m *Store) DeleteEntry(_ context.Context, siteID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.SiteID != siteID {
		return nil
	}
	delete(m.entries, id)
	return nil
}

// =============================================================================
// CREDIT NOTES + USAGE
// =============================================================================

func (m *Store) CreateCreditNote(_ context.Context, n settlement.CreditNote) (*settlement.CreditNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = newID()
	}
	n.CreatedAt = time.Now().UTC()
	m.creditNotes[n.ID] = n
	out := n
	return &out, nil
}

func (m *Store) GetCreditNote(_ context.Context, siteID, id string) (*settlement.CreditNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.creditNotes[id]
	if !ok || n.SiteID != siteID {
		return nil, nil
	}
	out := n
	return &out, nil
}

func (m *Store) CreditNotesByVendor(_ context.Context, siteID, vendorID string, status settlement.CreditNoteStatus) ([]settlement.CreditNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []settlement.CreditNote
	for _, n := range m.creditNotes {
		if n.SiteID != siteID || n.VendorID != vendorID {
			continue
		}
		if status != "" && n.Status != status {
			continue
		}
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].IssueDate.Before(result[j].IssueDate) })
	return result, nil
}

func (m *Store) SetCreditNoteStatus(_ context.Context, siteID, id string, status settlement.CreditNoteStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.creditNotes[id]
	if !ok || n.SiteID != siteID {
		return settlement.ErrCreditNoteNotFound
	}
	n.Status = status
	m.creditNotes[id] = n
	return nil
}

func (m *Store) CreateUsage(_ context.Context, u settlement.CreditNoteUsage) (*settlement.CreditNoteUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = newID()
	}
	u.CreatedAt = time.Now().UTC()
	m.usages[u.ID] = u
	out := u
	return &out, nil
}

func (m *Store) usagesWhere(siteID string, match func(settlement.CreditNoteUsage) bool) []settlement.CreditNoteUsage {
	var result []settlement.CreditNoteUsage
	for _, u := range m.usages {
		if u.SiteID == siteID && match(u) {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

func (m *Store) UsagesByCreditNote(_ context.Context, siteID, creditNoteID string) ([]settlement.CreditNoteUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usagesWhere(siteID, func(u settlement.CreditNoteUsage) bool { return u.CreditNoteID == creditNoteID }), nil
}

func (m *Store) UsagesByPayment(_ context.Context, siteID, paymentID string) ([]settlement.CreditNoteUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usagesWhere(siteID, func(u settlement.CreditNoteUsage) bool { return u.PaymentID == paymentID }), nil
}

func (m *Store) DeleteUsage(_ context.Context, siteID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usages[id]
	if !ok || u.SiteID != siteID {
		return nil
	}
	delete(m.usages, id)
	return nil
}

// =============================================================================
// PAYMENTS + ALLOCATIONS
// =============================================================================

func (m *Store) CreatePayment(_ context.Context, p settlement.Payment) (*settlement.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = time.Now().UTC()
	m.payments[p.ID] = p
	out := p
	return &out, nil
}

func (m *Store) GetPayment(_ context.Context, siteID, id string) (*settlement.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok || p.SiteID != siteID {
		return nil, nil
	}
	out := p
	out.AllocationIDs = append([]string(nil), p.AllocationIDs...)
	return &out, nil
}

func (m *Store) ListPayments(_ context.Context, siteID string) ([]settlement.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []settlement.Payment
	for _, p := range m.payments {
		if p.SiteID == siteID {
			p.AllocationIDs = append([]string(nil), p.AllocationIDs...)
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PaymentDate.After(result[j].PaymentDate) })
	return result, nil
}

func (m *Store) SetPaymentAllocationIDs(_ context.Context, siteID, id string, allocationIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.SiteID != siteID {
		return settlement.ErrPaymentNotFound
	}
	p.AllocationIDs = append([]string(nil), allocationIDs...)
	m.payments[id] = p
	return nil
}

func (m *Store) DeletePayment(_ context.Context, siteID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.SiteID != siteID {
		return nil
	}
	delete(m.payments, id)
	return nil
}

func (m *Store) CreateAllocation(_ context.Context, a settlement.PaymentAllocation) (*settlement.PaymentAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = time.Now().UTC()
	m.allocations[a.ID] = a
	out := a
	return &out, nil
}

func (m *Store) allocationsWhere(siteID string, match func(settlement.PaymentAllocation) bool) []settlement.PaymentAllocation {
	var result []settlement.PaymentAllocation
	for _, a := range m.allocations {
		if a.SiteID == siteID && match(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func (m *Store) AllocationsByPayment(_ context.Context, siteID, paymentID string) ([]settlement.PaymentAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocationsWhere(siteID, func(a settlement.PaymentAllocation) bool { return a.PaymentID == paymentID }), nil
}

func (m *Store) AllocationsByDelivery(_ context.Context, siteID, deliveryID string) ([]settlement.PaymentAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocationsWhere(siteID, func(a settlement.PaymentAllocation) bool { return a.DeliveryID == deliveryID }), nil
}

func (m *Store) AllocationsByBooking(_ context.Context, siteID, bookingID string) ([]settlement.PaymentAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocationsWhere(siteID, func(a settlement.PaymentAllocation) bool { return a.BookingID == bookingID }), nil
}

func (m *Store) DeleteAllocation(_ context.Context, siteID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocations[id]
	if !ok || a.SiteID != siteID {
		return nil
	}
	delete(m.allocations, id)
	return nil
}

// =============================================================================
// RECEIVABLES
// =============================================================================

func (m *Store) CreateDelivery(_ context.Context, d settlement.Delivery) (*settlement.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = newID()
	}
	d.CreatedAt = time.Now().UTC()
	m.deliveries[d.ID] = d
	out := d
	return &out, nil
}

func (m *Store) GetDelivery(_ context.Context, siteID, id string) (*settlement.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok || d.SiteID != siteID {
		return nil, nil
	}
	out := d
	return &out, nil
}

func (m *Store) ListDeliveries(_ context.Context, siteID string) ([]settlement.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []settlement.Delivery
	for _, d := range m.deliveries {
		if d.SiteID == siteID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DeliveryDate.After(result[j].DeliveryDate) })
	return result, nil
}

func (m *Store) CreateServiceBooking(_ context.Context, b settlement.ServiceBooking) (*settlement.ServiceBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = newID()
	}
	b.CreatedAt = time.Now().UTC()
	m.bookings[b.ID] = b
	out := b
	return &out, nil
}

func (m *Store) GetServiceBooking(_ context.Context, siteID, id string) (*settlement.ServiceBooking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok || b.SiteID != siteID {
		return nil, nil
	}
	out := b
	return &out, nil
}

func (m *Store) ListServiceBookings(_ context.Context, siteID string) ([]settlement.ServiceBooking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []settlement.ServiceBooking
	for _, b := range m.bookings {
		if b.SiteID == siteID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// =============================================================================
// VENDORS + REFUNDS
// =============================================================================

func (m *Store) CreateVendor(_ context.Context, v settlement.Vendor) (*settlement.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = newID()
	}
	v.CreatedAt = time.Now().UTC()
	m.vendors[v.ID] = v
	out := v
	return &out, nil
}

func (m *Store) GetVendor(_ context.Context, siteID, id string) (*settlement.Vendor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vendors[id]
	if !ok || v.SiteID != siteID {
		return nil, nil
	}
	out := v
	return &out, nil
}

func (m *Store) ListVendors(_ context.Context, siteID string) ([]settlement.Vendor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []settlement.Vendor
	for _, v := range m.vendors {
		if v.SiteID == siteID {
			result = append(result, v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Store) CreateRefund(_ context.Context, r settlement.VendorRefund) (*settlement.VendorRefund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = time.Now().UTC()
	m.refunds[r.ID] = r
	out := r
	return &out, nil
}

func (m *Store) GetRefund(_ context.Context, siteID, id string) (*settlement.VendorRefund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.refunds[id]
	if !ok || r.SiteID != siteID {
		return nil, nil
	}
	out := r
	return &out, nil
}

func (m *Store) ListRefunds(_ context.Context, siteID string) ([]settlement.VendorRefund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []settlement.VendorRefund
	for _, r := range m.refunds {
		if r.SiteID == siteID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RefundDate.After(result[j].RefundDate) })
	return result, nil
}

func (m *Store) DeleteRefund(_ context.Context, siteID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok || r.SiteID != siteID {
		return nil
	}
	delete(m.refunds, id)
	return nil
}
