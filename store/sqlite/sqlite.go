/*
Package sqlite provides the durable SQLite-backed settlement.Store.

PURPOSE:
  Implements every record collection the settlement engine consumes
  (accounts, ledger entries, credit notes, usage rows, payments,
  allocations, deliveries, service bookings, vendors, refunds) over
  database/sql. The same patterns apply to PostgreSQL with only minor
  dialect differences.

STORAGE DISCIPLINE:
  - Financial rows (ledger entries, usage, allocations) are never
    UPDATEd. They are created once and removed only by compensation or
    the symmetric delete flows.
  - Accounts expose exactly one mutable column, the cached
    current_balance projection. The ledger remains the source of truth.
  - A unique index enforces one usage row per (credit note, payment).
  - Every query filters by site_id; cross-site reads are impossible at
    the SQL level.

AMOUNTS:
  Stored as decimal strings (TEXT) and parsed with shopspring/decimal.
  No floating point anywhere near money.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/sitewise.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - settlement/store.go: Interface definitions
  - store/memory: In-memory implementation used by tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/sitewise/expense-engine/settlement"
)

// Store implements settlement.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'bank',
		opening_balance TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_site ON accounts(site_id);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		entry_type TEXT NOT NULL CHECK (entry_type IN ('credit', 'debit')),
		amount TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		description TEXT,
		reference TEXT,
		notes TEXT,
		category TEXT NOT NULL,
		vendor_id TEXT,
		payment_id TEXT,
		refund_id TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_site_account
		ON ledger_entries(site_id, account_id, entry_date DESC);
	CREATE INDEX IF NOT EXISTS idx_ledger_payment
		ON ledger_entries(site_id, payment_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_refund
		ON ledger_entries(site_id, refund_id);

	CREATE TABLE IF NOT EXISTS credit_notes (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		credit_amount TEXT NOT NULL,
		issue_date TEXT NOT NULL,
		reference TEXT,
		reason TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credit_notes_vendor
		ON credit_notes(site_id, vendor_id, status);

	CREATE TABLE IF NOT EXISTS credit_note_usage (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		credit_note_id TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		vendor_id TEXT,
		used_amount TEXT NOT NULL,
		used_date TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_note_payment
		ON credit_note_usage(credit_note_id, payment_id);
	CREATE INDEX IF NOT EXISTS idx_usage_payment
		ON credit_note_usage(site_id, payment_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		account_id TEXT,
		amount TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		reference TEXT,
		notes TEXT,
		allocation_ids_json TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_site
		ON payments(site_id, payment_date DESC);

	CREATE TABLE IF NOT EXISTS payment_allocations (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		delivery_id TEXT,
		booking_id TEXT,
		allocated_amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		CHECK ((delivery_id IS NOT NULL AND delivery_id != '')
			OR (booking_id IS NOT NULL AND booking_id != ''))
	);
	CREATE INDEX IF NOT EXISTS idx_allocations_payment
		ON payment_allocations(site_id, payment_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_delivery
		ON payment_allocations(site_id, delivery_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_booking
		ON payment_allocations(site_id, booking_id);

	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		delivery_date TEXT NOT NULL,
		reference TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_site
		ON deliveries(site_id, delivery_date DESC);

	CREATE TABLE IF NOT EXISTS service_bookings (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		percent_completed TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_site ON service_bookings(site_id);

	CREATE TABLE IF NOT EXISTS vendors (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		name TEXT NOT NULL,
		contact_person TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vendors_site ON vendors(site_id);

	CREATE TABLE IF NOT EXISTS vendor_refunds (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		refund_amount TEXT NOT NULL,
		refund_date TEXT NOT NULL,
		reference TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_refunds_site
		ON vendor_refunds(site_id, refund_date DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func newID() string { return uuid.NewString() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad amount %q: %w", s, err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a settlement.Account) (*settlement.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, site_id, name, type, opening_balance, current_balance, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SiteID, a.Name, a.Type,
		a.OpeningBalance.String(), a.CurrentBalance.String(), a.IsActive,
		formatTime(a.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, siteID, id string) (*settlement.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, name, type, opening_balance, current_balance, is_active, created_at
		FROM accounts WHERE id = ? AND site_id = ?`, id, siteID)
	return scanAccount(row)
}

func (s *Store) ListAccounts(ctx context.Context, siteID string) ([]settlement.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, name, type, opening_balance, current_balance, is_active, created_at
		FROM accounts WHERE site_id = ? ORDER BY name ASC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *Store) SetCurrentBalance(ctx context.Context, siteID, id string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET current_balance = ? WHERE id = ? AND site_id = ?`,
		balance.String(), id, siteID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return settlement.ErrAccountNotFound
	}
	return nil
}

func scanAccount(r rowScanner) (*settlement.Account, error) {
	var a settlement.Account
	var opening, current, createdAt string
	err := r.Scan(&a.ID, &a.SiteID, &a.Name, &a.Type, &opening, &current, &a.IsActive, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.OpeningBalance, err = parseAmount(opening); err != nil {
		return nil, err
	}
	if a.CurrentBalance, err = parseAmount(current); err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

const ledgerColumns = `id, site_id, account_id, entry_type, amount, entry_date,
	description, reference, notes, category, vendor_id, payment_id, refund_id, created_at`

func (s *Store) AppendEntry(ctx context.Context, e settlement.LedgerEntry) (*settlement.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SiteID, e.AccountID, string(e.Type), e.Amount.String(),
		formatTime(e.Date), e.Description, e.Reference, e.Notes,
		string(e.Category), e.VendorID, e.PaymentID, e.RefundID,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return &e, nil
}

func (s *Store) queryEntries(ctx context.Context, where string, args ...any) ([]settlement.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE `+where+` ORDER BY entry_date DESC, created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.LedgerEntry
	for rows.Next() {
		var e settlement.LedgerEntry
		var entryType, amount, entryDate, category, createdAt string
		if err := rows.Scan(&e.ID, &e.SiteID, &e.AccountID, &entryType, &amount,
			&entryDate, &e.Description, &e.Reference, &e.Notes, &category,
			&e.VendorID, &e.PaymentID, &e.RefundID, &createdAt); err != nil {
			return nil, err
		}
		e.Type = settlement.EntryType(entryType)
		e.Category = settlement.EntryCategory(category)
		if e.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		e.Date = parseTime(entryDate)
		e.CreatedAt = parseTime(createdAt)
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) EntriesByAccount(ctx context.Context, siteID, accountID string) ([]settlement.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEntries(ctx, "site_id = ? AND account_id = ?", siteID, accountID)
}

func (s *Store) EntriesByPayment(ctx context.Context, siteID, paymentID string) ([]settlement.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEntries(ctx, "site_id = ? AND payment_id = ?", siteID, paymentID)
}

func (s *Store) EntriesByRefund(ctx context.Context, siteID, refundID string) ([]settlement.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEntries(ctx, "site_id = ? AND refund_id = ?", siteID, refundID)
}

func (s *Store) DeleteEntry(ctx context.Context, siteID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM ledger_entries WHERE id = ? AND site_id = ?`, id, siteID)
	return err
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

const creditNoteColumns = `id, site_id, vendor_id, credit_amount, issue_date, reference, reason, status, created_at`

func (s *Store) CreateCreditNote(ctx context.Context, n settlement.CreditNote) (*settlement.CreditNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = newID()
	}
	if n.Status == "" {
		n.Status = settlement.CreditNoteActive
	}
	n.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_notes (`+creditNoteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.SiteID, n.VendorID, n.CreditAmount.String(),
		formatTime(n.IssueDate), n.Reference, n.Reason, string(n.Status),
		formatTime(n.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credit note: %w", err)
	}
	return &n, nil
}

func scanCreditNote(r rowScanner) (*settlement.CreditNote, error) {
	var n settlement.CreditNote
	var amount, issueDate, status, createdAt string
	err := r.Scan(&n.ID, &n.SiteID, &n.VendorID, &amount, &issueDate,
		&n.Reference, &n.Reason, &status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if n.CreditAmount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	n.IssueDate = parseTime(issueDate)
	n.Status = settlement.CreditNoteStatus(status)
	n.CreatedAt = parseTime(createdAt)
	return &n, nil
}

func (s *Store) GetCreditNote(ctx context.Context, siteID, id string) (*settlement.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT `+creditNoteColumns+` FROM credit_notes
		WHERE id = ? AND site_id = ?`, id, siteID)
	return scanCreditNote(row)
}

func (s *Store) CreditNotesByVendor(ctx context.Context, siteID, vendorID string, status settlement.CreditNoteStatus) ([]settlement.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + creditNoteColumns + ` FROM credit_notes
		WHERE site_id = ? AND vendor_id = ?`
	args := []any{siteID, vendorID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY issue_date ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.CreditNote
	for rows.Next() {
		n, err := scanCreditNote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

func (s *Store) SetCreditNoteStatus(ctx context.Context, siteID, id string, status settlement.CreditNoteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE credit_notes SET status = ? WHERE id = ? AND site_id = ?`,
		string(status), id, siteID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return settlement.ErrCreditNoteNotFound
	}
	return nil
}

// =============================================================================
// CREDIT NOTE USAGE
// =============================================================================

const usageColumns = `id, site_id, credit_note_id, payment_id, vendor_id, used_amount, used_date, description, created_at`

func (s *Store) CreateUsage(ctx context.Context, u settlement.CreditNoteUsage) (*settlement.CreditNoteUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = newID()
	}
	u.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_note_usage (`+usageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.SiteID, u.CreditNoteID, u.PaymentID, u.VendorID,
		u.UsedAmount.String(), formatTime(u.UsedDate), u.Description,
		formatTime(u.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credit note usage: %w", err)
	}
	return &u, nil
}

func (s *Store) queryUsages(ctx context.Context, where string, args ...any) ([]settlement.CreditNoteUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+usageColumns+` FROM credit_note_usage
		WHERE `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.CreditNoteUsage
	for rows.Next() {
		var u settlement.CreditNoteUsage
		var amount, usedDate, createdAt string
		if err := rows.Scan(&u.ID, &u.SiteID, &u.CreditNoteID, &u.PaymentID,
			&u.VendorID, &amount, &usedDate, &u.Description, &createdAt); err != nil {
			return nil, err
		}
		if u.UsedAmount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		u.UsedDate = parseTime(usedDate)
		u.CreatedAt = parseTime(createdAt)
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) UsagesByCreditNote(ctx context.Context, siteID, creditNoteID string) ([]settlement.CreditNoteUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUsages(ctx, "site_id = ? AND credit_note_id = ?", siteID, creditNoteID)
}

func (s *Store) UsagesByPayment(ctx context.Context, siteID, paymentID string) ([]settlement.CreditNoteUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUsages(ctx, "site_id = ? AND payment_id = ?", siteID, paymentID)
}

func (s *Store) DeleteUsage(ctx context.Context, siteID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credit_note_usage WHERE id = ? AND site_id = ?`, id, siteID)
	return err
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, site_id, vendor_id, account_id, amount, payment_date, reference, notes, allocation_ids_json, created_at`

func (s *Store) CreatePayment(ctx context.Context, p settlement.Payment) (*settlement.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = time.Now().UTC()
	allocJSON, err := json.Marshal(p.AllocationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allocation ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SiteID, p.VendorID, p.AccountID, p.Amount.String(),
		formatTime(p.PaymentDate), p.Reference, p.Notes, string(allocJSON),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return &p, nil
}

func scanPayment(r rowScanner) (*settlement.Payment, error) {
	var p settlement.Payment
	var amount, paymentDate, allocJSON, createdAt string
	err := r.Scan(&p.ID, &p.SiteID, &p.VendorID, &p.AccountID, &amount,
		&paymentDate, &p.Reference, &p.Notes, &allocJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	p.PaymentDate = parseTime(paymentDate)
	p.CreatedAt = parseTime(createdAt)
	if allocJSON != "" && allocJSON != "null" {
		if err := json.Unmarshal([]byte(allocJSON), &p.AllocationIDs); err != nil {
			return nil, fmt.Errorf("failed to decode allocation ids: %w", err)
		}
	}
	return &p, nil
}

func (s *Store) GetPayment(ctx context.Context, siteID, id string) (*settlement.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE id = ? AND site_id = ?`, id, siteID)
	return scanPayment(row)
}

func (s *Store) ListPayments(ctx context.Context, siteID string) ([]settlement.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE site_id = ? ORDER BY payment_date DESC, created_at DESC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *Store) SetPaymentAllocationIDs(ctx context.Context, siteID, id string, allocationIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	allocJSON, err := json.Marshal(allocationIDs)
	if err != nil {
		return fmt.Errorf("failed to encode allocation ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET allocation_ids_json = ? WHERE id = ? AND site_id = ?`,
		string(allocJSON), id, siteID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return settlement.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) DeletePayment(ctx context.Context, siteID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM payments WHERE id = ? AND site_id = ?`, id, siteID)
	return err
}

// =============================================================================
// PAYMENT ALLOCATIONS
// =============================================================================

const allocationColumns = `id, site_id, payment_id, delivery_id, booking_id, allocated_amount, created_at`

func (s *Store) CreateAllocation(ctx context.Context, a settlement.PaymentAllocation) (*settlement.PaymentAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_allocations (`+allocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SiteID, a.PaymentID, a.DeliveryID, a.BookingID,
		a.AllocatedAmount.String(), formatTime(a.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment allocation: %w", err)
	}
	return &a, nil
}

func (s *Store) queryAllocations(ctx context.Context, where string, args ...any) ([]settlement.PaymentAllocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+allocationColumns+` FROM payment_allocations
		WHERE `+where+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.PaymentAllocation
	for rows.Next() {
		var a settlement.PaymentAllocation
		var amount, createdAt string
		if err := rows.Scan(&a.ID, &a.SiteID, &a.PaymentID, &a.DeliveryID,
			&a.BookingID, &amount, &createdAt); err != nil {
			return nil, err
		}
		if a.AllocatedAmount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) AllocationsByPayment(ctx context.Context, siteID, paymentID string) ([]settlement.PaymentAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAllocations(ctx, "site_id = ? AND payment_id = ?", siteID, paymentID)
}

func (s *Store) AllocationsByDelivery(ctx context.Context, siteID, deliveryID string) ([]settlement.PaymentAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAllocations(ctx, "site_id = ? AND delivery_id = ?", siteID, deliveryID)
}

func (s *Store) AllocationsByBooking(ctx context.Context, siteID, bookingID string) ([]settlement.PaymentAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAllocations(ctx, "site_id = ? AND booking_id = ?", siteID, bookingID)
}

func (s *Store) DeleteAllocation(ctx context.Context, siteID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM payment_allocations WHERE id = ? AND site_id = ?`, id, siteID)
	return err
}

// =============================================================================
// DELIVERIES + SERVICE BOOKINGS
// =============================================================================

func (s *Store) CreateDelivery(ctx context.Context, d settlement.Delivery) (*settlement.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = newID()
	}
	d.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, site_id, vendor_id, total_amount, delivery_date, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SiteID, d.VendorID, d.TotalAmount.String(),
		formatTime(d.DeliveryDate), d.Reference, formatTime(d.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}
	return &d, nil
}

func scanDelivery(r rowScanner) (*settlement.Delivery, error) {
	var d settlement.Delivery
	var amount, deliveryDate, createdAt string
	err := r.Scan(&d.ID, &d.SiteID, &d.VendorID, &amount, &deliveryDate, &d.Reference, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.TotalAmount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	d.DeliveryDate = parseTime(deliveryDate)
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

func (s *Store) GetDelivery(ctx context.Context, siteID, id string) (*settlement.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, vendor_id, total_amount, delivery_date, reference, created_at
		FROM deliveries WHERE id = ? AND site_id = ?`, id, siteID)
	return scanDelivery(row)
}

func (s *Store) ListDeliveries(ctx context.Context, siteID string) ([]settlement.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, vendor_id, total_amount, delivery_date, reference, created_at
		FROM deliveries WHERE site_id = ? ORDER BY delivery_date DESC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (s *Store) CreateServiceBooking(ctx context.Context, b settlement.ServiceBooking) (*settlement.ServiceBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = newID()
	}
	b.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_bookings (id, site_id, vendor_id, total_amount, percent_completed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.SiteID, b.VendorID, b.TotalAmount.String(),
		b.PercentCompleted.String(), formatTime(b.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service booking: %w", err)
	}
	return &b, nil
}

func scanBooking(r rowScanner) (*settlement.ServiceBooking, error) {
	var b settlement.ServiceBooking
	var amount, percent, createdAt string
	err := r.Scan(&b.ID, &b.SiteID, &b.VendorID, &amount, &percent, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if b.TotalAmount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	if b.PercentCompleted, err = parseAmount(percent); err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

func (s *Store) GetServiceBooking(ctx context.Context, siteID, id string) (*settlement.ServiceBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, vendor_id, total_amount, percent_completed, created_at
		FROM service_bookings WHERE id = ? AND site_id = ?`, id, siteID)
	return scanBooking(row)
}

func (s *Store) ListServiceBookings(ctx context.Context, siteID string) ([]settlement.ServiceBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, vendor_id, total_amount, percent_completed, created_at
		FROM service_bookings WHERE site_id = ? ORDER BY created_at ASC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.ServiceBooking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

// =============================================================================
// VENDORS
// =============================================================================

func (s *Store) CreateVendor(ctx context.Context, v settlement.Vendor) (*settlement.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = newID()
	}
	v.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendors (id, site_id, name, contact_person, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.SiteID, v.Name, v.ContactPerson, formatTime(v.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create vendor: %w", err)
	}
	return &v, nil
}

func (s *Store) GetVendor(ctx context.Context, siteID, id string) (*settlement.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v settlement.Vendor
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, name, contact_person, created_at
		FROM vendors WHERE id = ? AND site_id = ?`, id, siteID).
		Scan(&v.ID, &v.SiteID, &v.Name, &v.ContactPerson, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}

func (s *Store) ListVendors(ctx context.Context, siteID string) ([]settlement.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, name, contact_person, created_at
		FROM vendors WHERE site_id = ? ORDER BY name ASC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Vendor
	for rows.Next() {
		var v settlement.Vendor
		var createdAt string
		if err := rows.Scan(&v.ID, &v.SiteID, &v.Name, &v.ContactPerson, &createdAt); err != nil {
			return nil, err
		}
		v.CreatedAt = parseTime(createdAt)
		result = append(result, v)
	}
	return result, rows.Err()
}

// =============================================================================
// VENDOR REFUNDS
// =============================================================================

func (s *Store) CreateRefund(ctx context.Context, r settlement.VendorRefund) (*settlement.VendorRefund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendor_refunds (id, site_id, vendor_id, account_id, refund_amount, refund_date, reference, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SiteID, r.VendorID, r.AccountID, r.RefundAmount.String(),
		formatTime(r.RefundDate), r.Reference, r.Notes, formatTime(r.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}
	return &r, nil
}

func scanRefund(r rowScanner) (*settlement.VendorRefund, error) {
	var vr settlement.VendorRefund
	var amount, refundDate, createdAt string
	err := r.Scan(&vr.ID, &vr.SiteID, &vr.VendorID, &vr.AccountID, &amount,
		&refundDate, &vr.Reference, &vr.Notes, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if vr.RefundAmount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	vr.RefundDate = parseTime(refundDate)
	vr.CreatedAt = parseTime(createdAt)
	return &vr, nil
}

func (s *Store) GetRefund(ctx context.Context, siteID, id string) (*settlement.VendorRefund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, vendor_id, account_id, refund_amount, refund_date, reference, notes, created_at
		FROM vendor_refunds WHERE id = ? AND site_id = ?`, id, siteID)
	return scanRefund(row)
}

func (s *Store) ListRefunds(ctx context.Context, siteID string) ([]settlement.VendorRefund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, vendor_id, account_id, refund_amount, refund_date, reference, notes, created_at
		FROM vendor_refunds WHERE site_id = ? ORDER BY refund_date DESC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.VendorRefund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (s *Store) DeleteRefund(ctx context.Context, siteID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vendor_refunds WHERE id = ? AND site_id = ?`, id, siteID)
	return err
}
