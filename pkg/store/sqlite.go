package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mcclellann/loanledger/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// querier is the subset of *sql.DB and *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// A single connection keeps PRAGMAs and transactions on the same handle.
	db.SetMaxOpenConns(1)

	// Manually enable foreign keys and WAL mode
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, q: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Println("Database connection established and schema initialized.")
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds columns
// introduced after the first release.
// Money and rates are TEXT so no decimal precision is lost; dates are YYYY-MM-DD TEXT.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id INTEGER PRIMARY KEY,
		loan_number TEXT UNIQUE,
		debtor_name TEXT NOT NULL,
		original_principal TEXT NOT NULL,
		remaining_principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		accrued_interest TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'Open',
		start_date TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		loan_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		interest_paid TEXT NOT NULL,
		principal_paid TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS interest_events (
		id TEXT PRIMARY KEY,
		loan_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		days INTEGER NOT NULL,
		principal TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS account_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		balance TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		transaction_amount TEXT NOT NULL,
		related_loan_id INTEGER,
		description TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS monthly_invoices (
		id TEXT PRIMARY KEY,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		generated_date TEXT,
		last_updated TEXT,
		total_accrued TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		remaining TEXT NOT NULL,
		status TEXT NOT NULL,
		loan_details TEXT,
		payments_in_month TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(year, month)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_loan_date ON payments(loan_id, date);
	CREATE INDEX IF NOT EXISTS idx_account_transactions_date ON account_transactions(date, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first schema version.
	columns := []struct{ table, def string }{
		{"loans", "last_interest_accrual TEXT"},
		{"loans", "destiny TEXT NOT NULL DEFAULT ''"},
		{"monthly_invoices", "daily_breakdown TEXT"},
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", col.table, col.def))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s.%s: %w", col.table, col.def, err)
		}
	}
	return nil
}

// isDuplicateColumnError checks if the error indicates a duplicate column.
func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

// WithinTx runs fn against a store bound to a single SQL transaction.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(Storage) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLiteStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

const loanColumns = `id, loan_number, debtor_name, original_principal, remaining_principal, interest_rate, accrued_interest, status, start_date, last_interest_accrual, destiny, created_at`

// SaveLoan inserts a new loan. The id is assigned by the caller.
func (s *SQLiteStore) SaveLoan(ctx context.Context, loan *models.Loan) (int, error) {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.LoanNumber, loan.DebtorName, loan.OriginalPrincipal, loan.RemainingPrincipal, loan.InterestRate,
		loan.AccruedInterest, string(loan.Status), loan.StartDate, loan.LastInterestAccrual, loan.Destiny, loan.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create loan: %w", err)
	}
	return loan.ID, nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id int) (*models.Loan, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loanNotFound(id)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// GetLoans retrieves all loans ordered by id.
func (s *SQLiteStore) GetLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var status string
	var last models.Date
	var created time.Time
	var loanNumber, destiny sql.NullString
	err := row.Scan(&loan.ID, &loanNumber, &loan.DebtorName, &loan.OriginalPrincipal, &loan.RemainingPrincipal,
		&loan.InterestRate, &loan.AccruedInterest, &status, &loan.StartDate, &last, &destiny, &created)
	if err != nil {
		return nil, err
	}
	loan.LoanNumber = loanNumber.String
	loan.Destiny = destiny.String
	loan.Status = models.LoanStatus(status)
	loan.CreatedAt = created
	if !last.IsZero() {
		loan.LastInterestAccrual = &last
	}
	return &loan, nil
}

// UpdateLoan writes only the fields set on update.
func (s *SQLiteStore) UpdateLoan(ctx context.Context, id int, update models.LoanUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	cols := update.Columns()
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, name := range sortedKeys(cols) {
		sets = append(sets, name+" = ?")
		args = append(args, cols[name])
	}
	args = append(args, id)

	result, err := s.q.ExecContext(ctx, `UPDATE loans SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return loanNotFound(id)
	}
	return nil
}

// DeleteLoan removes a loan together with its payments and interest events.
func (s *SQLiteStore) DeleteLoan(ctx context.Context, id int) error {
	return s.WithinTx(ctx, func(st Storage) error {
		q := st.(*SQLiteStore).q
		if _, err := q.ExecContext(ctx, `DELETE FROM interest_events WHERE loan_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete associated interest events: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM payments WHERE loan_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete associated payments: %w", err)
		}
		result, err := q.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete loan: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return loanNotFound(id)
		}
		return nil
	})
}

const paymentColumns = `id, loan_id, date, total_paid, interest_paid, principal_paid, created_at`

// SavePayment inserts a payment and returns its database id.
func (s *SQLiteStore) SavePayment(ctx context.Context, p *models.Payment) (int, error) {
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO payments (loan_id, date, total_paid, interest_paid, principal_paid, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.LoanID, p.Date, p.TotalPaid, p.InterestPaid, p.PrincipalPaid, p.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create payment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read payment id: %w", err)
	}
	p.ID = int(id)
	return p.ID, nil
}

func (s *SQLiteStore) GetPayment(ctx context.Context, id int) (*models.Payment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	var p models.Payment
	if err := row.Scan(&p.ID, &p.LoanID, &p.Date, &p.TotalPaid, &p.InterestPaid, &p.PrincipalPaid, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, paymentNotFound(id)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// GetPayments retrieves every payment ordered by date, then id.
func (s *SQLiteStore) GetPayments(ctx context.Context) ([]*models.Payment, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.LoanID, &p.Date, &p.TotalPaid, &p.InterestPaid, &p.PrincipalPaid, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for payments: %w", err)
	}
	return payments, nil
}

func (s *SQLiteStore) DeletePayment(ctx context.Context, id int) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return paymentNotFound(id)
	}
	return nil
}

func (s *SQLiteStore) SaveInterestEvent(ctx context.Context, e *models.InterestEvent) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO interest_events (id, loan_id, date, amount, days, principal, description) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.LoanID, e.Date, e.Amount, e.Days, e.Principal, e.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to create interest event: %w", err)
	}
	return nil
}

// GetInterestEvents retrieves the audit trail, newest first.
func (s *SQLiteStore) GetInterestEvents(ctx context.Context) ([]*models.InterestEvent, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, loan_id, date, amount, days, principal, description FROM interest_events ORDER BY date DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get interest events: %w", err)
	}
	defer rows.Close()

	var events []*models.InterestEvent
	for rows.Next() {
		var e models.InterestEvent
		if err := rows.Scan(&e.ID, &e.LoanID, &e.Date, &e.Amount, &e.Days, &e.Principal, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan interest event row: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for interest events: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) SaveAccountTransaction(ctx context.Context, t *models.AccountTransaction) (int, error) {
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO account_transactions (balance, transaction_type, transaction_amount, related_loan_id, description, date, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Balance, string(t.Type), t.Amount, t.RelatedLoanID, t.Description, t.Date, t.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create account transaction: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read account transaction id: %w", err)
	}
	t.ID = int(id)
	return t.ID, nil
}

// GetAccountTransactions retrieves the account ledger ordered by date, then id.
func (s *SQLiteStore) GetAccountTransactions(ctx context.Context) ([]*models.AccountTransaction, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, balance, transaction_type, transaction_amount, related_loan_id, description, date, created_at FROM account_transactions ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get account transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.AccountTransaction
	for rows.Next() {
		var t models.AccountTransaction
		var txType string
		var related sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Balance, &txType, &t.Amount, &related, &t.Description, &t.Date, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account transaction row: %w", err)
		}
		t.Type = models.TransactionType(txType)
		if related.Valid {
			id := int(related.Int64)
			t.RelatedLoanID = &id
		}
		txs = append(txs, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for account transactions: %w", err)
	}
	return txs, nil
}

const invoiceColumns = `id, month, year, generated_date, last_updated, total_accrued, total_paid, remaining, status, loan_details, payments_in_month, daily_breakdown, created_at, updated_at`

// SaveMonthlyInvoice inserts or replaces the invoice for its period.
func (s *SQLiteStore) SaveMonthlyInvoice(ctx context.Context, inv *models.MonthlyInvoice) (string, error) {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO monthly_invoices (`+invoiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			generated_date = excluded.generated_date,
			last_updated = excluded.last_updated,
			total_accrued = excluded.total_accrued,
			total_paid = excluded.total_paid,
			remaining = excluded.remaining,
			status = excluded.status,
			loan_details = excluded.loan_details,
			payments_in_month = excluded.payments_in_month,
			daily_breakdown = excluded.daily_breakdown,
			updated_at = excluded.updated_at`,
		inv.ID, inv.Month, inv.Year, inv.GeneratedDate, inv.LastUpdated, inv.TotalAccrued, inv.TotalPaid, inv.Remaining,
		string(inv.Status), inv.LoanDetails, inv.PaymentsInMonth, inv.DailyBreakdown, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save monthly invoice %s: %w", inv.ID, err)
	}
	return inv.ID, nil
}

func (s *SQLiteStore) GetMonthlyInvoice(ctx context.Context, month, year int) (*models.MonthlyInvoice, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM monthly_invoices WHERE month = ? AND year = ?`, month, year)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invoiceNotFound(models.InvoiceID(month, year))
		}
		return nil, fmt.Errorf("failed to get monthly invoice: %w", err)
	}
	return inv, nil
}

// GetMonthlyInvoices retrieves every invoice ordered by period.
func (s *SQLiteStore) GetMonthlyInvoices(ctx context.Context) ([]*models.MonthlyInvoice, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM monthly_invoices ORDER BY year ASC, month ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get monthly invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.MonthlyInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monthly invoice row: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for monthly invoices: %w", err)
	}
	return invoices, nil
}

func scanInvoice(row rowScanner) (*models.MonthlyInvoice, error) {
	var inv models.MonthlyInvoice
	var status string
	err := row.Scan(&inv.ID, &inv.Month, &inv.Year, &inv.GeneratedDate, &inv.LastUpdated, &inv.TotalAccrued, &inv.TotalPaid,
		&inv.Remaining, &status, &inv.LoanDetails, &inv.PaymentsInMonth, &inv.DailyBreakdown, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.Status = models.InvoiceStatus(status)
	return &inv, nil
}

func (s *SQLiteStore) DeleteMonthlyInvoice(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM monthly_invoices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete monthly invoice: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return invoiceNotFound(id)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.inTx {
		return nil
	}
	return s.db.Close()
}
