package store

import (
	"context"
	"sort"

	"github.com/mcclellann/loanledger/pkg/models"
)

// Storage defines the CRUD operations the ledger core needs for every entity.
// Lookups of missing rows return errors wrapping models.ErrNotFound.
type Storage interface {
	GetLoans(ctx context.Context) ([]*models.Loan, error)
	GetLoan(ctx context.Context, id int) (*models.Loan, error)
	SaveLoan(ctx context.Context, loan *models.Loan) (int, error)
	UpdateLoan(ctx context.Context, id int, update models.LoanUpdate) error
	DeleteLoan(ctx context.Context, id int) error // Cascades to payments and interest events

	GetPayments(ctx context.Context) ([]*models.Payment, error)
	GetPayment(ctx context.Context, id int) (*models.Payment, error)
	SavePayment(ctx context.Context, payment *models.Payment) (int, error)
	DeletePayment(ctx context.Context, id int) error

	GetInterestEvents(ctx context.Context) ([]*models.InterestEvent, error)
	SaveInterestEvent(ctx context.Context, event *models.InterestEvent) error

	GetAccountTransactions(ctx context.Context) ([]*models.AccountTransaction, error) // Ordered by date, then id
	SaveAccountTransaction(ctx context.Context, tx *models.AccountTransaction) (int, error)

	GetMonthlyInvoices(ctx context.Context) ([]*models.MonthlyInvoice, error)
	GetMonthlyInvoice(ctx context.Context, month, year int) (*models.MonthlyInvoice, error)
	SaveMonthlyInvoice(ctx context.Context, invoice *models.MonthlyInvoice) (string, error) // Upsert keyed by (month, year)
	DeleteMonthlyInvoice(ctx context.Context, id string) error

	Close() error
}

// Transactor is implemented by stores that can run several writes atomically.
// fn receives a Storage bound to the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(s Storage) error) error
}

// RunInTx runs fn inside a transaction when s supports one and directly
// otherwise.
func RunInTx(ctx context.Context, s Storage, fn func(s Storage) error) error {
	if tx, ok := s.(Transactor); ok {
		return tx.WithinTx(ctx, fn)
	}
	return fn(s)
}

func loanNotFound(id int) error {
	return &models.NotFoundError{Entity: "loan", ID: id}
}

func paymentNotFound(id int) error {
	return &models.NotFoundError{Entity: "payment", ID: id}
}

func invoiceNotFound(id any) error {
	return &models.NotFoundError{Entity: "monthly invoice", ID: id}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
