// Package ledger holds the write side of the loan book: payment allocation,
// the loan lifecycle and the account balance ledger. Every mutation
// recomputes balances from the payment history instead of patching cached
// totals.
package ledger

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/invoice"
	"github.com/mcclellann/loanledger/pkg/lock"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	moduleName = "ledger"
	lockKey    = "ledger"
)

// Ledger handles the business logic for loans, payments and the account.
type Ledger struct {
	storage  store.Storage
	invoices *invoice.Generator
	locker   lock.Locker
	logger   logrus.FieldLogger
	today    func() models.Date
}

type Option func(*Ledger)

// WithClock replaces models.Today, for the ledger and its invoice generator.
func WithClock(today func() models.Date) Option {
	return func(l *Ledger) { l.today = today }
}

func WithLocker(locker lock.Locker) Option {
	return func(l *Ledger) { l.locker = locker }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	l := &Ledger{
		storage: s,
		locker:  lock.NewMutexLocker(),
		logger:  discard,
		today:   models.Today,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.invoices = invoice.NewGenerator(s, l.logger, invoice.WithClock(l.today), invoice.WithLocker(l.locker))
	return l
}

// Invoices exposes the invoice generator sharing this ledger's store, clock
// and lock.
func (l *Ledger) Invoices() *invoice.Generator {
	return l.invoices
}

// Today is the ledger's notion of the current date.
func (l *Ledger) Today() models.Date {
	return l.today()
}

// locked runs fn while holding the ledger lock. Invoice regeneration must
// happen after it returns since the generator takes the same lock.
func (l *Ledger) locked(ctx context.Context, fn func() error) error {
	unlock, err := l.locker.Lock(ctx, lockKey)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Regeneration reports the invoices refreshed after a committed change.
// Warnings carries a failed regeneration; the change itself still stands.
type Regeneration struct {
	Warnings            []string `json:"warnings"`
	RegeneratedInvoices []string `json:"regenerated_invoices"`
}

func newRegeneration() Regeneration {
	return Regeneration{Warnings: []string{}, RegeneratedInvoices: []string{}}
}

// LoanResult is the loan after a create, edit or delete, or after one of its
// payments was removed.
type LoanResult struct {
	Loan *models.Loan `json:"loan"`
	Regeneration
}

// regenerate refreshes the invoices touched by a change on or after from.
// The change itself is already committed, so failures are logged and
// recorded on r as a warning rather than returned.
func (l *Ledger) regenerate(ctx context.Context, funcName string, from models.Date, r *Regeneration) {
	ids, err := l.invoices.RegenerateAffected(ctx, from)
	r.RegeneratedInvoices = append(r.RegeneratedInvoices, ids...)
	if err != nil {
		config.LogError(l.logger, moduleName, funcName, "regenerate invoices", from.String(), err)
		r.Warnings = append(r.Warnings, fmt.Sprintf("invoice regeneration from %s stopped early: %v", from, err))
	}
}

func (l *Ledger) history(ctx context.Context, s store.Storage) ([]*models.Loan, []*models.Payment, error) {
	loans, err := s.GetLoans(ctx)
	if err != nil {
		return nil, nil, models.WrapStorage("load loans", err)
	}
	payments, err := s.GetPayments(ctx)
	if err != nil {
		return nil, nil, models.WrapStorage("load payments", err)
	}
	return loans, payments, nil
}

func newInterestEvent(loanID int, date models.Date, acc interest.Accrual, description string) *models.InterestEvent {
	return &models.InterestEvent{
		ID:          fmt.Sprintf("%d-%s-%d", time.Now().UnixNano(), uuid.NewString()[:8], loanID),
		LoanID:      loanID,
		Date:        date,
		Amount:      acc.Outstanding,
		Days:        acc.DaysSinceLastEvent,
		Principal:   acc.Principal,
		Description: description,
	}
}

func (l *Ledger) GetLoan(ctx context.Context, id int) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

func (l *Ledger) Loans(ctx context.Context) ([]*models.Loan, error) {
	return l.storage.GetLoans(ctx)
}

func (l *Ledger) Payments(ctx context.Context) ([]*models.Payment, error) {
	return l.storage.GetPayments(ctx)
}

func (l *Ledger) InterestEvents(ctx context.Context) ([]*models.InterestEvent, error) {
	return l.storage.GetInterestEvents(ctx)
}

// LoanInterest replays the loan's history up to asOf.
func (l *Ledger) LoanInterest(ctx context.Context, id int, asOf models.Date) (interest.Accrual, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return interest.Accrual{}, err
	}
	payments, err := l.storage.GetPayments(ctx)
	if err != nil {
		return interest.Accrual{}, models.WrapStorage("load payments", err)
	}
	return interest.Outstanding(loan, payments, asOf), nil
}
