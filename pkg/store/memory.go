package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mcclellann/loanledger/pkg/models"
)

// MemoryStore keeps everything in process. It has no transactions, so the
// ledger runs its multi-step writes against it one by one.
type MemoryStore struct {
	mu           sync.RWMutex
	loans        map[int]models.Loan
	payments     map[int]models.Payment
	events       []models.InterestEvent
	transactions []models.AccountTransaction
	invoices     map[string]models.MonthlyInvoice
	nextPayment  int
	nextTx       int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans:    make(map[int]models.Loan),
		payments: make(map[int]models.Payment),
		invoices: make(map[string]models.MonthlyInvoice),
	}
}

func (m *MemoryStore) GetLoans(ctx context.Context) ([]*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loans := make([]*models.Loan, 0, len(m.loans))
	for _, l := range m.loans {
		loans = append(loans, copyLoan(l))
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].ID < loans[j].ID })
	return loans, nil
}

func (m *MemoryStore) GetLoan(ctx context.Context, id int) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, loanNotFound(id)
	}
	return copyLoan(l), nil
}

func (m *MemoryStore) SaveLoan(ctx context.Context, loan *models.Loan) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.loans[loan.ID]; exists {
		return 0, &models.ValidationError{Field: "id", Message: "loan already exists"}
	}
	m.loans[loan.ID] = *copyLoan(*loan)
	return loan.ID, nil
}

func (m *MemoryStore) UpdateLoan(ctx context.Context, id int, update models.LoanUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return loanNotFound(id)
	}
	update.Apply(&l)
	m.loans[id] = l
	return nil
}

func (m *MemoryStore) DeleteLoan(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[id]; !ok {
		return loanNotFound(id)
	}
	delete(m.loans, id)
	for pid, p := range m.payments {
		if p.LoanID == id {
			delete(m.payments, pid)
		}
	}
	kept := m.events[:0]
	for _, e := range m.events {
		if e.LoanID != id {
			kept = append(kept, e)
		}
	}
	m.events = kept
	return nil
}

func (m *MemoryStore) GetPayments(ctx context.Context) ([]*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payments := make([]*models.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		p := p
		payments = append(payments, &p)
	}
	sort.Slice(payments, func(i, j int) bool {
		if c := payments[i].Date.Compare(payments[j].Date); c != 0 {
			return c < 0
		}
		return payments[i].ID < payments[j].ID
	})
	return payments, nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id int) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, paymentNotFound(id)
	}
	return &p, nil
}

func (m *MemoryStore) SavePayment(ctx context.Context, payment *models.Payment) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[payment.LoanID]; !ok {
		return 0, loanNotFound(payment.LoanID)
	}
	m.nextPayment++
	payment.ID = m.nextPayment
	m.payments[payment.ID] = *payment
	return payment.ID, nil
}

func (m *MemoryStore) DeletePayment(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[id]; !ok {
		return paymentNotFound(id)
	}
	delete(m.payments, id)
	return nil
}

func (m *MemoryStore) GetInterestEvents(ctx context.Context) ([]*models.InterestEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*models.InterestEvent, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		events = append(events, &e)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Date.After(events[j].Date) })
	return events, nil
}

func (m *MemoryStore) SaveInterestEvent(ctx context.Context, event *models.InterestEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *MemoryStore) GetAccountTransactions(ctx context.Context) ([]*models.AccountTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txs := make([]*models.AccountTransaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		t := t
		txs = append(txs, &t)
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if c := txs[i].Date.Compare(txs[j].Date); c != 0 {
			return c < 0
		}
		return txs[i].ID < txs[j].ID
	})
	return txs, nil
}

func (m *MemoryStore) SaveAccountTransaction(ctx context.Context, tx *models.AccountTransaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTx++
	tx.ID = m.nextTx
	m.transactions = append(m.transactions, *tx)
	return tx.ID, nil
}

func (m *MemoryStore) GetMonthlyInvoices(ctx context.Context) ([]*models.MonthlyInvoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	invoices := make([]*models.MonthlyInvoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		inv := inv
		invoices = append(invoices, &inv)
	}
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].ID < invoices[j].ID })
	return invoices, nil
}

func (m *MemoryStore) GetMonthlyInvoice(ctx context.Context, month, year int) (*models.MonthlyInvoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id := models.InvoiceID(month, year)
	inv, ok := m.invoices[id]
	if !ok {
		return nil, invoiceNotFound(id)
	}
	return &inv, nil
}

func (m *MemoryStore) SaveMonthlyInvoice(ctx context.Context, invoice *models.MonthlyInvoice) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *invoice
	if existing, ok := m.invoices[invoice.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	m.invoices[invoice.ID] = stored
	return invoice.ID, nil
}

func (m *MemoryStore) DeleteMonthlyInvoice(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[id]; !ok {
		return invoiceNotFound(id)
	}
	delete(m.invoices, id)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func copyLoan(l models.Loan) *models.Loan {
	if l.LastInterestAccrual != nil {
		d := *l.LastInterestAccrual
		l.LastInterestAccrual = &d
	}
	return &l
}
