package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TransactionRequest is a manual movement on the account. Amount is the
// positive magnitude; withdrawals are stored negative.
type TransactionRequest struct {
	Type          models.TransactionType
	Amount        decimal.Decimal
	RelatedLoanID *int
	Description   string
	Date          models.Date
}

type BalanceCheck struct {
	Cached   decimal.Decimal `json:"cached"`
	Computed decimal.Decimal `json:"computed"`
	Rows     int             `json:"rows"`
	Valid    bool            `json:"valid"`
}

// RecordTransaction appends a deposit or withdrawal. The first row ever
// recorded, if a deposit, becomes the initial balance.
func (l *Ledger) RecordTransaction(ctx context.Context, req TransactionRequest) (*models.AccountTransaction, error) {
	if req.Type != models.TransactionTypeDeposit && req.Type != models.TransactionTypeWithdrawal {
		return nil, models.NewValidationError("transaction_type", "must be deposit or withdrawal, got %q", req.Type)
	}
	if !req.Amount.IsPositive() {
		return nil, models.NewValidationError("transaction_amount", "must be greater than 0")
	}
	if req.Date.IsZero() {
		return nil, models.NewValidationError("date", "is required")
	}
	if req.Date.After(l.today()) {
		return nil, models.NewValidationError("date", "%s is in the future", req.Date)
	}

	var tx *models.AccountTransaction
	err := l.locked(ctx, func() error {
		return store.RunInTx(ctx, l.storage, func(s store.Storage) error {
			amount := req.Amount
			if req.Type == models.TransactionTypeWithdrawal {
				balance, err := currentBalance(ctx, s)
				if err != nil {
					return err
				}
				if amount.GreaterThan(balance) {
					return models.NewValidationError("transaction_amount",
						"withdrawal of %s exceeds the balance of %s", amount.StringFixed(2), balance.StringFixed(2))
				}
				amount = amount.Neg()
			}
			var err error
			tx, err = appendTransaction(ctx, s, req.Type, amount, req.RelatedLoanID, req.Description, req.Date)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"module":   moduleName,
		"funcName": "RecordTransaction",
		"type":     tx.Type,
		"amount":   tx.Amount.StringFixed(2),
		"balance":  tx.Balance.StringFixed(2),
	}).Info("account transaction recorded")
	return tx, nil
}

func (l *Ledger) Transactions(ctx context.Context) ([]*models.AccountTransaction, error) {
	return l.storage.GetAccountTransactions(ctx)
}

// Balance is the running balance of the most recently appended row.
func (l *Ledger) Balance(ctx context.Context) (decimal.Decimal, error) {
	return currentBalance(ctx, l.storage)
}

// VerifyBalance sums every amount and compares the total, and each row's
// running balance, with the cached values. A mismatch is returned as a
// ConsistencyError alongside the check.
func (l *Ledger) VerifyBalance(ctx context.Context) (BalanceCheck, error) {
	txs, err := l.storage.GetAccountTransactions(ctx)
	if err != nil {
		return BalanceCheck{}, models.WrapStorage("load account transactions", err)
	}
	txs = appendOrder(txs)

	check := BalanceCheck{Cached: decimal.Zero, Computed: decimal.Zero, Rows: len(txs), Valid: true}
	var drift *models.ConsistencyError
	for _, t := range txs {
		check.Computed = check.Computed.Add(t.Amount)
		if drift == nil && !check.Computed.Equal(t.Balance) {
			drift = &models.ConsistencyError{
				Field:    fmt.Sprintf("account_transactions[%d].balance", t.ID),
				Stored:   t.Balance.StringFixed(2),
				Computed: check.Computed.StringFixed(2),
			}
		}
	}
	if len(txs) > 0 {
		check.Cached = txs[len(txs)-1].Balance
	}
	if drift != nil {
		check.Valid = false
		return check, drift
	}
	return check, nil
}

// appendTransaction writes one row with balance = previous balance + amount.
func appendTransaction(ctx context.Context, s store.Storage, typ models.TransactionType, amount decimal.Decimal,
	relatedLoanID *int, description string, date models.Date) (*models.AccountTransaction, error) {
	txs, err := s.GetAccountTransactions(ctx)
	if err != nil {
		return nil, models.WrapStorage("load account transactions", err)
	}
	previous := decimal.Zero
	if ordered := appendOrder(txs); len(ordered) > 0 {
		previous = ordered[len(ordered)-1].Balance
	}
	if len(txs) == 0 && typ == models.TransactionTypeDeposit {
		typ = models.TransactionTypeInitial
		if description == "" {
			description = "Initial balance"
		}
	}

	tx := &models.AccountTransaction{
		Balance:       previous.Add(amount),
		Type:          typ,
		Amount:        amount,
		RelatedLoanID: relatedLoanID,
		Description:   description,
		Date:          date,
		CreatedAt:     time.Now().UTC(),
	}
	id, err := s.SaveAccountTransaction(ctx, tx)
	if err != nil {
		return nil, models.WrapStorage(fmt.Sprintf("save %s account transaction", typ), err)
	}
	tx.ID = id
	return tx, nil
}

func currentBalance(ctx context.Context, s store.Storage) (decimal.Decimal, error) {
	txs, err := s.GetAccountTransactions(ctx)
	if err != nil {
		return decimal.Zero, models.WrapStorage("load account transactions", err)
	}
	txs = appendOrder(txs)
	if len(txs) == 0 {
		return decimal.Zero, nil
	}
	return txs[len(txs)-1].Balance, nil
}

// appendOrder sorts rows by id. Stores list them by date, but a backdated
// row still chains onto the row appended before it.
func appendOrder(txs []*models.AccountTransaction) []*models.AccountTransaction {
	ordered := make([]*models.AccountTransaction, len(txs))
	copy(ordered, txs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	return ordered
}
