package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PaymentRequest applies Amount across the open loans, or to LoanID alone.
type PaymentRequest struct {
	Amount         decimal.Decimal
	Date           models.Date
	LoanID         *int
	AllowBackdated bool
	Description    string
}

type PaymentResult struct {
	Payments    []*models.Payment          `json:"payments"`
	Loans       []*models.Loan             `json:"loans"`
	Transaction *models.AccountTransaction `json:"transaction"`
	Regeneration
}

// ProcessPayment allocates and commits a payment. Each receiving loan gets a
// Payment row first, then an InterestEvent and its loan update; a single
// payment_in account row closes the pipeline. Stores with transactions commit
// all of it atomically. Invoices from the payment month onwards are
// regenerated afterwards.
func (l *Ledger) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	result := &PaymentResult{
		Payments:     []*models.Payment{},
		Loans:        []*models.Loan{},
		Regeneration: newRegeneration(),
	}

	err := l.locked(ctx, func() error {
		loans, payments, err := l.history(ctx, l.storage)
		if err != nil {
			return err
		}
		alloc, err := Allocate(AllocationInput{
			Amount:         req.Amount,
			Date:           req.Date,
			Today:          l.today(),
			LoanID:         req.LoanID,
			Loans:          loans,
			Payments:       payments,
			AllowBackdated: req.AllowBackdated,
		})
		if err != nil {
			return err
		}
		result.Warnings = append(result.Warnings, alloc.Warnings...)
		for _, row := range alloc.Rows {
			l.logDrift("ProcessPayment", row.Loan, payments)
		}

		return store.RunInTx(ctx, l.storage, func(s store.Storage) error {
			return l.commitAllocation(ctx, s, req, alloc, result)
		})
	})
	if err != nil {
		if !models.IsValidation(err) && !models.IsNotFound(err) {
			config.LogError(l.logger, moduleName, "ProcessPayment", "commit payment", map[string]string{
				"amount": req.Amount.String(),
				"date":   req.Date.String(),
			}, err)
		}
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"module":   moduleName,
		"funcName": "ProcessPayment",
		"amount":   req.Amount.StringFixed(2),
		"date":     req.Date.String(),
		"loans":    len(result.Loans),
	}).Info("payment processed")

	l.regenerate(ctx, "ProcessPayment", req.Date, &result.Regeneration)
	return result, nil
}

// logDrift reports cached balances that disagree with the replayed history
// before they are overwritten.
func (l *Ledger) logDrift(funcName string, loan *models.Loan, payments []*models.Payment) []*models.ConsistencyError {
	issues := interest.CheckConsistency(loan, payments)
	for _, issue := range issues {
		l.logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"loan_id":  issue.LoanID,
			"field":    issue.Field,
			"stored":   issue.Stored,
			"computed": issue.Computed,
		}).Warn("cached loan balance drifted from history")
	}
	return issues
}

func (l *Ledger) commitAllocation(ctx context.Context, s store.Storage, req PaymentRequest, alloc Allocation, result *PaymentResult) error {
	now := time.Now().UTC()
	for _, row := range alloc.Rows {
		loanID := row.Loan.ID

		p := row.Payment
		p.CreatedAt = now
		id, err := s.SavePayment(ctx, &p)
		if err != nil {
			return models.WrapStorage(fmt.Sprintf("save payment for loan %d", loanID), err)
		}
		p.ID = id
		result.Payments = append(result.Payments, &p)

		event := newInterestEvent(loanID, req.Date, row.Accrual,
			fmt.Sprintf("Interest computed for payment #%d: %s paid of %s outstanding", id,
				p.InterestPaid.StringFixed(2), row.Accrual.Outstanding.StringFixed(2)))
		if err := s.SaveInterestEvent(ctx, event); err != nil {
			return models.WrapStorage(fmt.Sprintf("save interest event for loan %d", loanID), err)
		}

		date := req.Date
		update := models.LoanUpdate{
			RemainingPrincipal:  &row.RemainingPrincipal,
			AccruedInterest:     &row.AccruedInterest,
			Status:              &row.Status,
			LastInterestAccrual: &date,
		}
		if err := s.UpdateLoan(ctx, loanID, update); err != nil {
			return models.WrapStorage(fmt.Sprintf("update loan %d", loanID), err)
		}
		updated := *row.Loan
		update.Apply(&updated)
		result.Loans = append(result.Loans, &updated)
	}

	description := req.Description
	if description == "" {
		description = paymentDescription(result.Loans)
	}
	first := alloc.Rows[0].Loan.ID
	tx, err := appendTransaction(ctx, s, models.TransactionTypePaymentIn, req.Amount, &first, description, req.Date)
	if err != nil {
		return err
	}
	result.Transaction = tx
	return nil
}

func paymentDescription(loans []*models.Loan) string {
	desc := "Payment received for loan"
	if len(loans) > 1 {
		desc += "s"
	}
	for i, loan := range loans {
		if i > 0 {
			desc += ","
		}
		desc += " " + loan.LoanNumber
	}
	return desc
}

// DeletePayment removes a payment and rebuilds its loan from the remaining
// history. The account ledger receives a compensating adjustment row.
func (l *Ledger) DeletePayment(ctx context.Context, id int) (*LoanResult, error) {
	var (
		updated *models.Loan
		deleted *models.Payment
	)
	err := l.locked(ctx, func() error {
		p, err := l.storage.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		deleted = p
		loan, err := l.storage.GetLoan(ctx, p.LoanID)
		if err != nil {
			return err
		}
		all, err := l.storage.GetPayments(ctx)
		if err != nil {
			return models.WrapStorage("load payments", err)
		}
		rest := make([]*models.Payment, 0, len(all))
		for _, other := range all {
			if other.ID != id {
				rest = append(rest, other)
			}
		}
		update := rebuildLoan(loan, rest)

		return store.RunInTx(ctx, l.storage, func(s store.Storage) error {
			if err := s.DeletePayment(ctx, id); err != nil {
				return models.WrapStorage(fmt.Sprintf("delete payment %d", id), err)
			}
			if err := s.UpdateLoan(ctx, loan.ID, update); err != nil {
				return models.WrapStorage(fmt.Sprintf("update loan %d", loan.ID), err)
			}
			description := fmt.Sprintf("Reversal of payment #%d for loan %s", id, loan.LoanNumber)
			if _, err := appendTransaction(ctx, s, models.TransactionTypeAdjustment, p.TotalPaid.Neg(), &loan.ID, description, l.today()); err != nil {
				return err
			}
			updated = loan
			update.Apply(updated)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"funcName":   "DeletePayment",
		"payment_id": id,
		"loan_id":    deleted.LoanID,
	}).Info("payment deleted")
	result := &LoanResult{Loan: updated, Regeneration: newRegeneration()}
	l.regenerate(ctx, "DeletePayment", deleted.Date, &result.Regeneration)
	return result, nil
}

// rebuildLoan recomputes the cached balances of loan from payments. The
// accrued interest cache is evaluated at the last payment, or the start date
// when there is none.
func rebuildLoan(loan *models.Loan, payments []*models.Payment) models.LoanUpdate {
	principal := interest.RemainingPrincipal(loan, payments)
	asOf := loan.StartDate
	if last := lastPaymentDate(loan.ID, payments); last != nil {
		asOf = *last
	}
	accrued := interest.Outstanding(loan, payments, asOf).Outstanding
	status := models.SettledStatus(principal, accrued)
	return models.LoanUpdate{
		RemainingPrincipal:  &principal,
		AccruedInterest:     &accrued,
		Status:              &status,
		LastInterestAccrual: &asOf,
	}
}
