package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type LoanRequest struct {
	DebtorName   string
	Principal    decimal.Decimal
	InterestRate decimal.Decimal // Annual percentage
	StartDate    models.Date
	Destiny      string
}

func (l *Ledger) validateLoanRequest(req LoanRequest) error {
	if strings.TrimSpace(req.DebtorName) == "" {
		return models.NewValidationError("debtor_name", "is required")
	}
	if !req.Principal.IsPositive() {
		return models.NewValidationError("original_principal", "must be greater than 0")
	}
	if req.InterestRate.IsNegative() {
		return models.NewValidationError("interest_rate", "must not be negative")
	}
	if req.StartDate.IsZero() {
		return models.NewValidationError("start_date", "is required")
	}
	if req.StartDate.After(l.today()) {
		return models.NewValidationError("start_date", "%s is in the future", req.StartDate)
	}
	return nil
}

// CreateLoan persists a new open loan and records the money lent out on the
// account. Invoices from the start month onwards are regenerated.
func (l *Ledger) CreateLoan(ctx context.Context, req LoanRequest) (*LoanResult, error) {
	if err := l.validateLoanRequest(req); err != nil {
		return nil, err
	}

	var loan *models.Loan
	err := l.locked(ctx, func() error {
		return store.RunInTx(ctx, l.storage, func(s store.Storage) error {
			loans, err := s.GetLoans(ctx)
			if err != nil {
				return models.WrapStorage("load loans", err)
			}
			id := 1
			for _, existing := range loans {
				if existing.ID >= id {
					id = existing.ID + 1
				}
			}

			loan = &models.Loan{
				ID:                 id,
				LoanNumber:         models.LoanNumber(id, req.StartDate),
				DebtorName:         strings.TrimSpace(req.DebtorName),
				OriginalPrincipal:  req.Principal,
				RemainingPrincipal: req.Principal,
				InterestRate:       req.InterestRate,
				AccruedInterest:    decimal.Zero,
				Status:             models.LoanStatusOpen,
				StartDate:          req.StartDate,
				Destiny:            req.Destiny,
				CreatedAt:          time.Now().UTC(),
			}
			if _, err := s.SaveLoan(ctx, loan); err != nil {
				return models.WrapStorage(fmt.Sprintf("save loan %d", id), err)
			}
			_, err = appendTransaction(ctx, s, models.TransactionTypeLoanOut, req.Principal.Neg(), &loan.ID,
				fmt.Sprintf("Loan %s to %s", loan.LoanNumber, loan.DebtorName), req.StartDate)
			return err
		})
	})
	if err != nil {
		if !models.IsValidation(err) {
			config.LogError(l.logger, moduleName, "CreateLoan", "create loan", req.DebtorName, err)
		}
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"module":      moduleName,
		"funcName":    "CreateLoan",
		"loan_id":     loan.ID,
		"loan_number": loan.LoanNumber,
		"principal":   loan.OriginalPrincipal.StringFixed(2),
	}).Info("loan created")
	result := &LoanResult{Loan: loan, Regeneration: newRegeneration()}
	l.regenerate(ctx, "CreateLoan", loan.StartDate, &result.Regeneration)
	return result, nil
}

// EditLoan replaces the editable terms of a loan. The remaining principal
// moves with the original principal and the cached interest is replayed
// under the new terms.
func (l *Ledger) EditLoan(ctx context.Context, id int, req LoanRequest) (*LoanResult, error) {
	if err := l.validateLoanRequest(req); err != nil {
		return nil, err
	}

	var (
		updated  *models.Loan
		oldStart models.Date
	)
	err := l.locked(ctx, func() error {
		loan, err := l.storage.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		oldStart = loan.StartDate
		payments, err := l.storage.GetPayments(ctx)
		if err != nil {
			return models.WrapStorage("load payments", err)
		}
		own := interest.PaymentsForLoan(id, payments)
		if len(own) > 0 && req.StartDate.After(own[0].Date) {
			return models.NewValidationError("start_date",
				"%s is after the first payment of loan %s on %s", req.StartDate, loan.LoanNumber, own[0].Date)
		}

		edited := *loan
		edited.DebtorName = strings.TrimSpace(req.DebtorName)
		edited.OriginalPrincipal = req.Principal
		edited.InterestRate = req.InterestRate
		edited.StartDate = req.StartDate
		edited.Destiny = req.Destiny
		edited.LoanNumber = models.LoanNumber(id, req.StartDate)

		principal := interest.RemainingPrincipal(&edited, own)
		accrued := decimal.Zero
		if edited.LastInterestAccrual != nil {
			accrued = interest.Outstanding(&edited, own, *edited.LastInterestAccrual).Outstanding
		}
		status := models.SettledStatus(principal, accrued)
		update := models.LoanUpdate{
			LoanNumber:         &edited.LoanNumber,
			DebtorName:         &edited.DebtorName,
			OriginalPrincipal:  &edited.OriginalPrincipal,
			RemainingPrincipal: &principal,
			InterestRate:       &edited.InterestRate,
			AccruedInterest:    &accrued,
			Status:             &status,
			StartDate:          &edited.StartDate,
			Destiny:            &edited.Destiny,
		}
		delta := req.Principal.Sub(loan.OriginalPrincipal)

		return store.RunInTx(ctx, l.storage, func(s store.Storage) error {
			if err := s.UpdateLoan(ctx, id, update); err != nil {
				return models.WrapStorage(fmt.Sprintf("update loan %d", id), err)
			}
			if !delta.IsZero() {
				description := fmt.Sprintf("Principal of loan %s changed from %s to %s", edited.LoanNumber,
					loan.OriginalPrincipal.StringFixed(2), req.Principal.StringFixed(2))
				if _, err := appendTransaction(ctx, s, models.TransactionTypeAdjustment, delta.Neg(), &edited.ID, description, l.today()); err != nil {
					return err
				}
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
		"module":   moduleName,
		"funcName": "EditLoan",
		"loan_id":  id,
	}).Info("loan edited")
	from := oldStart
	if updated.StartDate.Before(from) {
		from = updated.StartDate
	}
	result := &LoanResult{Loan: updated, Regeneration: newRegeneration()}
	l.regenerate(ctx, "EditLoan", from, &result.Regeneration)
	return result, nil
}

// DeleteLoan removes a loan with its payments and interest events. The
// account receives back the principal net of what was already repaid. The
// result carries the loan as it was before deletion.
func (l *Ledger) DeleteLoan(ctx context.Context, id int) (*LoanResult, error) {
	var deleted *models.Loan
	err := l.locked(ctx, func() error {
		loan, err := l.storage.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		deleted = loan
		payments, err := l.storage.GetPayments(ctx)
		if err != nil {
			return models.WrapStorage("load payments", err)
		}
		received := decimal.Zero
		for _, p := range interest.PaymentsForLoan(id, payments) {
			received = received.Add(p.TotalPaid)
		}

		return store.RunInTx(ctx, l.storage, func(s store.Storage) error {
			if err := s.DeleteLoan(ctx, id); err != nil {
				return models.WrapStorage(fmt.Sprintf("delete loan %d", id), err)
			}
			amount := loan.OriginalPrincipal.Sub(received)
			if amount.IsZero() {
				return nil
			}
			description := fmt.Sprintf("Loan %s deleted", loan.LoanNumber)
			_, err := appendTransaction(ctx, s, models.TransactionTypeAdjustment, amount, nil, description, l.today())
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"module":      moduleName,
		"funcName":    "DeleteLoan",
		"loan_id":     id,
		"loan_number": deleted.LoanNumber,
	}).Info("loan deleted")
	result := &LoanResult{Loan: deleted, Regeneration: newRegeneration()}
	l.regenerate(ctx, "DeleteLoan", deleted.StartDate, &result.Regeneration)
	return result, nil
}

type RefreshReport struct {
	Checked int                        `json:"checked"`
	Updated int                        `json:"updated"`
	Issues  []*models.ConsistencyError `json:"issues"`
}

// RefreshAccruals brings every loan's cached balances up to today. Drift
// found against the replayed history is logged and reported, then
// overwritten.
func (l *Ledger) RefreshAccruals(ctx context.Context) (RefreshReport, error) {
	report := RefreshReport{Issues: []*models.ConsistencyError{}}
	today := l.today()

	err := l.locked(ctx, func() error {
		loans, payments, err := l.history(ctx, l.storage)
		if err != nil {
			return err
		}
		return store.RunInTx(ctx, l.storage, func(s store.Storage) error {
			for _, loan := range loans {
				report.Checked++
				report.Issues = append(report.Issues, l.logDrift("RefreshAccruals", loan, payments)...)
				if loan.StartDate.After(today) {
					continue
				}

				acc := interest.Outstanding(loan, payments, today)
				principal := interest.RemainingPrincipal(loan, payments)
				accrued := acc.Outstanding
				status := models.SettledStatus(principal, accrued)
				update := models.LoanUpdate{
					RemainingPrincipal:  &principal,
					AccruedInterest:     &accrued,
					Status:              &status,
					LastInterestAccrual: &today,
				}
				if err := s.UpdateLoan(ctx, loan.ID, update); err != nil {
					return models.WrapStorage(fmt.Sprintf("update loan %d", loan.ID), err)
				}
				report.Updated++

				if status == models.LoanStatusOpen {
					event := newInterestEvent(loan.ID, today, acc, "Daily accrual refresh")
					if err := s.SaveInterestEvent(ctx, event); err != nil {
						return models.WrapStorage(fmt.Sprintf("save interest event for loan %d", loan.ID), err)
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		config.LogError(l.logger, moduleName, "RefreshAccruals", "refresh accruals", today.String(), err)
		return report, err
	}

	l.logger.WithFields(logrus.Fields{
		"module":   moduleName,
		"funcName": "RefreshAccruals",
		"checked":  report.Checked,
		"updated":  report.Updated,
		"issues":   len(report.Issues),
	}).Info("accruals refreshed")
	return report, nil
}

type Summary struct {
	AsOf                models.Date                  `json:"as_of"`
	OpenLoans           int                          `json:"open_loans"`
	PaidLoans           int                          `json:"paid_loans"`
	TotalPrincipal      decimal.Decimal              `json:"total_principal"`
	OutstandingInterest decimal.Decimal              `json:"outstanding_interest"`
	TotalOwed           decimal.Decimal              `json:"total_owed"`
	AccountBalance      decimal.Decimal              `json:"account_balance"`
	Invoices            map[models.InvoiceStatus]int `json:"invoices"`
}

// Summary recomputes the dashboard figures from history as of today.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	today := l.today()
	sum := Summary{
		AsOf:                today,
		TotalPrincipal:      decimal.Zero,
		OutstandingInterest: decimal.Zero,
		Invoices: map[models.InvoiceStatus]int{
			models.InvoiceStatusPending: 0,
			models.InvoiceStatusPartial: 0,
			models.InvoiceStatusPaid:    0,
		},
	}

	loans, payments, err := l.history(ctx, l.storage)
	if err != nil {
		return sum, err
	}
	for _, loan := range loans {
		if !loan.IsOpen() {
			sum.PaidLoans++
			continue
		}
		sum.OpenLoans++
		sum.TotalPrincipal = sum.TotalPrincipal.Add(interest.RemainingPrincipal(loan, payments))
		sum.OutstandingInterest = sum.OutstandingInterest.Add(interest.Outstanding(loan, payments, today).Outstanding)
	}
	sum.TotalPrincipal = sum.TotalPrincipal.Round(2)
	sum.OutstandingInterest = sum.OutstandingInterest.Round(2)
	sum.TotalOwed = sum.TotalPrincipal.Add(sum.OutstandingInterest)

	if sum.AccountBalance, err = l.Balance(ctx); err != nil {
		return sum, err
	}
	invoices, err := l.storage.GetMonthlyInvoices(ctx)
	if err != nil {
		return sum, models.WrapStorage("load invoices", err)
	}
	for _, inv := range invoices {
		sum.Invoices[inv.Status]++
	}
	return sum, nil
}
