// Package invoice reconciles each calendar month: interest generated, interest
// paid and interest still outstanding at month end, persisted as one
// MonthlyInvoice per period.
package invoice

import (
	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Calculation is the pure result of reconciling one month.
type Calculation struct {
	Month        int                    `json:"month"`
	Year         int                    `json:"year"`
	Start        models.Date            `json:"start"`
	End          models.Date            `json:"end"`
	TotalAccrued decimal.Decimal        `json:"total_accrued"`
	TotalPaid    decimal.Decimal        `json:"total_paid"`
	Remaining    decimal.Decimal        `json:"remaining"`
	Status       models.InvoiceStatus   `json:"status"`
	LoanDetails  models.LoanDetails     `json:"loan_details"`
	Payments     models.InvoicePayments `json:"payments_in_month"`
	Breakdown    models.DailyBreakdown  `json:"daily_breakdown"`
}

// ComputeMonth reconciles (month, year) from the loans and their full payment
// history. Totals are accumulated at full precision and rounded once to
// cents at the end.
//
// TotalAccrued is the interest generated inside the month. Remaining is the
// cumulative unpaid interest at the close of the last day, so a shortfall
// from an earlier month is still reported here.
func ComputeMonth(month, year int, loans []*models.Loan, payments []*models.Payment) Calculation {
	start, end := interest.MonthBounds(month, year)
	calc := Calculation{
		Month:        month,
		Year:         year,
		Start:        start,
		End:          end,
		TotalAccrued: decimal.Zero,
		TotalPaid:    decimal.Zero,
		Remaining:    decimal.Zero,
		LoanDetails:  models.LoanDetails{},
		Payments:     models.InvoicePayments{},
		Breakdown:    models.DailyBreakdown{},
	}

	for _, loan := range loans {
		if loan.StartDate.After(end) {
			continue
		}
		period := interest.GeneratedInPeriod(loan, payments, start, end)
		calc.TotalAccrued = calc.TotalAccrued.Add(period.Interest)

		if period.Interest.IsPositive() || period.PaymentsCount > 0 {
			calc.LoanDetails = append(calc.LoanDetails, models.LoanDetail{
				LoanID:          loan.ID,
				LoanNumber:      loan.LoanNumber,
				DebtorName:      loan.DebtorName,
				Principal:       period.OpeningPrincipal.Round(2),
				EndingPrincipal: period.EndingPrincipal.Round(2),
				InterestRate:    loan.InterestRate,
				DaysActive:      period.DaysActive,
				TotalInterest:   period.Interest.Round(2),
				PaymentsCount:   period.PaymentsCount,
				AverageBalance:  period.AverageBalance().Round(2),
			})
		}
		for _, seg := range period.Segments {
			seg.Principal = seg.Principal.Round(2)
			seg.DailyInterest = seg.DailyInterest.Round(4)
			seg.Interest = seg.Interest.Round(2)
			calc.Breakdown = append(calc.Breakdown, seg)
		}

		closing := interest.OutstandingAtClose(loan, payments, end)
		calc.Remaining = calc.Remaining.Add(closing.Outstanding)
	}

	for _, p := range payments {
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		calc.TotalPaid = calc.TotalPaid.Add(p.InterestPaid)
		calc.Payments = append(calc.Payments, models.InvoicePayment{
			PaymentID:     p.ID,
			LoanID:        p.LoanID,
			Date:          p.Date,
			TotalPaid:     p.TotalPaid,
			InterestPaid:  p.InterestPaid,
			PrincipalPaid: p.PrincipalPaid,
		})
	}

	calc.TotalAccrued = calc.TotalAccrued.Round(2)
	calc.TotalPaid = calc.TotalPaid.Round(2)
	calc.Remaining = calc.Remaining.Round(2)
	calc.Status = Status(calc.TotalAccrued, calc.TotalPaid, calc.Remaining)
	return calc
}

// Status derives the invoice status. Nothing left to pay is Paid, even for a
// month in which no interest was generated.
func Status(totalAccrued, totalPaid, remaining decimal.Decimal) models.InvoiceStatus {
	switch {
	case remaining.LessThanOrEqual(models.Epsilon):
		return models.InvoiceStatusPaid
	case totalPaid.GreaterThan(models.Epsilon):
		return models.InvoiceStatusPartial
	default:
		return models.InvoiceStatusPending
	}
}
