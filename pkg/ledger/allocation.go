package ledger

import (
	"sort"

	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// AllocationInput is everything Allocate needs; it performs no I/O.
type AllocationInput struct {
	Amount         decimal.Decimal
	Date           models.Date
	Today          models.Date
	LoanID         *int // Single-loan mode when set
	Loans          []*models.Loan
	Payments       []*models.Payment
	AllowBackdated bool
}

// LoanAllocation is the share of a payment one loan receives and the state
// the loan is left in.
type LoanAllocation struct {
	Loan               *models.Loan
	Accrual            interest.Accrual // Recomputed outstanding interest before the payment
	Payment            models.Payment
	RemainingPrincipal decimal.Decimal
	AccruedInterest    decimal.Decimal
	Status             models.LoanStatus
}

type Allocation struct {
	Rows      []LoanAllocation
	TotalDebt decimal.Decimal // Σ principal + outstanding interest over the eligible loans
	Warnings  []string
}

type candidate struct {
	loan      *models.Loan
	accrual   interest.Accrual
	principal decimal.Decimal
	owed      decimal.Decimal
}

// Allocate splits a payment over the open loans in id order, interest first
// and then principal. A loan only receives funds once every lower id loan is
// settled. Nothing is mutated; the caller commits the returned rows.
func Allocate(in AllocationInput) (Allocation, error) {
	var out Allocation

	if !in.Amount.IsPositive() {
		return out, models.NewValidationError("amount", "must be greater than 0")
	}
	if in.Date.IsZero() {
		return out, models.NewValidationError("date", "is required")
	}
	if in.Date.After(in.Today) {
		return out, models.NewValidationError("date", "%s is in the future", in.Date)
	}

	open := openLoans(in.Loans)
	if len(open) == 0 {
		return out, models.NewValidationError("loan_id", "there are no open loans to pay")
	}
	candidates := make([]candidate, 0, len(open))
	for _, loan := range open {
		acc := interest.Outstanding(loan, in.Payments, in.Date)
		principal := interest.RemainingPrincipal(loan, in.Payments)
		candidates = append(candidates, candidate{
			loan:      loan,
			accrual:   acc,
			principal: principal,
			owed:      principal.Add(acc.Outstanding),
		})
	}

	if in.LoanID != nil {
		var err error
		candidates, err = singleLoan(*in.LoanID, in.Loans, candidates)
		if err != nil {
			return out, err
		}
	}

	out.TotalDebt = decimal.Zero
	for _, c := range candidates {
		out.TotalDebt = out.TotalDebt.Add(c.owed)
	}
	if in.Amount.GreaterThan(out.TotalDebt) {
		return out, models.NewValidationError("amount", "%s exceeds the total debt; the maximum allowed is %s",
			in.Amount.StringFixed(2), out.TotalDebt.RoundFloor(2).StringFixed(2))
	}

	remaining := in.Amount
	for _, c := range candidates {
		if !remaining.IsPositive() {
			break
		}
		if !c.owed.IsPositive() {
			continue
		}
		if c.loan.StartDate.After(in.Date) {
			return Allocation{}, models.NewValidationError("date",
				"payment dated %s is before loan %s started on %s", in.Date, c.loan.LoanNumber, c.loan.StartDate)
		}
		if last := lastPaymentDate(c.loan.ID, in.Payments); last != nil && last.After(in.Date) {
			msg := "loan " + c.loan.LoanNumber + " already has a payment dated " + last.String() +
				"; a backdated payment does not change interest already settled after " + in.Date.String()
			if !in.AllowBackdated {
				return Allocation{}, models.NewValidationError("date", "%s", msg)
			}
			out.Warnings = append(out.Warnings, msg)
		}

		applied := decimal.Min(remaining, c.owed)
		interestPaid := decimal.Min(applied, c.accrual.Outstanding)
		principalPaid := applied.Sub(interestPaid)

		newPrincipal := c.principal.Sub(principalPaid)
		if newPrincipal.IsNegative() {
			newPrincipal = decimal.Zero
		}
		newAccrued := c.accrual.Outstanding.Sub(interestPaid)

		out.Rows = append(out.Rows, LoanAllocation{
			Loan:    c.loan,
			Accrual: c.accrual,
			Payment: models.Payment{
				LoanID:        c.loan.ID,
				Date:          in.Date,
				TotalPaid:     applied,
				InterestPaid:  interestPaid,
				PrincipalPaid: principalPaid,
			},
			RemainingPrincipal: newPrincipal,
			AccruedInterest:    newAccrued,
			Status:             models.SettledStatus(newPrincipal, newAccrued),
		})
		remaining = remaining.Sub(applied)
	}
	return out, nil
}

// singleLoan restricts the candidates to id, refusing while a lower id loan
// still owes more than Epsilon.
func singleLoan(id int, all []*models.Loan, candidates []candidate) ([]candidate, error) {
	var target *models.Loan
	for _, loan := range all {
		if loan.ID == id {
			target = loan
		}
	}
	if target == nil {
		return nil, &models.NotFoundError{Entity: "loan", ID: id}
	}
	if !target.IsOpen() {
		return nil, models.NewValidationError("loan_id", "loan %s is already paid", target.LoanNumber)
	}

	for i, c := range candidates {
		if c.loan.ID == id {
			return candidates[i : i+1], nil
		}
		if c.owed.GreaterThan(models.Epsilon) {
			return nil, models.NewValidationError("loan_id",
				"loan %s must be settled before loan %s can receive payments", c.loan.LoanNumber, target.LoanNumber)
		}
	}
	return nil, &models.NotFoundError{Entity: "loan", ID: id}
}

func openLoans(loans []*models.Loan) []*models.Loan {
	open := make([]*models.Loan, 0, len(loans))
	for _, l := range loans {
		if l.IsOpen() {
			open = append(open, l)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open
}

func lastPaymentDate(loanID int, payments []*models.Payment) *models.Date {
	var last *models.Date
	for _, p := range payments {
		if p.LoanID == loanID && (last == nil || p.Date.After(*last)) {
			d := p.Date
			last = &d
		}
	}
	return last
}
