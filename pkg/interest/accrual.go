package interest

import (
	"sort"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Accrual is the state of a loan replayed from its payment history up to a date.
type Accrual struct {
	AsOf               models.Date     `json:"as_of"`
	Principal          decimal.Decimal `json:"principal"`
	Accrued            decimal.Decimal `json:"accrued"`       // Interest generated since the loan start
	InterestPaid       decimal.Decimal `json:"interest_paid"` // Interest paid on or before AsOf
	Outstanding        decimal.Decimal `json:"outstanding"`
	LastEvent          models.Date     `json:"last_event"` // Last payment on or before AsOf, or the start date
	DaysSinceLastEvent int             `json:"days_since_last_event"`
}

// TotalOwed is the principal plus outstanding interest.
func (a Accrual) TotalOwed() decimal.Decimal {
	return a.Principal.Add(a.Outstanding)
}

// Period is the interest a loan generated inside a bounded window.
type Period struct {
	From             models.Date     `json:"from"`
	To               models.Date     `json:"to"`
	OpeningPrincipal decimal.Decimal `json:"opening_principal"`
	EndingPrincipal  decimal.Decimal `json:"ending_principal"`
	Interest         decimal.Decimal `json:"interest"`
	DaysActive       int             `json:"days_active"`
	PaymentsCount    int             `json:"payments_count"`
	// Accruing runs in date order; their Interest and Days sum to the totals.
	Segments []models.InterestSegment `json:"segments"`
}

// AverageBalance is the principal weighted by the days it accrued inside the
// period, zero when nothing accrued.
func (p Period) AverageBalance() decimal.Decimal {
	if p.DaysActive == 0 {
		return decimal.Zero
	}
	weighted := decimal.Zero
	for _, s := range p.Segments {
		weighted = weighted.Add(s.Principal.Mul(decimal.NewFromInt(int64(s.Days))))
	}
	return weighted.Div(decimal.NewFromInt(int64(p.DaysActive)))
}

// PaymentsForLoan returns the loan's payments ordered by date, then id.
func PaymentsForLoan(loanID int, payments []*models.Payment) []*models.Payment {
	out := make([]*models.Payment, 0, len(payments))
	for _, p := range payments {
		if p.LoanID == loanID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Outstanding returns the interest accrued since the loan start through asOf
// minus every interest payment made on or before asOf. Interest for the asOf
// day itself is not yet included, matching a payment made that day.
func Outstanding(loan *models.Loan, payments []*models.Payment, asOf models.Date) Accrual {
	return replay(loan, payments, asOf, asOf)
}

// OutstandingAtClose is Outstanding evaluated after the whole of day has
// accrued, i.e. at close of business.
func OutstandingAtClose(loan *models.Loan, payments []*models.Payment, day models.Date) Accrual {
	return replay(loan, payments, day, day.AddDays(1))
}

// replay walks the payment history. Each payment on or before paymentsThrough
// closes a segment at the pre-payment principal; the final segment accrues
// until accrueUntil (exclusive).
func replay(loan *models.Loan, payments []*models.Payment, paymentsThrough, accrueUntil models.Date) Accrual {
	a := Accrual{
		AsOf:         paymentsThrough,
		Principal:    loan.OriginalPrincipal,
		Accrued:      decimal.Zero,
		InterestPaid: decimal.Zero,
		Outstanding:  decimal.Zero,
		LastEvent:    loan.StartDate,
	}
	if paymentsThrough.Before(loan.StartDate) {
		return a
	}

	principal := loan.OriginalPrincipal
	last := loan.StartDate
	for _, p := range PaymentsForLoan(loan.ID, payments) {
		if p.Date.After(paymentsThrough) {
			break
		}
		interest, _ := segment(principal, loan.InterestRate, last, p.Date)
		a.Accrued = a.Accrued.Add(interest)
		principal = principal.Sub(p.PrincipalPaid)
		a.InterestPaid = a.InterestPaid.Add(p.InterestPaid)
		if p.Date.After(last) {
			last = p.Date
		}
	}
	interest, _ := segment(principal, loan.InterestRate, last, accrueUntil)
	a.Accrued = a.Accrued.Add(interest)

	a.Principal = clampZero(principal)
	a.LastEvent = last
	if days := DaysFromTo(last, accrueUntil); days > 0 {
		a.DaysSinceLastEvent = days
	}
	a.Outstanding = clampZero(a.Accrued.Sub(a.InterestPaid))
	return a
}

// GeneratedInPeriod returns the interest the loan generated inside [from, to],
// both days included, regardless of what has been paid. A payment closes the
// running segment at its date; the payment day accrues at the post-payment
// principal so no day is counted twice.
func GeneratedInPeriod(loan *models.Loan, payments []*models.Payment, from, to models.Date) Period {
	windowStart := from
	if loan.StartDate.After(windowStart) {
		windowStart = loan.StartDate
	}
	principal := PrincipalAt(loan, payments, windowStart.AddDays(-1))
	period := Period{
		From:             from,
		To:               to,
		OpeningPrincipal: principal,
		EndingPrincipal:  principal,
		Interest:         decimal.Zero,
		Segments:         []models.InterestSegment{},
	}
	if windowStart.After(to) {
		return period
	}

	segStart := windowStart
	received := decimal.Zero
	closeSegment := func(until models.Date) {
		interest, days := segment(principal, loan.InterestRate, segStart, until)
		if days == 0 {
			return
		}
		period.Interest = period.Interest.Add(interest)
		period.DaysActive += days
		period.Segments = append(period.Segments, models.InterestSegment{
			LoanID:        loan.ID,
			Start:         segStart,
			End:           until.AddDays(-1),
			Days:          days,
			Principal:     principal,
			DailyInterest: SimpleInterest(principal, loan.InterestRate, 1),
			Interest:      interest,
			Payment:       received,
		})
		received = decimal.Zero
	}

	for _, p := range PaymentsForLoan(loan.ID, payments) {
		if p.Date.Before(windowStart) || p.Date.After(to) {
			continue
		}
		period.PaymentsCount++
		closeSegment(p.Date)
		principal = clampZero(principal.Sub(p.PrincipalPaid))
		if p.Date.After(segStart) {
			segStart = p.Date
			received = decimal.Zero
		}
		received = received.Add(p.TotalPaid)
	}
	closeSegment(to.AddDays(1))
	period.EndingPrincipal = principal
	return period
}

// PrincipalAt replays the principal after every payment dated on or before date.
func PrincipalAt(loan *models.Loan, payments []*models.Payment, date models.Date) decimal.Decimal {
	principal := loan.OriginalPrincipal
	for _, p := range PaymentsForLoan(loan.ID, payments) {
		if p.Date.After(date) {
			break
		}
		principal = principal.Sub(p.PrincipalPaid)
	}
	return clampZero(principal)
}

// RemainingPrincipal replays every payment of the loan regardless of date.
func RemainingPrincipal(loan *models.Loan, payments []*models.Payment) decimal.Decimal {
	principal := loan.OriginalPrincipal
	for _, p := range payments {
		if p.LoanID == loan.ID {
			principal = principal.Sub(p.PrincipalPaid)
		}
	}
	return clampZero(principal)
}

// CheckConsistency compares the loan's cached balances with the values
// replayed from history. The accrued interest cache is checked at the date it
// was last written.
func CheckConsistency(loan *models.Loan, payments []*models.Payment) []*models.ConsistencyError {
	var issues []*models.ConsistencyError

	principal := RemainingPrincipal(loan, payments)
	if principal.Sub(loan.RemainingPrincipal).Abs().GreaterThan(models.Epsilon) {
		issues = append(issues, &models.ConsistencyError{
			LoanID:   loan.ID,
			Field:    "remaining_principal",
			Stored:   loan.RemainingPrincipal.StringFixed(2),
			Computed: principal.StringFixed(2),
		})
	}

	expected := decimal.Zero
	if loan.LastInterestAccrual != nil {
		expected = Outstanding(loan, payments, *loan.LastInterestAccrual).Outstanding
	}
	if expected.Sub(loan.AccruedInterest).Abs().GreaterThan(models.Epsilon) {
		issues = append(issues, &models.ConsistencyError{
			LoanID:   loan.ID,
			Field:    "accrued_interest",
			Stored:   loan.AccruedInterest.StringFixed(2),
			Computed: expected.StringFixed(2),
		})
	}
	return issues
}

// segment accrues simple interest on principal over [from, until).
func segment(principal, rate decimal.Decimal, from, until models.Date) (decimal.Decimal, int) {
	if !principal.IsPositive() {
		return decimal.Zero, 0
	}
	days := DaysFromTo(from, until)
	if days <= 0 {
		return decimal.Zero, 0
	}
	return SimpleInterest(principal, rate, days), days
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
