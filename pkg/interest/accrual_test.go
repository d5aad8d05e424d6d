package interest

import (
	"testing"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

func newLoan(id int, principal, rate int64, start string) *models.Loan {
	return &models.Loan{
		ID:                 id,
		DebtorName:         "Debtor",
		OriginalPrincipal:  decimal.NewFromInt(principal),
		RemainingPrincipal: decimal.NewFromInt(principal),
		InterestRate:       decimal.NewFromInt(rate),
		AccruedInterest:    decimal.Zero,
		Status:             models.LoanStatusOpen,
		StartDate:          models.MustParseDate(start),
	}
}

func payment(id, loanID int, date string, interest, principal string) *models.Payment {
	i := decimal.RequireFromString(interest)
	p := decimal.RequireFromString(principal)
	return &models.Payment{
		ID:            id,
		LoanID:        loanID,
		Date:          models.MustParseDate(date),
		InterestPaid:  i,
		PrincipalPaid: p,
		TotalPaid:     i.Add(p),
	}
}

func near(a, b decimal.Decimal, tol float64) bool {
	return a.Sub(b).Abs().LessThanOrEqual(decimal.NewFromFloat(tol))
}

func TestOutstandingWithoutPayments(t *testing.T) {
	loan := newLoan(1, 100000, 15, "2025-01-01")
	a := Outstanding(loan, nil, models.MustParseDate("2025-01-11"))

	if a.Outstanding.StringFixed(2) != "410.96" {
		t.Errorf("Expected outstanding 410.96, got %s", a.Outstanding.StringFixed(2))
	}
	if a.DaysSinceLastEvent != 10 {
		t.Errorf("Expected 10 days, got %d", a.DaysSinceLastEvent)
	}
	if !a.Principal.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("Expected principal 100000, got %s", a.Principal)
	}
}

func TestOutstandingBeforeStartIsZero(t *testing.T) {
	loan := newLoan(1, 100000, 15, "2025-01-01")
	a := Outstanding(loan, nil, models.MustParseDate("2024-12-15"))
	if !a.Outstanding.IsZero() || !a.Accrued.IsZero() {
		t.Errorf("Expected zero before start, got outstanding %s accrued %s", a.Outstanding, a.Accrued)
	}
}

func TestOutstandingReplaysPayments(t *testing.T) {
	loan := newLoan(1, 100000, 15, "2025-01-01")
	first := SimpleInterest(decimal.NewFromInt(100000), decimal.NewFromInt(15), 10)
	principalPaid := decimal.NewFromInt(500).Sub(first)
	payments := []*models.Payment{{
		ID: 1, LoanID: 1, Date: models.MustParseDate("2025-01-11"),
		InterestPaid: first, PrincipalPaid: principalPaid, TotalPaid: decimal.NewFromInt(500),
	}}

	onPaymentDay := Outstanding(loan, payments, models.MustParseDate("2025-01-11"))
	if !near(onPaymentDay.Outstanding, decimal.Zero, 1e-9) {
		t.Errorf("Expected no outstanding interest on payment day, got %s", onPaymentDay.Outstanding)
	}

	later := Outstanding(loan, payments, models.MustParseDate("2025-01-21"))
	newPrincipal := decimal.NewFromInt(100000).Sub(principalPaid)
	want := SimpleInterest(newPrincipal, decimal.NewFromInt(15), 10)
	if !near(later.Outstanding, want, 1e-9) {
		t.Errorf("Expected outstanding %s, got %s", want, later.Outstanding)
	}
	if !later.LastEvent.Equal(models.MustParseDate("2025-01-11")) {
		t.Errorf("Expected last event 2025-01-11, got %s", later.LastEvent)
	}
	if !near(later.Principal, newPrincipal, 1e-9) {
		t.Errorf("Expected principal %s, got %s", newPrincipal, later.Principal)
	}
}

func TestOutstandingPartialInterestPaymentCarriesOver(t *testing.T) {
	loan := newLoan(1, 36500, 10, "2025-01-01")
	// 10 units of interest per day; 100 accrued by 01-11, only 40 paid.
	payments := []*models.Payment{payment(1, 1, "2025-01-11", "40", "0")}
	a := Outstanding(loan, payments, models.MustParseDate("2025-01-21"))
	if !near(a.Outstanding, decimal.NewFromInt(160), 1e-9) {
		t.Errorf("Expected 160 outstanding, got %s", a.Outstanding)
	}
}

func TestOutstandingIgnoresLaterPayments(t *testing.T) {
	loan := newLoan(1, 36500, 10, "2025-01-01")
	payments := []*models.Payment{payment(1, 1, "2025-02-01", "310", "1000")}
	a := Outstanding(loan, payments, models.MustParseDate("2025-01-11"))
	if !near(a.Outstanding, decimal.NewFromInt(100), 1e-9) {
		t.Errorf("Expected 100 outstanding, got %s", a.Outstanding)
	}
}

func TestOutstandingStopsWhenPrincipalRepaid(t *testing.T) {
	loan := newLoan(1, 36500, 10, "2025-01-01")
	payments := []*models.Payment{payment(1, 1, "2025-01-11", "100", "36500")}
	a := Outstanding(loan, payments, models.MustParseDate("2025-06-01"))
	if !a.Outstanding.IsZero() || !a.Principal.IsZero() {
		t.Errorf("Expected settled loan, got outstanding %s principal %s", a.Outstanding, a.Principal)
	}
}

func TestMultiplePaymentsSameDay(t *testing.T) {
	loan := newLoan(1, 36500, 10, "2025-01-01")
	payments := []*models.Payment{
		payment(1, 1, "2025-01-11", "100", "500"),
		payment(2, 1, "2025-01-11", "0", "500"),
	}
	a := Outstanding(loan, payments, models.MustParseDate("2025-01-21"))
	// 35500 principal for 10 days at 1 unit per 3650 principal per day.
	want := SimpleInterest(decimal.NewFromInt(35500), decimal.NewFromInt(10), 10)
	if !near(a.Outstanding, want, 1e-9) {
		t.Errorf("Expected %s, got %s", want, a.Outstanding)
	}
}

func TestGeneratedInPeriodFullMonth(t *testing.T) {
	loan := newLoan(1, 36500, 10, "2024-12-15")
	start, end := MonthBounds(1, 2025)
	p := GeneratedInPeriod(loan, nil, start, end)
	if !near(p.Interest, decimal.NewFromInt(310), 1e-9) {
		t.Errorf("Expected 310 interest for January, got %s", p.Interest)
	}
	if p.DaysActive != 31 {
		t.Errorf("Expected 31 active days, got %d", p.DaysActive)
	}
}

func TestGeneratedInPeriodSplitsAtPayments(t *testing.T) {
	loan := newLoan(1, 36500, 10, "2025-01-01")
	payments := []*models.Payment{payment(1, 1, "2025-01-11", "100", "18250")}
	start, end := MonthBounds(1, 2025)
	p := GeneratedInPeriod(loan, payments, start, end)
	// 10 days at 10/day, then 21 days (11th..31st) at 5/day.
	if !near(p.Interest, decimal.NewFromInt(205), 1e-9) {
		t.Errorf("Expected 205, got %s", p.Interest)
	}
	if p.DaysActive != 31 || p.PaymentsCount != 1 {
		t.Errorf("Expected 31 days and 1 payment, got %d and %d", p.DaysActive, p.PaymentsCount)
	}
	if !p.OpeningPrincipal.Equal(decimal.NewFromInt(36500)) || !p.EndingPrincipal.Equal(decimal.NewFromInt(18250)) {
		t.Errorf("Unexpected principals %s -> %s", p.OpeningPrincipal, p.EndingPrincipal)
	}
}

func TestGeneratedInPeriodSegments(t *testing.T) {
	loan := newLoan(1, 36500, 10, "2025-01-01")
	payments := []*models.Payment{payment(1, 1, "2025-01-11", "100", "18250")}
	start, end := MonthBounds(1, 2025)
	p := GeneratedInPeriod(loan, payments, start, end)
	if len(p.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %+v", p.Segments)
	}
	first, second := p.Segments[0], p.Segments[1]
	if first.Start.String() != "2025-01-01" || first.End.String() != "2025-01-10" || first.Days != 10 {
		t.Errorf("Unexpected first segment %+v", first)
	}
	if !near(first.DailyInterest, decimal.NewFromInt(10), 1e-9) || !first.Payment.IsZero() {
		t.Errorf("Expected 10/day and no payment, got %+v", first)
	}
	if second.Start.String() != "2025-01-11" || second.End.String() != "2025-01-31" || second.Days != 21 {
		t.Errorf("Unexpected second segment %+v", second)
	}
	if !second.Principal.Equal(decimal.NewFromInt(18250)) || !second.Payment.Equal(decimal.NewFromInt(18350)) {
		t.Errorf("Expected the payment to open the second segment, got %+v", second)
	}
	if avg := p.AverageBalance(); !near(avg, decimal.NewFromInt(36500*10+18250*21).Div(decimal.NewFromInt(31)), 1e-9) {
		t.Errorf("Unexpected average balance %s", avg)
	}
}

// Segments must add up to the period totals in every month, whatever the
// payment pattern.
func TestSegmentsSumToPeriodInterest(t *testing.T) {
	loan := newLoan(1, 120000, 18, "2025-01-17")
	payments := []*models.Payment{
		payment(1, 1, "2025-02-03", "1000", "5000"),
		payment(2, 1, "2025-02-28", "500", "0"),
		payment(3, 1, "2025-02-28", "0", "100"),
		payment(4, 1, "2025-03-01", "0", "20000"),
		payment(5, 1, "2025-04-30", "2000", "94900"),
	}
	month, year := 1, 2025
	for i := 0; i < 5; i++ {
		start, end := MonthBounds(month, year)
		p := GeneratedInPeriod(loan, payments, start, end)
		sum, days := decimal.Zero, 0
		for _, s := range p.Segments {
			sum = sum.Add(s.Interest)
			days += s.Days
		}
		if !sum.Equal(p.Interest) || days != p.DaysActive {
			t.Errorf("%d/%d: segments give %s over %d days, period %s over %d", month, year, sum, days, p.Interest, p.DaysActive)
		}
		month, year = NextMonth(month, year)
	}
}

func TestGeneratedInPeriodLoanStartsMidMonth(t *testing.T) {
	loan := newLoan(1, 36500, 10, "2025-01-22")
	start, end := MonthBounds(1, 2025)
	p := GeneratedInPeriod(loan, nil, start, end)
	if p.DaysActive != 10 || !near(p.Interest, decimal.NewFromInt(100), 1e-9) {
		t.Errorf("Expected 10 days and 100 interest, got %d and %s", p.DaysActive, p.Interest)
	}
}

func TestGeneratedInPeriodAfterSettlement(t *testing.T) {
	loan := newLoan(1, 36500, 10, "2025-01-01")
	payments := []*models.Payment{payment(1, 1, "2025-01-11", "100", "36500")}
	start, end := MonthBounds(2, 2025)
	p := GeneratedInPeriod(loan, payments, start, end)
	if !p.Interest.IsZero() || p.DaysActive != 0 {
		t.Errorf("Expected nothing generated after settlement, got %s over %d days", p.Interest, p.DaysActive)
	}
}

// Monthly slices must add up to the accrual replay at the close of the last month.
func TestMonthlySlicesMatchReplay(t *testing.T) {
	loan := newLoan(1, 120000, 18, "2025-01-17")
	payments := []*models.Payment{
		payment(1, 1, "2025-02-03", "1000", "5000"),
		payment(2, 1, "2025-02-28", "500", "0"),
		payment(3, 1, "2025-03-01", "0", "20000"),
		payment(4, 1, "2025-04-30", "2000", "1000"),
	}
	sum := decimal.Zero
	month, year := 1, 2025
	for i := 0; i < 5; i++ {
		start, end := MonthBounds(month, year)
		sum = sum.Add(GeneratedInPeriod(loan, payments, start, end).Interest)
		month, year = NextMonth(month, year)
	}
	_, lastDay := MonthBounds(5, 2025)
	replayed := OutstandingAtClose(loan, payments, lastDay)
	if !near(sum, replayed.Accrued, 1e-6) {
		t.Errorf("Expected monthly sum %s to equal replayed accrual %s", sum, replayed.Accrued)
	}
}

func TestPrincipalAt(t *testing.T) {
	loan := newLoan(1, 1000, 10, "2025-01-01")
	payments := []*models.Payment{
		payment(1, 1, "2025-01-10", "0", "100"),
		payment(2, 1, "2025-01-20", "0", "200"),
		payment(3, 2, "2025-01-05", "0", "999"),
	}
	if got := PrincipalAt(loan, payments, models.MustParseDate("2025-01-15")); !got.Equal(decimal.NewFromInt(900)) {
		t.Errorf("Expected 900, got %s", got)
	}
	if got := PrincipalAt(loan, payments, models.MustParseDate("2025-01-20")); !got.Equal(decimal.NewFromInt(700)) {
		t.Errorf("Expected 700, got %s", got)
	}
}

func TestCheckConsistency(t *testing.T) {
	loan := newLoan(1, 36500, 10, "2025-01-01")
	payments := []*models.Payment{payment(1, 1, "2025-01-11", "50", "500")}
	asOf := models.MustParseDate("2025-01-11")
	loan.LastInterestAccrual = &asOf
	loan.RemainingPrincipal = decimal.NewFromInt(36000)
	loan.AccruedInterest = decimal.NewFromInt(50)

	if issues := CheckConsistency(loan, payments); len(issues) != 0 {
		t.Fatalf("Expected a consistent loan, got %v", issues)
	}

	loan.AccruedInterest = decimal.NewFromInt(75)
	loan.RemainingPrincipal = decimal.NewFromInt(36500)
	issues := CheckConsistency(loan, payments)
	if len(issues) != 2 {
		t.Fatalf("Expected 2 issues, got %d", len(issues))
	}
	if issues[0].Field != "remaining_principal" || issues[1].Field != "accrued_interest" {
		t.Errorf("Unexpected issue fields %s, %s", issues[0].Field, issues[1].Field)
	}
}
