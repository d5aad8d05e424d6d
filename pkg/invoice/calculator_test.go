package invoice

import (
	"testing"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

func newLoan(id int, principal, rate int64, start string) *models.Loan {
	startDate := models.MustParseDate(start)
	return &models.Loan{
		ID:                 id,
		LoanNumber:         models.LoanNumber(id, startDate),
		DebtorName:         "Debtor",
		OriginalPrincipal:  decimal.NewFromInt(principal),
		RemainingPrincipal: decimal.NewFromInt(principal),
		InterestRate:       decimal.NewFromInt(rate),
		AccruedInterest:    decimal.Zero,
		Status:             models.LoanStatusOpen,
		StartDate:          startDate,
	}
}

func payment(id, loanID int, date, interest, principal string) *models.Payment {
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

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeMonthWithoutLoans(t *testing.T) {
	calc := ComputeMonth(6, 2025, nil, nil)
	if !calc.TotalAccrued.IsZero() || !calc.TotalPaid.IsZero() || !calc.Remaining.IsZero() {
		t.Errorf("Expected an empty month, got %+v", calc)
	}
	if calc.Status != models.InvoiceStatusPaid {
		t.Errorf("Expected nothing owed to be Paid, got %s", calc.Status)
	}
	if calc.LoanDetails == nil || len(calc.LoanDetails) != 0 {
		t.Errorf("Expected an empty, non-nil loan detail list")
	}
}

func TestComputeMonthFullMonth(t *testing.T) {
	// 36500 at 10% generates exactly 10 per day.
	loans := []*models.Loan{newLoan(1, 36500, 10, "2024-12-15")}
	calc := ComputeMonth(1, 2025, loans, nil)

	if !calc.TotalAccrued.Equal(dec("310")) {
		t.Errorf("Expected 310 accrued, got %s", calc.TotalAccrued)
	}
	// 17 days of December are still unpaid at the close of January.
	if !calc.Remaining.Equal(dec("480")) {
		t.Errorf("Expected 480 remaining, got %s", calc.Remaining)
	}
	if calc.Status != models.InvoiceStatusPending {
		t.Errorf("Expected Pending, got %s", calc.Status)
	}
	if len(calc.LoanDetails) != 1 || calc.LoanDetails[0].DaysActive != 31 {
		t.Fatalf("Unexpected loan details %+v", calc.LoanDetails)
	}
	if calc.LoanDetails[0].LoanNumber != "01-15122024" {
		t.Errorf("Unexpected loan number %s", calc.LoanDetails[0].LoanNumber)
	}
}

func TestComputeMonthSplitsAtPayment(t *testing.T) {
	loans := []*models.Loan{newLoan(1, 36500, 10, "2025-01-01")}
	payments := []*models.Payment{payment(1, 1, "2025-01-11", "100", "18250")}
	calc := ComputeMonth(1, 2025, loans, payments)

	if !calc.TotalAccrued.Equal(dec("205")) {
		t.Errorf("Expected 205 accrued, got %s", calc.TotalAccrued)
	}
	if !calc.TotalPaid.Equal(dec("100")) {
		t.Errorf("Expected 100 paid, got %s", calc.TotalPaid)
	}
	if !calc.Remaining.Equal(dec("105")) {
		t.Errorf("Expected 105 remaining, got %s", calc.Remaining)
	}
	if calc.Status != models.InvoiceStatusPartial {
		t.Errorf("Expected Partial, got %s", calc.Status)
	}
	d := calc.LoanDetails[0]
	if d.PaymentsCount != 1 || !d.Principal.Equal(dec("36500")) || !d.EndingPrincipal.Equal(dec("18250")) {
		t.Errorf("Unexpected loan detail %+v", d)
	}
	if len(calc.Payments) != 1 || calc.Payments[0].PaymentID != 1 {
		t.Errorf("Unexpected payments snapshot %+v", calc.Payments)
	}
}

func TestComputeMonthDailyBreakdown(t *testing.T) {
	loans := []*models.Loan{newLoan(1, 36500, 10, "2025-01-01")}
	// 45 days of interest, then principal down to 32850, i.e. 9 per day.
	payments := []*models.Payment{payment(1, 1, "2025-02-15", "450", "3650")}
	calc := ComputeMonth(2, 2025, loans, payments)

	if len(calc.Breakdown) != 2 {
		t.Fatalf("Expected two segments, got %+v", calc.Breakdown)
	}
	sum := decimal.Zero
	for _, seg := range calc.Breakdown {
		sum = sum.Add(seg.Interest)
	}
	if !sum.Equal(calc.TotalAccrued) || !calc.TotalAccrued.Equal(dec("266")) {
		t.Errorf("Expected the breakdown to sum to 266, got %s of %s", sum, calc.TotalAccrued)
	}
	if !sum.Equal(calc.LoanDetails[0].TotalInterest) {
		t.Errorf("Expected the breakdown to match the loan total %s, got %s", calc.LoanDetails[0].TotalInterest, sum)
	}
	second := calc.Breakdown[1]
	if second.Start.String() != "2025-02-15" || second.End.String() != "2025-02-28" || !second.DailyInterest.Equal(dec("9")) {
		t.Errorf("Unexpected second segment %+v", second)
	}
	if !second.Payment.Equal(dec("4100")) {
		t.Errorf("Expected the payment on the segment start, got %s", second.Payment)
	}
	if avg := calc.LoanDetails[0].AverageBalance; !avg.Equal(dec("34675")) {
		t.Errorf("Expected an average balance of 34675, got %s", avg)
	}
}

func TestComputeMonthRemainingIsCumulative(t *testing.T) {
	loans := []*models.Loan{newLoan(1, 36500, 10, "2025-01-01")}
	calc := ComputeMonth(2, 2025, loans, nil)

	if !calc.TotalAccrued.Equal(dec("280")) {
		t.Errorf("Expected 280 generated in February, got %s", calc.TotalAccrued)
	}
	// January's unpaid 310 is carried into February's remaining.
	if !calc.Remaining.Equal(dec("590")) {
		t.Errorf("Expected 590 remaining, got %s", calc.Remaining)
	}
}

func TestComputeMonthSettledLoan(t *testing.T) {
	loans := []*models.Loan{
		newLoan(1, 36500, 10, "2025-01-01"),
		newLoan(2, 36500, 10, "2025-03-05"),
	}
	payments := []*models.Payment{payment(1, 1, "2025-01-21", "200", "36500")}

	jan := ComputeMonth(1, 2025, loans, payments)
	if !jan.TotalAccrued.Equal(dec("200")) || !jan.Remaining.IsZero() || jan.Status != models.InvoiceStatusPaid {
		t.Errorf("Expected a settled January, got accrued %s remaining %s status %s", jan.TotalAccrued, jan.Remaining, jan.Status)
	}

	feb := ComputeMonth(2, 2025, loans, payments)
	if len(feb.LoanDetails) != 0 || !feb.TotalAccrued.IsZero() {
		t.Errorf("Expected no activity in February, got %+v", feb.LoanDetails)
	}
	if feb.Status != models.InvoiceStatusPaid {
		t.Errorf("Expected Paid, got %s", feb.Status)
	}
}

func TestComputeMonthRoundsOnce(t *testing.T) {
	loans := []*models.Loan{
		newLoan(1, 1000, 7, "2025-01-01"),
		newLoan(2, 1000, 7, "2025-01-01"),
		newLoan(3, 1000, 7, "2025-01-01"),
	}
	calc := ComputeMonth(1, 2025, loans, nil)
	// 3 × 1000 × 7 × 31 / 36500 = 17.8356..., not 3 × round(5.945...) = 17.85.
	if !calc.TotalAccrued.Equal(dec("17.84")) {
		t.Errorf("Expected 17.84, got %s", calc.TotalAccrued)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		accrued, paid, remaining string
		want                     models.InvoiceStatus
	}{
		{"0", "0", "0", models.InvoiceStatusPaid},
		{"100", "100", "0.01", models.InvoiceStatusPaid},
		{"100", "50", "50", models.InvoiceStatusPartial},
		{"100", "0.01", "99.99", models.InvoiceStatusPending},
		{"100", "0", "100", models.InvoiceStatusPending},
		{"0", "0", "12", models.InvoiceStatusPending},
	}
	for _, tt := range tests {
		got := Status(dec(tt.accrued), dec(tt.paid), dec(tt.remaining))
		if got != tt.want {
			t.Errorf("Status(%s, %s, %s) = %s, want %s", tt.accrued, tt.paid, tt.remaining, got, tt.want)
		}
	}
}
