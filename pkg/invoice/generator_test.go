package invoice

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestGenerator seeds a memory store with one loan of 10 per day
// starting 2025-01-01 and pins today to 2025-04-15.
func newTestGenerator(t *testing.T) (*Generator, *store.MemoryStore, *models.Date) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	if _, err := s.SaveLoan(ctx, newLoan(1, 36500, 10, "2025-01-01")); err != nil {
		t.Fatalf("SaveLoan: %v", err)
	}
	today := models.MustParseDate("2025-04-15")
	g := NewGenerator(s, quietLogger(), WithClock(func() models.Date { return today }))
	return g, s, &today
}

func TestGenerateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g, s, today := newTestGenerator(t)
	s.SavePayment(ctx, payment(0, 1, "2025-02-10", "300", "1000"))

	first, err := g.Generate(ctx, 2, 2025)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	*today = models.MustParseDate("2025-04-20")
	second, err := g.Generate(ctx, 2, 2025)
	if err != nil {
		t.Fatalf("Generate again: %v", err)
	}

	if !first.TotalAccrued.Equal(second.TotalAccrued) || !first.TotalPaid.Equal(second.TotalPaid) || !first.Remaining.Equal(second.Remaining) {
		t.Errorf("Regeneration changed totals: %s/%s/%s vs %s/%s/%s",
			first.TotalAccrued, first.TotalPaid, first.Remaining, second.TotalAccrued, second.TotalPaid, second.Remaining)
	}
	if second.GeneratedDate.String() != "2025-04-15" {
		t.Errorf("Expected the original generated date to be kept, got %s", second.GeneratedDate)
	}
	if second.LastUpdated.String() != "2025-04-20" {
		t.Errorf("Expected last updated to move, got %s", second.LastUpdated)
	}
	all, _ := s.GetMonthlyInvoices(ctx)
	if len(all) != 1 {
		t.Errorf("Expected one invoice per period, got %d", len(all))
	}
}

func TestGenerateRejectsInvalidPeriods(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGenerator(t)

	for _, tt := range []struct{ month, year int }{{5, 2025}, {1, 2026}, {0, 2025}, {13, 2025}} {
		if _, err := g.Generate(ctx, tt.month, tt.year); !models.IsValidation(err) {
			t.Errorf("Generate(%d, %d): expected a validation error, got %v", tt.month, tt.year, err)
		}
	}
	if _, err := g.Generate(ctx, 4, 2025); err != nil {
		t.Errorf("Expected the current month to be generated on demand, got %v", err)
	}
}

func TestRegenerateAffectedStopsAtLastElapsedMonth(t *testing.T) {
	ctx := context.Background()
	g, s, _ := newTestGenerator(t)

	ids, err := g.RegenerateAffected(ctx, models.MustParseDate("2025-01-20"))
	if err != nil {
		t.Fatalf("RegenerateAffected: %v", err)
	}
	want := []string{"INV-202501", "INV-202502", "INV-202503"}
	if len(ids) != len(want) {
		t.Fatalf("Expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Expected %s, got %s", want[i], ids[i])
		}
	}
	if _, err := s.GetMonthlyInvoice(ctx, 4, 2025); !models.IsNotFound(err) {
		t.Errorf("The month in progress must not be generated, got %v", err)
	}

	ids, err = g.RegenerateAffected(ctx, models.MustParseDate("2025-04-02"))
	if err != nil || len(ids) != 0 {
		t.Errorf("Expected nothing to regenerate for the current month, got %v, %v", ids, err)
	}
}

func TestRegenerateAffectedPicksUpChanges(t *testing.T) {
	ctx := context.Background()
	g, s, _ := newTestGenerator(t)
	g.RegenerateAffected(ctx, models.MustParseDate("2025-01-01"))

	before, _ := s.GetMonthlyInvoice(ctx, 3, 2025)
	s.SavePayment(ctx, payment(0, 1, "2025-02-01", "310", "0"))
	g.RegenerateAffected(ctx, models.MustParseDate("2025-02-01"))
	after, _ := s.GetMonthlyInvoice(ctx, 3, 2025)

	if !before.Remaining.Sub(after.Remaining).Equal(dec("310")) {
		t.Errorf("Expected March remaining to drop by 310, got %s -> %s", before.Remaining, after.Remaining)
	}
	jan, _ := s.GetMonthlyInvoice(ctx, 1, 2025)
	if !jan.TotalPaid.IsZero() {
		t.Errorf("January must not see a February payment, got %s", jan.TotalPaid)
	}
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	g, s, _ := newTestGenerator(t)
	if _, err := g.Generate(ctx, 2, 2025); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	res, err := g.Backfill(ctx, false)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if len(res.Generated) != 2 || len(res.Skipped) != 1 || res.Skipped[0] != "INV-202502" {
		t.Errorf("Unexpected non-forced backfill %+v", res)
	}

	res, err = g.Backfill(ctx, true)
	if err != nil {
		t.Fatalf("Backfill force: %v", err)
	}
	if len(res.Generated) != 3 || len(res.Skipped) != 0 {
		t.Errorf("Unexpected forced backfill %+v", res)
	}
	all, _ := s.GetMonthlyInvoices(ctx)
	if len(all) != 3 {
		t.Errorf("Expected 3 invoices, got %d", len(all))
	}
}

func TestBackfillWithoutLoans(t *testing.T) {
	g := NewGenerator(store.NewMemoryStore(), quietLogger())
	res, err := g.Backfill(context.Background(), true)
	if err != nil || len(res.Generated) != 0 {
		t.Errorf("Expected nothing to do, got %+v, %v", res, err)
	}
}

func TestGenerationStatus(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGenerator(t)
	g.Generate(ctx, 1, 2025)

	st, err := g.GenerationStatus(ctx)
	if err != nil {
		t.Fatalf("GenerationStatus: %v", err)
	}
	if st.TotalMonths != 3 || st.Generated != 1 || len(st.Missing) != 2 {
		t.Errorf("Unexpected status %+v", st)
	}
	if st.FirstMonth != "INV-202501" || st.LastMonth != "INV-202503" {
		t.Errorf("Unexpected range %s..%s", st.FirstMonth, st.LastMonth)
	}
	if st.PercentComplete < 33.3 || st.PercentComplete > 33.4 {
		t.Errorf("Expected 33.3%%, got %f", st.PercentComplete)
	}
}

func TestValidateReportsDrift(t *testing.T) {
	ctx := context.Background()
	g, s, _ := newTestGenerator(t)
	inv, _ := g.Generate(ctx, 1, 2025)

	report, err := g.Validate(ctx, 1, 2025)
	if err != nil || !report.Valid {
		t.Fatalf("Expected a fresh invoice to validate, got %+v, %v", report, err)
	}

	inv.TotalAccrued = dec("999")
	s.SaveMonthlyInvoice(ctx, inv)
	report, err = g.Validate(ctx, 1, 2025)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Valid || len(report.Differences) != 1 || report.Differences[0].Field != "total_accrued" {
		t.Errorf("Expected a total_accrued difference, got %+v", report)
	}

	if _, err := g.Validate(ctx, 2, 2025); !models.IsNotFound(err) {
		t.Errorf("Expected not found for a missing invoice, got %v", err)
	}
}

func TestGetGeneratesElapsedMonthsLazily(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGenerator(t)

	inv, err := g.Get(ctx, 3, 2025)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !inv.TotalAccrued.Equal(dec("310")) {
		t.Errorf("Expected 310 for March, got %s", inv.TotalAccrued)
	}
	if _, err := g.Get(ctx, 4, 2025); !models.IsNotFound(err) {
		t.Errorf("Expected the month in progress not to be created lazily, got %v", err)
	}
}

func TestDeleteInvoice(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGenerator(t)
	g.Generate(ctx, 1, 2025)
	if err := g.DeleteInvoice(ctx, 1, 2025); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	if err := g.DeleteInvoice(ctx, 1, 2025); !models.IsNotFound(err) {
		t.Errorf("Expected not found on second delete, got %v", err)
	}
}

func TestWriteXLSX(t *testing.T) {
	ctx := context.Background()
	g, s, _ := newTestGenerator(t)
	s.SavePayment(ctx, payment(0, 1, "2025-01-11", "100", "0"))
	inv, _ := g.Generate(ctx, 1, 2025)

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, inv); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	if v, _ := f.GetCellValue(summarySheet, "B1"); v != "INV-202501" {
		t.Errorf("Expected invoice id in B1, got %q", v)
	}
	if v, _ := f.GetCellValue(loansSheet, "A2"); v != "01-01012025" {
		t.Errorf("Expected loan number in Loans!A2, got %q", v)
	}
	if v, _ := f.GetCellValue(paymentsSheet, "C2"); v != "2025-01-11" {
		t.Errorf("Expected payment date in Payments!C2, got %q", v)
	}
	if v, _ := f.GetCellValue(dailySheet, "B3"); v != "2025-01-11" {
		t.Errorf("Expected the payment to open Daily!B3, got %q", v)
	}
	if v, _ := f.GetCellValue(dailySheet, "G3"); v != "210" {
		t.Errorf("Expected 21 days at 10 in Daily!G3, got %q", v)
	}
}
