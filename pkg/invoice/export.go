package invoice

import (
	"fmt"
	"io"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet  = "Summary"
	loansSheet    = "Loans"
	paymentsSheet = "Payments"
	dailySheet    = "Daily"
)

// WriteXLSX writes the invoice as a workbook with a summary sheet, one row
// per loan, one row per payment received in the month and the daily interest
// breakdown.
func WriteXLSX(w io.Writer, inv *models.MonthlyInvoice) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	summary := [][]any{
		{"Invoice", inv.ID},
		{"Period", fmt.Sprintf("%04d-%02d", inv.Year, inv.Month)},
		{"Generated", inv.GeneratedDate.String()},
		{"Last updated", inv.LastUpdated.String()},
		{"Total accrued", inv.TotalAccrued.InexactFloat64()},
		{"Total paid", inv.TotalPaid.InexactFloat64()},
		{"Remaining", inv.Remaining.InexactFloat64()},
		{"Status", string(inv.Status)},
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	if _, err := f.NewSheet(loansSheet); err != nil {
		return err
	}
	loanRows := [][]any{{"Loan", "Debtor", "Opening principal", "Ending principal", "Rate %", "Days", "Interest", "Payments", "Average balance"}}
	for _, d := range inv.LoanDetails {
		loanRows = append(loanRows, []any{
			d.LoanNumber,
			d.DebtorName,
			d.Principal.InexactFloat64(),
			d.EndingPrincipal.InexactFloat64(),
			d.InterestRate.InexactFloat64(),
			d.DaysActive,
			d.TotalInterest.InexactFloat64(),
			d.PaymentsCount,
			d.AverageBalance.InexactFloat64(),
		})
	}
	if err := writeRows(f, loansSheet, loanRows); err != nil {
		return err
	}

	if _, err := f.NewSheet(paymentsSheet); err != nil {
		return err
	}
	paymentRows := [][]any{{"Payment", "Loan", "Date", "Total", "Interest", "Principal"}}
	for _, p := range inv.PaymentsInMonth {
		paymentRows = append(paymentRows, []any{
			p.PaymentID,
			p.LoanID,
			p.Date.String(),
			p.TotalPaid.InexactFloat64(),
			p.InterestPaid.InexactFloat64(),
			p.PrincipalPaid.InexactFloat64(),
		})
	}
	if err := writeRows(f, paymentsSheet, paymentRows); err != nil {
		return err
	}

	if _, err := f.NewSheet(dailySheet); err != nil {
		return err
	}
	dailyRows := [][]any{{"Loan", "From", "To", "Days", "Principal", "Daily interest", "Interest", "Payment"}}
	for _, seg := range inv.DailyBreakdown {
		dailyRows = append(dailyRows, []any{
			seg.LoanID,
			seg.Start.String(),
			seg.End.String(),
			seg.Days,
			seg.Principal.InexactFloat64(),
			seg.DailyInterest.InexactFloat64(),
			seg.Interest.InexactFloat64(),
			seg.Payment.InexactFloat64(),
		})
	}
	if err := writeRows(f, dailySheet, dailyRows); err != nil {
		return err
	}

	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
