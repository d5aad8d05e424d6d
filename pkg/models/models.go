package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Epsilon is the currency tolerance below which a balance counts as settled.
var Epsilon = decimal.NewFromFloat(0.01)

type LoanStatus string

const (
	LoanStatusOpen LoanStatus = "Open"
	LoanStatusPaid LoanStatus = "Paid"
)

type Loan struct {
	ID                 int             `gorm:"primaryKey;autoIncrement:false" json:"id"`
	LoanNumber         string          `gorm:"size:32;uniqueIndex" json:"loan_number"`
	DebtorName         string          `gorm:"size:255;not null" json:"debtor_name"`
	OriginalPrincipal  decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"original_principal"`
	RemainingPrincipal decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"remaining_principal"`
	// Annual percentage, e.g. 15 for 15%
	InterestRate decimal.Decimal `gorm:"type:decimal(12,6);not null" json:"interest_rate"`
	// Cache; recomputed from payment history
	AccruedInterest     decimal.Decimal `gorm:"type:decimal(28,10);not null;default:0" json:"accrued_interest"`
	Status              LoanStatus      `gorm:"size:16;not null;index" json:"status"`
	StartDate           Date            `gorm:"not null" json:"start_date"`
	LastInterestAccrual *Date           `json:"last_interest_accrual,omitempty"`
	Destiny             string          `gorm:"size:255" json:"destiny"`
	CreatedAt           time.Time       `json:"created_at"`
}

// IsOpen reports whether the loan can still receive payments.
func (l *Loan) IsOpen() bool {
	return l.Status == LoanStatusOpen
}

// LoanNumber derives the human readable loan number: the id zero padded to
// two digits followed by the start date as ddmmyyyy.
func LoanNumber(id int, start Date) string {
	return fmt.Sprintf("%02d-%02d%02d%04d", id, start.Day(), int(start.Month()), start.Year())
}

// SettledStatus returns Paid when both balances are below Epsilon.
func SettledStatus(remainingPrincipal, accruedInterest decimal.Decimal) LoanStatus {
	if remainingPrincipal.LessThan(Epsilon) && accruedInterest.LessThan(Epsilon) {
		return LoanStatusPaid
	}
	return LoanStatusOpen
}

// LoanUpdate is a partial update: only non-nil fields are written.
type LoanUpdate struct {
	LoanNumber          *string
	DebtorName          *string
	OriginalPrincipal   *decimal.Decimal
	RemainingPrincipal  *decimal.Decimal
	InterestRate        *decimal.Decimal
	AccruedInterest     *decimal.Decimal
	Status              *LoanStatus
	StartDate           *Date
	LastInterestAccrual *Date
	Destiny             *string
}

// Apply copies the set fields onto loan.
func (u LoanUpdate) Apply(loan *Loan) {
	if u.LoanNumber != nil {
		loan.LoanNumber = *u.LoanNumber
	}
	if u.DebtorName != nil {
		loan.DebtorName = *u.DebtorName
	}
	if u.OriginalPrincipal != nil {
		loan.OriginalPrincipal = *u.OriginalPrincipal
	}
	if u.RemainingPrincipal != nil {
		loan.RemainingPrincipal = *u.RemainingPrincipal
	}
	if u.InterestRate != nil {
		loan.InterestRate = *u.InterestRate
	}
	if u.AccruedInterest != nil {
		loan.AccruedInterest = *u.AccruedInterest
	}
	if u.Status != nil {
		loan.Status = *u.Status
	}
	if u.StartDate != nil {
		loan.StartDate = *u.StartDate
	}
	if u.LastInterestAccrual != nil {
		d := *u.LastInterestAccrual
		loan.LastInterestAccrual = &d
	}
	if u.Destiny != nil {
		loan.Destiny = *u.Destiny
	}
}

// Columns returns the set fields keyed by their snake_case column names.
func (u LoanUpdate) Columns() map[string]any {
	cols := map[string]any{}
	if u.LoanNumber != nil {
		cols["loan_number"] = *u.LoanNumber
	}
	if u.DebtorName != nil {
		cols["debtor_name"] = *u.DebtorName
	}
	if u.OriginalPrincipal != nil {
		cols["original_principal"] = *u.OriginalPrincipal
	}
	if u.RemainingPrincipal != nil {
		cols["remaining_principal"] = *u.RemainingPrincipal
	}
	if u.InterestRate != nil {
		cols["interest_rate"] = *u.InterestRate
	}
	if u.AccruedInterest != nil {
		cols["accrued_interest"] = *u.AccruedInterest
	}
	if u.Status != nil {
		cols["status"] = string(*u.Status)
	}
	if u.StartDate != nil {
		cols["start_date"] = *u.StartDate
	}
	if u.LastInterestAccrual != nil {
		cols["last_interest_accrual"] = *u.LastInterestAccrual
	}
	if u.Destiny != nil {
		cols["destiny"] = *u.Destiny
	}
	return cols
}

// IsEmpty reports whether the update would change nothing.
func (u LoanUpdate) IsEmpty() bool {
	return len(u.Columns()) == 0
}

type Payment struct {
	ID            int             `gorm:"primaryKey" json:"id"`
	LoanID        int             `gorm:"not null;index" json:"loan_id"`
	Date          Date            `gorm:"not null;index" json:"date"`
	TotalPaid     decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"total_paid"`
	InterestPaid  decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"interest_paid"`
	PrincipalPaid decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"principal_paid"`
	CreatedAt     time.Time       `json:"created_at"`
}

// InterestEvent is an append-only audit record of an interest computation.
// It is never read back as a balance.
type InterestEvent struct {
	ID          string          `gorm:"primaryKey;size:64" json:"id"`
	LoanID      int             `gorm:"not null;index" json:"loan_id"`
	Date        Date            `gorm:"not null" json:"date"`
	Amount      decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"amount"`
	Days        int             `gorm:"not null" json:"days"`
	Principal   decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"principal"`
	Description string          `gorm:"size:255" json:"description"`
}

type TransactionType string

const (
	TransactionTypeInitial    TransactionType = "initial"
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeLoanOut    TransactionType = "loan_out"
	TransactionTypePaymentIn  TransactionType = "payment_in"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// AccountTransaction is one row of the append-only account balance ledger.
// Balance is the running total after this row.
type AccountTransaction struct {
	ID            int             `gorm:"primaryKey" json:"id"`
	Balance       decimal.Decimal `gorm:"type:decimal(28,10);not null" json:"balance"`
	Type          TransactionType `gorm:"column:transaction_type;size:16;not null" json:"transaction_type"`
	Amount        decimal.Decimal `gorm:"column:transaction_amount;type:decimal(28,10);not null" json:"transaction_amount"`
	RelatedLoanID *int            `gorm:"index" json:"related_loan_id"`
	Description   string          `gorm:"size:255" json:"description"`
	Date          Date            `gorm:"not null;index" json:"date"`
	CreatedAt     time.Time       `json:"created_at"`
}

type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "Pending"
	InvoiceStatusPartial InvoiceStatus = "Partial"
	InvoiceStatusPaid    InvoiceStatus = "Paid"
)

// InvoiceID returns the deterministic id of the invoice for a period.
func InvoiceID(month, year int) string {
	return fmt.Sprintf("INV-%04d%02d", year, month)
}

// LoanDetail is the per-loan snapshot stored on a monthly invoice.
type LoanDetail struct {
	LoanID          int             `json:"loan_id"`
	LoanNumber      string          `json:"loan_number"`
	DebtorName      string          `json:"debtor_name"`
	Principal       decimal.Decimal `json:"principal"`
	EndingPrincipal decimal.Decimal `json:"ending_principal"`
	InterestRate    decimal.Decimal `json:"interest_rate"`
	DaysActive      int             `json:"days_active"`
	TotalInterest   decimal.Decimal `json:"total_interest"`
	PaymentsCount   int             `json:"payments_count"`
	AverageBalance  decimal.Decimal `json:"average_balance"` // Principal weighted by the days it accrued
}

// InterestSegment is a run of days within an invoice month during which a
// loan accrued on the same principal. A segment opens on the loan start, the
// first of the month or a payment date; Payment is what was received on
// Start, zero otherwise.
type InterestSegment struct {
	LoanID        int             `json:"loan_id"`
	Start         Date            `json:"start"`
	End           Date            `json:"end"`
	Days          int             `json:"days"`
	Principal     decimal.Decimal `json:"principal"`
	DailyInterest decimal.Decimal `json:"daily_interest"`
	Interest      decimal.Decimal `json:"interest"`
	Payment       decimal.Decimal `json:"payment"`
}

// InvoicePayment is the snapshot of a payment dated within an invoice month.
type InvoicePayment struct {
	PaymentID     int             `json:"payment_id"`
	LoanID        int             `json:"loan_id"`
	Date          Date            `json:"date"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	InterestPaid  decimal.Decimal `json:"interest_paid"`
	PrincipalPaid decimal.Decimal `json:"principal_paid"`
}

type LoanDetails []LoanDetail

func (d LoanDetails) Value() (driver.Value, error) { return jsonValue(d) }
func (d *LoanDetails) Scan(src any) error          { return jsonScan(src, d) }
func (LoanDetails) GormDataType() string           { return "json" }

type InvoicePayments []InvoicePayment

func (p InvoicePayments) Value() (driver.Value, error) { return jsonValue(p) }
func (p *InvoicePayments) Scan(src any) error          { return jsonScan(src, p) }
func (InvoicePayments) GormDataType() string           { return "json" }

type DailyBreakdown []InterestSegment

func (b DailyBreakdown) Value() (driver.Value, error) { return jsonValue(b) }
func (b *DailyBreakdown) Scan(src any) error          { return jsonScan(src, b) }
func (DailyBreakdown) GormDataType() string           { return "json" }

type MonthlyInvoice struct {
	ID              string          `gorm:"primaryKey;size:16" json:"id"`
	Month           int             `gorm:"not null;uniqueIndex:idx_invoice_period,priority:2" json:"month"`
	Year            int             `gorm:"not null;uniqueIndex:idx_invoice_period,priority:1" json:"year"`
	GeneratedDate   Date            `json:"generated_date"`
	LastUpdated     Date            `json:"last_updated"`
	TotalAccrued    decimal.Decimal `gorm:"type:decimal(28,2);not null" json:"total_accrued"`
	TotalPaid       decimal.Decimal `gorm:"type:decimal(28,2);not null" json:"total_paid"`
	Remaining       decimal.Decimal `gorm:"type:decimal(28,2);not null" json:"remaining"`
	Status          InvoiceStatus   `gorm:"size:16;not null" json:"status"`
	LoanDetails     LoanDetails     `json:"loan_details"`
	PaymentsInMonth InvoicePayments `json:"payments_in_month"`
	DailyBreakdown  DailyBreakdown  `json:"daily_breakdown"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src any, dest any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dest)
}
