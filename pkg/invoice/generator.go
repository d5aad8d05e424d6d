package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/mcclellann/loanledger/pkg/interest"
	"github.com/mcclellann/loanledger/pkg/lock"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	moduleName = "invoice"
	lockKey    = "ledger"
)

// Generator persists monthly invoices. Every write recomputes from the stored
// loans and payments, so regenerating a month is idempotent.
type Generator struct {
	store  store.Storage
	logger logrus.FieldLogger
	locker lock.Locker
	today  func() models.Date
}

type Option func(*Generator)

// WithClock replaces models.Today.
func WithClock(today func() models.Date) Option {
	return func(g *Generator) { g.today = today }
}

// WithLocker serializes generator writes with the ledger's other writers.
func WithLocker(l lock.Locker) Option {
	return func(g *Generator) { g.locker = l }
}

func NewGenerator(s store.Storage, logger logrus.FieldLogger, opts ...Option) *Generator {
	g := &Generator{
		store:  s,
		logger: logger,
		locker: lock.NewMutexLocker(),
		today:  models.Today,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BackfillResult lists the invoice ids written and skipped by a backfill.
type BackfillResult struct {
	Generated []string `json:"generated"`
	Skipped   []string `json:"skipped"`
}

type GenerationStatus struct {
	FirstMonth      string   `json:"first_month,omitempty"`
	LastMonth       string   `json:"last_month,omitempty"`
	TotalMonths     int      `json:"total_months"`
	Generated       int      `json:"generated"`
	Missing         []string `json:"missing"`
	PercentComplete float64  `json:"percent_complete"`
}

// Difference is one field where a stored invoice disagrees with a fresh
// computation.
type Difference struct {
	Field    string `json:"field"`
	Stored   string `json:"stored"`
	Computed string `json:"computed"`
}

type ValidationReport struct {
	InvoiceID   string       `json:"invoice_id"`
	Valid       bool         `json:"valid"`
	Differences []Difference `json:"differences"`
}

// Generate recomputes and upserts the invoice for (month, year). The current
// month may be generated on demand; future months are rejected.
func (g *Generator) Generate(ctx context.Context, month, year int) (*models.MonthlyInvoice, error) {
	if err := g.checkPeriod(month, year); err != nil {
		return nil, err
	}
	unlock, err := g.locker.Lock(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	loans, payments, err := g.loadHistory(ctx)
	if err != nil {
		return nil, err
	}
	return g.generate(ctx, month, year, loans, payments)
}

// RegenerateAffected regenerates every month from the month of changed
// through the last fully elapsed month. The month in progress is left alone.
// Months are saved one by one; on failure the ids written so far are
// returned with the error, and calling again resumes the work.
func (g *Generator) RegenerateAffected(ctx context.Context, changed models.Date) ([]string, error) {
	lastMonth, lastYear := interest.LastElapsedMonth(g.today())
	month, year := int(changed.Month()), changed.Year()
	if interest.MonthBefore(lastMonth, lastYear, month, year) {
		return nil, nil
	}

	unlock, err := g.locker.Lock(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	loans, payments, err := g.loadHistory(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for ; !interest.MonthBefore(lastMonth, lastYear, month, year); month, year = interest.NextMonth(month, year) {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		inv, err := g.generate(ctx, month, year, loans, payments)
		if err != nil {
			return ids, err
		}
		ids = append(ids, inv.ID)
	}
	g.logger.WithFields(logrus.Fields{
		"module":   moduleName,
		"funcName": "RegenerateAffected",
		"from":     models.InvoiceID(int(changed.Month()), changed.Year()),
		"count":    len(ids),
	}).Info("regenerated invoices")
	return ids, nil
}

// Backfill covers every month from the earliest loan start through the last
// elapsed month. Without force, months that already have an invoice are
// skipped.
func (g *Generator) Backfill(ctx context.Context, force bool) (BackfillResult, error) {
	result := BackfillResult{Generated: []string{}, Skipped: []string{}}

	unlock, err := g.locker.Lock(ctx, lockKey)
	if err != nil {
		return result, err
	}
	defer unlock()

	loans, payments, err := g.loadHistory(ctx)
	if err != nil {
		return result, err
	}
	existing, err := g.existingIDs(ctx)
	if err != nil {
		return result, err
	}

	for _, period := range g.expectedMonths(loans) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		id := models.InvoiceID(period.month, period.year)
		if !force && existing[id] {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		if _, err := g.generate(ctx, period.month, period.year, loans, payments); err != nil {
			return result, err
		}
		result.Generated = append(result.Generated, id)
	}

	g.logger.WithFields(logrus.Fields{
		"module":    moduleName,
		"funcName":  "Backfill",
		"force":     force,
		"generated": len(result.Generated),
		"skipped":   len(result.Skipped),
	}).Info("invoice backfill finished")
	return result, nil
}

// GenerationStatus reports which elapsed months still lack an invoice.
func (g *Generator) GenerationStatus(ctx context.Context) (GenerationStatus, error) {
	status := GenerationStatus{Missing: []string{}}
	loans, err := g.store.GetLoans(ctx)
	if err != nil {
		return status, models.WrapStorage("load loans", err)
	}
	existing, err := g.existingIDs(ctx)
	if err != nil {
		return status, err
	}

	months := g.expectedMonths(loans)
	status.TotalMonths = len(months)
	if len(months) == 0 {
		status.PercentComplete = 100
		return status, nil
	}
	status.FirstMonth = models.InvoiceID(months[0].month, months[0].year)
	status.LastMonth = models.InvoiceID(months[len(months)-1].month, months[len(months)-1].year)
	for _, m := range months {
		id := models.InvoiceID(m.month, m.year)
		if existing[id] {
			status.Generated++
		} else {
			status.Missing = append(status.Missing, id)
		}
	}
	status.PercentComplete = float64(status.Generated) * 100 / float64(status.TotalMonths)
	return status, nil
}

// Validate recomputes (month, year) and compares it with the stored invoice
// without writing anything.
func (g *Generator) Validate(ctx context.Context, month, year int) (ValidationReport, error) {
	report := ValidationReport{InvoiceID: models.InvoiceID(month, year), Differences: []Difference{}}
	stored, err := g.store.GetMonthlyInvoice(ctx, month, year)
	if err != nil {
		return report, err
	}
	loans, payments, err := g.loadHistory(ctx)
	if err != nil {
		return report, err
	}
	calc := ComputeMonth(month, year, loans, payments)

	compare := func(field string, s, c decimal.Decimal) {
		if s.Sub(c).Abs().GreaterThan(models.Epsilon) {
			report.Differences = append(report.Differences, Difference{Field: field, Stored: s.StringFixed(2), Computed: c.StringFixed(2)})
		}
	}
	compare("total_accrued", stored.TotalAccrued, calc.TotalAccrued)
	compare("total_paid", stored.TotalPaid, calc.TotalPaid)
	compare("remaining", stored.Remaining, calc.Remaining)
	if stored.Status != calc.Status {
		report.Differences = append(report.Differences, Difference{Field: "status", Stored: string(stored.Status), Computed: string(calc.Status)})
	}
	if len(stored.LoanDetails) != len(calc.LoanDetails) {
		report.Differences = append(report.Differences, Difference{
			Field:    "loan_details",
			Stored:   fmt.Sprintf("%d loans", len(stored.LoanDetails)),
			Computed: fmt.Sprintf("%d loans", len(calc.LoanDetails)),
		})
	}
	if len(stored.PaymentsInMonth) != len(calc.Payments) {
		report.Differences = append(report.Differences, Difference{
			Field:    "payments_in_month",
			Stored:   fmt.Sprintf("%d payments", len(stored.PaymentsInMonth)),
			Computed: fmt.Sprintf("%d payments", len(calc.Payments)),
		})
	}
	report.Valid = len(report.Differences) == 0
	return report, nil
}

// Get returns the stored invoice. A missing invoice for an elapsed month is
// generated on first access.
func (g *Generator) Get(ctx context.Context, month, year int) (*models.MonthlyInvoice, error) {
	if err := g.checkPeriod(month, year); err != nil {
		return nil, err
	}
	inv, err := g.store.GetMonthlyInvoice(ctx, month, year)
	if err == nil || !models.IsNotFound(err) {
		return inv, err
	}
	lastMonth, lastYear := interest.LastElapsedMonth(g.today())
	if interest.MonthBefore(lastMonth, lastYear, month, year) {
		return nil, err
	}
	return g.Generate(ctx, month, year)
}

func (g *Generator) List(ctx context.Context) ([]*models.MonthlyInvoice, error) {
	return g.store.GetMonthlyInvoices(ctx)
}

func (g *Generator) DeleteInvoice(ctx context.Context, month, year int) error {
	unlock, err := g.locker.Lock(ctx, lockKey)
	if err != nil {
		return err
	}
	defer unlock()
	return g.store.DeleteMonthlyInvoice(ctx, models.InvoiceID(month, year))
}

func (g *Generator) generate(ctx context.Context, month, year int, loans []*models.Loan, payments []*models.Payment) (*models.MonthlyInvoice, error) {
	calc := ComputeMonth(month, year, loans, payments)
	today := g.today()
	now := time.Now().UTC()

	inv := &models.MonthlyInvoice{
		ID:              models.InvoiceID(month, year),
		Month:           month,
		Year:            year,
		GeneratedDate:   today,
		LastUpdated:     today,
		TotalAccrued:    calc.TotalAccrued,
		TotalPaid:       calc.TotalPaid,
		Remaining:       calc.Remaining,
		Status:          calc.Status,
		LoanDetails:     calc.LoanDetails,
		PaymentsInMonth: calc.Payments,
		DailyBreakdown:  calc.Breakdown,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	existing, err := g.store.GetMonthlyInvoice(ctx, month, year)
	switch {
	case err == nil:
		inv.GeneratedDate = existing.GeneratedDate
		inv.CreatedAt = existing.CreatedAt
	case !models.IsNotFound(err):
		return nil, models.WrapStorage("load invoice "+inv.ID, err)
	}

	if _, err := g.store.SaveMonthlyInvoice(ctx, inv); err != nil {
		return nil, models.WrapStorage("save invoice "+inv.ID, err)
	}
	g.logger.WithFields(logrus.Fields{
		"module":        moduleName,
		"invoice_id":    inv.ID,
		"total_accrued": inv.TotalAccrued.StringFixed(2),
		"total_paid":    inv.TotalPaid.StringFixed(2),
		"remaining":     inv.Remaining.StringFixed(2),
		"status":        inv.Status,
	}).Debug("invoice generated")
	return inv, nil
}

func (g *Generator) checkPeriod(month, year int) error {
	if month < 1 || month > 12 {
		return models.NewValidationError("month", "must be between 1 and 12, got %d", month)
	}
	if year < 1900 {
		return models.NewValidationError("year", "invalid year %d", year)
	}
	today := g.today()
	if interest.MonthBefore(int(today.Month()), today.Year(), month, year) {
		return models.NewValidationError("month", "%04d-%02d has not started yet", year, month)
	}
	return nil
}

func (g *Generator) loadHistory(ctx context.Context) ([]*models.Loan, []*models.Payment, error) {
	loans, err := g.store.GetLoans(ctx)
	if err != nil {
		return nil, nil, models.WrapStorage("load loans", err)
	}
	payments, err := g.store.GetPayments(ctx)
	if err != nil {
		return nil, nil, models.WrapStorage("load payments", err)
	}
	return loans, payments, nil
}

func (g *Generator) existingIDs(ctx context.Context) (map[string]bool, error) {
	invoices, err := g.store.GetMonthlyInvoices(ctx)
	if err != nil {
		return nil, models.WrapStorage("load invoices", err)
	}
	ids := make(map[string]bool, len(invoices))
	for _, inv := range invoices {
		ids[inv.ID] = true
	}
	return ids, nil
}

type period struct{ month, year int }

// expectedMonths runs from the earliest loan start through the last elapsed month.
func (g *Generator) expectedMonths(loans []*models.Loan) []period {
	if len(loans) == 0 {
		return nil
	}
	earliest := loans[0].StartDate
	for _, l := range loans[1:] {
		if l.StartDate.Before(earliest) {
			earliest = l.StartDate
		}
	}
	lastMonth, lastYear := interest.LastElapsedMonth(g.today())
	var months []period
	for m, y := int(earliest.Month()), earliest.Year(); !interest.MonthBefore(lastMonth, lastYear, m, y); m, y = interest.NextMonth(m, y) {
		months = append(months, period{m, y})
	}
	return months
}
