// Package interest holds the day-count and simple interest math and the
// accrual engine that replays a loan's payment history.
package interest

import (
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	daysInYear = decimal.NewFromInt(365)
	hundred    = decimal.NewFromInt(100)
)

const hoursPerDay = 24

// DaysFromTo returns the signed number of calendar days from one date to
// another; negative when to is before from.
func DaysFromTo(from, to models.Date) int {
	return int(to.Time().Sub(from.Time()).Hours() / hoursPerDay)
}

// DaysBetween returns the absolute number of calendar days between a and b.
func DaysBetween(a, b models.Date) int {
	d := DaysFromTo(a, b)
	if d < 0 {
		return -d
	}
	return d
}

// DailyRate converts an annual percentage into a daily decimal rate on a
// fixed 365 day year.
func DailyRate(annualPercent decimal.Decimal) decimal.Decimal {
	return annualPercent.Div(daysInYear).Div(hundred)
}

// SimpleInterest is principal × DailyRate(rate) × days. Callers guard against
// non-positive principal.
func SimpleInterest(principal, annualPercent decimal.Decimal, days int) decimal.Decimal {
	if days == 0 {
		return decimal.Zero
	}
	return principal.Mul(annualPercent).Mul(decimal.NewFromInt(int64(days))).Div(daysInYear).Div(hundred)
}

// MonthBounds returns the first and last calendar day of a month.
func MonthBounds(month, year int) (models.Date, models.Date) {
	start := models.NewDate(year, time.Month(month), 1)
	end := models.NewDate(year, time.Month(month)+1, 0)
	return start, end
}

// LastElapsedMonth returns the most recent month that has fully ended before today.
func LastElapsedMonth(today models.Date) (month, year int) {
	prev := models.NewDate(today.Year(), today.Month(), 0)
	return int(prev.Month()), prev.Year()
}

// NextMonth steps (month, year) forward by one month.
func NextMonth(month, year int) (int, int) {
	if month == 12 {
		return 1, year + 1
	}
	return month + 1, year
}

// MonthBefore reports whether (m1, y1) is strictly before (m2, y2).
func MonthBefore(m1, y1, m2, y2 int) bool {
	return y1 < y2 || (y1 == y2 && m1 < m2)
}
