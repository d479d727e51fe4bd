package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The window in which a series may materialize once
// =============================================================================

// Period is an inclusive [Start, End] range of days.
//
// Examples:
//   - Monthly series, March 2024: Mar 1 - Mar 31
//   - Weekly series, ISO week 2024-W11: Mar 11 (Mon) - Mar 17 (Sun)
//   - Yearly series, 2024: Jan 1 - Dec 31
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns every day in the period.
func (p Period) Days() []Date {
	var days []Date
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// Len is the number of days in the period.
func (p Period) Len() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthPeriod returns the calendar month containing (year, month).
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// WeekPeriod returns the ISO week (Monday to Sunday) containing d.
func WeekPeriod(d Date) Period {
	offset := (int(d.Time.Weekday()) + 6) % 7 // Monday = 0
	start := d.AddDays(-offset)
	return Period{Start: start, End: start.AddDays(6)}
}

// YearPeriod returns the calendar year.
func YearPeriod(year int) Period {
	return Period{Start: NewDate(year, time.January, 1), End: NewDate(year, time.December, 31)}
}

// =============================================================================
// PERIOD KEYS - Stored alongside series members for the uniqueness index
// =============================================================================

// PeriodKey identifies the period a series occurrence belongs to:
// "2024-03" for months, "2024-W11" for ISO weeks, "2024" for years.
func PeriodKey(rt RecurringType, d Date) string {
	switch rt {
	case RecurringWeekly:
		year, week := d.Time.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case RecurringYearly:
		return fmt.Sprintf("%04d", d.Year())
	default:
		return fmt.Sprintf("%04d-%02d", d.Year(), int(d.Month()))
	}
}

// PeriodFor returns the period of the given recurrence that contains d.
// Installment series use calendar months.
func PeriodFor(rt RecurringType, d Date) Period {
	switch rt {
	case RecurringWeekly:
		return WeekPeriod(d)
	case RecurringYearly:
		return YearPeriod(d.Year())
	default:
		return MonthPeriod(d.Year(), d.Month())
	}
}
