/*
occurrence.go - Decides whether a series is due for its next occurrence

PURPOSE:
  Pure functions, no store access. Given the most recent sibling of a
  series and "today" (UTC day), answer: due or not, and if due, the
  release date (and installment number) of the new occurrence.

RECURRING (monthly):
  Due when BOTH hold:
    1. The last occurrence is in the calendar month right before today's
       (December rolls into January of the next year).
    2. Today's day equals the day of the last occurrence, clamped to the
       length of today's month.

  Only the last occurrence counts. Older siblings are ignored once the
  chain has advanced, so a clamped day carries forward:

    2024-01-31 -> 2024-02-29 -> 2024-03-29 -> 2024-04-29

  A series more than one period behind is STALE and is never advanced:

    last = 2024-01-31, today = 2024-03-02  ->  not due (stale)

  Weekly and yearly series follow the same shape with ISO weeks and
  calendar years: same weekday, or same month and (clamped) day.

INSTALLMENTS:
  Due when current < total and the last installment is not in today's
  month. Day alignment is ignored: installments advance at most once per
  calendar month.

SEE ALSO:
  - guard.go: Store-backed existence checks run before posting
  - sweep.go: Caller
*/
package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// OCCURRENCE - Outcome of the calculator
// =============================================================================

// NotDueReason explains why a series did not advance.
type NotDueReason string

const (
	ReasonNone          NotDueReason = ""
	ReasonNotDueDay     NotDueReason = "not-due-day"
	ReasonPeriodCurrent NotDueReason = "period-current"
	ReasonStale         NotDueReason = "stale"
	ReasonComplete      NotDueReason = "complete"
	ReasonFuture        NotDueReason = "future"
)

// Occurrence is the calculator's answer.
type Occurrence struct {
	Due         bool
	Reason      NotDueReason
	ReleaseDate Date
	Installment int // new current_installment, installment series only
}

func notDue(r NotDueReason) Occurrence { return Occurrence{Reason: r} }

// =============================================================================
// RECURRING
// =============================================================================

// NextRecurring evaluates a recurring series from the release date of its
// most recent sibling.
func NextRecurring(rt RecurringType, last, today Date) (Occurrence, error) {
	if last.After(today) {
		return notDue(ReasonFuture), nil
	}

	switch rt {
	case RecurringMonthly:
		return nextMonthly(last, today), nil
	case RecurringWeekly:
		return nextWeekly(last, today), nil
	case RecurringYearly:
		return nextYearly(last, today), nil
	default:
		return Occurrence{}, fmt.Errorf("%w: %q", ErrUnsupportedRecurrence, rt)
	}
}

func nextMonthly(last, today Date) Occurrence {
	if SameMonth(last, today) {
		return notDue(ReasonPeriodCurrent)
	}
	prevYear, prevMonth := PreviousMonth(today.Year(), today.Month())
	if last.Year() != prevYear || last.Month() != prevMonth {
		return notDue(ReasonStale)
	}
	if today.Day() != clampDay(last.Day(), today.Year(), today.Month()) {
		return notDue(ReasonNotDueDay)
	}
	return Occurrence{Due: true, ReleaseDate: today}
}

func nextWeekly(last, today Date) Occurrence {
	thisWeek := WeekPeriod(today)
	if thisWeek.Contains(last) {
		return notDue(ReasonPeriodCurrent)
	}
	if !WeekPeriod(thisWeek.Start.AddDays(-1)).Contains(last) {
		return notDue(ReasonStale)
	}
	if today.Time.Weekday() != last.Time.Weekday() {
		return notDue(ReasonNotDueDay)
	}
	return Occurrence{Due: true, ReleaseDate: today}
}

func nextYearly(last, today Date) Occurrence {
	if last.Year() == today.Year() {
		return notDue(ReasonPeriodCurrent)
	}
	if last.Year() != today.Year()-1 {
		return notDue(ReasonStale)
	}
	if today.Month() != last.Month() || today.Day() != clampDay(last.Day(), today.Year(), last.Month()) {
		return notDue(ReasonNotDueDay)
	}
	return Occurrence{Due: true, ReleaseDate: today}
}

// clampDay caps day at the length of the month.
func clampDay(day, year int, month time.Month) int {
	if n := DaysIn(year, month); day > n {
		return n
	}
	return day
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

// NextInstallment evaluates an installment series from its most recent
// member.
func NextInstallment(last Transaction, today Date) Occurrence {
	if last.CurrentInstallment >= last.NumberInstallments {
		return notDue(ReasonComplete)
	}
	if last.ReleaseDate.After(today) {
		return notDue(ReasonFuture)
	}
	if SameMonth(last.ReleaseDate, today) {
		return notDue(ReasonPeriodCurrent)
	}
	return Occurrence{
		Due:         true,
		ReleaseDate: today,
		Installment: last.CurrentInstallment + 1,
	}
}
