package ledger

import (
	"context"
	"time"
)

// =============================================================================
// DUPLICATE GUARD - Has this (series, period) already been materialized?
// =============================================================================

// Guard queries the store for existing siblings. It is stateless; the
// store is passed per call so the check runs on the same transaction as
// the post that follows it.
type Guard struct{}

// ExistsInPeriod reports whether any sibling of the series is released
// within the period (UTC day bounds, inclusive).
func (Guard) ExistsInPeriod(ctx context.Context, s Store, seriesKey string, p Period) (bool, error) {
	txs, err := s.FindSeriesTransactions(ctx, seriesKey, p.Start, p.End)
	if err != nil {
		return false, err
	}
	return len(txs) > 0, nil
}

// ExistsInMonth reports whether the series has a sibling in (month, year).
func (g Guard) ExistsInMonth(ctx context.Context, s Store, id SeriesIdentity, month time.Month, year int) (bool, error) {
	return g.ExistsInPeriod(ctx, s, id.Key(), MonthPeriod(year, month))
}

// InstallmentExists reports whether installment k of the series exists, or
// whether any installment was already released in the month of today.
func (g Guard) InstallmentExists(ctx context.Context, s Store, id SeriesIdentity, k int, today Date) (bool, error) {
	inMonth, err := g.ExistsInMonth(ctx, s, id, today.Month(), today.Year())
	if err != nil || inMonth {
		return inMonth, err
	}

	txs, err := s.FindSeriesTransactions(ctx, id.Key(), Date{}, Date{})
	if err != nil {
		return false, err
	}
	for _, tx := range txs {
		if tx.CurrentInstallment == k {
			return true, nil
		}
	}
	return false, nil
}
