/*
recalc.go - Regenerates balance history for a date range

PURPOSE:
  Wipe BalanceHistory rows of one account (or all) in [start, end] and
  write exactly one row per day per account, inside one store
  transaction.

MODES:
  current (default)
    Every regenerated row carries the account's balance at call time.
    This back-fill is NOT a point-in-time reconstruction.

  replay
    Row for day d = current balance minus the effect of every transaction
    of the account released after d:

      balance(d) = balance(now) - sum(signed(tx) for tx.release_date > d)

    This assumes the cached balance equals the sum of posted effects.

FAILURES:
  ErrInvalidDateRange when end < start or the range is too long.
  ErrAccountNotFound propagates: it concerns the whole request.
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/money"
)

type RecalcMode string

const (
	RecalcCurrent RecalcMode = "current"
	RecalcReplay  RecalcMode = "replay"
)

func (m RecalcMode) Valid() bool { return m == RecalcCurrent || m == RecalcReplay }

type RecalcReport struct {
	AccountIDs     []AccountID `json:"account_ids"`
	Start          Date        `json:"start"`
	End            Date        `json:"end"`
	Days           int         `json:"days"`
	Mode           RecalcMode  `json:"mode"`
	RecordsDeleted int         `json:"records_deleted"`
	RecordsCreated int         `json:"records_created"`
}

// RecalculateBalanceHistory regenerates history rows. An empty accountID
// targets every account.
func (e *Engine) RecalculateBalanceHistory(ctx context.Context, accountID AccountID, start, end Date) (*RecalcReport, error) {
	return e.Recalculate(ctx, accountID, start, end, e.Config.RecalcMode)
}

// Recalculate is RecalculateBalanceHistory with an explicit mode.
func (e *Engine) Recalculate(ctx context.Context, accountID AccountID, start, end Date, mode RecalcMode) (*RecalcReport, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidDateRange, end, start)
	}
	days := Period{Start: start, End: end}.Len()
	if limit := e.Config.MaxRecalcDays; limit > 0 && days > limit {
		return nil, fmt.Errorf("%w: %d days exceeds limit of %d", ErrInvalidDateRange, days, limit)
	}
	if mode == "" {
		mode = RecalcCurrent
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown recalculation mode %q", ErrInvalidTransaction, mode)
	}

	log := e.Log.With().Str("component", "recalc").Str("mode", string(mode)).Logger()
	report := &RecalcReport{Start: start, End: end, Days: days, Mode: mode}
	now := e.Now().UTC().Truncate(time.Second)

	err := e.Store.WithTx(ctx, func(s Store) error {
		accounts, err := recalcTargets(ctx, s, accountID)
		if err != nil {
			return err
		}

		deleted, err := s.DeleteBalanceHistory(ctx, accountID, start, end)
		if err != nil {
			return fmt.Errorf("delete balance history: %w", err)
		}
		report.RecordsDeleted = deleted

		for _, account := range accounts {
			balances, err := dailyBalances(ctx, s, account, start, end, mode)
			if err != nil {
				return err
			}
			for i, day := range (Period{Start: start, End: end}).Days() {
				if _, err := s.UpsertBalanceHistory(ctx, BalanceHistory{
					AccountID: account.ID,
					Date:      day,
					Balance:   balances[i],
					CreatedAt: now,
				}); err != nil {
					return fmt.Errorf("write balance history %s %s: %w", account.ID, day, err)
				}
				report.RecordsCreated++
			}
			report.AccountIDs = append(report.AccountIDs, account.ID)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("account_id", string(accountID)).Msg("recalculation failed")
		return nil, err
	}

	log.Info().
		Str("start", start.String()).
		Str("end", end.String()).
		Int("accounts", len(report.AccountIDs)).
		Int("deleted", report.RecordsDeleted).
		Int("created", report.RecordsCreated).
		Msg("recalculation finished")

	e.publish(ctx, Event{Type: EventRecalcCompleted, Key: "recalc", OccurredAt: e.Now(), Payload: report})
	return report, nil
}

func recalcTargets(ctx context.Context, s Store, accountID AccountID) ([]Account, error) {
	if accountID != "" {
		account, err := s.FindAccount(ctx, accountID)
		if err != nil {
			if IsNotFound(err) {
				return nil, &AccountNotFoundError{AccountID: accountID}
			}
			return nil, err
		}
		return []Account{account}, nil
	}

	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: no accounts to recalculate", ErrAccountNotFound)
	}
	return accounts, nil
}

// dailyBalances returns one balance per day of [start, end].
func dailyBalances(ctx context.Context, s Store, account Account, start, end Date, mode RecalcMode) ([]decimal.Decimal, error) {
	n := DaysBetween(start, end) + 1
	out := make([]decimal.Decimal, n)

	if mode == RecalcCurrent {
		for i := range out {
			out[i] = account.Balance
		}
		return out, nil
	}

	// Everything released on or after start affects some day in range.
	later, err := s.FindTransactionsAfter(ctx, account.ID, start.AddDays(-1))
	if err != nil {
		return nil, fmt.Errorf("load transactions of %s: %w", account.ID, err)
	}
	sort.Slice(later, func(i, j int) bool { return later[i].ReleaseDate.Before(later[j].ReleaseDate) })

	// Walk days forward; pending holds the effect of rows still in the future.
	pending := decimal.Zero
	for _, tx := range later {
		pending = money.Add(pending, tx.SignedAmount())
	}
	next := 0
	for i := 0; i < n; i++ {
		day := start.AddDays(i)
		for next < len(later) && later[next].ReleaseDate.BeforeOrEqual(day) {
			pending = money.Subtract(pending, later[next].SignedAmount())
			next++
		}
		out[i] = money.Subtract(account.Balance, pending)
	}
	return out, nil
}
