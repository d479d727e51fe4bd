package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/money"
)

func seedHistory(t *testing.T, f *fixture, id ledger.AccountID, from, to, balance string) {
	t.Helper()
	for day := d(from); !day.After(d(to)); day = day.AddDays(1) {
		_, err := f.store.UpsertBalanceHistory(context.Background(), ledger.BalanceHistory{
			AccountID: id,
			Date:      day,
			Balance:   money.MustParse(balance),
		})
		require.NoError(t, err)
	}
}

func TestRecalculate_RoundTrip(t *testing.T) {
	// GIVEN: Stale history rows for March 1..20 at 1.00
	// WHEN: Recalculating March 5..14 with balance 750.00
	// THEN: Exactly 10 rows in range, all 750.00; rows outside untouched

	f := newFixture(t)
	a := f.account(t, "acc-1", "750.00")
	seedHistory(t, f, a.ID, "2024-03-01", "2024-03-20", "1.00")
	ctx := context.Background()

	report, err := f.engine.RecalculateBalanceHistory(ctx, a.ID, d("2024-03-05"), d("2024-03-14"))
	require.NoError(t, err)

	assert.Equal(t, 10, report.RecordsCreated)
	assert.Equal(t, 10, report.RecordsDeleted)
	assert.Equal(t, 10, report.Days)
	assert.Equal(t, ledger.RecalcCurrent, report.Mode)
	assert.Equal(t, "2024-03-05", report.Start.String())
	assert.Equal(t, "2024-03-14", report.End.String())

	rows, err := f.store.ListBalanceHistory(ctx, a.ID, d("2024-03-05"), d("2024-03-14"))
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for _, row := range rows {
		assert.Equal(t, "750.00", money.Format(row.Balance))
	}

	outside, err := f.store.ListBalanceHistory(ctx, a.ID, d("2024-03-01"), d("2024-03-04"))
	require.NoError(t, err)
	require.Len(t, outside, 4)
	assert.Equal(t, "1.00", money.Format(outside[0].Balance))
}

func TestRecalculate_AllAccounts(t *testing.T) {
	f := newFixture(t)
	f.account(t, "acc-A", "1.00")
	f.account(t, "acc-B", "2.00")

	report, err := f.engine.RecalculateBalanceHistory(context.Background(), "", d("2024-02-27"), d("2024-03-02"))
	require.NoError(t, err)

	// Feb 27, 28, 29, Mar 1, 2
	assert.Equal(t, 5, report.Days)
	assert.Equal(t, 10, report.RecordsCreated)
	assert.ElementsMatch(t, []ledger.AccountID{"acc-A", "acc-B"}, report.AccountIDs)
}

func TestRecalculate_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	f.account(t, "acc-1", "1.00")

	_, err := f.engine.RecalculateBalanceHistory(context.Background(), "missing", d("2024-03-01"), d("2024-03-02"))

	var notFound *ledger.AccountNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, ledger.AccountID("missing"), notFound.AccountID)
}

func TestRecalculate_NoAccounts(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RecalculateBalanceHistory(context.Background(), "", d("2024-03-01"), d("2024-03-02"))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestRecalculate_InvalidRange(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "acc-1", "1.00")
	ctx := context.Background()

	_, err := f.engine.RecalculateBalanceHistory(ctx, a.ID, d("2024-03-02"), d("2024-03-01"))
	assert.ErrorIs(t, err, ledger.ErrInvalidDateRange)

	f.engine.Config.MaxRecalcDays = 7
	_, err = f.engine.RecalculateBalanceHistory(ctx, a.ID, d("2024-03-01"), d("2024-03-08"))
	assert.ErrorIs(t, err, ledger.ErrInvalidDateRange)
}

func TestRecalculate_FailureRollsBack(t *testing.T) {
	// GIVEN: Existing rows and a store that fails on insert
	// WHEN: Recalculating
	// THEN: The error propagates and the deleted rows come back

	f := newFixture(t)
	a := f.account(t, "acc-1", "9.00")
	seedHistory(t, f, a.ID, "2024-03-01", "2024-03-03", "1.00")
	f.store.FailOn = func(op, _ string) error {
		if op == "UpsertBalanceHistory" {
			return errors.New("write failed")
		}
		return nil
	}

	_, err := f.engine.RecalculateBalanceHistory(context.Background(), a.ID, d("2024-03-01"), d("2024-03-03"))
	require.Error(t, err)

	f.store.FailOn = nil
	rows, err := f.store.ListBalanceHistory(context.Background(), a.ID, d("2024-03-01"), d("2024-03-03"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "1.00", money.Format(rows[0].Balance))
}

func TestRecalculate_ReplayMode_ReconstructsPointInTime(t *testing.T) {
	// GIVEN: Balance 1000.00, expense 100.00 on Mar 5, income 50.00 on Mar 8
	// WHEN: Replaying Mar 1..10
	// THEN: 1000.00 until Mar 4, 900.00 Mar 5..7, 950.00 from Mar 8

	f := newFixture(t)
	a := f.account(t, "acc-1", "1000.00")
	f.post(t, expense(a.ID, "repair", "100.00", "2024-03-05"))
	f.post(t, income(a.ID, "refund", "50.00", "2024-03-08"))
	ctx := context.Background()

	report, err := f.engine.Recalculate(ctx, a.ID, d("2024-03-01"), d("2024-03-10"), ledger.RecalcReplay)
	require.NoError(t, err)
	assert.Equal(t, 10, report.RecordsCreated)

	rows, err := f.store.ListBalanceHistory(ctx, a.ID, d("2024-03-01"), d("2024-03-10"))
	require.NoError(t, err)
	require.Len(t, rows, 10)

	want := []string{
		"1000.00", "1000.00", "1000.00", "1000.00",
		"900.00", "900.00", "900.00",
		"950.00", "950.00", "950.00",
	}
	for i, row := range rows {
		assert.Equal(t, want[i], money.Format(row.Balance), row.Date.String())
	}
}
