package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/money"
)

func TestSnapshot_TwiceSameDate_OneRowWithLatestBalance(t *testing.T) {
	// GIVEN: A snapshot for 2024-03-15 already exists
	// WHEN: The balance changes and the snapshot runs again for the same date
	// THEN: Exactly one row exists, holding the latest balance

	f := newFixture(t)
	a := f.account(t, "acc-1", "100.00")
	ctx := context.Background()
	date := d("2024-03-15")

	_, err := f.engine.RunDailyBalanceSnapshot(ctx, &date)
	require.NoError(t, err)

	f.post(t, income(a.ID, "bonus", "25.50", "2024-03-15"))
	report, err := f.engine.RunDailyBalanceSnapshot(ctx, &date)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Written)

	rows, err := f.store.ListBalanceHistory(ctx, a.ID, date, date)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "125.50", money.Format(rows[0].Balance))
}

func TestSnapshot_DefaultDate_GraceWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		want      string
		backdated bool
	}{
		{"late evening", time.Date(2024, 3, 15, 23, 55, 0, 0, time.UTC), "2024-03-15", false},
		{"just after midnight", time.Date(2024, 3, 16, 1, 10, 0, 0, time.UTC), "2024-03-15", true},
		{"grace boundary", time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC), "2024-03-16", false},
		{"new year", time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC), "2023-12-31", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.account(t, "acc-1", "10.00")
			f.clock.Set(tt.now)

			report, err := f.engine.RunDailyBalanceSnapshot(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, report.Date.String())
			assert.Equal(t, tt.backdated, report.Backdated)
		})
	}
}

func TestSnapshot_UsesConfiguredLocation(t *testing.T) {
	// GIVEN: Engine configured for UTC-3
	// WHEN: Running at 02:30 UTC (23:30 local of the previous day)
	// THEN: The snapshot carries the local date

	f := newFixture(t)
	f.account(t, "acc-1", "10.00")
	f.engine.Config.Location = time.FixedZone("BRT", -3*3600)
	f.clock.Set(time.Date(2024, 3, 16, 2, 30, 0, 0, time.UTC))

	report, err := f.engine.RunDailyBalanceSnapshot(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", report.Date.String())
	assert.False(t, report.Backdated)
}

func TestSnapshot_OneAccountFails_OthersWritten(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "acc-A", "10.00")
	b := f.account(t, "acc-B", "20.00")
	f.store.FailOn = func(op, id string) error {
		if op == "UpsertBalanceHistory" && id == string(b.ID) {
			return errors.New("locked")
		}
		return nil
	}
	date := d("2024-03-15")

	report, err := f.engine.RunDailyBalanceSnapshot(context.Background(), &date)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Accounts)
	assert.Equal(t, 1, report.Written)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, b.ID, report.Failures[0].AccountID)

	rows, err := f.store.ListBalanceHistory(context.Background(), a.ID, date, date)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Len(t, f.publisher.ofType(ledger.EventSnapshotCompleted), 1)
}
