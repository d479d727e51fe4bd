package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/money"
)

// =============================================================================
// RECURRING - MONTHLY
// =============================================================================

func TestNextRecurring_Monthly(t *testing.T) {
	tests := []struct {
		name   string
		last   string
		today  string
		due    bool
		reason ledger.NotDueReason
	}{
		{"one month later on the same day", "2024-02-15", "2024-03-15", true, ledger.ReasonNone},
		{"day before", "2024-02-15", "2024-03-14", false, ledger.ReasonNotDueDay},
		{"day after", "2024-02-15", "2024-03-16", false, ledger.ReasonNotDueDay},
		{"already in this month", "2024-03-01", "2024-03-15", false, ledger.ReasonPeriodCurrent},
		{"two months stale", "2024-01-31", "2024-03-02", false, ledger.ReasonStale},
		{"two months stale on the same day", "2024-01-15", "2024-03-15", false, ledger.ReasonStale},
		{"december rolls into january", "2023-12-10", "2024-01-10", true, ledger.ReasonNone},
		{"last dated in the future", "2024-04-01", "2024-03-15", false, ledger.ReasonFuture},
		{"31st clamps to leap february", "2024-01-31", "2024-02-29", true, ledger.ReasonNone},
		{"31st not due on feb 28 of leap year", "2024-01-31", "2024-02-28", false, ledger.ReasonNotDueDay},
		{"31st clamps to april 30", "2024-03-31", "2024-04-30", true, ledger.ReasonNone},
		{"clamped day carries into march", "2024-02-29", "2024-03-29", true, ledger.ReasonNone},
		{"clamped day does not return to 31", "2024-02-29", "2024-03-31", false, ledger.ReasonNotDueDay},
		{"later day of the latest sibling", "2024-02-20", "2024-03-20", true, ledger.ReasonNone},
		{"earlier day is not due", "2024-02-20", "2024-03-10", false, ledger.ReasonNotDueDay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occ, err := ledger.NextRecurring(ledger.RecurringMonthly, d(tt.last), d(tt.today))
			require.NoError(t, err)
			assert.Equal(t, tt.due, occ.Due)
			assert.Equal(t, tt.reason, occ.Reason)
			if tt.due {
				assert.Equal(t, tt.today, occ.ReleaseDate.String())
			}
		})
	}
}

// =============================================================================
// RECURRING - WEEKLY / YEARLY
// =============================================================================

func TestNextRecurring_Weekly(t *testing.T) {
	// 2024-03-04 and 2024-03-11 are Mondays.
	tests := []struct {
		name   string
		last   string
		today  string
		due    bool
		reason ledger.NotDueReason
	}{
		{"next week same weekday", "2024-03-04", "2024-03-11", true, ledger.ReasonNone},
		{"next week other weekday", "2024-03-04", "2024-03-12", false, ledger.ReasonNotDueDay},
		{"same week", "2024-03-04", "2024-03-08", false, ledger.ReasonPeriodCurrent},
		{"two weeks stale", "2024-03-04", "2024-03-18", false, ledger.ReasonStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occ, err := ledger.NextRecurring(ledger.RecurringWeekly, d(tt.last), d(tt.today))
			require.NoError(t, err)
			assert.Equal(t, tt.due, occ.Due)
			assert.Equal(t, tt.reason, occ.Reason)
		})
	}
}

func TestNextRecurring_Yearly(t *testing.T) {
	occ, err := ledger.NextRecurring(ledger.RecurringYearly, d("2023-06-10"), d("2024-06-10"))
	require.NoError(t, err)
	assert.True(t, occ.Due)

	occ, err = ledger.NextRecurring(ledger.RecurringYearly, d("2022-06-10"), d("2024-06-10"))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonStale, occ.Reason)

	// A leap-day occurrence fires on Feb 28 in common years.
	occ, err = ledger.NextRecurring(ledger.RecurringYearly, d("2024-02-29"), d("2025-02-28"))
	require.NoError(t, err)
	assert.True(t, occ.Due)
}

func TestNextRecurring_UnknownType(t *testing.T) {
	_, err := ledger.NextRecurring("fortnightly", d("2024-02-15"), d("2024-03-15"))
	assert.ErrorIs(t, err, ledger.ErrUnsupportedRecurrence)
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func TestNextInstallment(t *testing.T) {
	member := func(current, total int, release string) ledger.Transaction {
		return ledger.Transaction{
			NumberInstallments: total,
			CurrentInstallment: current,
			ValueInstallment:   money.MustParse("33.33"),
			ReleaseDate:        d(release),
		}
	}

	t.Run("next month regardless of day", func(t *testing.T) {
		occ := ledger.NextInstallment(member(2, 3, "2024-02-20"), d("2024-03-01"))
		assert.True(t, occ.Due)
		assert.Equal(t, 3, occ.Installment)
		assert.Equal(t, "2024-03-01", occ.ReleaseDate.String())
	})

	t.Run("same month", func(t *testing.T) {
		occ := ledger.NextInstallment(member(2, 3, "2024-02-20"), d("2024-02-28"))
		assert.False(t, occ.Due)
		assert.Equal(t, ledger.ReasonPeriodCurrent, occ.Reason)
	})

	t.Run("chain complete", func(t *testing.T) {
		occ := ledger.NextInstallment(member(3, 3, "2024-02-20"), d("2024-03-20"))
		assert.False(t, occ.Due)
		assert.Equal(t, ledger.ReasonComplete, occ.Reason)
	})

	t.Run("installments catch up one month per run", func(t *testing.T) {
		occ := ledger.NextInstallment(member(1, 6, "2023-11-05"), d("2024-03-01"))
		assert.True(t, occ.Due)
		assert.Equal(t, 2, occ.Installment)
	})
}
