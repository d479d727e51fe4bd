/*
storetest.go - Contract tests shared by every ledger.AdminStore implementation

PURPOSE:
  One suite, run by each backend's own tests, so the memory, SQLite and
  MySQL stores agree on the behavior the engine relies on:
  - (series_key, series_period) uniqueness reported as a conflict
  - WithTx rollback on error
  - Balance history upsert on (account, date)
  - Open date bounds and ordering of series lookups

USAGE:
  func TestContract(t *testing.T) {
      storetest.Run(t, func(t *testing.T) ledger.AdminStore {
          return newStore(t)
      })
  }

SEE ALSO:
  - ledger/store.go: The interfaces under test
*/
package storetest

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

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) ledger.AdminStore

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AccountRoundTrip", func(t *testing.T) { testAccountRoundTrip(t, newStore(t)) })
	t.Run("PaymentMethods", func(t *testing.T) { testPaymentMethods(t, newStore(t)) })
	t.Run("SeriesUniqueness", func(t *testing.T) { testSeriesUniqueness(t, newStore(t)) })
	t.Run("SeriesLookup", func(t *testing.T) { testSeriesLookup(t, newStore(t)) })
	t.Run("RecurringAndInstallments", func(t *testing.T) { testRecurringAndInstallments(t, newStore(t)) })
	t.Run("DeleteFreesSlot", func(t *testing.T) { testDeleteFreesSlot(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("BalanceHistory", func(t *testing.T) { testBalanceHistory(t, newStore(t)) })
	t.Run("TransactionsAfter", func(t *testing.T) { testTransactionsAfter(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func seedAccount(t *testing.T, s ledger.AdminStore, id, balance string) ledger.Account {
	t.Helper()
	a, err := s.CreateAccount(context.Background(), ledger.Account{
		ID:      ledger.AccountID(id),
		UserID:  "user-1",
		Name:    id,
		Type:    "checking",
		Balance: money.MustParse(balance),
	})
	require.NoError(t, err)
	require.NoError(t, s.LinkPaymentMethod(context.Background(), a.ID, "pm-card"))
	return a
}

func row(account ledger.AccountID, id, name, value, date string) ledger.Transaction {
	return ledger.Transaction{
		ID:              ledger.TransactionID(id),
		UserID:          "user-1",
		AccountID:       account,
		PaymentMethodID: "pm-card",
		Name:            name,
		Category:        "general",
		Type:            ledger.TypeExpense,
		Value:           money.MustParse(value),
		ReleaseDate:     ledger.MustParseDate(date),
		CreatedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func recurringRow(account ledger.AccountID, id, date string) ledger.Transaction {
	tx := row(account, id, "rent", "250.75", date)
	tx.Recurring = true
	tx.RecurringType = ledger.RecurringMonthly
	tx.SeriesKey = tx.Identity().Key()
	tx.SeriesPeriod = tx.PeriodKey()
	return tx
}

func mustCreate(t *testing.T, s ledger.Store, tx ledger.Transaction) ledger.Transaction {
	t.Helper()
	created, err := s.CreateTransaction(context.Background(), tx)
	require.NoError(t, err)
	return created
}

// =============================================================================
// CASES
// =============================================================================

func testAccountRoundTrip(t *testing.T, s ledger.AdminStore) {
	ctx := context.Background()
	a := seedAccount(t, s, "acc-1", "1000.00")

	updated, err := s.UpdateAccountBalance(ctx, a.ID, money.MustParse("749.25"))
	require.NoError(t, err)
	assert.Equal(t, "749.25", money.Format(updated.Balance))

	found, err := s.FindAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "749.25", money.Format(found.Balance))
	assert.Equal(t, ledger.UserID("user-1"), found.UserID)

	_, err = s.FindAccount(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = s.UpdateAccountBalance(ctx, "missing", money.MustParse("1.00"))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	seedAccount(t, s, "acc-2", "0.00")
	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testPaymentMethods(t *testing.T, s ledger.AdminStore) {
	ctx := context.Background()
	a := seedAccount(t, s, "acc-1", "0.00")

	ok, err := s.HasPaymentMethod(ctx, a.ID, "pm-card")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasPaymentMethod(ctx, a.ID, "pm-other")
	require.NoError(t, err)
	assert.False(t, ok)

	// Linking twice is harmless
	require.NoError(t, s.LinkPaymentMethod(ctx, a.ID, "pm-card"))

	err = s.LinkPaymentMethod(ctx, "missing", "pm-card")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func testSeriesUniqueness(t *testing.T, s ledger.AdminStore) {
	// GIVEN: An occurrence of a series in 2024-03
	// WHEN: A second row for the same series and period is inserted
	// THEN: It fails with ErrSeriesAlreadyMaterialized; other periods succeed

	ctx := context.Background()
	a := seedAccount(t, s, "acc-1", "0.00")
	first := mustCreate(t, s, recurringRow(a.ID, "tx-1", "2024-03-05"))

	dup := recurringRow(a.ID, "tx-2", "2024-03-20")
	_, err := s.CreateTransaction(ctx, dup)
	require.ErrorIs(t, err, ledger.ErrSeriesAlreadyMaterialized)

	var conflict *ledger.SeriesConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.SeriesKey, conflict.SeriesKey)
	assert.Equal(t, "2024-03", conflict.Period)

	mustCreate(t, s, recurringRow(a.ID, "tx-3", "2024-04-05"))

	// Standalone rows never collide
	mustCreate(t, s, row(a.ID, "tx-4", "coffee", "3.50", "2024-03-05"))
	mustCreate(t, s, row(a.ID, "tx-5", "coffee", "3.50", "2024-03-05"))
}

func testSeriesLookup(t *testing.T, s ledger.AdminStore) {
	ctx := context.Background()
	a := seedAccount(t, s, "acc-1", "0.00")
	jan := mustCreate(t, s, recurringRow(a.ID, "tx-1", "2024-01-05"))
	mustCreate(t, s, recurringRow(a.ID, "tx-3", "2024-03-05"))
	mustCreate(t, s, recurringRow(a.ID, "tx-2", "2024-02-05"))

	all, err := s.FindSeriesTransactions(ctx, jan.SeriesKey, ledger.Date{}, ledger.Date{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2024-01-05", all[0].ReleaseDate.String())
	assert.Equal(t, "2024-03-05", all[2].ReleaseDate.String())

	feb, err := s.FindSeriesTransactions(ctx, jan.SeriesKey,
		ledger.MustParseDate("2024-02-01"), ledger.MustParseDate("2024-02-29"))
	require.NoError(t, err)
	require.Len(t, feb, 1)
	assert.Equal(t, ledger.TransactionID("tx-2"), feb[0].ID)
	assert.Equal(t, "250.75", money.Format(feb[0].Value))
	assert.Equal(t, ledger.RecurringMonthly, feb[0].RecurringType)
	assert.Equal(t, "2024-02", feb[0].SeriesPeriod)

	none, err := s.FindSeriesTransactions(ctx, "other", ledger.Date{}, ledger.Date{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testRecurringAndInstallments(t *testing.T, s ledger.AdminStore) {
	ctx := context.Background()
	a := seedAccount(t, s, "acc-1", "0.00")
	mustCreate(t, s, recurringRow(a.ID, "tx-r", "2024-03-05"))
	mustCreate(t, s, row(a.ID, "tx-s", "coffee", "3.50", "2024-03-05"))

	open := row(a.ID, "tx-i1", "laptop", "100.00", "2024-03-05")
	open.NumberInstallments = 3
	open.CurrentInstallment = 1
	open.ValueInstallment = money.MustParse("33.33")
	open.SeriesKey = open.Identity().Key()
	open.SeriesPeriod = open.PeriodKey()
	mustCreate(t, s, open)

	done := row(a.ID, "tx-i2", "phone", "20.00", "2024-03-05")
	done.NumberInstallments = 2
	done.CurrentInstallment = 2
	done.ValueInstallment = money.MustParse("10.00")
	done.SeriesKey = done.Identity().Key()
	done.SeriesPeriod = done.PeriodKey()
	mustCreate(t, s, done)

	recurring, err := s.FindRecurringTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, recurring, 1)
	assert.Equal(t, ledger.TransactionID("tx-r"), recurring[0].ID)

	installments, err := s.FindOpenInstallmentTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, installments, 1)
	assert.Equal(t, ledger.TransactionID("tx-i1"), installments[0].ID)
	assert.Equal(t, "33.33", money.Format(installments[0].ValueInstallment))
	assert.Equal(t, 3, installments[0].NumberInstallments)
}

func testDeleteFreesSlot(t *testing.T, s ledger.AdminStore) {
	ctx := context.Background()
	a := seedAccount(t, s, "acc-1", "0.00")
	tx := mustCreate(t, s, recurringRow(a.ID, "tx-1", "2024-03-05"))

	found, err := s.FindTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.SeriesKey, found.SeriesKey)

	require.NoError(t, s.DeleteTransaction(ctx, tx.ID))
	_, err = s.FindTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, tx.ID), ledger.ErrTransactionNotFound)

	mustCreate(t, s, recurringRow(a.ID, "tx-2", "2024-03-06"))
}

func testWithTxRollback(t *testing.T, s ledger.AdminStore) {
	// GIVEN: A transaction that inserts a row and updates a balance
	// WHEN: The callback fails
	// THEN: Neither change is visible afterwards

	ctx := context.Background()
	a := seedAccount(t, s, "acc-1", "100.00")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.CreateTransaction(ctx, row(a.ID, "tx-1", "x", "10.00", "2024-03-01")); err != nil {
			return err
		}
		if _, err := tx.UpdateAccountBalance(ctx, a.ID, money.MustParse("90.00")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.FindTransaction(ctx, "tx-1")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	found, err := s.FindAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", money.Format(found.Balance))

	err = s.WithTx(ctx, func(tx ledger.Store) error {
		_, err := tx.CreateTransaction(ctx, row(a.ID, "tx-2", "x", "10.00", "2024-03-01"))
		return err
	})
	require.NoError(t, err)
	_, err = s.FindTransaction(ctx, "tx-2")
	assert.NoError(t, err)
}

func testBalanceHistory(t *testing.T, s ledger.AdminStore) {
	ctx := context.Background()
	a := seedAccount(t, s, "acc-1", "0.00")
	b := seedAccount(t, s, "acc-2", "0.00")
	day := ledger.MustParseDate("2024-03-15")

	for _, v := range []string{"10.00", "12.50"} {
		_, err := s.UpsertBalanceHistory(ctx, ledger.BalanceHistory{AccountID: a.ID, Date: day, Balance: money.MustParse(v)})
		require.NoError(t, err)
	}
	_, err := s.UpsertBalanceHistory(ctx, ledger.BalanceHistory{AccountID: a.ID, Date: day.AddDays(1), Balance: money.MustParse("1.00")})
	require.NoError(t, err)
	_, err = s.UpsertBalanceHistory(ctx, ledger.BalanceHistory{AccountID: b.ID, Date: day, Balance: money.MustParse("7.00")})
	require.NoError(t, err)

	rows, err := s.ListBalanceHistory(ctx, a.ID, day, day.AddDays(1))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "12.50", money.Format(rows[0].Balance))
	assert.Equal(t, "2024-03-16", rows[1].Date.String())

	n, err := s.DeleteBalanceHistory(ctx, a.ID, day, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.DeleteBalanceHistory(ctx, "", day, day.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testTransactionsAfter(t *testing.T, s ledger.AdminStore) {
	ctx := context.Background()
	a := seedAccount(t, s, "acc-1", "0.00")
	b := seedAccount(t, s, "acc-2", "0.00")
	mustCreate(t, s, row(a.ID, "tx-1", "x", "1.00", "2024-03-01"))
	mustCreate(t, s, row(a.ID, "tx-2", "x", "2.00", "2024-03-02"))
	mustCreate(t, s, row(a.ID, "tx-3", "x", "3.00", "2024-03-03"))
	mustCreate(t, s, row(b.ID, "tx-4", "x", "4.00", "2024-03-03"))

	after, err := s.FindTransactionsAfter(ctx, a.ID, ledger.MustParseDate("2024-03-01"))
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, ledger.TransactionID("tx-2"), after[0].ID)
	assert.Equal(t, ledger.TransactionID("tx-3"), after[1].ID)

	listed, err := s.ListTransactions(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}
