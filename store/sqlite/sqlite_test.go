package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/ledger/storetest"
	"github.com/warp/finance-ledger/money"
	"github.com/warp/finance-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.AdminStore {
		return newStore(t)
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: A file-backed store with an account and a posted expense
	// WHEN: The store is closed and reopened
	// THEN: Balance and transaction survive, decimals intact

	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := sqlite.New(path)
	require.NoError(t, err)
	a, err := s.CreateAccount(ctx, ledger.Account{ID: "acc-1", UserID: "user-1", Name: "main", Balance: money.MustParse("1000.00")})
	require.NoError(t, err)
	require.NoError(t, s.LinkPaymentMethod(ctx, a.ID, "pm-card"))

	engine := ledger.NewEngine(s, zerolog.Nop())
	_, err = engine.PostTransaction(ctx, ledger.Transaction{
		UserID:          "user-1",
		AccountID:       a.ID,
		PaymentMethodID: "pm-card",
		Name:            "rent",
		Type:            ledger.TypeExpense,
		Value:           money.MustParse("250.75"),
		ReleaseDate:     ledger.MustParseDate("2024-03-01"),
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	found, err := reopened.FindAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "749.25", money.Format(found.Balance))

	txs, err := reopened.ListTransactions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "250.75", money.Format(txs[0].Value))
}

func TestSQLite_ConcurrentSweeps_OneOccurrence(t *testing.T) {
	// GIVEN: A monthly series last posted in February, no locker configured
	// WHEN: Several sweeps run concurrently on the due day in March
	// THEN: The database holds exactly one March occurrence and the
	//       balance moved once

	s := newStore(t)
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, ledger.Account{ID: "acc-1", UserID: "user-1", Name: "main", Balance: money.MustParse("1000.00")})
	require.NoError(t, err)
	require.NoError(t, s.LinkPaymentMethod(ctx, a.ID, "pm-card"))

	engine := ledger.NewEngine(s, zerolog.Nop())
	engine.Now = func() time.Time { return time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC) }
	_, err = engine.PostTransaction(ctx, ledger.Transaction{
		UserID:          "user-1",
		AccountID:       a.ID,
		PaymentMethodID: "pm-card",
		Name:            "salary",
		Type:            ledger.TypeIncome,
		Value:           money.MustParse("300.00"),
		Recurring:       true,
		RecurringType:   ledger.RecurringMonthly,
	})
	require.NoError(t, err)

	engine.Now = func() time.Time { return time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC) }

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.RunRecurringAndInstallmentSweep(ctx)
		}()
	}
	wg.Wait()

	txs, err := s.ListTransactions(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	found, err := s.FindAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "1600.00", money.Format(found.Balance))
}

func TestSQLite_NewFailsOnBadPath(t *testing.T) {
	_, err := sqlite.New(filepath.Join(t.TempDir(), "missing", "dir", "ledger.db"))
	assert.Error(t, err)
}
