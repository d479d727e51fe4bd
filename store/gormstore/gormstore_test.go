package gormstore_test

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
	"github.com/warp/finance-ledger/store/gormstore"
	"gorm.io/driver/sqlite"
)

// newStore opens a gorm store on a throwaway SQLite file.
func newStore(t *testing.T) *gormstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := gormstore.Open(sqlite.Open(path+"?_busy_timeout=5000"), gormstore.Options{MaxOpenConns: 1}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGorm_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.AdminStore {
		return newStore(t)
	})
}

func TestGorm_EndToEndSweep(t *testing.T) {
	// GIVEN: 1000.00, expense 250.75 on 2024-03-01, monthly income 300.00
	//        first posted 2024-02-15
	// WHEN: Sweeping on 2024-03-15 twice, from concurrent callers
	// THEN: Balance 1349.25 and exactly one March occurrence

	s := newStore(t)
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, ledger.Account{ID: "acc-1", UserID: "user-1", Name: "main", Balance: money.MustParse("1000.00")})
	require.NoError(t, err)
	require.NoError(t, s.LinkPaymentMethod(ctx, a.ID, "pm-card"))

	engine := ledger.NewEngine(s, zerolog.Nop())
	engine.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	post := func(tx ledger.Transaction) {
		t.Helper()
		tx.UserID = "user-1"
		tx.AccountID = a.ID
		tx.PaymentMethodID = "pm-card"
		_, err := engine.PostTransaction(ctx, tx)
		require.NoError(t, err)
	}
	post(ledger.Transaction{Name: "rent", Type: ledger.TypeExpense, Value: money.MustParse("250.75")})
	post(ledger.Transaction{
		Name:          "salary",
		Type:          ledger.TypeIncome,
		Value:         money.MustParse("300.00"),
		ReleaseDate:   ledger.MustParseDate("2024-02-15"),
		Recurring:     true,
		RecurringType: ledger.RecurringMonthly,
	})

	found, err := s.FindAccount(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "1049.25", money.Format(found.Balance))

	engine.Now = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.RunRecurringAndInstallmentSweep(ctx)
		}()
	}
	wg.Wait()

	found, err = s.FindAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "1349.25", money.Format(found.Balance))

	txs, err := s.ListTransactions(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestGorm_DuplicateSeriesTranslated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.CreateAccount(ctx, ledger.Account{ID: "acc-1", UserID: "user-1", Name: "main"})
	require.NoError(t, err)

	tx := ledger.Transaction{
		ID:           "tx-1",
		UserID:       "user-1",
		AccountID:    "acc-1",
		Name:         "rent",
		Type:         ledger.TypeExpense,
		Value:        money.MustParse("1.00"),
		ReleaseDate:  ledger.MustParseDate("2024-03-01"),
		SeriesKey:    "series-1",
		SeriesPeriod: "2024-03",
	}
	_, err = s.CreateTransaction(ctx, tx)
	require.NoError(t, err)

	tx.ID = "tx-2"
	_, err = s.CreateTransaction(ctx, tx)
	assert.ErrorIs(t, err, ledger.ErrSeriesAlreadyMaterialized)
	assert.True(t, ledger.IsConflict(err))
}
