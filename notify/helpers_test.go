package notify_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/ledger/store"
	"github.com/warp/finance-ledger/money"
)

func newMemoryStore(t *testing.T) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := mem.CreateAccount(ctx, ledger.Account{ID: "acc-1", UserID: "user-1", Name: "main", Balance: money.MustParse("10.00")})
	require.NoError(t, err)
	require.NoError(t, mem.LinkPaymentMethod(ctx, "acc-1", "pm-card"))
	return mem
}
