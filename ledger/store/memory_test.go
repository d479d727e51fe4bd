package store_test

import (
	"testing"

	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/ledger/store"
	"github.com/warp/finance-ledger/ledger/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.AdminStore {
		return store.NewMemory()
	})
}
