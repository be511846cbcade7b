package sync_test

import (
	"context"
	"testing"
	"time"

	"consultation-service/internal/cache"
	"consultation-service/internal/ledger"
	"consultation-service/internal/model"
	balanceSync "consultation-service/internal/sync"
	"consultation-service/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestSyncBalances(t *testing.T) {
	store := ledger.NewGormStore(testutil.OpenDB(t), testutil.Logger())
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		_, err := store.Create(ctx, &model.UserLedger{UserID: id})
		require.NoError(t, err)
		_, err = store.Credit(ctx, id, int64((i+1)*10))
		require.NoError(t, err)
	}

	balances := cache.NewBalances()

	syncCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Batch size below the row count exercises paging.
		balanceSync.SyncBalances(syncCtx, store, balances, 2, time.Hour, testutil.Logger())
	}()

	require.Eventually(t, func() bool {
		v, ok := balances.Get("c")
		return ok && v == 30
	}, 2*time.Second, 5*time.Millisecond)

	for i, id := range []string{"a", "b", "c"} {
		v, ok := balances.Get(id)
		require.True(t, ok)
		require.Equal(t, int64((i+1)*10), v)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("synchronizer did not stop")
	}
}
