package ledger_test

import (
	"context"
	"sync"
	"testing"

	"consultation-service/internal/ledger"
	"consultation-service/internal/model"
	"consultation-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *ledger.GormStore {
	t.Helper()
	return ledger.NewGormStore(testutil.OpenDB(t), testutil.Logger())
}

func TestCreateAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	l, err := store.Create(ctx, &model.UserLedger{UserID: "u1", Name: "Asha"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.WalletBalance)
	assert.Equal(t, 0, l.FreeMinutesUsed)
	assert.True(t, l.IsTrialActive)

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.Name)
}

func TestGetNotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCreditAndDebit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, &model.UserLedger{UserID: "u1"})
	require.NoError(t, err)

	l, err := store.Credit(ctx, "u1", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), l.WalletBalance)

	l, err = store.Debit(ctx, "u1", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(70), l.WalletBalance)
}

func TestDebitInsufficientFundsLeavesLedgerUntouched(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, &model.UserLedger{UserID: "u1"})
	require.NoError(t, err)
	_, err = store.Credit(ctx, "u1", 5)
	require.NoError(t, err)

	_, err = store.Debit(ctx, "u1", 10)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	l, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), l.WalletBalance)
}

func TestDebitUnknownUser(t *testing.T) {
	store := newStore(t)

	_, err := store.Debit(context.Background(), "missing", 10)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCreditUnknownUser(t *testing.T) {
	store := newStore(t)

	_, err := store.Credit(context.Background(), "missing", 10)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestConsumeFreeMinutesCapAndFlip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, &model.UserLedger{UserID: "u1"})
	require.NoError(t, err)

	for i := 1; i < model.FreeTrialCap; i++ {
		l, err := store.ConsumeFreeMinutes(ctx, "u1", 1)
		require.NoError(t, err)
		assert.Equal(t, i, l.FreeMinutesUsed)
		assert.True(t, l.IsTrialActive, "trial should stay active before the cap")
	}

	l, err := store.ConsumeFreeMinutes(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, model.FreeTrialCap, l.FreeMinutesUsed)
	assert.False(t, l.IsTrialActive, "trial flips off at the cap")

	// Clamped at the cap and the flip is one-way.
	l, err = store.ConsumeFreeMinutes(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, model.FreeTrialCap, l.FreeMinutesUsed)
	assert.False(t, l.IsTrialActive)
}

func TestConsumeFreeMinutesClampsOvershoot(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, &model.UserLedger{UserID: "u1"})
	require.NoError(t, err)

	l, err := store.ConsumeFreeMinutes(ctx, "u1", model.FreeTrialCap+10)
	require.NoError(t, err)
	assert.Equal(t, model.FreeTrialCap, l.FreeMinutesUsed)
	assert.False(t, l.IsTrialActive)
}

// A top-up arriving concurrently with a metering debit must not lose either
// update, whichever wins the race.
func TestConcurrentCreditAndDebit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, &model.UserLedger{UserID: "u1"})
	require.NoError(t, err)
	_, err = store.Credit(ctx, "u1", 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = store.Credit(ctx, "u1", 100)
	}()
	go func() {
		defer wg.Done()
		_, _ = store.Debit(ctx, "u1", 10)
	}()
	wg.Wait()

	l, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), l.WalletBalance)
}

func TestListAndCount(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Create(ctx, &model.UserLedger{UserID: id})
		require.NoError(t, err)
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	ledgers, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, ledgers, 2)

	ledgers, err = store.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, ledgers, 1)
}
