package billing_test

import (
	"context"
	"testing"

	"consultation-service/internal/billing"
	"consultation-service/internal/ledger"
	"consultation-service/internal/model"
	"consultation-service/internal/recorder"
	"consultation-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	store *ledger.GormStore
	rec   *recorder.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	log := testutil.Logger()
	return &fixture{
		db:    db,
		store: ledger.NewGormStore(db, log),
		rec:   recorder.New(db, log),
	}
}

func (f *fixture) newEngine(t *testing.T, userID string, cost int64) *billing.Engine {
	t.Helper()
	e, err := billing.NewEngine(context.Background(), f.store, f.rec, userID, cost, testutil.Logger())
	require.NoError(t, err)
	return e
}

func TestEngineUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := billing.NewEngine(context.Background(), f.store, f.rec, "missing", 10, testutil.Logger())
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

// New user with the trial active: five ticks all draw free minutes, the flag
// flips after the fifth, and no transactions are created.
func TestFreeTrialConsumption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, &model.UserLedger{UserID: "u1"})
	require.NoError(t, err)

	e := f.newEngine(t, "u1", 10)
	assert.Equal(t, billing.DrawingFree, e.Phase())

	for i := 0; i < model.FreeTrialCap; i++ {
		out, err := e.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, billing.Continue, out.Result)
	}

	l, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.FreeTrialCap, l.FreeMinutesUsed)
	assert.False(t, l.IsTrialActive)
	assert.Equal(t, int64(0), l.WalletBalance)

	txs, err := f.rec.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, txs, "free minutes never create transactions")
}

// Trial exhausted, balance 25, cost 10: two paid ticks succeed, the third
// terminates with the balance and the audit trail intact.
func TestPaidBillingUntilExhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, &model.UserLedger{UserID: "u1"})
	require.NoError(t, err)
	_, err = f.store.ConsumeFreeMinutes(ctx, "u1", model.FreeTrialCap)
	require.NoError(t, err)
	_, err = f.store.Credit(ctx, "u1", 25)
	require.NoError(t, err)

	e := f.newEngine(t, "u1", 10)
	assert.Equal(t, billing.DrawingPaid, e.Phase())

	out, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.Continue, out.Result)

	out, err = e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.Continue, out.Result)

	out, err = e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.Terminate, out.Result)
	assert.ErrorIs(t, out.Reason, ledger.ErrInsufficientFunds)
	assert.Equal(t, billing.Exhausted, e.Phase())

	l, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), l.WalletBalance)

	txs, err := f.rec.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, model.KindDebit, tx.Kind)
		assert.Equal(t, int64(10), tx.Amount)
		assert.Equal(t, billing.DebitDescription, tx.Description)
	}
}

// The tick that reaches the free cap is itself free; only the next tick
// debits the wallet.
func TestTransitionTickIsNotDoubleCharged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, &model.UserLedger{UserID: "u1"})
	require.NoError(t, err)
	_, err = f.store.ConsumeFreeMinutes(ctx, "u1", model.FreeTrialCap-1)
	require.NoError(t, err)
	_, err = f.store.Credit(ctx, "u1", 100)
	require.NoError(t, err)

	e := f.newEngine(t, "u1", 10)
	assert.Equal(t, billing.DrawingFree, e.Phase())

	// Cap-reaching tick: free, flips the phase, no debit.
	out, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.Continue, out.Result)
	assert.Equal(t, billing.DrawingPaid, e.Phase())

	l, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), l.WalletBalance)

	// Next tick is the first paid one.
	out, err = e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.Continue, out.Result)

	l, err = f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), l.WalletBalance)
}

// Credits minus debits always reconstructs the balance.
func TestTransactionsReconcileBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Create(ctx, &model.UserLedger{UserID: "u1"})
	require.NoError(t, err)
	_, err = f.store.ConsumeFreeMinutes(ctx, "u1", model.FreeTrialCap)
	require.NoError(t, err)

	_, err = f.store.Credit(ctx, "u1", 55)
	require.NoError(t, err)
	_, err = f.rec.Record(ctx, "u1", 55, model.KindCredit, "Wallet Recharge", "")
	require.NoError(t, err)

	e := f.newEngine(t, "u1", 10)
	for {
		out, err := e.Tick(ctx)
		require.NoError(t, err)
		if out.Result == billing.Terminate {
			break
		}
	}

	l, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, l.WalletBalance >= 0)

	txs, err := f.rec.ListByUser(ctx, "u1", 100)
	require.NoError(t, err)

	var net int64
	for _, tx := range txs {
		switch tx.Kind {
		case model.KindCredit:
			net += tx.Amount
		case model.KindDebit:
			net -= tx.Amount
		}
	}
	assert.Equal(t, l.WalletBalance, net)
}
