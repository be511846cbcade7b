package recorder_test

import (
	"context"
	"testing"

	"consultation-service/internal/model"
	"consultation-service/internal/recorder"
	"consultation-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndList(t *testing.T) {
	rec := recorder.New(testutil.OpenDB(t), testutil.Logger())
	ctx := context.Background()

	first, err := rec.Record(ctx, "u1", 100, model.KindCredit, "Wallet Recharge", "evt-1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = rec.Record(ctx, "u1", 10, model.KindDebit, "Chat Session", "")
	require.NoError(t, err)
	_, err = rec.Record(ctx, "u2", 50, model.KindCredit, "Wallet Recharge", "")
	require.NoError(t, err)

	txs, err := rec.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, "u1", tx.UserID)
	}
}

func TestRecordRejectsInvalid(t *testing.T) {
	rec := recorder.New(testutil.OpenDB(t), testutil.Logger())
	ctx := context.Background()

	_, err := rec.Record(ctx, "u1", 0, model.KindCredit, "x", "")
	require.Error(t, err)

	_, err = rec.Record(ctx, "u1", 10, "refund", "x", "")
	require.Error(t, err)
}

func TestHasEvent(t *testing.T) {
	rec := recorder.New(testutil.OpenDB(t), testutil.Logger())
	ctx := context.Background()

	exists, err := rec.HasEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = rec.Record(ctx, "u1", 100, model.KindCredit, "Wallet Recharge", "evt-1")
	require.NoError(t, err)

	exists, err = rec.HasEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, exists)
}
