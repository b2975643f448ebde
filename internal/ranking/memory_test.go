package ranking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()

	require.NoError(t, sink.Increment(ctx, 1, 3))
	require.NoError(t, sink.Increment(ctx, 2, 3))
	require.NoError(t, sink.Increment(ctx, 3, 9))
	require.ErrorIs(t, sink.Increment(ctx, 4, -1), domain.ErrItemQtyInvalid)

	top, err := sink.TopK(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 1}, top)

	top, err = sink.TopK(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, top)

	require.NoError(t, sink.Clear(ctx))
	score, err := sink.Score(ctx, 3)
	require.NoError(t, err)
	require.Zero(t, score)
}

func TestMemorySink_IncrementBatchRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()

	require.NoError(t, sink.IncrementBatch(ctx, map[int64]int64{1: 2, 2: 5}))
	require.ErrorIs(t, sink.IncrementBatch(ctx, map[int64]int64{1: 10, 2: -1}), domain.ErrItemQtyInvalid)

	score, err := sink.Score(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, score)
	score, err = sink.Score(ctx, 2)
	require.NoError(t, err)
	require.EqualValues(t, 5, score)
}

func TestMemoryDedupe(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDedupe()

	first, err := d.MarkProcessed(ctx, "a")
	require.NoError(t, err)
	require.True(t, first)

	again, err := d.MarkProcessed(ctx, "a")
	require.NoError(t, err)
	require.False(t, again)

	require.NoError(t, d.Forget(ctx, "a"))
	first, err = d.MarkProcessed(ctx, "a")
	require.NoError(t, err)
	require.True(t, first)
}
