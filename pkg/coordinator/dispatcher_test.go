package coordinator

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestDispatchParallelRunsEveryElement(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	var count atomic.Int64
	err := dispatchParallel(context.Background(), items, 2, func(ctx context.Context, i int) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(len(items)), count.Load())
}

func TestDispatchParallelReturnsFirstError(t *testing.T) {
	items := []int{1, 2, 3}
	sentinel := errors.New("boom")
	err := dispatchParallel(context.Background(), items, 0, func(ctx context.Context, i int) error {
		if i == 2 {
			return sentinel
		}
		return nil
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, sentinel))
}

func TestDispatchParallelBestEffortRunsEveryElement(t *testing.T) {
	items := []int{1, 2, 3, 4}
	var count atomic.Int64
	dispatchParallelBestEffort(context.Background(), items, 0, func(ctx context.Context, i int) {
		count.Add(1)
	})
	require.Equal(t, int64(len(items)), count.Load())
}

func TestDispatchParallelBestEffortSurvivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []int{1, 2, 3}
	var count atomic.Int64
	dispatchParallelBestEffort(ctx, items, 0, func(ctx context.Context, i int) {
		count.Add(1)
	})
	require.Equal(t, int64(len(items)), count.Load())
}
