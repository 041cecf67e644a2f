package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessPoolLaunchAndPoll(t *testing.T) {
	pool := NewInProcessPool(func(ctx context.Context, d Descriptor) (Result, error) {
		return Result{Status: HandleCompleted, Reply: "done [TASK_COMPLETE]"}, nil
	})

	handle, err := pool.Launch(Descriptor{TaskID: "t1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := pool.Poll(handle)
		require.NoError(t, err)
		return res.Status != HandleRunning
	}, time.Second, time.Millisecond)

	res, err := pool.Poll(handle)
	require.NoError(t, err)
	require.NotNil(t, res.Result)
	assert.Equal(t, HandleCompleted, res.Status)
}

func TestInProcessPoolCancelIsIdempotent(t *testing.T) {
	pool := NewInProcessPool(func(ctx context.Context, d Descriptor) (Result, error) {
		<-ctx.Done()
		return Result{Status: HandleCancelled}, ctx.Err()
	})

	handle, err := pool.Launch(Descriptor{TaskID: "t1"})
	require.NoError(t, err)

	require.NoError(t, pool.Cancel(handle))
	require.NoError(t, pool.Cancel(handle))
	require.NoError(t, pool.Cancel(Handle("unknown")))
}
