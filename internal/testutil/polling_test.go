package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoll_BecomesTrue(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	err := Poll(context.Background(), func() bool { return calls.Add(1) >= 3 }, SettleTimeout, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestPoll_Timeout(t *testing.T) {
	t.Parallel()
	err := Poll(context.Background(), func() bool { return false }, 20*time.Millisecond, time.Millisecond)
	require.ErrorContains(t, err, "not met within 20ms")
}

func TestPoll_ContextDone(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Poll(ctx, func() bool { return false }, SettleTimeout, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitFor_ReturnsAcceptedValue(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	v, err := WaitFor(context.Background(), func() int64 { return n.Add(2) }, func(v int64) bool { return v > 5 }, SettleTimeout, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(6), v)
}
