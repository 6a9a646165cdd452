package svgm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitQueueReleaseAll(t *testing.T) {
	q := newWaitQueue()
	w1 := q.add(context.Background(), nil)
	w2 := q.add(context.Background(), nil)
	require.Equal(t, 2, q.len())

	q.releaseAll(nil)
	require.Equal(t, 0, q.len())

	select {
	case r := <-w1.reply:
		require.NoError(t, r.err)
	default:
		t.Fatal("w1 was not satisfied")
	}
	select {
	case r := <-w2.reply:
		require.NoError(t, r.err)
	default:
		t.Fatal("w2 was not satisfied")
	}
}

func TestWaitQueuePruneDropsCanceled(t *testing.T) {
	q := newWaitQueue()
	ctx, cancel := context.WithCancel(context.Background())
	q.add(ctx, nil)
	q.add(context.Background(), nil)
	cancel()

	// give the cancellation a moment to be observable via ctx.Done()
	time.Sleep(time.Millisecond)
	q.prune()
	require.Equal(t, 1, q.len())
}

func TestWaitQueueReleaseAllWithError(t *testing.T) {
	q := newWaitQueue()
	w := q.add(context.Background(), nil)
	sentinel := &Shutdown{Reason: ErrNormalShutdown}
	q.releaseAll(sentinel)

	r := <-w.reply
	require.ErrorIs(t, r.err, sentinel)
}

func TestWaitQueueReleaseMatchingSplitsOnPredicate(t *testing.T) {
	q := newWaitQueue()
	w1 := q.add(context.Background(), PartitionSetOf(0, 1))
	w2 := q.add(context.Background(), PartitionSetOf(5))
	require.Equal(t, 2, q.len())

	q.releaseMatching(func(w *waiter) bool {
		return !w.wanted.And(PartitionSetOf(0, 1, 2)).IsEmpty()
	}, nil)

	require.Equal(t, 1, q.len())
	select {
	case r := <-w1.reply:
		require.NoError(t, r.err)
	default:
		t.Fatal("w1 should have been released")
	}
	select {
	case <-w2.reply:
		t.Fatal("w2 should still be parked")
	default:
	}
}
