package gate

import (
	"sync"
	"testing"
	"time"

	"github.com/estuary/apihost/go/apierror"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	var g = New(2)

	var waited, err = g.Acquire(time.Second)
	require.NoError(t, err)
	require.Less(t, waited, 100*time.Millisecond)
	require.Equal(t, 1, g.Len())

	g.Release()
	require.Equal(t, 0, g.Len())
}

func TestReleaseIsIdempotentWithoutDoubleFreeingCapacity(t *testing.T) {
	var g = New(1)

	var _, err = g.Acquire(time.Second)
	require.NoError(t, err)

	g.Release()
	g.Release() // Second release is a no-op, not a double-free.
	require.Equal(t, 0, g.Len())

	// Capacity is still exactly 1: we can acquire once, but a second
	// concurrent acquire blocks until a release.
	_, err = g.Acquire(time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
}

func TestAcquireTimesOutAtCapacity(t *testing.T) {
	var g = New(1)

	var _, err = g.Acquire(time.Second)
	require.NoError(t, err)

	var start = time.Now()
	_, err = g.Acquire(50 * time.Millisecond)
	require.Error(t, err)
	require.WithinDuration(t, start.Add(50*time.Millisecond), time.Now(), 40*time.Millisecond)

	var cancelled *apierror.Cancelled
	require.ErrorAs(t, err, &cancelled)
	require.Equal(t, apierror.ReasonDeadlineReached, cancelled.Reason)
}

func TestExactlyOneWaiterProceedsOnRelease(t *testing.T) {
	var g = New(1)
	var _, err = g.Acquire(time.Second)
	require.NoError(t, err)

	const waiters = 4
	var proceeded = make(chan int, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := g.Acquire(2 * time.Second); err == nil {
				proceeded <- i
			}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	g.Release() // Exactly one waiter should now acquire the freed permit.
	time.Sleep(20 * time.Millisecond)

	require.Len(t, proceeded, 1)

	// Drain the rest so the goroutines don't leak past the test.
	for i := 0; i < waiters-1; i++ {
		g.Release()
	}
	wg.Wait()
}
