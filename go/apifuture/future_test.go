package apifuture

import (
	"testing"
	"time"

	"github.com/estuary/apihost/go/apierror"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ remaining time.Duration }

func (f fakeClock) RemainingMillis() time.Duration { return f.remaining }

func TestSuccessThenGetReturnsResponse(t *testing.T) {
	var released int
	var f = New(CallInfo{"datastore_v3", "Get"}, 2.0, nil, func() { released++ })

	f.Success([]byte("hello"), 42)

	var resp, err = f.Get()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), resp)
	require.Equal(t, int64(42), f.GetCpuMegacycles())
	require.Equal(t, 1, released)
}

func TestTerminalTransitionIsOneShot(t *testing.T) {
	var f = New(CallInfo{"memcache", "Get"}, 1.0, nil, nil)

	f.Success([]byte("first"), 0)
	f.Success([]byte("second"), 99) // No-op: already terminal.

	var resp, err = f.Get()
	require.NoError(t, err)
	require.Equal(t, []byte("first"), resp)
	require.Equal(t, int64(0), f.GetCpuMegacycles())
}

func TestCancelAfterTerminalIsNoOpAndReturnsFalse(t *testing.T) {
	var f = New(CallInfo{"urlfetch", "Fetch"}, 1.0, nil, nil)
	f.Success([]byte("ok"), 0)

	require.False(t, f.Cancel(true))
}

func TestCancelWithoutInterruptIsNoOp(t *testing.T) {
	var f = New(CallInfo{"urlfetch", "Fetch"}, 1.0, nil, nil)
	require.False(t, f.Cancel(false))

	select {
	case <-f.Done():
		t.Fatal("future should still be pending")
	default:
	}
}

func TestCancelAttributesToDeadlineWhenRemainingIsLow(t *testing.T) {
	var f = New(CallInfo{"search", "Search"}, 5.0, fakeClock{remaining: 10 * time.Millisecond}, nil)

	require.True(t, f.Cancel(true))

	var _, err = f.Get()
	var cancelled *apierror.Cancelled
	require.ErrorAs(t, err, &cancelled)
	require.Equal(t, apierror.ReasonDeadlineReached, cancelled.Reason)
}

func TestCancelAttributesToInterruptedWhenRemainingIsHigh(t *testing.T) {
	var f = New(CallInfo{"search", "Search"}, 5.0, fakeClock{remaining: time.Second}, nil)

	require.True(t, f.Cancel(true))

	var _, err = f.Get()
	var cancelled *apierror.Cancelled
	require.ErrorAs(t, err, &cancelled)
	require.Equal(t, apierror.ReasonInterrupted, cancelled.Reason)
}

func TestNewFailedIsPreFailed(t *testing.T) {
	var released int
	var f = NewFailed(CallInfo{"datastore_v3", "Get"}, apierror.NewCancelled(apierror.ReasonDeadlineReached), func() { released++ })

	var _, err = f.Get()
	var cancelled *apierror.Cancelled
	require.ErrorAs(t, err, &cancelled)
	require.Equal(t, 1, released)
}

func TestGetTimeoutFailsWithDeadlineExceeded(t *testing.T) {
	var f = New(CallInfo{"mail", "Send"}, 10.0, nil, nil)

	var _, err = f.GetTimeout(20 * time.Millisecond)
	var deadlineErr *apierror.ApiDeadlineExceeded
	require.ErrorAs(t, err, &deadlineErr)
}

func TestWatchdogFiresAtDeadlinePlusPadding(t *testing.T) {
	// Use a deadline small enough that the watchdog fires quickly but the
	// test still observes a pending state immediately after construction.
	var f = New(CallInfo{"images", "Transform"}, 0.01, nil, nil)

	select {
	case <-f.Done():
		t.Fatal("future resolved before watchdog should have fired")
	default:
	}

	<-f.Done()
	var _, err = f.Get()
	var deadlineErr *apierror.ApiDeadlineExceeded
	require.ErrorAs(t, err, &deadlineErr)
}

func TestWatchdogIsNoOpIfAlreadyComplete(t *testing.T) {
	var f = New(CallInfo{"images", "Transform"}, 0.01, nil, nil)
	f.Success([]byte("done"), 1)

	time.Sleep(600 * time.Millisecond) // Past deadline + padding.

	var resp, err = f.Get()
	require.NoError(t, err)
	require.Equal(t, []byte("done"), resp)
}

func TestGetWallclockMillisDefaultsToDeadlineWhenUnreported(t *testing.T) {
	var f = New(CallInfo{"mail", "Send"}, 3.0, nil, nil)
	f.Failure(apierror.NewCancelled(apierror.ReasonUserRequested))

	require.Equal(t, int64(3000), f.GetWallclockMillis())
}
