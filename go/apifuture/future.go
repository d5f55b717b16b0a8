// Package apifuture implements ApiFuture (§4.4): the user-facing handle for
// one outstanding API call. It is built directly on
// go.gazette.dev/core/broker/client's AsyncOperation/OpFuture, the same
// primitive the teacher uses for every asynchronous, cancellable result
// (go/flow/transaction.go's StartCommit, go/consumer/store.go's StartCommit).
package apifuture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/estuary/apihost/go/apierror"
	"go.gazette.dev/core/broker/client"
)

// watchdogPadding is the small constant added to a call's deadline before the
// watchdog forces failure (§4.4, §9: "deliberately small ... must not inflate it").
const watchdogPadding = 500 * time.Millisecond

// cancelAttributionThreshold is how close to the soft deadline "remaining"
// must be for a Future to attribute its own cancellation to the deadline
// rather than to an explicit interrupt (§4.4).
const cancelAttributionThreshold = 50 * time.Millisecond

// DeadlineClock reports how much time remains on a request's soft deadline.
// Environment satisfies this; it is expressed as an interface here so
// apifuture never imports env (env's registry holds futures through its own
// AsyncFuture interface).
type DeadlineClock interface {
	RemainingMillis() time.Duration
}

// CallInfo identifies the call a Future represents, for error messages.
type CallInfo struct {
	Service string
	Method  string
}

// Future handles one outstanding host call (§3, §4.4).
type Future struct {
	info     CallInfo
	op       *client.AsyncOperation
	clock    DeadlineClock
	created      time.Time
	deadline     time.Time
	deadlineSecs float64

	mu       sync.Mutex
	state    state
	response []byte
	err      error

	cpuMegacycles   int64 // atomic, set once.
	wallclockMillis int64 // atomic, set once.

	watchdogOnce sync.Once
	watchdogStop chan struct{}

	onRelease func() // Invoked exactly once, at terminal transition (§4.5 pairing).
}

type state int

const (
	pending state = iota
	succeeded
	failed
)

// New constructs a Future for a call with the given effective deadline
// (seconds from now). clock is consulted only for cancellation attribution.
// onRelease is invoked exactly once when the Future reaches a terminal state,
// and is where the gate permit is released and the Future retired from the
// Environment's registry (§4.5, §4.6 step 9).
func New(info CallInfo, effectiveDeadlineSeconds float64, clock DeadlineClock, onRelease func()) *Future {
	var now = time.Now()
	var f = &Future{
		info:         info,
		op:           client.NewAsyncOperation(),
		clock:        clock,
		created:      now,
		deadline:     now.Add(time.Duration(effectiveDeadlineSeconds * float64(time.Second))),
		deadlineSecs: effectiveDeadlineSeconds,
		watchdogStop: make(chan struct{}),
		onRelease:    onRelease,
	}
	go f.watchdog()
	return f
}

// NewFailed constructs a Future that is already in its terminal failed state,
// used for the "effective deadline <= 0" and gate-timeout paths (§4.6 step 4,
// §8 "Effective deadline = 0").
func NewFailed(info CallInfo, err error, onRelease func()) *Future {
	var f = &Future{
		info:         info,
		op:           client.NewAsyncOperation(),
		watchdogStop: make(chan struct{}),
		onRelease:    onRelease,
	}
	f.transition(failed, nil, err)
	return f
}

func (f *Future) watchdog() {
	var wait = time.Until(f.deadline.Add(watchdogPadding))
	if wait < 0 {
		wait = 0
	}
	var timer = time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		f.transition(failed, nil, &apierror.ApiDeadlineExceeded{Service: f.info.Service, Method: f.info.Method})
	case <-f.watchdogStop:
	}
}

// Success transitions the Future to succeeded with the given response bytes
// and optional reported CPU megacycles. A second call is a no-op (§3 invariant).
func (f *Future) Success(response []byte, cpuMegacycles int64) {
	var wallclock = time.Since(f.created).Milliseconds()
	f.transition(succeeded, response, nil, func() {
		atomic.StoreInt64(&f.cpuMegacycles, cpuMegacycles)
		atomic.StoreInt64(&f.wallclockMillis, wallclock)
	})
}

// Failure transitions the Future to failed with err. A second call is a no-op.
func (f *Future) Failure(err error) {
	f.transition(failed, nil, err)
}

// transition performs the one terminal transition. onWin, if given, runs under
// the lock only in the call that wins it.
func (f *Future) transition(to state, response []byte, err error, onWin ...func()) {
	f.mu.Lock()
	if f.state != pending {
		f.mu.Unlock()
		return // At most one terminal transition (§3 invariant).
	}
	f.state = to
	f.response = response
	f.err = err
	for _, fn := range onWin {
		fn()
	}
	f.mu.Unlock()

	f.watchdogOnce.Do(func() { close(f.watchdogStop) })
	f.op.Resolve(err)
	if f.onRelease != nil {
		f.onRelease()
	}
}

// Get blocks until the Future completes, returning the response bytes or a
// taxonomy error from §7.
func (f *Future) Get() ([]byte, error) {
	<-f.op.Done()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.response, f.err
}

// GetTimeout blocks until completion or timeout, whichever comes first. On
// timeout it fails the Future with ApiDeadlineExceeded and returns that error
// (§4.4).
func (f *Future) GetTimeout(timeout time.Duration) ([]byte, error) {
	select {
	case <-f.op.Done():
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.response, f.err
	case <-time.After(timeout):
		var err = &apierror.ApiDeadlineExceeded{Service: f.info.Service, Method: f.info.Method}
		f.transition(failed, nil, err)
		return nil, err
	}
}

// Cancel requests cancellation of the Future. Only interrupt=true is honored
// (§4.4); interrupt=false is a no-op that returns false. Returns whether
// cancellation was accepted (i.e. this call caused the terminal transition).
func (f *Future) Cancel(interrupt bool) bool {
	if !interrupt {
		return false
	}

	var reason = apierror.ReasonInterrupted
	if f.clock != nil && f.clock.RemainingMillis() <= cancelAttributionThreshold {
		reason = apierror.ReasonDeadlineReached
	}

	f.mu.Lock()
	var already = f.state != pending
	f.mu.Unlock()
	if already {
		return false
	}

	f.transition(failed, nil, apierror.NewCancelled(reason))
	return true
}

// Done returns a channel closed when the Future reaches a terminal state.
func (f *Future) Done() <-chan struct{} { return f.op.Done() }

// Err returns the terminal error, or nil if pending or succeeded. Satisfies
// the client.OpFuture / consumer.OpFuture interface shape used throughout
// the gazette ecosystem.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// GetCpuMegacycles returns the reported CPU cost, defined only after
// completion; 0 if the host never reported one (§4.4).
func (f *Future) GetCpuMegacycles() int64 { return atomic.LoadInt64(&f.cpuMegacycles) }

// GetWallclockMillis returns the observed wallclock duration, defined only
// after completion; returns the deadline duration if the host never reported
// one (§4.4).
func (f *Future) GetWallclockMillis() int64 {
	var v = atomic.LoadInt64(&f.wallclockMillis)
	if v != 0 {
		return v
	}
	return int64(f.deadlineSecs * 1000)
}

var _ interface {
	Done() <-chan struct{}
	Err() error
} = (*Future)(nil)

// Context derives a context bounded by the Future's deadline, for callers
// that need to thread cancellation into a transport call (§4.6 step 6).
func (f *Future) Context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithDeadline(parent, f.deadline)
}

// Deadline returns the absolute time at which this Future's call is due.
func (f *Future) Deadline() time.Time { return f.deadline }
