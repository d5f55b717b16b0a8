// Package env implements Environment (§4.5): the per-request context that
// carries identity, trace state, the attribute map, the soft-deadline clock,
// the async-future registry, and the ConcurrencyGate. Its lifecycle mirrors
// the teacher's per-shard runtime.taskBase (go/runtime/task.go): created when
// the request arrives, mutated only by the owning request's threads and by
// the dispatcher, and torn down when the request completes.
package env

import (
	"sync"
	"time"

	"github.com/estuary/apihost/go/apierror"
	"github.com/estuary/apihost/go/gate"
	"github.com/estuary/apihost/go/labels"
	"github.com/estuary/apihost/go/logbatch"
	"github.com/estuary/apihost/go/publish"
	"github.com/estuary/apihost/go/trace"
)

// Identity carries the authenticated caller's identity (§3, §6).
type Identity struct {
	Email      string
	IsAdmin    bool
	AuthDomain string
	GaiaID     string
}

// AsyncFuture is the subset of apifuture.Future the registry needs; kept
// minimal here to avoid an import cycle (apifuture.DeadlineClock is in turn
// satisfied by *Environment).
type AsyncFuture interface {
	Done() <-chan struct{}
	Err() error
}

// infiniteRemaining is the sentinel RemainingMillis returns when the
// request has no soft deadline (§4.5 "returns a sentinel infinite value").
const infiniteRemaining = time.Duration(1<<63 - 1)

// Environment is the per-request context (§3). The zero value is not usable;
// construct with New.
type Environment struct {
	AppID     string
	ModuleID  string
	VersionID string

	SecurityTicket []byte
	Identity       Identity
	Trace          trace.Context
	Attributes     *labels.Attributes

	IsOffline bool

	gate  *gate.Gate
	start time.Time
	soft  time.Duration // 0 means "no soft deadline" (infinite).

	mu          sync.Mutex
	registry    map[AsyncFuture]struct{}
	threads     map[*boundThread]struct{}
	requestOver bool

	logs *logbatch.Batcher
}

// Config is the set of per-request parameters Environment needs at creation.
type Config struct {
	AppID, ModuleID, VersionID string
	SecurityTicket             []byte
	Identity                   Identity
	Trace                      trace.Context
	IsOffline                  bool
	ConcurrencyLimit           int
	SoftDeadline               time.Duration // 0 = no soft deadline.

	// LogFlusher persists this request's LogBatcher output, e.g. by issuing a
	// logservice RPC through the Dispatcher. A nil LogFlusher falls back to a
	// publish.LocalPublisher so log output is never silently dropped.
	LogFlusher logbatch.Flusher
	LogConfig  logbatch.Config
}

// New constructs an Environment for one incoming request (§3, §4.5).
func New(cfg Config) *Environment {
	var tr = cfg.Trace
	if tr.IsZero() {
		tr = trace.New()
	}
	var flusher = cfg.LogFlusher
	if flusher == nil {
		flusher = publish.NewLocalPublisher(cfg.ModuleID)
	}
	return &Environment{
		AppID:          cfg.AppID,
		ModuleID:       cfg.ModuleID,
		VersionID:      cfg.VersionID,
		SecurityTicket: cfg.SecurityTicket,
		Identity:       cfg.Identity,
		Trace:          tr,
		Attributes:     labels.NewAttributes(),
		IsOffline:      cfg.IsOffline,
		gate:           gate.New(cfg.ConcurrencyLimit),
		start:          time.Now(),
		soft:           cfg.SoftDeadline,
		registry:       make(map[AsyncFuture]struct{}),
		threads:        make(map[*boundThread]struct{}),
		logs:           logbatch.New(flusher, cfg.LogConfig),
	}
}

// LogBatcher returns the Environment's LogBatcher (§3, §4.5 "provide the
// LogBatcher").
func (e *Environment) LogBatcher() *logbatch.Batcher { return e.logs }

// Log appends a user log record through the Environment's LogBatcher, a
// convenience wrapping LogBatcher().AddRecord for the common case.
func (e *Environment) Log(level logbatch.Level, timestampMicros int64, message []byte) error {
	return e.logs.AddRecord(level, timestampMicros, message)
}

// Gate returns the Environment's ConcurrencyGate.
func (e *Environment) Gate() *gate.Gate { return e.gate }

// RemainingMillis reports the time left before the request's soft deadline,
// or infiniteRemaining if none was configured (§4.5). Satisfies
// apifuture.DeadlineClock.
func (e *Environment) RemainingMillis() time.Duration {
	if e.soft == 0 {
		return infiniteRemaining
	}
	var elapsed = time.Since(e.start)
	var remaining = e.soft - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ApiRpcStarting acquires a gate permit within deadline, returning the
// (possibly reduced) deadline the caller should use for its RPC context and
// the amount of time spent waiting (§4.5). On timeout it returns
// apierror.Cancelled{DeadlineReached}.
func (e *Environment) ApiRpcStarting(deadline time.Duration) (reduced time.Duration, waited time.Duration, err error) {
	waited, err = e.gate.Acquire(deadline)
	if err != nil {
		return 0, waited, err
	}
	reduced = deadline - waited
	if reduced < 0 {
		reduced = 0
	}
	return reduced, waited, nil
}

// ApiRpcFinished releases the gate permit acquired by a prior ApiRpcStarting.
// Pairing is enforced by the caller attaching this to the Future's completion
// listener (§4.5).
func (e *Environment) ApiRpcFinished() { e.gate.Release() }

// AddAsyncFuture registers f in the outstanding-operations registry (§3, §4.5).
func (e *Environment) AddAsyncFuture(f AsyncFuture) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[f] = struct{}{}
}

// RemoveAsyncFuture retires f from the registry; a no-op if already retired.
func (e *Environment) RemoveAsyncFuture(f AsyncFuture) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.registry, f)
}

// OutstandingFutures returns a point-in-time snapshot of the registry (§4.5,
// used by TransactionCore and shutdown draining).
func (e *Environment) OutstandingFutures() []AsyncFuture {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out = make([]AsyncFuture, 0, len(e.registry))
	for f := range e.registry {
		out = append(out, f)
	}
	return out
}

// boundThread is the bookkeeping record for a thread spawned through
// RequestThread (§4.9); BackgroundThread does not record one.
type boundThread struct {
	done chan struct{}
}

// EndRequest marks the Environment as no longer accepting new request
// threads (§4.9 "throwing if the request no longer permits new threads").
func (e *Environment) EndRequest() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestOver = true
}

// RequestThread spawns fn on a new goroutine bound to this Environment and
// its trace context, recording it in the per-request thread set at start and
// forgetting it on exit (§4.9). Returns IllegalState if the request has
// already ended.
func (e *Environment) RequestThread(fn func()) error {
	e.mu.Lock()
	if e.requestOver {
		e.mu.Unlock()
		return &apierror.IllegalState{Detail: "request has ended; no new RequestThread may be started"}
	}
	var bt = &boundThread{done: make(chan struct{})}
	e.threads[bt] = struct{}{}
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.threads, bt)
			e.mu.Unlock()
			close(bt.done)
		}()
		fn()
	}()
	return nil
}

// BackgroundThreadStarter requests a new request context from the host and
// hands fn to it. Concrete transport is injected so env stays
// transport-agnostic (§4.9's "calls the host to obtain a new request id").
type BackgroundThreadStarter interface {
	StartBackgroundRequest(deadline time.Duration) (requestID string, err error)
}

// defaultBackgroundDeadline is the default background-thread-deadline (§4.9).
const defaultBackgroundDeadline = 30 * time.Second

// BackgroundThread obtains a new request id from starter and runs fn once the
// host-side request thread appears, bounded by deadline (0 uses the default
// of 30s). On timeout it returns Cancelled{UserRequested} per §4.9's "system,
// StartBackgroundRequest" semantics, modeled here as a distinguished reason
// since the taxonomy has no dedicated "system" cancel source.
func (e *Environment) BackgroundThread(starter BackgroundThreadStarter, deadline time.Duration, fn func(requestID string)) error {
	if deadline <= 0 {
		deadline = defaultBackgroundDeadline
	}

	var resultCh = make(chan struct {
		id  string
		err error
	}, 1)
	go func() {
		var id, err = starter.StartBackgroundRequest(deadline)
		resultCh <- struct {
			id  string
			err error
		}{id, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return r.err
		}
		go fn(r.id)
		return nil
	case <-time.After(deadline):
		return apierror.NewCancelled(apierror.ReasonUserRequested)
	}
}
