// Package dispatch implements Dispatcher (§4.6): the public façade that
// resolves a call's deadline, gates it, issues it to the host, and hands the
// caller back an ApiFuture. It is the orchestration point tying together
// deadline, gate, apihost and apifuture, grounded on the nine-step procedure
// of go/flow/transaction.go's StartCommit and go/consumer/store.go's
// worker.StartCommit, which thread a deadline-bounded context through gate
// acquisition, RPC issuance, and future registration the same way.
package dispatch

import (
	"context"
	"time"

	"github.com/estuary/apihost/go/apierror"
	"github.com/estuary/apihost/go/apifuture"
	"github.com/estuary/apihost/go/apihost"
	"github.com/estuary/apihost/go/deadline"
	"github.com/estuary/apihost/go/env"
	"github.com/estuary/apihost/go/trace"
)

// CallDescriptor is the immutable tuple describing one call (§3).
type CallDescriptor struct {
	Service                 string
	Method                  string
	RequestBytes            []byte
	EffectiveDeadlineSeconds float64
	SecurityTicket           []byte
	Trace                    *trace.Context
}

// CallConfig carries the caller's optional per-call override of the
// user-requested deadline (§4.6's callConfig.deadline).
type CallConfig struct {
	DeadlineSeconds     float64
	DeadlineSecondsSet  bool
	WithTraceSpan       bool
}

// Dispatcher is the public façade over DeadlineOracle, ConcurrencyGate,
// ApiHostClient and ApiFuture (§4.6).
type Dispatcher struct {
	Oracle *deadline.Oracle
	Host   apihost.Client
}

// New constructs a Dispatcher over the given oracle and host client.
func New(oracle *deadline.Oracle, host apihost.Client) *Dispatcher {
	return &Dispatcher{Oracle: oracle, Host: host}
}

// MakeSyncCall resolves a deadline, issues the call asynchronously, and
// blocks for the result (§4.6).
func (d *Dispatcher) MakeSyncCall(e *env.Environment, service, method string, requestBytes []byte, cfg CallConfig) ([]byte, error) {
	var f = d.MakeAsyncCall(e, service, method, requestBytes, cfg)
	return f.Get()
}

// callContext adapts an apifuture.Future into an apihost.CallContext (§4.2,
// §4.6 step 6).
type callContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *callContext) Deadline() time.Time      { d, _ := c.ctx.Deadline(); return d }
func (c *callContext) StartCancel()             { c.cancel() }
func (c *callContext) Context() context.Context { return c.ctx }

// MakeAsyncCall implements the nine-step async dispatch procedure of §4.6.
func (d *Dispatcher) MakeAsyncCall(e *env.Environment, service, method string, requestBytes []byte, cfg CallConfig) *apifuture.Future {
	var info = apifuture.CallInfo{Service: service, Method: method}

	// Step 1: Oracle-resolve deadline using env.isOffline and callConfig.deadline.
	var userSeconds, userSet = cfg.DeadlineSeconds, cfg.DeadlineSecondsSet
	if !userSet {
		if v, ok := e.Attributes.Float64("API_DEADLINE"); ok {
			userSeconds, userSet = v, true
		}
	}
	var resolved = d.Oracle.Resolve(service, e.IsOffline, userSeconds, userSet)

	// Step 2: open a trace span if tracing is active.
	var span = e.Trace
	if cfg.WithTraceSpan {
		span = e.Trace.NewChild()
	}

	// Step 3: acquire gate permit under the resolved deadline; reduce by wait.
	var reduced, _, err = e.ApiRpcStarting(time.Duration(resolved * float64(time.Second)))
	if err != nil {
		return apifuture.NewFailed(info, err, nil)
	}

	// Step 4: if the reduced deadline is <= 0, pre-fail with Cancelled{DeadlineReached}.
	if reduced <= 0 {
		var f = apifuture.NewFailed(info, apierror.NewCancelled(apierror.ReasonDeadlineReached), e.ApiRpcFinished)
		return f
	}

	// Step 5: build the host request.
	var req = apihost.Request{
		Service:        service,
		Method:         method,
		SecurityTicket: e.SecurityTicket,
		RequestBytes:   requestBytes,
		Trace:          &span,
	}

	// Step 7: construct the Future and register it with env.
	var effectiveSeconds = reduced.Seconds()
	var f = apifuture.New(info, effectiveSeconds, e, e.ApiRpcFinished)
	e.AddAsyncFuture(f)

	// Step 6: RPC context with the deadline set, bound to the Future's own deadline.
	var ctx, cancel = f.Context(context.Background())
	var cc = &callContext{ctx: ctx, cancel: cancel}

	// Step 9: the gate permit is released by the Future's onRelease
	// (ApiRpcFinished, wired above); retire removes the Future from the
	// registry and cancels its RPC context once the host callback has run.
	var retire = func() {
		e.RemoveAsyncFuture(f)
		cancel()
	}

	// Step 8: issue the host call with a callback invoking success/failure.
	if callErr := d.Host.Call(cc, req, func(success *apihost.Success, failure *apihost.Failure) {
		defer retire()
		if failure != nil {
			f.Failure(translateFailure(service, method, failure))
			return
		}
		f.Success(success.ResponseBytes, success.CpuUsageMegacycles)
	}); callErr != nil {
		defer retire()
		f.Failure(&apierror.Internal{Service: service, Method: method, Detail: callErr.Error()})
	}

	return f
}

// translateFailure maps an apihost.Failure to the §7 taxonomy.
func translateFailure(service, method string, failure *apihost.Failure) error {
	switch failure.Status {
	case apihost.Cancelled:
		return apierror.NewCancelled(apierror.ReasonInterrupted)
	case apihost.DeadlineExceeded:
		return &apierror.ApiDeadlineExceeded{Service: service, Method: method}
	case apihost.Unavailable:
		return &apierror.ServiceUnavailable{Service: service, Method: method}
	case apihost.ApplicationError:
		return refineApplicationError(service, method, failure)
	default:
		return &apierror.Internal{Service: service, Method: method, Detail: failure.Detail}
	}
}

// refineApplicationError maps a host application error to a per-service
// refinement where the dispatcher knows one by name (§4.4, §7), falling back
// to the generic ApplicationError via the apierror registry.
func refineApplicationError(service, method string, failure *apihost.Failure) error {
	return apierror.RefineApplicationError(service, method, failure.ApplicationErrorCode, failure.Detail)
}
