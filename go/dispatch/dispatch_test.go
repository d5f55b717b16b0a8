package dispatch

import (
	"testing"
	"time"

	"github.com/estuary/apihost/go/apierror"
	"github.com/estuary/apihost/go/apihost"
	"github.com/estuary/apihost/go/deadline"
	"github.com/estuary/apihost/go/env"
	"github.com/stretchr/testify/require"
)

// fakeHost is an in-memory apihost.Client for exercising the Dispatcher
// without a network, mirroring the teacher's preference for small
// hand-rolled fakes over live transports in unit tests.
type fakeHost struct {
	disabled bool
	respond  func(req apihost.Request) (*apihost.Success, *apihost.Failure)
}

func (h *fakeHost) Call(ctx apihost.CallContext, req apihost.Request, cb apihost.Callback) error {
	if h.disabled {
		cb(nil, &apihost.Failure{Status: apihost.Unavailable, Detail: "disabled"})
		return nil
	}
	var success, failure = h.respond(req)
	cb(success, failure)
	return nil
}
func (h *fakeHost) Disable() { h.disabled = true }
func (h *fakeHost) Enable()  { h.disabled = false }

func newTestEnv(t *testing.T) *env.Environment {
	t.Helper()
	return env.New(env.Config{ConcurrencyLimit: 4})
}

func TestMakeSyncCallReturnsHostResponse(t *testing.T) {
	var host = &fakeHost{respond: func(apihost.Request) (*apihost.Success, *apihost.Failure) {
		return &apihost.Success{ResponseBytes: []byte("ok"), CpuUsageMegacycles: 7}, nil
	}}
	var d = New(deadline.New(), host)
	var e = newTestEnv(t)
	e.Attributes.Set("API_DEADLINE", 2.0)

	var resp, err = d.MakeSyncCall(e, "datastore_v3", "Get", []byte("key"), CallConfig{})
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), resp)
	require.Empty(t, e.OutstandingFutures())
}

func TestMakeAsyncCallClampsDeadlineViaOracle(t *testing.T) {
	var gotDeadline time.Duration
	var host = &fakeHost{respond: func(req apihost.Request) (*apihost.Success, *apihost.Failure) {
		return &apihost.Success{ResponseBytes: []byte("ok")}, nil
	}}
	var d = New(deadline.New(), host)
	var e = newTestEnv(t)

	var before = time.Now()
	var f = d.MakeAsyncCall(e, "urlfetch", "Fetch", nil, CallConfig{DeadlineSeconds: 90, DeadlineSecondsSet: true})
	_, _ = f.Get()
	// The Future's deadline carries the oracle's clamp: 90s requested, 60s online max.
	gotDeadline = f.Deadline().Sub(before)
	require.InDelta(t, 60.0, gotDeadline.Seconds(), 1.0)
}

func TestMakeAsyncCallTranslatesApplicationError(t *testing.T) {
	var host = &fakeHost{respond: func(apihost.Request) (*apihost.Success, *apihost.Failure) {
		return nil, &apihost.Failure{Status: apihost.ApplicationError, ApplicationErrorCode: 2, Detail: "no such entity"}
	}}
	var d = New(deadline.New(), host)
	var e = newTestEnv(t)

	var _, err = d.MakeSyncCall(e, "datastore_v3", "Get", nil, CallConfig{})
	var notFound *apierror.EntityNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestMakeAsyncCallFailsFastWhenGateExhausted(t *testing.T) {
	var host = &fakeHost{respond: func(apihost.Request) (*apihost.Success, *apihost.Failure) {
		return &apihost.Success{}, nil
	}}
	var d = New(deadline.New(), host)
	var e = env.New(env.Config{ConcurrencyLimit: 1})

	var _, _, err = e.ApiRpcStarting(time.Hour) // Hold the only permit.
	require.NoError(t, err)

	var _, callErr = d.MakeSyncCall(e, "memcache", "Get", nil, CallConfig{DeadlineSeconds: 0.02, DeadlineSecondsSet: true})
	var cancelled *apierror.Cancelled
	require.ErrorAs(t, callErr, &cancelled)
	require.Equal(t, apierror.ReasonDeadlineReached, cancelled.Reason)
}

func TestMakeAsyncCallTranslatesUnavailable(t *testing.T) {
	var host = &fakeHost{disabled: true, respond: func(apihost.Request) (*apihost.Success, *apihost.Failure) {
		return &apihost.Success{}, nil
	}}
	var d = New(deadline.New(), host)
	var e = newTestEnv(t)

	var _, err = d.MakeSyncCall(e, "search", "Search", nil, CallConfig{})
	var unavailable *apierror.ServiceUnavailable
	require.ErrorAs(t, err, &unavailable)
}
