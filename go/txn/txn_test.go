package txn

import (
	"errors"
	"testing"

	"github.com/estuary/apihost/go/apierror"
	"github.com/stretchr/testify/require"
)

type fakeFuture struct{ err error }

func (f fakeFuture) Get() ([]byte, error) { return nil, f.err }

func TestCommitDrainsFuturesThenIssuesRPC(t *testing.T) {
	var tr = New("app", "txn-1")
	require.NoError(t, tr.RegisterFuture(fakeFuture{}))
	require.NoError(t, tr.RegisterFuture(fakeFuture{}))

	var rpcCalled bool
	require.NoError(t, tr.Commit(func() error { rpcCalled = true; return nil }))

	require.True(t, rpcCalled)
	require.Equal(t, Committed, tr.State())
}

func TestCommitRunsPostCommitCallbacksInOrder(t *testing.T) {
	var tr = New("app", "txn-1")
	var order []int
	require.NoError(t, tr.RegisterPostCommitCallback(func() { order = append(order, 1) }))
	require.NoError(t, tr.RegisterPostCommitCallback(func() { order = append(order, 2) }))

	require.NoError(t, tr.Commit(func() error { return nil }))
	require.Equal(t, []int{1, 2}, order)
}

func TestCommitFailsFastOnFirstDrainedFutureFailure(t *testing.T) {
	var tr = New("app", "txn-1")
	var firstErr = errors.New("first failure")
	require.NoError(t, tr.RegisterFuture(fakeFuture{err: firstErr}))
	require.NoError(t, tr.RegisterFuture(fakeFuture{err: errors.New("second failure")}))

	var rpcCalled bool
	var err = tr.Commit(func() error { rpcCalled = true; return nil })

	require.Equal(t, firstErr, err)
	require.False(t, rpcCalled, "commit RPC must not be issued when a drained future failed")
	require.Equal(t, Error, tr.State())
}

func TestCommitFailureTransitionsToErrorAndWrapsCause(t *testing.T) {
	var tr = New("app", "txn-1")
	var rpcErr = errors.New("rpc down")

	var err = tr.Commit(func() error { return rpcErr })

	var commitFailed *apierror.CommitFailed
	require.ErrorAs(t, err, &commitFailed)
	require.Equal(t, rpcErr, commitFailed.Cause)
	require.Equal(t, Error, tr.State())
}

func TestCommitOutsideBegunIsIllegalState(t *testing.T) {
	var tr = New("app", "txn-1")
	require.NoError(t, tr.Commit(func() error { return nil }))

	var err = tr.Commit(func() error { return nil })
	var illegal *apierror.IllegalState
	require.ErrorAs(t, err, &illegal)
}

func TestRollbackAbsorbsDrainedFutureFailures(t *testing.T) {
	var tr = New("app", "txn-1")
	require.NoError(t, tr.RegisterFuture(fakeFuture{err: errors.New("put failed")}))

	require.NoError(t, tr.Rollback(func() error { return nil }))
	require.Equal(t, RolledBack, tr.State())
}

func TestRollbackAbsorbsRPCFailureAndReturnsNil(t *testing.T) {
	var tr = New("app", "txn-1")

	var err = tr.Rollback(func() error { return errors.New("rollback rpc down") })

	require.NoError(t, err, "Rollback must never propagate the RPC's own failure")
	require.Equal(t, Error, tr.State())
}

func TestRegisterFutureFailsOnceLeftBegun(t *testing.T) {
	var tr = New("app", "txn-1")
	require.NoError(t, tr.Commit(func() error { return nil }))

	var err = tr.RegisterFuture(fakeFuture{})
	var illegal *apierror.IllegalState
	require.ErrorAs(t, err, &illegal)
}

func TestStackResolvesInnermostCurrentTransaction(t *testing.T) {
	var s Stack
	require.Nil(t, s.Current())

	var outer, inner = New("app", "outer"), New("app", "inner")
	s.Push(outer)
	require.Equal(t, outer, s.Current())

	s.Push(inner)
	require.Equal(t, inner, s.Current())

	s.Pop()
	require.Equal(t, outer, s.Current())
}
