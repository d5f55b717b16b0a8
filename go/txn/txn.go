// Package txn implements TransactionCore (§4.8): the state machine backing
// scoped storage transactions, whose commit must drain every Future
// registered under it before issuing the commit RPC. The drain-then-RPC
// shape is grounded directly on go/consumer/store.go's worker.StartCommit,
// which ranges over consumer.OpFutures before sending its own commit message;
// here the "waitFor" set is the transaction's own future registry rather
// than an externally supplied one.
package txn

import (
	"sync"

	"github.com/estuary/apihost/go/apierror"
	"github.com/sirupsen/logrus"
)

// State is a Transaction's position in its lifecycle (§3).
type State int

const (
	Begun State = iota
	CompletionInProgress
	Committed
	RolledBack
	Error
)

func (s State) String() string {
	switch s {
	case Begun:
		return "Begun"
	case CompletionInProgress:
		return "CompletionInProgress"
	case Committed:
		return "Committed"
	case RolledBack:
		return "RolledBack"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Future is the subset of apifuture.Future a Transaction needs to drain.
type Future interface {
	Get() ([]byte, error)
}

// CommitRPC issues the transaction's commit (or rollback) RPC. Its transport
// is injected so txn stays decoupled from apihost/dispatch.
type CommitRPC func() error

// Transaction is the per-scope state machine of §3/§4.8. The zero value is
// not usable; construct with New.
type Transaction struct {
	AppID string
	ID    string

	mu       sync.Mutex
	state    State
	futures  []Future
	onCommit []func()
}

// New begins a Transaction (§3: initial state Begun).
func New(appID, id string) *Transaction {
	return &Transaction{AppID: appID, ID: id, state: Begun}
}

// State returns the Transaction's current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RegisterFuture appends f to the transaction's future registry; write
// operations issued under the transaction call this for each Future they
// produce (§4.8 "Registration"). Fails with IllegalState once the
// transaction has left Begun.
func (t *Transaction) RegisterFuture(f Future) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Begun {
		return &apierror.IllegalState{Detail: "cannot register a future on a transaction that has left Begun"}
	}
	t.futures = append(t.futures, f)
	return nil
}

// RegisterPostCommitCallback appends fn to run, in registration order, only
// after a successful Commit (§4.8 step 4's "post-put and post-delete hooks").
func (t *Transaction) RegisterPostCommitCallback(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Begun {
		return &apierror.IllegalState{Detail: "cannot register a post-commit callback on a transaction that has left Begun"}
	}
	t.onCommit = append(t.onCommit, fn)
	return nil
}

// Commit drains the registered futures, issues commitRPC, and on success runs
// the post-commit callbacks in order (§4.8 steps 1-4).
func (t *Transaction) Commit(commitRPC CommitRPC) error {
	t.mu.Lock()
	if t.state != Begun {
		t.mu.Unlock()
		return &apierror.IllegalState{Detail: "Commit requires state Begun, was " + t.state.String()}
	}
	var futures = t.futures
	var callbacks = t.onCommit
	t.state = CompletionInProgress
	t.mu.Unlock()

	// Drain: await each future, collecting failures; throw the first and log
	// the rest (§4.8 step 2).
	var failures []error
	for _, f := range futures {
		if _, err := f.Get(); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		for _, err := range failures[1:] {
			logrus.WithField("err", err).Error("transaction commit: additional drained future failed")
		}
		t.setState(Error)
		return failures[0]
	}

	if err := commitRPC(); err != nil {
		t.setState(Error)
		return &apierror.CommitFailed{Cause: err}
	}

	t.setState(Committed)
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// Rollback drains the registered futures (absorbing their failures, only
// logging them) and issues rollbackRPC. Any rollback failure is absorbed:
// Rollback always returns nil once past the Begun-state check, per §4.8's
// "do not rethrow ... user code need not wrap rollbacks."
func (t *Transaction) Rollback(rollbackRPC CommitRPC) error {
	t.mu.Lock()
	if t.state != Begun {
		t.mu.Unlock()
		return &apierror.IllegalState{Detail: "Rollback requires state Begun, was " + t.state.String()}
	}
	var futures = t.futures
	t.state = CompletionInProgress
	t.mu.Unlock()

	for _, f := range futures {
		if _, err := f.Get(); err != nil {
			logrus.WithField("err", err).Warn("transaction rollback: drained future failed, absorbing")
		}
	}

	if err := rollbackRPC(); err != nil {
		logrus.WithField("err", &apierror.RollbackFailed{Cause: err}).
			Error("transaction rollback RPC failed, absorbing")
		t.setState(Error)
		return nil
	}

	t.setState(RolledBack)
	return nil
}

func (t *Transaction) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Stack is a per-thread stack of currently-open transactions, resolving the
// "current" transaction for nested scopes (§3). It is not internally
// synchronized: per §5, Transactions (and by extension their per-thread
// stack) are documented single-thread affinity.
type Stack struct {
	frames []*Transaction
}

// Push opens a new scope with t as the current transaction.
func (s *Stack) Push(t *Transaction) { s.frames = append(s.frames, t) }

// Pop closes the innermost scope. A no-op on an empty stack.
func (s *Stack) Pop() {
	if len(s.frames) == 0 {
		return
	}
	s.frames = s.frames[:len(s.frames)-1]
}

// Current returns the innermost open transaction, or nil if none is open.
func (s *Stack) Current() *Transaction {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}
