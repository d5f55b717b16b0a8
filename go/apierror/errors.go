// Package apierror implements the error taxonomy that the dispatcher core
// surfaces to user code (§7). Errors are sum-typed values rather than
// exceptions: each kind is its own Go type, and callers type-switch or use
// errors.As to recover structured detail.
package apierror

import "fmt"

// CancelReason distinguishes why an in-flight call was cancelled (§4.4, §7).
type CancelReason int

const (
	ReasonUnspecified CancelReason = iota
	ReasonDeadlineReached
	ReasonInterrupted
	ReasonUserRequested
)

func (r CancelReason) String() string {
	switch r {
	case ReasonDeadlineReached:
		return "DeadlineReached"
	case ReasonInterrupted:
		return "Interrupted"
	case ReasonUserRequested:
		return "UserRequested"
	default:
		return "Unspecified"
	}
}

// InvalidArgument reports that user-supplied input failed local validation.
type InvalidArgument struct {
	Detail string
}

func (e *InvalidArgument) Error() string { return fmt.Sprintf("invalid argument: %s", e.Detail) }

// IllegalState reports an operation attempted in a state that forbids it.
type IllegalState struct {
	Detail string
}

func (e *IllegalState) Error() string { return fmt.Sprintf("illegal state: %s", e.Detail) }

// Cancelled reports that an operation did not complete, for the given reason.
type Cancelled struct {
	Reason CancelReason
}

func (e *Cancelled) Error() string { return fmt.Sprintf("cancelled: %s", e.Reason) }

// NewCancelled constructs a Cancelled error with the given reason.
func NewCancelled(reason CancelReason) *Cancelled { return &Cancelled{Reason: reason} }

// ApiDeadlineExceeded reports that a call's effective deadline elapsed.
type ApiDeadlineExceeded struct {
	Service string
	Method  string
}

func (e *ApiDeadlineExceeded) Error() string {
	return fmt.Sprintf("%s.%s: deadline exceeded", e.Service, e.Method)
}

// ApplicationError reports a service-specific error returned by the host.
type ApplicationError struct {
	Service string
	Method  string
	Code    int32
	Detail  string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s.%s: application error %d: %s", e.Service, e.Method, e.Code, e.Detail)
}

// ServiceUnavailable reports that the transport to the host is down or disabled.
type ServiceUnavailable struct {
	Service string
	Method  string
}

func (e *ServiceUnavailable) Error() string {
	return fmt.Sprintf("%s.%s: service unavailable", e.Service, e.Method)
}

// Internal reports an unexpected host or transport failure.
type Internal struct {
	Service string
	Method  string
	Detail  string
}

func (e *Internal) Error() string {
	return fmt.Sprintf("%s.%s: internal error: %s", e.Service, e.Method, e.Detail)
}

// Service-specific refinements known by name (§7).

// EntityNotFound refines a datastore Get/Lookup failure.
type EntityNotFound struct{ Detail string }

func (e *EntityNotFound) Error() string { return fmt.Sprintf("entity not found: %s", e.Detail) }

// ConcurrentModification refines a datastore write conflict.
type ConcurrentModification struct{ Detail string }

func (e *ConcurrentModification) Error() string {
	return fmt.Sprintf("concurrent modification: %s", e.Detail)
}

// CommitFailed refines a datastore transaction commit RPC failure.
type CommitFailed struct{ Cause error }

func (e *CommitFailed) Error() string { return fmt.Sprintf("commit failed: %v", e.Cause) }
func (e *CommitFailed) Unwrap() error { return e.Cause }

// RollbackFailed refines a datastore transaction rollback RPC failure. Per
// §4.8/§6, rollback failures are absorbed (logged, never propagated) — this
// type exists so the log line carries structure, not so callers observe it.
type RollbackFailed struct{ Cause error }

func (e *RollbackFailed) Error() string { return fmt.Sprintf("rollback failed: %v", e.Cause) }
func (e *RollbackFailed) Unwrap() error { return e.Cause }

// InvalidValue refines a memcache application error.
type InvalidValue struct{ Detail string }

func (e *InvalidValue) Error() string { return fmt.Sprintf("invalid memcache value: %s", e.Detail) }

// SearchOperationCode enumerates the per-item result codes carried by search
// operation failures (§7).
type SearchOperationCode int

const (
	SearchOK SearchOperationCode = iota
	SearchInvalidRequest
	SearchTransientError
	SearchInternalError
	SearchPermissionDenied
	SearchTimeout
	SearchConcurrentTransaction
)

// SearchOperationResult is one item's result within a batched search operation.
type SearchOperationResult struct {
	Code   SearchOperationCode
	Detail string
}

// SearchOperationError wraps a search Put/Delete/Get/Search failure: a
// primary result plus the per-item results of a batched call (§7).
type SearchOperationError struct {
	Operation string // "Put", "Delete", "Get", or "Search".
	Primary   SearchOperationResult
	Items     []SearchOperationResult
}

func (e *SearchOperationError) Error() string {
	return fmt.Sprintf("search %s failed: primary code %d over %d item(s)",
		e.Operation, e.Primary.Code, len(e.Items))
}
