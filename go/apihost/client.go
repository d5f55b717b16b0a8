// Package apihost implements ApiHostClient (§4.2): transport-agnostic async
// RPC to the collocated service host. The interface is deliberately thin —
// per §1, the wire codecs of individual services (datastore, search, mail,
// blobstore, images, memcache, ...) are out of scope; this package only
// carries opaque request/response bytes to and from the host.
package apihost

import (
	"context"
	"time"

	"github.com/estuary/apihost/go/trace"
)

// Status classifies the outcome of a host call (§4.2).
type Status int

const (
	OK Status = iota
	Cancelled
	DeadlineExceeded
	Unavailable
	ApplicationError
	Internal
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Cancelled:
		return "CANCELLED"
	case DeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case Unavailable:
		return "UNAVAILABLE"
	case ApplicationError:
		return "APPLICATION_ERROR"
	case Internal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Request is the tuple sent to the host for one call (§6 "RPC to the host").
type Request struct {
	Service        string
	Method         string
	SecurityTicket []byte
	RequestBytes   []byte
	Trace          *trace.Context
}

// Success is the host's successful outcome.
type Success struct {
	ResponseBytes      []byte
	CpuUsageMegacycles int64 // 0 if unreported.
}

// Failure is the host's unsuccessful outcome.
type Failure struct {
	Status               Status
	ApplicationErrorCode int32 // Meaningful only when Status == ApplicationError.
	Detail               string
	Cause                error
}

func (f *Failure) Error() string { return f.Status.String() + ": " + f.Detail }

// Callback receives exactly one of (success, failure) exactly once.
type Callback func(*Success, *Failure)

// CallContext is the mutable, per-call handle passed to Client.Call: it
// carries the deadline and supports cancellation and status observation
// (§4.2).
type CallContext interface {
	// Deadline returns the time after which the call is considered overdue.
	Deadline() time.Time
	// StartCancel requests cancellation of the in-flight call.
	StartCancel()
	// Context returns a context.Context bound to this call's lifetime and deadline.
	Context() context.Context
}

// Client is the transport-agnostic façade to APIHost (§4.2).
type Client interface {
	// Call issues req asynchronously, invoking callback exactly once on
	// completion (success or failure).
	Call(ctx CallContext, req Request, callback Callback) error
	// Disable refuses new connections; in-flight calls observe Unavailable
	// only if the transport itself refuses them (§4.2, §5).
	Disable()
	// Enable resumes accepting new calls after a Disable.
	Enable()
}
