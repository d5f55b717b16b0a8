// Package trace mints and carries the trace context that accompanies a
// Environment and its CallDescriptors (§3, §6).
package trace

import "github.com/google/uuid"

// Context identifies a request's position within a distributed trace.
// It is immutable once constructed, matching CallDescriptor's immutability (§3).
type Context struct {
	TraceID string
	SpanID  string
	Parent  string
	// Options carries sampling/propagation bits opaque to the dispatcher.
	Options uint32
}

// IsZero reports whether c carries no trace identity.
func (c Context) IsZero() bool {
	return c.TraceID == "" && c.SpanID == ""
}

// New mints a fresh root trace Context.
func New() Context {
	return Context{
		TraceID: uuid.NewString(),
		SpanID:  uuid.NewString(),
	}
}

// NewChild mints a Context for a child span of c, preserving the trace id.
func (c Context) NewChild() Context {
	if c.IsZero() {
		return New()
	}
	return Context{
		TraceID: c.TraceID,
		SpanID:  uuid.NewString(),
		Parent:  c.SpanID,
		Options: c.Options,
	}
}
