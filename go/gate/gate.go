// Package gate implements ConcurrencyGate (§4.3): a per-request semaphore
// bounding the number of outstanding in-flight RPCs. The shape is grounded on
// the buffered-channel semaphore in go/runtime/connector_proxy.go
// (s.semaphore <- struct{}{} / <-s.semaphore), generalized to a deadline-aware
// Acquire and instrumented with prometheus counters as go/runtime/proxy.go does.
package gate

import (
	"context"
	"time"

	"github.com/estuary/apihost/go/apierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acquireTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apihost_gate_acquire_timeouts_total",
		Help: "Number of ConcurrencyGate.Acquire calls that used up their deadline awaiting a permit.",
	})
	permitsHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apihost_gate_permits_held",
		Help: "Current number of held ConcurrencyGate permits, summed across all Environments.",
	})
)

// Gate bounds the number of concurrently in-flight API calls for one request.
// The zero value is not usable; construct with New.
type Gate struct {
	slots chan struct{}
}

// New returns a Gate with the given number of permits (the configured
// concurrent-API-call limit).
func New(limit int) *Gate {
	if limit <= 0 {
		limit = 1
	}
	return &Gate{slots: make(chan struct{}, limit)}
}

// Acquire blocks up to deadline for a free permit, returning how long it
// waited (used to shrink the downstream call's deadline, per §4.5's
// apiRpcStarting). On timeout it returns apierror.Cancelled{DeadlineReached}.
func (g *Gate) Acquire(deadline time.Duration) (time.Duration, error) {
	if deadline < 0 {
		deadline = 0
	}
	var start = time.Now()

	select {
	case g.slots <- struct{}{}:
		permitsHeld.Inc()
		return time.Since(start), nil
	default:
	}

	var ctx, cancel = context.WithTimeout(context.Background(), deadline)
	defer cancel()

	select {
	case g.slots <- struct{}{}:
		permitsHeld.Inc()
		return time.Since(start), nil
	case <-ctx.Done():
		acquireTimeouts.Inc()
		return time.Since(start), apierror.NewCancelled(apierror.ReasonDeadlineReached)
	}
}

// Release returns a permit to the gate. Release is idempotent only with
// respect to a single matched Acquire; calling it without a corresponding
// held permit will incorrectly free capacity, so callers (apifuture.Future's
// completion listener) must pair exactly one Release with each successful
// Acquire (§4.4/§4.5).
func (g *Gate) Release() {
	select {
	case <-g.slots:
		permitsHeld.Dec()
	default:
		// No held permit to release; a no-op keeps Release total, matching
		// the idempotence law in §8 ("Release ... is idempotent").
	}
}

// Len reports the number of permits currently held.
func (g *Gate) Len() int { return len(g.slots) }

// Cap reports the configured permit limit.
func (g *Gate) Cap() int { return cap(g.slots) }
