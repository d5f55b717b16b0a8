// Package deadline implements DeadlineOracle (§4.1): the mapping from
// (service, request class, user-requested seconds) to an effective deadline,
// clamped by per-service maxima. Lookups are lock-free reads over an
// atomically-swapped table; overrides take an internal lock, matching §5's
// "DeadlineOracle additions take an internal lock; reads do not" and grounded
// on the atomic.Pointer swap-on-write pattern in go/runtime/task.go's
// taskBase.container field.
package deadline

import (
	"sync"
	"sync/atomic"
)

// Class is the request class that affects default/max deadlines (§2, GLOSSARY).
type Class int

const (
	Online Class = iota
	Offline
)

// Thresholds is the (default, max) deadline pair for one service and class.
type Thresholds struct {
	DefaultSeconds float64
	MaxSeconds     float64
}

// fallthroughDefault and fallthroughMax apply when a service has no entry
// at all, and its class-specific default/max is likewise missing (§4.1, §6
// "others: default 5, max 10").
const (
	fallthroughDefault = 5.0
	fallthroughMax     = 10.0
)

type table map[string]Thresholds

// Oracle resolves effective per-call deadlines. The zero value is not usable;
// construct with New.
type Oracle struct {
	mu     sync.Mutex
	tables atomic.Pointer[[2]table] // index by Class.
}

// New returns an Oracle preloaded with the baseline tables of §6.
func New() *Oracle {
	var o = &Oracle{}
	var tables = [2]table{
		Online:  cloneTable(baselineOnline),
		Offline: cloneTable(baselineOffline),
	}
	o.tables.Store(&tables)
	return o
}

// Resolve maps (service, isOffline, userSeconds) to an effective deadline in
// seconds (§4.1). userProvided=false marks userSeconds as absent, in which
// case the service's default (or the fallthrough default) is used and
// userSeconds is ignored. A provided value is used as given, even if negative;
// the result is clamped to the service max and then to 0 in either branch.
func (o *Oracle) Resolve(service string, isOffline bool, userSeconds float64, userProvided bool) float64 {
	var class = Online
	if isOffline {
		class = Offline
	}

	var tables = *o.tables.Load()
	var th, ok = tables[class][service]

	var result float64
	if userProvided {
		result = userSeconds
	} else if ok && th.DefaultSeconds > 0 {
		result = th.DefaultSeconds
	} else {
		result = fallthroughDefault
	}

	var max = fallthroughMax
	if ok && th.MaxSeconds > 0 {
		max = th.MaxSeconds
	}
	if result > max {
		result = max
	}
	if result < 0 {
		result = 0
	}
	return result
}

// Override replaces the (default, max) thresholds for (service, class),
// overwriting any prior value (§4.1: "additions overwrite prior values").
// Override takes an internal lock; concurrent Resolve calls never block on it.
func (o *Oracle) Override(service string, class Class, cfg Thresholds) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var prev = *o.tables.Load()
	var next = [2]table{cloneTable(prev[Online]), cloneTable(prev[Offline])}
	next[class][service] = cfg
	o.tables.Store(&next)
}

func cloneTable(src table) table {
	var dst = make(table, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// baselineOnline and baselineOffline encode the default deadline tables of §6.
var baselineOnline = table{
	"datastore_v3": {DefaultSeconds: 60, MaxSeconds: 270},
	"datastore_v4": {DefaultSeconds: 60, MaxSeconds: 270},
	"urlfetch":     {DefaultSeconds: 5, MaxSeconds: 60},
	"taskqueue":    {DefaultSeconds: 5, MaxSeconds: 30},
	"blobstore":    {DefaultSeconds: 15, MaxSeconds: 30},
	"search":       {DefaultSeconds: 10, MaxSeconds: 60},
	"mail":         {DefaultSeconds: 30, MaxSeconds: 60},
	"images":       {DefaultSeconds: 30, MaxSeconds: 30},
	"memcache":     {DefaultSeconds: 5, MaxSeconds: 60},
	"modules":            {DefaultSeconds: fallthroughDefault, MaxSeconds: fallthroughMax},
	"logservice":         {DefaultSeconds: fallthroughDefault, MaxSeconds: fallthroughMax},
	"stubby":             {DefaultSeconds: fallthroughDefault, MaxSeconds: fallthroughMax},
	"file":               {DefaultSeconds: fallthroughDefault, MaxSeconds: fallthroughMax},
	"rdbms":              {DefaultSeconds: fallthroughDefault, MaxSeconds: fallthroughMax},
	"remote_socket":      {DefaultSeconds: fallthroughDefault, MaxSeconds: fallthroughMax},
	"app_config_service": {DefaultSeconds: fallthroughDefault, MaxSeconds: fallthroughMax},
}

// baselineOffline mirrors baselineOnline except rdbms/stubby/urlfetch raise
// their maxima to 600s (§6 "Offline variants").
var baselineOffline = func() table {
	var t = cloneTable(baselineOnline)
	for _, svc := range []string{"rdbms", "stubby", "urlfetch"} {
		var th = t[svc]
		th.MaxSeconds = 600
		t[svc] = th
	}
	return t
}()
