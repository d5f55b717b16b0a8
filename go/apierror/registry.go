package apierror

import "sync"

// RefineFunc constructs a service-specific error for an application error
// code returned by the host, given the raw detail string it supplied.
type RefineFunc func(detail string) error

type registryKey struct {
	service string
	code    int32
}

var (
	registryMu sync.RWMutex
	registry   = make(map[registryKey]RefineFunc)
)

// RegisterApplicationCode registers a refinement constructor for a
// (service, applicationErrorCode) pair (§4.4's "mapped to per-service error
// types where the spec knows them"). Later registrations for the same pair
// overwrite earlier ones.
func RegisterApplicationCode(service string, code int32, ctor RefineFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[registryKey{service, code}] = ctor
}

// RefineApplicationError maps a host application error to its known
// per-service refinement, or to a generic ApplicationError if the core
// doesn't know the (service, code) pair.
func RefineApplicationError(service, method string, code int32, detail string) error {
	registryMu.RLock()
	ctor, ok := registry[registryKey{service, code}]
	registryMu.RUnlock()

	if ok {
		return ctor(detail)
	}
	return &ApplicationError{Service: service, Method: method, Code: code, Detail: detail}
}

func init() {
	// Known refinements from §7.
	RegisterApplicationCode("memcache", 1, func(detail string) error {
		return &InvalidValue{Detail: detail}
	})
	RegisterApplicationCode("datastore_v3", 1, func(detail string) error {
		return &ConcurrentModification{Detail: detail}
	})
	RegisterApplicationCode("datastore_v3", 2, func(detail string) error {
		return &EntityNotFound{Detail: detail}
	})
	RegisterApplicationCode("datastore_v4", 1, func(detail string) error {
		return &ConcurrentModification{Detail: detail}
	})
	RegisterApplicationCode("datastore_v4", 2, func(detail string) error {
		return &EntityNotFound{Detail: detail}
	})
}
