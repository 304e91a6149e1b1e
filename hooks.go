package lockcache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the writer calls them on
// hot paths, sometimes while holding a cache lock.
type Hooks interface {
	// A caller had to wait for another holder before taking the cache lock.
	LockWaited(cacheName string, waited time.Duration)

	// Compare-and-delete found a different token (or none): the lock expired
	// while held and may now belong to someone else.
	LockLost(cacheName string)

	// A wildcard remove/clean finished. matched is the scan result size,
	// deleted what the store reported as removed.
	WildcardDeleted(cacheName, pattern string, matched int, deleted int64)

	// The store failed a command. op is the writer operation.
	StoreError(op, cacheName string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) LockWaited(string, time.Duration)           {}
func (NopHooks) LockLost(string)                            {}
func (NopHooks) WildcardDeleted(string, string, int, int64) {}
func (NopHooks) StoreError(string, string, error)           {}
