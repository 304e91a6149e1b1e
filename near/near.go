// Package near defines the in-process cache of decoded values that may sit in
// front of the shared store. Entries are a best-effort copy: anything missing
// here is read from the store.
package near

import "time"

// Cache holds decoded values by key. Implementations must be safe for
// concurrent use and must never block on I/O.
type Cache interface {
	Get(key string) (any, bool)
	// Set stores v. ttl <= 0 means the implementation's own retention.
	Set(key string, v any, ttl time.Duration)
	Del(key string)
	Clear()
	Close()
}
