package util

import "strings"

// Wildcard is the trailing marker that turns an entry key into a pattern.
const Wildcard = "*"

const lockSuffix = "~lock"

// LockKey returns the store key guarding a cache name.
func LockKey(cacheName string) string {
	return cacheName + lockSuffix
}

// IsLockKey reports whether key is a cache lock rather than an entry.
func IsLockKey(key string) bool {
	return strings.HasSuffix(key, lockSuffix)
}

// IsPattern reports whether key ends with the wildcard marker.
func IsPattern(key string) bool {
	return strings.HasSuffix(key, Wildcard)
}

// Chunk splits keys into consecutive batches of at most size elements.
func Chunk(keys []string, size int) [][]string {
	if size <= 0 || len(keys) <= size {
		if len(keys) == 0 {
			return nil
		}
		return [][]string{keys}
	}
	out := make([][]string, 0, (len(keys)+size-1)/size)
	for len(keys) > size {
		out = append(out, keys[:size:size])
		keys = keys[size:]
	}
	return append(out, keys)
}
