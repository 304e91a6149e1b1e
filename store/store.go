// Package store defines the connection abstraction used by lockcache to reach
// the shared key-value store.
//
// A Conn is a single logical connection. It is NOT safe for concurrent use:
// every lockcache operation acquires its own Conn from a Factory and closes it
// on every exit path. Values are opaque bytes and must round-trip unchanged.
package store

import (
	"context"
	"errors"
	"time"
)

// SetMode selects the write semantics of Conn.Set.
type SetMode uint8

const (
	// Upsert writes unconditionally.
	Upsert SetMode = iota
	// IfAbsent writes only when the key does not exist (SET NX).
	IfAbsent
)

func (m SetMode) String() string {
	switch m {
	case Upsert:
		return "upsert"
	case IfAbsent:
		return "if-absent"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by a Conn or Factory used after Close.
var ErrClosed = errors.New("store: closed")

// Conn is one logical connection to the store.
type Conn interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. ttl <= 0 means no expiry.
	// With IfAbsent, ok=false reports that the key already existed.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, mode SetMode) (ok bool, err error)

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Scan iterates keys matching a glob pattern without blocking the store.
	// count is a batch hint per round trip.
	Scan(ctx context.Context, match string, count int64) Iterator

	// CompareAndDelete deletes key only if its current value equals expected.
	// Must be atomic on the store side.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Iterator is a scan cursor. Keys may repeat across batches.
type Iterator interface {
	Next(ctx context.Context) bool
	Key() string
	Err() error
}

// Factory hands out connections.
type Factory interface {
	Conn(ctx context.Context) (Conn, error)
	Close(ctx context.Context) error
}
