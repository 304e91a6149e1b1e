// Package redis implements store.Factory on top of go-redis.
package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/lockcache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
end
return 0
`)

type Factory struct {
	rdb         goredis.UniversalClient
	closeClient bool
	closed      atomic.Bool
}

var _ store.Factory = (*Factory)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this factory exclusively owns the client
}

func New(cfg Config) (*Factory, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Factory{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// Conn returns a connection handle. A *redis.Client hands out a dedicated
// pooled connection that goes back to the pool on Close. Cluster and ring
// clients route per command, so the handle shares the client.
func (f *Factory) Conn(ctx context.Context) (store.Conn, error) {
	if f.closed.Load() {
		return nil, store.ErrClosed
	}
	if c, ok := f.rdb.(*goredis.Client); ok {
		cn := c.Conn()
		if err := cn.Ping(ctx).Err(); err != nil {
			_ = cn.Close()
			return nil, err
		}
		return &conn{cmd: cn, release: cn.Close}, nil
	}
	return &conn{cmd: f.rdb, release: func() error { return nil }}, nil
}

// Close releases the underlying redis client only when this factory owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (f *Factory) Close(context.Context) error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	if f.closeClient {
		if err := f.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// commands is the subset of go-redis used by a connection. Both *redis.Conn
// and redis.UniversalClient satisfy it.
type commands interface {
	goredis.Scripter
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Exists(ctx context.Context, keys ...string) *goredis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *goredis.ScanCmd
}

type conn struct {
	cmd     commands
	release func() error
	closed  bool
}

var _ store.Conn = (*conn)(nil)

func (c *conn) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.closed {
		return nil, false, store.ErrClosed
	}
	b, err := c.cmd.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (c *conn) Set(ctx context.Context, key string, value []byte, ttl time.Duration, mode store.SetMode) (bool, error) {
	if c.closed {
		return false, store.ErrClosed
	}
	if ttl <= 0 {
		ttl = 0 // go-redis: 0 => no expiry
	}
	if mode == store.IfAbsent {
		return c.cmd.SetNX(ctx, key, value, ttl).Result()
	}
	if err := c.cmd.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (c *conn) Del(ctx context.Context, keys ...string) (int64, error) {
	if c.closed {
		return 0, store.ErrClosed
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return c.cmd.Del(ctx, keys...).Result()
}

func (c *conn) Exists(ctx context.Context, key string) (bool, error) {
	if c.closed {
		return false, store.ErrClosed
	}
	n, err := c.cmd.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *conn) Scan(ctx context.Context, match string, count int64) store.Iterator {
	if c.closed {
		return errIterator{err: store.ErrClosed}
	}
	return &iterator{it: c.cmd.Scan(ctx, 0, match, count).Iterator()}
}

func (c *conn) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	if c.closed {
		return false, store.ErrClosed
	}
	n, err := compareAndDelete.Run(ctx, c.cmd, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.release()
}

type iterator struct {
	it *goredis.ScanIterator
}

func (i *iterator) Next(ctx context.Context) bool { return i.it.Next(ctx) }
func (i *iterator) Key() string                   { return i.it.Val() }
func (i *iterator) Err() error                    { return i.it.Err() }

type errIterator struct{ err error }

func (errIterator) Next(context.Context) bool { return false }
func (errIterator) Key() string               { return "" }
func (e errIterator) Err() error              { return e.err }
