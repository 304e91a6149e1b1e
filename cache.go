package lockcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/lockcache/internal/util"
	"github.com/unkn0wn-root/lockcache/registry"
)

// Loader computes a value on a cache miss.
type Loader func(ctx context.Context) (any, error)

// Cache is a view of one named cache: entry keys are prefixed, values pass
// through the cache codec and every write uses the cache TTL.
type Cache struct {
	m     *Manager
	cfg   registry.Config
	epoch *atomic.Uint64
}

func (c *Cache) Name() string            { return c.cfg.Name }
func (c *Cache) Config() registry.Config { return c.cfg }

// Get returns the decoded value of key. A payload that fails to decode is
// treated as a miss and removed.
func (c *Cache) Get(ctx context.Context, key string) (any, bool, error) {
	sk := c.cfg.Key(key)
	if v, ok := c.nearGet(sk); ok {
		return v, true, nil
	}

	b, ok, err := c.m.w.Get(ctx, c.cfg.Name, sk)
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := c.cfg.Codec.Decode(b)
	if err != nil {
		c.m.log.Warn("dropping undecodable entry", Fields{"cache": c.cfg.Name, "key": sk, "err": err})
		if rerr := c.m.w.Remove(ctx, c.cfg.Name, sk); rerr != nil {
			c.m.log.Warn("remove of undecodable entry failed", Fields{"cache": c.cfg.Name, "key": sk, "err": rerr})
		}
		return nil, false, nil
	}
	c.nearSet(sk, v)
	return v, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, v any) error {
	b, err := c.encode(v)
	if err != nil {
		return err
	}
	sk := c.cfg.Key(key)
	if err := c.m.w.Put(ctx, c.cfg.Name, sk, b, c.cfg.TTL); err != nil {
		c.nearDel(sk)
		return err
	}
	c.nearSet(sk, v)
	c.m.notify(ctx, c.cfg.Name, key)
	return nil
}

// PutIfAbsent stores v unless key already holds a value. It returns nil when
// v was stored, otherwise the decoded value already present.
func (c *Cache) PutIfAbsent(ctx context.Context, key string, v any) (any, error) {
	b, err := c.encode(v)
	if err != nil {
		return nil, err
	}
	sk := c.cfg.Key(key)
	prev, err := c.m.w.PutIfAbsent(ctx, c.cfg.Name, sk, b, c.cfg.TTL)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		c.nearSet(sk, v)
		return nil, nil
	}
	pv, err := c.cfg.Codec.Decode(prev)
	if err != nil {
		return nil, fmt.Errorf("lockcache: decode %q: %w", sk, err)
	}
	c.nearSet(sk, pv)
	return pv, nil
}

// GetOrLoad returns the cached value of key or computes it with load.
// Concurrent callers in this process share one load; across processes the
// first PutIfAbsent wins and every caller returns the winner's value.
//
// The shared load runs detached from any single caller's cancellation: a
// caller whose ctx ends stops waiting, the others still get the value.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load Loader) (any, error) {
	if load == nil {
		return nil, fmt.Errorf("%w: nil loader", ErrInvalidArgument)
	}
	if v, ok, err := c.Get(ctx, key); err != nil || ok {
		return v, err
	}

	lctx := context.WithoutCancel(ctx)
	ch := c.m.loads.DoChan(c.cfg.Key(key), func() (any, error) {
		if v, ok, err := c.Get(lctx, key); err != nil || ok {
			return v, err
		}
		v, err := load(lctx)
		if err != nil {
			return nil, err
		}
		prev, err := c.PutIfAbsent(lctx, key, v)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			return prev, nil
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// Evict removes key. A key ending in "*" evicts every matching entry of this
// cache.
func (c *Cache) Evict(ctx context.Context, key string) error {
	sk := c.cfg.Key(key)
	err := c.m.w.Remove(ctx, c.cfg.Name, sk)
	c.dropNearKey(key)
	if err != nil {
		return err
	}
	c.m.notify(ctx, c.cfg.Name, key)
	return nil
}

// Clear removes every entry of this cache under the cache lock.
func (c *Cache) Clear(ctx context.Context) error {
	err := c.m.w.Clean(ctx, c.cfg.Name, c.cfg.Pattern())
	c.dropNear()
	if err != nil {
		return err
	}
	c.m.notify(ctx, c.cfg.Name, "")
	return nil
}

func (c *Cache) encode(v any) ([]byte, error) {
	b, err := c.cfg.Codec.Encode(v)
	if err != nil {
		return nil, &OpError{Op: "encode", Cache: c.cfg.Name, Err: errors.Join(ErrInvalidArgument, err)}
	}
	return b, nil
}

// ==============================
// Near cache
// ==============================

// Near keys carry the cache epoch so that dropping a whole cache is one
// increment; stale generations age out of the near cache on their own.
func (c *Cache) nearKey(sk string) string {
	return fmt.Sprintf("%d|%s", c.epoch.Load(), sk)
}

func (c *Cache) nearTTL() time.Duration {
	if c.cfg.TTL > 0 && c.cfg.TTL < c.m.nearTTL {
		return c.cfg.TTL
	}
	return c.m.nearTTL
}

func (c *Cache) nearGet(sk string) (any, bool) {
	if c.m.near == nil {
		return nil, false
	}
	return c.m.near.Get(c.nearKey(sk))
}

func (c *Cache) nearSet(sk string, v any) {
	if c.m.near != nil {
		c.m.near.Set(c.nearKey(sk), v, c.nearTTL())
	}
}

func (c *Cache) nearDel(sk string) {
	if c.m.near != nil {
		c.m.near.Del(c.nearKey(sk))
	}
}

// dropNearKey forgets the near copy of key; a pattern or empty key drops the
// whole cache.
func (c *Cache) dropNearKey(key string) {
	if key == "" || util.IsPattern(key) {
		c.dropNear()
		return
	}
	c.nearDel(c.cfg.Key(key))
}

func (c *Cache) dropNear() {
	if c.m.near != nil {
		c.epoch.Add(1)
	}
}
