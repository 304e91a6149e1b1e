// Package bigcache implements store.Factory as a process-local store backed
// by allegro/bigcache. It suits single-node deployments and tests.
//
// BigCache has no per-entry TTL, so every value is framed with its absolute
// expiry and expired entries are dropped lazily on access. The LifeWindow
// still bounds how long any entry can live.
package bigcache

import (
	"context"
	"errors"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/lockcache/internal/wire"
	"github.com/unkn0wn-root/lockcache/store"
)

const defaultLifeWindow = 24 * time.Hour

type Config struct {
	LifeWindow         time.Duration // 0 => 24h
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int              // ~ memory limit; 0 = unlimited
	Now                func() time.Time // clock override for tests
}

// Store is a bigcache-backed store.Factory. A single mutex serializes all
// commands, which keeps SET NX and compare-and-delete atomic.
type Store struct {
	mu     sync.Mutex
	c      *bc.BigCache
	now    func() time.Time
	closed bool
}

var _ store.Factory = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = defaultLifeWindow
	}
	conf := bc.DefaultConfig(life)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{c: c, now: now}, nil
}

func (s *Store) Conn(context.Context) (store.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	return &conn{s: s}, nil
}

func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.c.Close()
}

// load returns the live payload for key, dropping it if expired.
// Caller holds s.mu.
func (s *Store) load(key string) ([]byte, bool, error) {
	raw, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	exp, payload, err := wire.DecodeExpiry(raw)
	if err != nil {
		// self-heal: not written by this store
		_ = s.c.Delete(key)
		return nil, false, nil
	}
	if exp != 0 && s.now().UnixNano() >= exp {
		_ = s.c.Delete(key)
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *Store) store(key string, value []byte, ttl time.Duration) error {
	var exp int64
	if ttl > 0 {
		exp = s.now().Add(ttl).UnixNano()
	}
	return s.c.Set(key, wire.EncodeExpiry(exp, value))
}

type conn struct {
	s      *Store
	closed bool
}

var _ store.Conn = (*conn)(nil)

// lock takes the store mutex; it fails if either the connection or the
// store has been closed.
func (c *conn) lock() error {
	if c.closed {
		return store.ErrClosed
	}
	c.s.mu.Lock()
	if c.s.closed {
		c.s.mu.Unlock()
		return store.ErrClosed
	}
	return nil
}

func (c *conn) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := c.lock(); err != nil {
		return nil, false, err
	}
	defer c.s.mu.Unlock()
	return c.s.load(key)
}

func (c *conn) Set(_ context.Context, key string, value []byte, ttl time.Duration, mode store.SetMode) (bool, error) {
	if err := c.lock(); err != nil {
		return false, err
	}
	defer c.s.mu.Unlock()
	if mode == store.IfAbsent {
		_, ok, err := c.s.load(key)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	if err := c.s.store(key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (c *conn) Del(_ context.Context, keys ...string) (int64, error) {
	if err := c.lock(); err != nil {
		return 0, err
	}
	defer c.s.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok, _ := c.s.load(k); !ok {
			continue
		}
		if err := c.s.c.Delete(k); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}

func (c *conn) Exists(_ context.Context, key string) (bool, error) {
	if err := c.lock(); err != nil {
		return false, err
	}
	defer c.s.mu.Unlock()
	_, ok, err := c.s.load(key)
	return ok, err
}

// Scan snapshots matching keys under the store mutex and then iterates the
// snapshot; count is ignored.
func (c *conn) Scan(_ context.Context, match string, _ int64) store.Iterator {
	if err := c.lock(); err != nil {
		return &iterator{err: err}
	}
	defer c.s.mu.Unlock()

	var keys []string
	now := c.s.now().UnixNano()
	it := c.s.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			// entry evicted between SetNext and Value
			continue
		}
		if !store.Match(match, e.Key()) {
			continue
		}
		exp, _, err := wire.DecodeExpiry(e.Value())
		if err != nil || (exp != 0 && now >= exp) {
			continue
		}
		keys = append(keys, e.Key())
	}
	return &iterator{keys: keys, pos: -1}
}

func (c *conn) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	if err := c.lock(); err != nil {
		return false, err
	}
	defer c.s.mu.Unlock()
	cur, ok, err := c.s.load(key)
	if err != nil || !ok {
		return false, err
	}
	if string(cur) != string(expected) {
		return false, nil
	}
	if err := c.s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return false, err
	}
	return true, nil
}

func (c *conn) Close() error {
	c.closed = true
	return nil
}

type iterator struct {
	keys []string
	pos  int
	err  error
}

func (i *iterator) Next(ctx context.Context) bool {
	if i.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		i.err = err
		return false
	}
	i.pos++
	return i.pos < len(i.keys)
}

func (i *iterator) Key() string {
	if i.pos < 0 || i.pos >= len(i.keys) {
		return ""
	}
	return i.keys[i.pos]
}

func (i *iterator) Err() error { return i.err }
