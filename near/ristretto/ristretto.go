// Package ristretto backs near.Cache with dgraph-io/ristretto.
package ristretto

import (
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/lockcache/near"
)

type Config struct {
	NumCounters int64
	MaxCost     int64 // every entry costs 1, so this is a max entry count
	BufferItems int64
	Metrics     bool
}

// DefaultConfig sizes the cache for roughly 100k entries.
func DefaultConfig() Config {
	return Config{NumCounters: 1_000_000, MaxCost: 100_000, BufferItems: 64}
}

type Cache struct {
	c *rc.Cache
}

var _ near.Cache = (*Cache)(nil)

func New(cfg Config) (*Cache, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (n *Cache) Get(key string) (any, bool) { return n.c.Get(key) }

// Set is asynchronous: ristretto may drop the write under contention, and a
// dropped write is simply a near miss later.
func (n *Cache) Set(key string, v any, ttl time.Duration) {
	if ttl > 0 {
		n.c.SetWithTTL(key, v, 1, ttl)
		return
	}
	n.c.Set(key, v, 1)
}

func (n *Cache) Del(key string) { n.c.Del(key) }
func (n *Cache) Clear()         { n.c.Clear() }

// Wait blocks until buffered writes are applied. Useful in tests.
func (n *Cache) Wait() { n.c.Wait() }

func (n *Cache) Close() {
	n.c.Wait()
	n.c.Close()
}

// Metrics exposes ristretto counters when Config.Metrics is set.
func (n *Cache) Metrics() *rc.Metrics { return n.c.Metrics }
