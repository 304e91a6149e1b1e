package lockcache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics is a point-in-time snapshot of one cache's counters.
// Advisory only: counters never influence reads or writes.
type Statistics struct {
	CacheName    string
	Puts         int64
	Gets         int64
	Hits         int64
	Misses       int64
	Deletes      int64
	LockWaitTime time.Duration
	Since        time.Time
}

// StatisticsCollector receives per-cache counters from the writer.
type StatisticsCollector interface {
	IncPuts(cacheName string)
	IncGets(cacheName string)
	IncHits(cacheName string)
	IncMisses(cacheName string)
	IncDeletes(cacheName string, n int64)
	IncLockWait(cacheName string, d time.Duration)

	Statistics(cacheName string) Statistics
	Reset(cacheName string)
}

// NopStatistics collects nothing and reports empty snapshots.
type NopStatistics struct{}

func (NopStatistics) IncPuts(string)                    {}
func (NopStatistics) IncGets(string)                    {}
func (NopStatistics) IncHits(string)                    {}
func (NopStatistics) IncMisses(string)                  {}
func (NopStatistics) IncDeletes(string, int64)          {}
func (NopStatistics) IncLockWait(string, time.Duration) {}
func (NopStatistics) Reset(string)                      {}
func (NopStatistics) Statistics(name string) Statistics { return Statistics{CacheName: name} }

type counters struct {
	puts     atomic.Int64
	gets     atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	deletes  atomic.Int64
	lockWait atomic.Int64
	since    atomic.Int64 // unix nanos
}

// MemoryStatistics keeps counters in process memory.
type MemoryStatistics struct {
	mu     sync.RWMutex
	caches map[string]*counters
	now    func() time.Time
}

var _ StatisticsCollector = (*MemoryStatistics)(nil)

func NewStatistics() *MemoryStatistics {
	return &MemoryStatistics{caches: make(map[string]*counters), now: time.Now}
}

func (m *MemoryStatistics) get(name string) *counters {
	m.mu.RLock()
	c, ok := m.caches[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.caches[name]; ok {
		return c
	}
	c = &counters{}
	c.since.Store(m.now().UnixNano())
	m.caches[name] = c
	return c
}

func (m *MemoryStatistics) IncPuts(name string)   { m.get(name).puts.Add(1) }
func (m *MemoryStatistics) IncGets(name string)   { m.get(name).gets.Add(1) }
func (m *MemoryStatistics) IncHits(name string)   { m.get(name).hits.Add(1) }
func (m *MemoryStatistics) IncMisses(name string) { m.get(name).misses.Add(1) }

func (m *MemoryStatistics) IncDeletes(name string, n int64) {
	if n > 0 {
		m.get(name).deletes.Add(n)
	}
}

func (m *MemoryStatistics) IncLockWait(name string, d time.Duration) {
	if d > 0 {
		m.get(name).lockWait.Add(int64(d))
	}
}

func (m *MemoryStatistics) Statistics(name string) Statistics {
	c := m.get(name)
	return Statistics{
		CacheName:    name,
		Puts:         c.puts.Load(),
		Gets:         c.gets.Load(),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Deletes:      c.deletes.Load(),
		LockWaitTime: time.Duration(c.lockWait.Load()),
		Since:        time.Unix(0, c.since.Load()),
	}
}

// Reset drops the counters of one cache; the next increment starts fresh.
func (m *MemoryStatistics) Reset(name string) {
	m.mu.Lock()
	delete(m.caches, name)
	m.mu.Unlock()
}
