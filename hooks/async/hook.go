// Package asynchook moves hook callbacks off the hot path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    LockWaitedEvery: 10, // sample: ~every 10th lock wait
//	})
//	hooks := asynchook.New(raw, raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	w, _ := lockcache.NewWriter(lockcache.Options{Factory: f, LockWait: 50 * time.Millisecond, Hooks: hooks})
//	d := dispatch.NewDispatcher(nil, dispatch.WithHooks(hooks))
//
// Events are dropped when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/lockcache"
	"github.com/unkn0wn-root/lockcache/dispatch"
)

type Hooks struct {
	inner   lockcache.Hooks
	dropped dispatch.Hooks

	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against try
	closed  bool
	skipped atomic.Uint64
}

var (
	_ lockcache.Hooks = (*Hooks)(nil)
	_ dispatch.Hooks  = (*Hooks)(nil)
)

// New wraps inner (writer events) and dropped (dispatch events); either may
// be nil.
func New(inner lockcache.Hooks, dropped dispatch.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = lockcache.NopHooks{}
	}
	if dropped == nil {
		dropped = dispatch.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, dropped: dropped, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Skipped counts events dropped because the queue was full or closed.
func (h *Hooks) Skipped() uint64 { return h.skipped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.skipped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.skipped.Add(1)
	}
}

func (h *Hooks) LockWaited(n string, d time.Duration) { h.try(func() { h.inner.LockWaited(n, d) }) }
func (h *Hooks) LockLost(n string)                    { h.try(func() { h.inner.LockLost(n) }) }
func (h *Hooks) StoreError(op, n string, err error)   { h.try(func() { h.inner.StoreError(op, n, err) }) }
func (h *Hooks) Dropped(n string, reason error)       { h.try(func() { h.dropped.Dropped(n, reason) }) }
func (h *Hooks) WildcardDeleted(n, p string, matched int, deleted int64) {
	h.try(func() { h.inner.WildcardDeleted(n, p, matched, deleted) })
}
