package lockcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/lockcache/internal/util"
	lclog "github.com/unkn0wn-root/lockcache/log"
	"github.com/unkn0wn-root/lockcache/store"
)

const (
	opPut         = "put"
	opGet         = "get"
	opPutIfAbsent = "putIfAbsent"
	opRemove      = "remove"
	opClean       = "clean"
)

// Writer performs byte-level cache operations against the shared store on
// behalf of named caches. Keys are full store keys (prefix included);
// values are opaque.
//
// Every call acquires its own store.Conn and releases it on every path, so a
// Writer is safe for concurrent use.
type Writer struct {
	factory     store.Factory
	lockWait    time.Duration
	lockTTL     time.Duration
	maxLockWait time.Duration
	scanCount   int64
	deleteBatch int
	workerID    string

	log   Logger
	hooks Hooks
	stats StatisticsCollector
}

func NewWriter(opts Options) (*Writer, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("%w: store factory is required", ErrInvalidArgument)
	}
	w := &Writer{
		factory:     opts.Factory,
		lockWait:    opts.LockWait,
		maxLockWait: opts.MaxLockWait,
	}
	w.lockTTL = coalesce[time.Duration](opts.LockTTL, DefaultLockTTL)
	w.scanCount = coalesce[int64](opts.ScanCount, DefaultScanCount)
	w.deleteBatch = coalesce[int](opts.DeleteBatch, DefaultDeleteBatch)
	w.workerID = coalesce[string](opts.WorkerID, defaultWorkerID())
	w.log = lclog.OrNop(opts.Logger)
	w.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	w.stats = coalesce[StatisticsCollector](opts.Statistics, NopStatistics{})
	return w, nil
}

// Locking reports whether PutIfAbsent and Clean take the cache lock.
func (w *Writer) Locking() bool { return w.lockWait > 0 }

// WithStatisticsCollector returns a copy of w reporting to c.
func (w *Writer) WithStatisticsCollector(c StatisticsCollector) *Writer {
	cp := *w
	cp.stats = coalesce[StatisticsCollector](c, NopStatistics{})
	return &cp
}

func (w *Writer) CacheStatistics(name string) Statistics { return w.stats.Statistics(name) }
func (w *Writer) ClearStatistics(name string)            { w.stats.Reset(name) }

// Put writes value unconditionally. ttl <= 0 stores without expiry.
func (w *Writer) Put(ctx context.Context, name, key string, value []byte, ttl time.Duration) error {
	if err := validate(name, key, value, true); err != nil {
		return opErr(opPut, name, err)
	}
	err := w.execute(ctx, opPut, name, func(cn store.Conn) error {
		if _, err := cn.Set(ctx, key, value, ttl, store.Upsert); err != nil {
			return unavailable(err)
		}
		w.stats.IncPuts(name)
		return nil
	})
	return opErr(opPut, name, err)
}

// Get reads key. A miss is (nil, false, nil).
func (w *Writer) Get(ctx context.Context, name, key string) ([]byte, bool, error) {
	if err := validate(name, key, nil, false); err != nil {
		return nil, false, opErr(opGet, name, err)
	}
	var (
		val []byte
		hit bool
	)
	err := w.execute(ctx, opGet, name, func(cn store.Conn) error {
		v, ok, err := cn.Get(ctx, key)
		if err != nil {
			return unavailable(err)
		}
		val, hit = v, ok
		return nil
	})
	if err != nil {
		return nil, false, opErr(opGet, name, err)
	}
	w.stats.IncGets(name)
	if hit {
		w.stats.IncHits(name)
	} else {
		w.stats.IncMisses(name)
	}
	return val, hit, nil
}

// PutIfAbsent writes value only if key is absent. It returns nil when this
// call wrote the value, otherwise the value already stored: callers must use
// a non-nil result instead of their own.
//
// With locking enabled the whole call runs under the cache lock, so
// concurrent callers populating the same cache queue up instead of racing.
// Correctness does not depend on the lock: the conditional write alone
// guarantees a single winner.
func (w *Writer) PutIfAbsent(ctx context.Context, name, key string, value []byte, ttl time.Duration) ([]byte, error) {
	if err := validate(name, key, value, true); err != nil {
		return nil, opErr(opPutIfAbsent, name, err)
	}
	var prev []byte
	err := w.execute(ctx, opPutIfAbsent, name, func(cn store.Conn) error {
		h, err := w.lock(ctx, cn, name)
		if err != nil {
			return err
		}
		defer w.unlock(ctx, cn, h)

		for {
			ok, err := cn.Set(ctx, key, value, ttl, store.IfAbsent)
			if err != nil {
				return unavailable(err)
			}
			if ok {
				w.stats.IncPuts(name)
				return nil
			}
			cur, found, err := cn.Get(ctx, key)
			if err != nil {
				return unavailable(err)
			}
			if found {
				prev = cur
				return nil
			}
			// expired or deleted between the two commands; try again
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return nil, opErr(opPutIfAbsent, name, err)
	}
	return prev, nil
}

// Remove deletes key. A key ending in "*" is a pattern and removes every
// matching key (see Clean for the consistency caveats); Remove never locks.
func (w *Writer) Remove(ctx context.Context, name, key string) error {
	if err := validate(name, key, nil, false); err != nil {
		return opErr(opRemove, name, err)
	}
	err := w.execute(ctx, opRemove, name, func(cn store.Conn) error {
		if util.IsPattern(key) {
			_, err := w.deleteMatching(ctx, cn, name, key)
			return err
		}
		n, err := cn.Del(ctx, key)
		if err != nil {
			return unavailable(err)
		}
		w.stats.IncDeletes(name, n)
		return nil
	})
	return opErr(opRemove, name, err)
}

// Clean deletes every key matching pattern. With locking enabled it holds
// the cache lock, excluding concurrent PutIfAbsent and Clean on the same
// cache name. Matching nothing is not an error.
//
// Deletion is best effort: keys are scanned first and deleted afterwards,
// so entries written mid-scan may survive.
func (w *Writer) Clean(ctx context.Context, name, pattern string) error {
	if err := validate(name, pattern, nil, false); err != nil {
		return opErr(opClean, name, err)
	}
	err := w.execute(ctx, opClean, name, func(cn store.Conn) error {
		h, err := w.lock(ctx, cn, name)
		if err != nil {
			return err
		}
		defer w.unlock(ctx, cn, h)

		_, err = w.deleteMatching(ctx, cn, name, pattern)
		return err
	})
	return opErr(opClean, name, err)
}

// execute acquires a connection, runs fn and always releases the connection.
func (w *Writer) execute(ctx context.Context, op, name string, fn func(store.Conn) error) error {
	cn, err := w.factory.Conn(ctx)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = unavailable(err)
		w.hooks.StoreError(op, name, err)
		return err
	}
	defer func() {
		if cerr := cn.Close(); cerr != nil {
			w.log.Warn("store connection close failed", Fields{"cache": name, "op": op, "err": cerr})
		}
	}()

	err = fn(cn)
	if errors.Is(err, ErrStoreUnavailable) {
		w.hooks.StoreError(op, name, err)
	}
	return err
}

func validate(name, key string, value []byte, needValue bool) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: cache name must not be empty", ErrInvalidArgument)
	case key == "":
		return fmt.Errorf("%w: key must not be empty", ErrInvalidArgument)
	case needValue && value == nil:
		return fmt.Errorf("%w: value must not be nil", ErrInvalidArgument)
	}
	return nil
}
