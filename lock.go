package lockcache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/lockcache/internal/util"
	"github.com/unkn0wn-root/lockcache/store"
)

// lockHandle is the proof of ownership of one cache lock. It is created by
// lock, owned by a single call and handed back to unlock; it is never shared.
type lockHandle struct {
	name  string
	key   string
	token []byte
}

func (w *Writer) newToken() []byte {
	return []byte(w.workerID + ":" + uuid.NewString())
}

// lock takes the cache lock for name, waiting while another holder owns it.
// It returns (nil, nil) when locking is disabled.
func (w *Writer) lock(ctx context.Context, cn store.Conn, name string) (*lockHandle, error) {
	if !w.Locking() {
		return nil, nil
	}
	h := &lockHandle{name: name, key: util.LockKey(name), token: w.newToken()}

	start := time.Now()
	waited := false
	defer func() {
		if waited {
			d := time.Since(start)
			w.stats.IncLockWait(name, d)
			w.hooks.LockWaited(name, d)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil, interrupted(err)
		}
		ok, err := cn.Set(ctx, h.key, h.token, w.lockTTL, store.IfAbsent)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				// the SET may have landed before the cancellation surfaced
				w.release(ctx, cn, h)
				return nil, interrupted(cerr)
			}
			return nil, unavailable(err)
		}
		if ok {
			return h, nil
		}
		waited = true
		if err := w.waitUnlocked(ctx, cn, h.key, start); err != nil {
			return nil, err
		}
	}
}

// waitUnlocked polls every lockWait until key disappears, ctx ends or
// maxLockWait (measured from start) elapses.
func (w *Writer) waitUnlocked(ctx context.Context, cn store.Conn, key string, start time.Time) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		held, err := cn.Exists(ctx, key)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return interrupted(cerr)
			}
			return unavailable(err)
		}
		if !held {
			return nil
		}

		sleep := w.lockWait
		if w.maxLockWait > 0 {
			left := w.maxLockWait - time.Since(start)
			if left <= 0 {
				return ErrLockWaitTimeout
			}
			sleep = min(sleep, left)
		}

		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			return interrupted(ctx.Err())
		case <-timer.C:
		}
	}
}

// unlock releases h if it still owns the lock. Release runs even when ctx is
// already cancelled.
func (w *Writer) unlock(ctx context.Context, cn store.Conn, h *lockHandle) {
	if h == nil {
		return
	}
	if !w.release(ctx, cn, h) {
		w.hooks.LockLost(h.name)
		w.log.Warn("cache lock expired while held", Fields{"cache": h.name, "lock_ttl": w.lockTTL})
	}
}

// release compare-and-deletes the lock key. It reports false only when the
// store answered that the token no longer matches.
func (w *Writer) release(ctx context.Context, cn store.Conn, h *lockHandle) bool {
	ok, err := cn.CompareAndDelete(context.WithoutCancel(ctx), h.key, h.token)
	if err != nil {
		w.log.Error("cache lock release failed", Fields{"cache": h.name, "err": err})
		w.hooks.StoreError("unlock", h.name, unavailable(err))
		return true
	}
	return ok
}

func interrupted(cause error) error {
	return fmt.Errorf("%w: %w", ErrLockWaitInterrupted, cause)
}
