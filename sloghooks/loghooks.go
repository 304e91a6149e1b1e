// Package sloghooks reports lockcache and dispatch hook events through
// log/slog, with optional sampling for the noisy ones.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/lockcache"
	"github.com/unkn0wn-root/lockcache/dispatch"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	LockWaitedEvery uint64
	DroppedEvery    uint64
	// Optional pattern redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	lockWaitedCtr atomic.Uint64
	droppedCtr    atomic.Uint64
}

var (
	_ lockcache.Hooks = (*Hooks)(nil)
	_ dispatch.Hooks  = (*Hooks)(nil)
)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) LockWaited(cacheName string, waited time.Duration) {
	if h.l == nil || !sample(h.opts.LockWaitedEvery, &h.lockWaitedCtr) {
		return
	}
	h.l.Debug("lockcache.lock_waited",
		"cache", cacheName,
		"waited", waited)
}

func (h *Hooks) LockLost(cacheName string) {
	if h.l == nil {
		return
	}
	h.l.Warn("lockcache.lock_lost",
		"cache", cacheName,
		"msg", "lock expired while held; raise LockTTL")
}

func (h *Hooks) WildcardDeleted(cacheName, pattern string, matched int, deleted int64) {
	if h.l == nil {
		return
	}
	h.l.Info("lockcache.wildcard_deleted",
		"cache", cacheName,
		"pattern", h.redact(pattern),
		"matched", matched,
		"deleted", deleted)
}

func (h *Hooks) StoreError(op, cacheName string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("lockcache.store_error",
		"op", op,
		"cache", cacheName,
		"err", err)
}

func (h *Hooks) Dropped(handlerName string, reason error) {
	if h.l == nil || !sample(h.opts.DroppedEvery, &h.droppedCtr) {
		return
	}
	h.l.Warn("lockcache.message_dropped",
		"handler", handlerName,
		"reason", reason)
}
