package lockcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/lockcache/dispatch"
	lclog "github.com/unkn0wn-root/lockcache/log"
	"github.com/unkn0wn-root/lockcache/near"
	"github.com/unkn0wn-root/lockcache/registry"
)

const DefaultNearTTL = time.Minute

// Notifier publishes invalidation messages to other processes.
// *pubsub.Publisher satisfies it.
type Notifier interface {
	Publish(ctx context.Context, msg dispatch.Message) (int64, error)
}

// ManagerOptions wire a Manager. Writer and Registry are required.
type ManagerOptions struct {
	Writer   *Writer
	Registry *registry.Registry

	// Near, when set, keeps decoded values in process. Entries live at most
	// NearTTL (default 1m) and never longer than the cache TTL.
	Near    near.Cache
	NearTTL time.Duration

	// Notifier, when set, receives a local-scope invalidation after every
	// successful Put, Evict and Clear so that other processes drop their
	// near copies.
	Notifier Notifier

	Logger Logger // if nil, lclog.Nop is used
}

// Manager hands out typed Cache views over one Writer, resolving raw cache
// names through a Registry.
type Manager struct {
	w       *Writer
	reg     *registry.Registry
	near    near.Cache
	nearTTL time.Duration
	log     Logger

	notifier Notifier
	origin   string // tags published messages so this manager skips its own

	loads singleflight.Group

	mu     sync.Mutex
	epochs map[string]*atomic.Uint64 // near-cache generation per real name
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Writer == nil || opts.Registry == nil {
		return nil, fmt.Errorf("%w: writer and registry are required", ErrInvalidArgument)
	}
	return &Manager{
		w:       opts.Writer,
		reg:     opts.Registry,
		near:    opts.Near,
		nearTTL: coalesce[time.Duration](opts.NearTTL, DefaultNearTTL),
		log:     lclog.OrNop(opts.Logger),

		notifier: opts.Notifier,
		origin:   uuid.NewString(),
		epochs:   make(map[string]*atomic.Uint64),
	}, nil
}

func (m *Manager) Writer() *Writer              { return m.w }
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Cache resolves rawName ("<name>" or "<name>#<ttlSeconds>") and returns a
// view bound to that configuration. Malformed names fail with
// ErrInvalidCacheName before any store call.
func (m *Manager) Cache(rawName string) (*Cache, error) {
	cfg, err := m.reg.Resolve(rawName)
	if err != nil {
		return nil, err
	}
	return &Cache{m: m, cfg: cfg, epoch: m.epoch(cfg.Name)}, nil
}

// DropNear forgets every near entry of the named cache without touching the
// store. An empty name drops the whole near cache.
func (m *Manager) DropNear(name string) {
	if m.near == nil {
		return
	}
	if name == "" {
		m.near.Clear()
		return
	}
	m.epoch(name).Add(1)
}

// Close releases the near cache. The Writer's store factory is owned by the
// caller.
func (m *Manager) Close() {
	if m.near != nil {
		m.near.Close()
	}
}

// notify tells other processes to drop their near copies of key (or of the
// whole cache when key is empty). Failures are logged: the store is already
// updated and remote near entries expire with NearTTL.
func (m *Manager) notify(ctx context.Context, name, key string) {
	if m.notifier == nil {
		return
	}
	msg := InvalidationMessage(name, key)
	msg[FieldScope] = ScopeLocal
	msg[FieldOrigin] = m.origin
	if _, err := m.notifier.Publish(context.WithoutCancel(ctx), msg); err != nil {
		m.log.Warn("near invalidation publish failed", Fields{"cache": name, "key": key, "err": err})
	}
}

func (m *Manager) epoch(name string) *atomic.Uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.epochs[name]
	if !ok {
		e = new(atomic.Uint64)
		m.epochs[name] = e
	}
	return e
}
