package lockcache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/lockcache/dispatch"
	"github.com/unkn0wn-root/lockcache/internal/util"
)

// InvalidationHandlerName is the handler name invalidation events carry.
const InvalidationHandlerName = "cacheInvalidation"

// Invalidation message fields.
const (
	FieldCacheName = "cacheName"
	FieldKey       = "key"    // optional; absent or "*" clears the cache
	FieldScope     = "scope"  // optional; ScopeLocal skips the store
	FieldOrigin    = "origin" // optional; set by the publishing Manager
)

// ScopeLocal limits an invalidation to this process's near cache. A Manager
// with a Notifier publishes it after applying a change to the store; the
// receiving Manager ignores its own messages.
const ScopeLocal = "local"

// InvalidationHandler evicts cache entries named by inbound messages.
type InvalidationHandler struct {
	m *Manager
}

var _ dispatch.Handler = (*InvalidationHandler)(nil)

func NewInvalidationHandler(m *Manager) *InvalidationHandler {
	return &InvalidationHandler{m: m}
}

// InvalidationMessage builds the message InvalidationHandler consumes. An
// empty key clears the whole cache.
func InvalidationMessage(cacheName, key string) dispatch.Message {
	msg := dispatch.Message{
		dispatch.HandlerNameKey: InvalidationHandlerName,
		FieldCacheName:          cacheName,
	}
	if key != "" {
		msg[FieldKey] = key
	}
	return msg
}

func (h *InvalidationHandler) OnMessage(ctx context.Context, msg dispatch.Message) error {
	name, ok := msg.String(FieldCacheName)
	if !ok || name == "" {
		return fmt.Errorf("%w: invalidation without %q", ErrInvalidArgument, FieldCacheName)
	}
	key, _ := msg.String(FieldKey)
	scope, _ := msg.String(FieldScope)

	if scope == ScopeLocal {
		if origin, _ := msg.String(FieldOrigin); origin == h.m.origin {
			return nil
		}
		if name == util.Wildcard {
			h.m.DropNear("")
			return nil
		}
		c, err := h.m.Cache(name)
		if err != nil {
			return err
		}
		c.dropNearKey(key)
		return nil
	}

	c, err := h.m.Cache(name)
	if err != nil {
		return err
	}
	if key == "" || key == util.Wildcard {
		return c.Clear(ctx)
	}
	return c.Evict(ctx, key)
}
