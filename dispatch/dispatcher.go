package dispatch

import (
	"context"
	"fmt"
	"sync"

	lclog "github.com/unkn0wn-root/lockcache/log"
)

// Hooks observe dropped messages. Implementations must not block.
type Hooks interface {
	Dropped(handlerName string, reason error)
}

type NopHooks struct{}

func (NopHooks) Dropped(string, error) {}

// Dispatcher forwards messages to the handler they name.
type Dispatcher struct {
	registry *Registry
	log      lclog.Logger
	hooks    Hooks

	warned sync.Map // handler name -> struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l lclog.Logger) Option { return func(d *Dispatcher) { d.log = lclog.OrNop(l) } }

func WithHooks(h Hooks) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.hooks = h
		}
	}
}

// NewDispatcher binds a dispatcher to r; a nil r means Default().
func NewDispatcher(r *Registry, opts ...Option) *Dispatcher {
	if r == nil {
		r = Default()
	}
	d := &Dispatcher{registry: r, log: lclog.Nop{}, hooks: NopHooks{}}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch routes msg to its handler and returns the handler's error.
//
// A message without a handler name, or naming an unregistered handler, is
// dropped and Dispatch returns nil: one bad event must not stall the
// channel. Unknown names are logged once per name for the process lifetime.
// A registry that is not initialized fails with ErrRegistryNotInitialized.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) error {
	name, ok := msg.HandlerName()
	if !ok {
		d.hooks.Dropped("", ErrMissingHandlerName)
		d.log.Warn("dropping message without handler name", lclog.Fields{"key": HandlerNameKey})
		return nil
	}

	h, ok, err := d.registry.Lookup(name)
	if err != nil {
		return err
	}
	if !ok {
		d.hooks.Dropped(name, ErrHandlerNotFound)
		if _, seen := d.warned.LoadOrStore(name, struct{}{}); !seen {
			d.log.Warn("no handler registered, dropping messages", lclog.Fields{"handler": name})
		}
		return nil
	}

	if err := h.OnMessage(ctx, msg); err != nil {
		return fmt.Errorf("dispatch: handler %q: %w", name, err)
	}
	return nil
}
