// Package dispatch routes inbound messages to handlers registered by name.
//
// Handlers are registered at startup into a Registry whose lifecycle follows
// the process: Init before the first message can arrive, Shutdown at
// teardown. A Dispatcher reads the handler name from each message, looks the
// handler up and calls it synchronously.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrRegistryNotInitialized is returned by lookups before Init or after
	// Shutdown.
	ErrRegistryNotInitialized = errors.New("dispatch: handler registry not initialized")

	// ErrMissingHandlerName marks a message without a usable handler name.
	// Dispatch logs and drops such messages; the error is exposed for hooks.
	ErrMissingHandlerName = errors.New("dispatch: message has no handler name")

	// ErrHandlerNotFound marks a message naming an unregistered handler.
	ErrHandlerNotFound = errors.New("dispatch: handler not found")

	ErrDuplicateHandler = errors.New("dispatch: handler already registered")
)

// Message is the decoded payload of an inbound event.
type Message map[string]any

// HandlerNameKey is the message field naming the target handler.
const HandlerNameKey = "handlerName"

// HandlerName returns the handler name carried by m.
func (m Message) HandlerName() (string, bool) {
	s, ok := m[HandlerNameKey].(string)
	return s, ok && s != ""
}

// String returns field k when it holds a string.
func (m Message) String(k string) (string, bool) {
	s, ok := m[k].(string)
	return s, ok
}

// Handler consumes messages routed to it by name.
type Handler interface {
	OnMessage(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) OnMessage(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Registry maps handler names to handlers. Entries are added with Register
// and only dropped wholesale by Shutdown. The registry does not own the
// handlers it references.
type Registry struct {
	mu       sync.RWMutex
	ready    bool
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Init makes the registry ready for lookups. Handlers registered before Init
// are kept. Calling Init twice is a no-op.
func (r *Registry) Init() {
	r.mu.Lock()
	r.ready = true
	r.mu.Unlock()
}

// Shutdown drops every handler and fails later lookups until the next Init.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.ready = false
	r.handlers = make(map[string]Handler)
	r.mu.Unlock()
}

// Register binds name to h. Names are unique.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrMissingHandlerName)
	}
	if h == nil {
		return fmt.Errorf("dispatch: nil handler for %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateHandler, name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		return nil, false, ErrRegistryNotInitialized
	}
	h, ok := r.handlers[name]
	return h, ok, nil
}

// Names lists registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

func Init()                                 { defaultRegistry.Init() }
func Shutdown()                             { defaultRegistry.Shutdown() }
func Register(name string, h Handler) error { return defaultRegistry.Register(name, h) }
