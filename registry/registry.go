// Package registry resolves raw cache names into immutable cache
// configurations.
//
// A raw name is either "<name>" or "<name>#<ttlSeconds>". The suffix
// overrides the TTL of the named cache; the stripped name is the real cache
// name used for key prefixes and locks. A TTL of zero means entries never
// expire.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/lockcache/codec"
)

// ErrInvalidCacheName is returned for empty names and malformed TTL suffixes.
var ErrInvalidCacheName = errors.New("registry: invalid cache name")

// TTLSeparator splits a raw cache name from its TTL override.
const TTLSeparator = "#"

// KeyPrefix computes the store key prefix of a cache.
type KeyPrefix func(cacheName string) string

// SimplePrefix yields "<name>::".
func SimplePrefix(cacheName string) string { return cacheName + "::" }

// Prefixed namespaces SimplePrefix, yielding "<p><name>::".
func Prefixed(p string) KeyPrefix {
	return func(cacheName string) string { return p + SimplePrefix(cacheName) }
}

// Config is the resolved configuration of one cache. Treat it as a value:
// the registry never mutates a Config it handed out.
type Config struct {
	Name   string
	TTL    time.Duration // 0 => no expiry
	Prefix KeyPrefix
	Codec  codec.Codec[any]
}

// KeyPrefix returns the store key prefix shared by every entry of the cache.
func (c Config) KeyPrefix() string { return c.Prefix(c.Name) }

// Key maps an entry key onto its store key.
func (c Config) Key(entry string) string { return c.KeyPrefix() + entry }

// Pattern returns the store pattern matching every entry of the cache.
func (c Config) Pattern() string { return c.KeyPrefix() + "*" }

// Options configure a Registry. Zero values get defaults.
type Options struct {
	DefaultTTL time.Duration    // TTL of caches without a static config or override
	Prefix     KeyPrefix        // default SimplePrefix
	Codec      codec.Codec[any] // default Polymorphic over JSON

	// Initial are statically registered caches, keyed by real name. Missing
	// Prefix/Codec fields inherit the registry defaults.
	Initial map[string]Config
}

type Registry struct {
	defaultTTL time.Duration
	prefix     KeyPrefix
	codec      codec.Codec[any]

	mu       sync.RWMutex
	static   map[string]Config // by real name
	resolved map[string]Config // by raw name
}

func New(opts Options) (*Registry, error) {
	r := &Registry{
		defaultTTL: opts.DefaultTTL,
		prefix:     opts.Prefix,
		codec:      opts.Codec,
		static:     make(map[string]Config, len(opts.Initial)),
		resolved:   make(map[string]Config),
	}
	if r.defaultTTL < 0 {
		return nil, fmt.Errorf("registry: negative default ttl %s", r.defaultTTL)
	}
	if r.prefix == nil {
		r.prefix = SimplePrefix
	}
	if r.codec == nil {
		p, err := codec.NewPolymorphic(codec.NewTypeRegistry(), codec.FormatJSON)
		if err != nil {
			return nil, err
		}
		r.codec = p
	}
	for name, c := range opts.Initial {
		if err := validName(name); err != nil {
			return nil, err
		}
		c.Name = name
		r.static[name] = r.fill(c)
	}
	return r, nil
}

// Codec returns the serializer shared by caches without their own.
func (r *Registry) Codec() codec.Codec[any] { return r.codec }

// Resolve returns the configuration for raw. Results are memoized, so a
// given raw name always resolves to the same Config.
func (r *Registry) Resolve(raw string) (Config, error) {
	r.mu.RLock()
	c, ok := r.resolved[raw]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	name, ttl, override, err := Parse(raw)
	if err != nil {
		return Config{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.resolved[raw]; ok {
		return c, nil
	}
	c, ok = r.static[name]
	if !ok {
		c = r.fill(Config{Name: name, TTL: r.defaultTTL})
	}
	if override {
		c.TTL = ttl
	}
	r.resolved[raw] = c
	return c, nil
}

// Register adds or replaces a static cache. Previously resolved names of
// that cache pick up the new TTL on their next Resolve.
func (r *Registry) Register(name string, ttl time.Duration) error {
	if err := validName(name); err != nil {
		return err
	}
	if ttl < 0 {
		return fmt.Errorf("%w: negative ttl for %q", ErrInvalidCacheName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.static[name] = r.fill(Config{Name: name, TTL: ttl})
	for raw, c := range r.resolved {
		if c.Name == name {
			delete(r.resolved, raw)
		}
	}
	return nil
}

// Names lists the real names of every static or resolved cache, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(r.static)+len(r.resolved))
	for name := range r.static {
		seen[name] = struct{}{}
	}
	for _, c := range r.resolved {
		seen[c.Name] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) fill(c Config) Config {
	if c.Prefix == nil {
		c.Prefix = r.prefix
	}
	if c.Codec == nil {
		c.Codec = r.codec
	}
	return c
}

// Parse splits raw into its real name and optional TTL override. The last
// separator wins, so "a#b#30" is cache "a#b" with a 30s TTL.
func Parse(raw string) (name string, ttl time.Duration, override bool, err error) {
	i := strings.LastIndex(raw, TTLSeparator)
	if i < 0 {
		if raw == "" {
			return "", 0, false, fmt.Errorf("%w: empty", ErrInvalidCacheName)
		}
		return raw, 0, false, nil
	}

	name, suffix := raw[:i], raw[i+len(TTLSeparator):]
	if name == "" {
		return "", 0, false, fmt.Errorf("%w: %q has no name", ErrInvalidCacheName, raw)
	}
	secs, perr := strconv.ParseInt(suffix, 10, 64)
	if perr != nil || secs < 0 || secs > maxTTLSeconds {
		return "", 0, false, fmt.Errorf("%w: %q has malformed ttl suffix %q", ErrInvalidCacheName, raw, suffix)
	}
	return name, time.Duration(secs) * time.Second, true, nil
}

const maxTTLSeconds = int64(1<<63-1) / int64(time.Second)

func validName(name string) error {
	if name == "" || strings.Contains(name, TTLSeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidCacheName, name)
	}
	return nil
}
