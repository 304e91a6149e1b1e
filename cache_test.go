package lockcache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/unkn0wn-root/lockcache/codec"
	nearr "github.com/unkn0wn-root/lockcache/near/ristretto"
	"github.com/unkn0wn-root/lockcache/registry"
)

type address struct {
	City string `json:"city"`
	Zip  string `json:"zip"`
}

type customer struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Address *address `json:"address"`
	Tags    []string `json:"tags"`
}

type order struct {
	ID    int64   `json:"id"`
	Total float64 `json:"total"`
}

type testEnv struct {
	m    *Manager
	mr   *miniredis.Miniredis
	near *nearr.Cache
}

func newTestManager(t *testing.T, withNear bool) testEnv {
	t.Helper()
	return newManagerOn(t, miniredis.RunT(t), withNear, nil)
}

func newManagerOn(t *testing.T, mr *miniredis.Miniredis, withNear bool, n Notifier) testEnv {
	t.Helper()
	w := newRedisWriterOn(t, mr, nil)

	types := codec.NewTypeRegistry()
	codec.MustRegister[customer](types, "customer")
	codec.MustRegister[order](types, "order")
	poly, err := codec.NewPolymorphic(types, codec.FormatJSON)
	if err != nil {
		t.Fatalf("NewPolymorphic: %v", err)
	}
	reg, err := registry.New(registry.Options{
		DefaultTTL: time.Hour,
		Codec:      poly,
		Initial:    map[string]registry.Config{"captcha": {TTL: 2 * time.Minute}},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	env := testEnv{mr: mr}
	opts := ManagerOptions{Writer: w, Registry: reg, Notifier: n}
	if withNear {
		env.near, err = nearr.New(nearr.Config{NumCounters: 1000, MaxCost: 100, BufferItems: 64})
		if err != nil {
			t.Fatalf("near: %v", err)
		}
		opts.Near = env.near
	}
	env.m, err = NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(env.m.Close)
	return env
}

func mustCache(t *testing.T, m *Manager, raw string) *Cache {
	t.Helper()
	c, err := m.Cache(raw)
	if err != nil {
		t.Fatalf("Cache(%q): %v", raw, err)
	}
	return c
}

func TestNewManagerRequiresParts(t *testing.T) {
	if _, err := NewManager(ManagerOptions{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}

func TestCachePolymorphicRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, false)
	c := mustCache(t, env.m, "mixed")

	values := map[string]any{
		"c1": customer{ID: "1", Name: "Ada", Address: &address{City: "London", Zip: "N1"}, Tags: []string{"vip"}},
		"c2": &customer{ID: "2", Name: "Bob"},
		"o1": order{ID: 7, Total: 19.5},
		"s":  "plain",
		"n":  int64(42),
	}
	for k, v := range values {
		if err := c.Put(ctx, k, v); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}
	for k, want := range values {
		got, ok, err := c.Get(ctx, k)
		if err != nil || !ok {
			t.Fatalf("Get(%s): ok=%v err=%v", k, ok, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Get(%s) = %#v, want %#v", k, got, want)
		}
	}
	if !env.mr.Exists("mixed::c1") {
		t.Fatal("entries must use the <name>:: prefix")
	}

	type unknown struct{ X int }
	if err := c.Put(ctx, "u", unknown{1}); !errors.Is(err, codec.ErrUnregisteredType) {
		t.Fatalf("unregistered type err = %v", err)
	}
}

func TestCacheTTLFromName(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, false)

	c := mustCache(t, env.m, "orders#120")
	if c.Name() != "orders" || c.Config().TTL != 120*time.Second {
		t.Fatalf("resolved %q ttl=%s", c.Name(), c.Config().TTL)
	}
	_ = c.Put(ctx, "1", order{ID: 1})
	if ttl := env.mr.TTL("orders::1"); ttl != 120*time.Second {
		t.Fatalf("store ttl = %s", ttl)
	}
	env.mr.FastForward(121 * time.Second)
	if _, ok, _ := c.Get(ctx, "1"); ok {
		t.Fatal("entry must expire with the cache ttl")
	}

	if ttl := mustCache(t, env.m, "captcha").Config().TTL; ttl != 2*time.Minute {
		t.Fatalf("static ttl = %s", ttl)
	}
	if _, err := env.m.Cache("orders#abc"); !errors.Is(err, ErrInvalidCacheName) {
		t.Fatalf("malformed name err = %v", err)
	}
}

func TestCachePutIfAbsentDecodesWinner(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, false)
	c := mustCache(t, env.m, "orders")

	prev, err := c.PutIfAbsent(ctx, "1", order{ID: 1, Total: 10})
	if err != nil || prev != nil {
		t.Fatalf("first: prev=%v err=%v", prev, err)
	}
	prev, err = c.PutIfAbsent(ctx, "1", order{ID: 1, Total: 99})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if got, ok := prev.(order); !ok || got.Total != 10 {
		t.Fatalf("second returned %#v", prev)
	}
}

func TestCacheGetOrLoad(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, false)
	c := mustCache(t, env.m, "orders")

	var calls atomic.Int64
	release := make(chan struct{})
	load := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return order{ID: 5, Total: 1.25}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(ctx, "5", load)
			if err != nil {
				t.Errorf("GetOrLoad: %v", err)
			}
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("loader calls = %d, want 1", calls.Load())
	}
	for i, v := range results {
		if got, ok := v.(order); !ok || got.ID != 5 {
			t.Fatalf("result %d = %#v", i, v)
		}
	}

	// a stored value short-circuits the loader
	v, err := c.GetOrLoad(ctx, "5", func(context.Context) (any, error) {
		t.Fatal("loader called on hit")
		return nil, nil
	})
	if err != nil || v.(order).ID != 5 {
		t.Fatalf("hit: %v %v", v, err)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad(ctx, "6", func(context.Context) (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("loader error = %v", err)
	}
	if _, err := c.GetOrLoad(ctx, "7", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("nil loader err = %v", err)
	}
}

func TestCacheGetOrLoadSharedLoadOutlivesCaller(t *testing.T) {
	env := newTestManager(t, false)
	c := mustCache(t, env.m, "orders")

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	load := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return order{ID: 9, Total: 2}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(firstCtx, "9", load)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   any
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), "9", load)
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond) // second caller joins the running load

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v", err)
	}

	close(release)
	r := <-second
	if r.err != nil {
		t.Fatalf("live caller failed: %v", r.err)
	}
	if got, ok := r.v.(order); !ok || got.ID != 9 {
		t.Fatalf("live caller got %#v", r.v)
	}
	if calls.Load() != 1 {
		t.Fatalf("loader calls = %d, want 1", calls.Load())
	}
	if !env.mr.Exists("orders::9") {
		t.Fatal("loaded value must be stored")
	}
}

func TestCacheEvictAndClear(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, false)
	orders := mustCache(t, env.m, "orders")
	users := mustCache(t, env.m, "users")

	for _, k := range []string{"1", "10", "2"} {
		_ = orders.Put(ctx, k, "x")
	}
	_ = users.Put(ctx, "1", "u")

	if err := orders.Evict(ctx, "2"); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if err := orders.Evict(ctx, "1*"); err != nil {
		t.Fatalf("Evict pattern: %v", err)
	}
	for _, k := range []string{"1", "10", "2"} {
		if _, ok, _ := orders.Get(ctx, k); ok {
			t.Fatalf("orders %s survived", k)
		}
	}

	_ = orders.Put(ctx, "3", "y")
	if err := orders.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := orders.Get(ctx, "3"); ok {
		t.Fatal("Clear left entries")
	}
	if _, ok, _ := users.Get(ctx, "1"); !ok {
		t.Fatal("Clear touched another cache")
	}
}

func TestCacheUndecodableEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, false)
	c := mustCache(t, env.m, "orders")

	_ = env.mr.Set("orders::bad", "not a frame")
	if _, ok, err := c.Get(ctx, "bad"); err != nil || ok {
		t.Fatalf("Get corrupt: ok=%v err=%v", ok, err)
	}
	if env.mr.Exists("orders::bad") {
		t.Fatal("corrupt entry must be removed")
	}
}

func TestNearCache(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, true)
	c := mustCache(t, env.m, "orders")

	_ = c.Put(ctx, "1", order{ID: 1})
	env.near.Wait()

	// served from near even when the store entry is gone
	env.mr.Del("orders::1")
	if v, ok, _ := c.Get(ctx, "1"); !ok || v.(order).ID != 1 {
		t.Fatalf("near Get = %v %v", v, ok)
	}

	// Evict drops the near copy
	_ = c.Evict(ctx, "1")
	if _, ok, _ := c.Get(ctx, "1"); ok {
		t.Fatal("near entry survived Evict")
	}

	// Clear drops every near copy of the cache via its epoch
	_ = c.Put(ctx, "2", order{ID: 2})
	env.near.Wait()
	env.mr.Del("orders::2")
	_ = c.Clear(ctx)
	if _, ok, _ := c.Get(ctx, "2"); ok {
		t.Fatal("near entry survived Clear")
	}

	// views of the same cache share the epoch
	_ = c.Put(ctx, "3", order{ID: 3})
	env.near.Wait()
	env.mr.Del("orders::3")
	env.m.DropNear("orders")
	if _, ok, _ := mustCache(t, env.m, "orders#60").Get(ctx, "3"); ok {
		t.Fatal("DropNear must affect every view of the cache")
	}
}
