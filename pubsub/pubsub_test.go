package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/lockcache/codec"
	"github.com/unkn0wn-root/lockcache/dispatch"
	lclog "github.com/unkn0wn-root/lockcache/log"
)

type countLogger struct {
	mu     sync.Mutex
	errors int
	warns  int
}

func (l *countLogger) Debug(string, lclog.Fields) {}
func (l *countLogger) Info(string, lclog.Fields)  {}
func (l *countLogger) Warn(string, lclog.Fields)  { l.mu.Lock(); l.warns++; l.mu.Unlock() }
func (l *countLogger) Error(string, lclog.Fields) { l.mu.Lock(); l.errors++; l.mu.Unlock() }

func newClient(t *testing.T) goredis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestPublishSubscribeDispatches(t *testing.T) {
	rdb := newClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := dispatch.NewRegistry()
	reg.Init()
	got := make(chan dispatch.Message, 4)
	_ = reg.Register("record", dispatch.HandlerFunc(func(_ context.Context, m dispatch.Message) error {
		got <- m
		return nil
	}))
	_ = reg.Register("fail", dispatch.HandlerFunc(func(context.Context, dispatch.Message) error {
		return errors.New("boom")
	}))

	log := &countLogger{}
	sub, err := NewSubscriber(rdb, "events", dispatch.NewDispatcher(reg), log)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- sub.Serve(ctx) }()

	pub, err := NewPublisher(rdb, "events")
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if _, err := rdb.Publish(ctx, "events", "{not json").Result(); err != nil {
		t.Fatalf("raw publish: %v", err)
	}
	if _, err := pub.Publish(ctx, dispatch.Message{dispatch.HandlerNameKey: "fail"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := pub.Publish(ctx, dispatch.Message{dispatch.HandlerNameKey: "record", "cacheName": "orders"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case m := <-got:
		if m["cacheName"] != "orders" {
			t.Fatalf("message = %v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}

	// the loop survived the bad payload and the failing handler
	log.mu.Lock()
	warns, errs := log.warns, log.errors
	log.mu.Unlock()
	if warns != 1 || errs != 1 {
		t.Fatalf("warns=%d errors=%d", warns, errs)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
}

func TestConstructors(t *testing.T) {
	if _, err := NewPublisher(nil, ""); !errors.Is(err, ErrNilClient) {
		t.Fatalf("NewPublisher err = %v", err)
	}
	if _, err := NewSubscriber(nil, "", nil, nil); !errors.Is(err, ErrNilClient) {
		t.Fatalf("NewSubscriber err = %v", err)
	}

	rdb := newClient(t)
	p, _ := NewPublisher(rdb, "")
	if p.channel != DefaultChannel {
		t.Fatalf("channel = %q", p.channel)
	}
	s, _ := NewSubscriber(rdb, "", nil, nil)
	if err := s.Serve(context.Background()); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("Serve before Start err = %v", err)
	}
}

func TestMessageCodecs(t *testing.T) {
	for _, f := range []codec.Format{codec.FormatJSON, codec.FormatCBOR, codec.FormatMsgpack} {
		t.Run(f.String(), func(t *testing.T) {
			rdb := newClient(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			mc, err := CodecFor(f)
			if err != nil {
				t.Fatalf("CodecFor: %v", err)
			}
			reg := dispatch.NewRegistry()
			reg.Init()
			got := make(chan dispatch.Message, 1)
			_ = reg.Register("record", dispatch.HandlerFunc(func(_ context.Context, m dispatch.Message) error {
				got <- m
				return nil
			}))

			sub, _ := NewSubscriber(rdb, "", dispatch.NewDispatcher(reg), nil, WithCodec(mc))
			if err := sub.Start(ctx); err != nil {
				t.Fatalf("Start: %v", err)
			}
			go func() { _ = sub.Serve(ctx) }()

			pub, _ := NewPublisher(rdb, "", WithCodec(mc))
			msg := dispatch.Message{dispatch.HandlerNameKey: "record", "cacheName": "orders", "key": "1"}
			if _, err := pub.Publish(ctx, msg); err != nil {
				t.Fatalf("Publish: %v", err)
			}

			select {
			case m := <-got:
				if m["cacheName"] != "orders" || m["key"] != "1" {
					t.Fatalf("message = %v", m)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("message not dispatched")
			}
		})
	}

	if _, err := CodecFor(codec.FormatProto); err == nil {
		t.Fatal("proto is not a message format")
	}
}
