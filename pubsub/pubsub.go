// Package pubsub carries dispatch messages over a Redis channel. Messages
// are JSON objects unless WithCodec says otherwise; the subscriber routes
// each one through a dispatch.Dispatcher.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/lockcache/codec"
	"github.com/unkn0wn-root/lockcache/dispatch"
	lclog "github.com/unkn0wn-root/lockcache/log"
)

// DefaultChannel is the channel used when none is configured.
const DefaultChannel = "lockcache:events"

var (
	ErrNilClient     = errors.New("pubsub: nil client")
	ErrNotSubscribed = errors.New("pubsub: Serve before Start")
)

// MessageCodec encodes messages on the channel. Publishers and subscribers
// of one channel must agree on it.
type MessageCodec = codec.Codec[dispatch.Message]

// CodecFor returns the message codec for format.
func CodecFor(format codec.Format) (MessageCodec, error) {
	switch format {
	case codec.FormatJSON:
		return codec.JSON[dispatch.Message]{}, nil
	case codec.FormatCBOR:
		c, err := codec.NewCBOR[dispatch.Message](false)
		if err != nil {
			return nil, err
		}
		return c, nil
	case codec.FormatMsgpack:
		return codec.Msgpack[dispatch.Message]{}, nil
	default:
		return nil, fmt.Errorf("pubsub: no message codec for %s", format)
	}
}

type options struct {
	codec MessageCodec
}

// Option configures a Publisher or Subscriber.
type Option func(*options)

// WithCodec replaces the default JSON message codec.
func WithCodec(c MessageCodec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{codec: codec.JSON[dispatch.Message]{}}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Publisher sends messages to one channel.
type Publisher struct {
	rdb     goredis.UniversalClient
	channel string
	codec   MessageCodec
}

func NewPublisher(rdb goredis.UniversalClient, channel string, opts ...Option) (*Publisher, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel, codec: buildOptions(opts).codec}, nil
}

// Publish encodes msg and returns the number of receivers.
func (p *Publisher) Publish(ctx context.Context, msg dispatch.Message) (int64, error) {
	b, err := p.codec.Encode(msg)
	if err != nil {
		return 0, fmt.Errorf("pubsub: encode: %w", err)
	}
	return p.rdb.Publish(ctx, p.channel, b).Result()
}

// Subscriber feeds one channel into a Dispatcher. Bad payloads and handler
// failures are logged and skipped; they never stop the loop.
type Subscriber struct {
	rdb     goredis.UniversalClient
	channel string
	d       *dispatch.Dispatcher
	log     lclog.Logger
	codec   MessageCodec

	ps *goredis.PubSub
}

func NewSubscriber(rdb goredis.UniversalClient, channel string, d *dispatch.Dispatcher, l lclog.Logger, opts ...Option) (*Subscriber, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	if d == nil {
		d = dispatch.NewDispatcher(nil, dispatch.WithLogger(l))
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{
		rdb:     rdb,
		channel: channel,
		d:       d,
		log:     lclog.OrNop(l),
		codec:   buildOptions(opts).codec,
	}, nil
}

// Start subscribes and waits for the server to confirm.
func (s *Subscriber) Start(ctx context.Context) error {
	ps := s.rdb.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("pubsub: subscribe %q: %w", s.channel, err)
	}
	s.ps = ps
	return nil
}

// Serve dispatches messages until ctx ends or the subscription closes.
func (s *Subscriber) Serve(ctx context.Context) error {
	if s.ps == nil {
		return ErrNotSubscribed
	}
	defer s.ps.Close()

	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, m.Payload)
		}
	}
}

// Run is Start followed by Serve.
func (s *Subscriber) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Subscriber) handle(ctx context.Context, payload string) {
	msg, err := s.codec.Decode([]byte(payload))
	if err != nil {
		s.log.Warn("dropping undecodable message", lclog.Fields{"channel": s.channel, "err": err})
		return
	}
	if msg == nil {
		s.log.Warn("dropping empty message", lclog.Fields{"channel": s.channel})
		return
	}
	if err := s.d.Dispatch(ctx, msg); err != nil {
		s.log.Error("message handler failed", lclog.Fields{"channel": s.channel, "err": err})
	}
}
