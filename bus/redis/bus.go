// Package redis implements bus.Bus on Redis pub/sub.
//
// Each Subscribe opens its own PubSub connection. When the connection
// drops the subscription ends with beacon.ErrTransportDisconnected; the
// consumer decides when to subscribe again. Messages published while no
// subscription is open are not replayed.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/bus"
	"github.com/xraph/beacon/event"
)

// Compile-time interface check.
var _ bus.Bus = (*Bus)(nil)

// Option configures the Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithBufferSize sets the per-subscription message buffer.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithKeyPrefix namespaces channel names, e.g. "beacon:" gives
// "beacon:logs".
func WithKeyPrefix(p string) Option {
	return func(b *Bus) { b.prefix = p }
}

// Bus publishes and subscribes through Redis. The caller owns the client.
type Bus struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	bufferSize int
	prefix     string

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// New creates a Redis-backed bus.
func New(client redis.UniversalClient, opts ...Option) *Bus {
	b := &Bus{
		client:     client,
		logger:     slog.Default(),
		bufferSize: bus.DefaultBufferSize,
		prefix:     "beacon:",
		subs:       make(map[*subscription]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bus) name(ch event.Channel) string { return b.prefix + string(ch) }

// Publish sends payload on ch.
func (b *Bus) Publish(ctx context.Context, ch event.Channel, payload []byte) error {
	if b.isClosed() {
		return beacon.ErrBusClosed
	}
	if err := b.client.Publish(ctx, b.name(ch), payload).Err(); err != nil {
		return fmt.Errorf("beacon/redis: publish %s: %w: %w", ch, beacon.ErrTransportDisconnected, err)
	}
	return nil
}

// Subscribe opens a PubSub connection on ch and waits for Redis to
// confirm the subscription.
func (b *Bus) Subscribe(ctx context.Context, ch event.Channel) (bus.Subscription, error) {
	if b.isClosed() {
		return nil, beacon.ErrBusClosed
	}

	ps := b.client.Subscribe(ctx, b.name(ch))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("beacon/redis: subscribe %s: %w: %w", ch, beacon.ErrTransportDisconnected, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		bus:     b,
		channel: ch,
		ps:      ps,
		cancel:  cancel,
		msgs:    make(chan []byte, b.bufferSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		_ = ps.Close()
		return nil, beacon.ErrBusClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run(runCtx)
	return s, nil
}

// Close ends every open subscription. The Redis client stays open.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.stop(beacon.ErrBusClosed)
	}
	return nil
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) forget(s *subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// subscription pumps one PubSub connection into a buffered channel.
// Only the run goroutine sends on or closes msgs.
type subscription struct {
	bus     *Bus
	channel event.Channel
	ps      *redis.PubSub
	cancel  context.CancelFunc
	msgs    chan []byte
	done    chan struct{}

	mu       sync.Mutex
	err      error
	stopping bool
}

func (s *subscription) Channel() event.Channel  { return s.channel }
func (s *subscription) Messages() <-chan []byte { return s.msgs }
func (s *subscription) Done() <-chan struct{}   { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription and waits for the pump to exit.
func (s *subscription) Close() error {
	s.stop(nil)
	<-s.done
	return nil
}

// stop records cause, unless an earlier cause exists, and unblocks the
// pump.
func (s *subscription) stop(cause error) {
	s.mu.Lock()
	if !s.stopping {
		s.stopping = true
		s.err = cause
	}
	s.mu.Unlock()
	s.cancel()
	_ = s.ps.Close()
}

func (s *subscription) run(ctx context.Context) {
	defer func() {
		s.bus.forget(s)
		close(s.msgs)
		close(s.done)
	}()

	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.bus.logger.Warn("beacon/redis: subscription dropped",
					"channel", string(s.channel),
					"error", err,
				)
			}
			s.stop(fmt.Errorf("beacon/redis: receive %s: %w: %w", s.channel, beacon.ErrTransportDisconnected, err))
			return
		}

		select {
		case s.msgs <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}
