// Package redis provides a Transport backed by Redis PUBLISH and PSUBSCRIBE.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/messaging"
	goredis "github.com/redis/go-redis/v9"
)

// Transport publishes on Redis channels and delivers pattern subscriptions.
// Each subscription owns a dedicated connection and delivers its messages
// sequentially on one goroutine.
type Transport struct {
	client      goredis.UniversalClient
	ownsClient  bool
	logger      *slog.Logger
	channelSize int

	mu            sync.Mutex
	subscriptions map[*subscription]struct{}
	closed        bool
}

// Option configures the Transport
type Option func(*Transport)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithChannelSize sets the buffer of each subscription's message channel
func WithChannelSize(size int) Option {
	return func(t *Transport) {
		t.channelSize = size
	}
}

// NewTransport connects to Redis. addr is either a redis:// URL or host:port.
func NewTransport(addr string, options ...Option) (*Transport, error) {
	var opts *goredis.Options
	if strings.Contains(addr, "://") {
		parsed, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: addr}
	}

	t := NewTransportFromClient(goredis.NewClient(opts), options...)
	t.ownsClient = true
	return t, nil
}

// NewTransportFromClient wraps an existing client. The client is not closed by Close.
func NewTransportFromClient(client goredis.UniversalClient, options ...Option) *Transport {
	t := &Transport{
		client:        client,
		logger:        slog.Default(),
		channelSize:   100,
		subscriptions: make(map[*subscription]struct{}),
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Publish sends payload on channel
func (t *Transport) Publish(ctx context.Context, channel, payload string) error {
	if t.isClosed() {
		return contracts.ErrTransportClosed
	}

	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// PSubscribe subscribes to a glob pattern and waits for the server to confirm
func (t *Transport) PSubscribe(ctx context.Context, pattern string, listener messaging.MessageListener) (messaging.Subscription, error) {
	if listener == nil {
		return nil, fmt.Errorf("listener cannot be nil")
	}
	if t.isClosed() {
		return nil, contracts.ErrTransportClosed
	}

	pubsub := t.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		pattern:   pattern,
		pubsub:    pubsub,
		cancel:    cancel,
		transport: t,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		_ = pubsub.Close()
		return nil, contracts.ErrTransportClosed
	}
	t.subscriptions[sub] = struct{}{}
	t.mu.Unlock()

	messages := pubsub.Channel(goredis.WithChannelSize(t.channelSize))
	go func() {
		for msg := range messages {
			listener(subCtx, msg.Channel, msg.Payload)
		}
	}()

	t.logger.Debug("subscribed", "pattern", pattern)
	return sub, nil
}

// Ping checks the connection to Redis
func (t *Transport) Ping(ctx context.Context) error {
	if t.isClosed() {
		return contracts.ErrTransportClosed
	}
	return t.client.Ping(ctx).Err()
}

// Close closes all subscriptions, and the client if the transport created it
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*subscription, 0, len(t.subscriptions))
	for sub := range t.subscriptions {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}

	if t.ownsClient {
		if err := t.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type subscription struct {
	pattern   string
	pubsub    *goredis.PubSub
	cancel    context.CancelFunc
	transport *Transport
	once      sync.Once
	err       error
}

func (s *subscription) Pattern() string {
	return s.pattern
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.transport.mu.Lock()
		delete(s.transport.subscriptions, s)
		s.transport.mu.Unlock()

		s.cancel()
		if err := s.pubsub.Close(); err != nil {
			s.err = fmt.Errorf("failed to close subscription %s: %w", s.pattern, err)
		}
	})
	return s.err
}
