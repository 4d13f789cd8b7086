// Package memory provides an in-process Transport for tests and single-process use.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"

	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/messaging"
)

// Transport fans published messages out to every subscription whose glob pattern
// matches the channel. Each delivery runs on its own goroutine, and the publisher
// receives its own messages like any other subscriber.
type Transport struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        uint64
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc

	// inflight counts running deliveries; idle is signalled when it drops to zero
	deliveryMu sync.Mutex
	idle       *sync.Cond
	inflight   int

	published atomic.Int64
	delivered atomic.Int64
	logger    *slog.Logger
}

// Option configures the Transport
type Option func(*Transport)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates an in-memory transport
func NewTransport(options ...Option) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		subscriptions: make(map[uint64]*subscription),
		ctx:           ctx,
		cancel:        cancel,
		logger:        slog.Default(),
	}
	t.idle = sync.NewCond(&t.deliveryMu)

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Publish delivers payload to every matching subscription
func (t *Transport) Publish(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return contracts.ErrTransportClosed
	}

	t.published.Add(1)
	for _, sub := range t.subscriptions {
		if !sub.matches(channel) {
			continue
		}

		t.deliveryStarted()
		go func(s *subscription) {
			defer t.deliveryFinished()
			if !s.active.Load() {
				return
			}
			t.delivered.Add(1)
			s.listener(t.ctx, channel, payload)
		}(sub)
	}

	return nil
}

// PSubscribe registers listener for channels matching a glob pattern
func (t *Transport) PSubscribe(ctx context.Context, pattern string, listener messaging.MessageListener) (messaging.Subscription, error) {
	if listener == nil {
		return nil, fmt.Errorf("listener cannot be nil")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, contracts.ErrTransportClosed
	}

	t.nextID++
	sub := &subscription{
		id:        t.nextID,
		pattern:   pattern,
		listener:  listener,
		transport: t,
	}
	sub.active.Store(true)
	t.subscriptions[sub.id] = sub

	t.logger.Debug("subscribed", "pattern", pattern)
	return sub, nil
}

// Ping reports whether the transport is open
func (t *Transport) Ping(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return contracts.ErrTransportClosed
	}
	return nil
}

// Wait blocks until no delivery is running, including deliveries started by
// listeners that publish. It is safe to call while other goroutines publish.
func (t *Transport) Wait() {
	t.deliveryMu.Lock()
	defer t.deliveryMu.Unlock()
	for t.inflight > 0 {
		t.idle.Wait()
	}
}

func (t *Transport) deliveryStarted() {
	t.deliveryMu.Lock()
	t.inflight++
	t.deliveryMu.Unlock()
}

func (t *Transport) deliveryFinished() {
	t.deliveryMu.Lock()
	t.inflight--
	if t.inflight == 0 {
		t.idle.Broadcast()
	}
	t.deliveryMu.Unlock()
}

// Published returns the number of accepted publishes
func (t *Transport) Published() int64 {
	return t.published.Load()
}

// Delivered returns the number of listener invocations
func (t *Transport) Delivered() int64 {
	return t.delivered.Load()
}

// SubscriptionCount returns the number of active subscriptions
func (t *Transport) SubscriptionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscriptions)
}

// Close drops all subscriptions and cancels the delivery context.
// In-flight deliveries are not waited for.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	for id, sub := range t.subscriptions {
		sub.active.Store(false)
		delete(t.subscriptions, id)
	}
	t.cancel()

	return nil
}

type subscription struct {
	id        uint64
	pattern   string
	listener  messaging.MessageListener
	transport *Transport
	active    atomic.Bool
}

func (s *subscription) Pattern() string {
	return s.pattern
}

func (s *subscription) Unsubscribe() error {
	if !s.active.Swap(false) {
		return nil
	}

	s.transport.mu.Lock()
	delete(s.transport.subscriptions, s.id)
	s.transport.mu.Unlock()

	return nil
}

func (s *subscription) matches(channel string) bool {
	ok, err := path.Match(s.pattern, channel)
	return err == nil && ok
}
