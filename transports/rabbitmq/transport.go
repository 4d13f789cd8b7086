// Package rabbitmq provides a Transport on a RabbitMQ topic exchange.
//
// Channels map to routing keys and glob patterns map to topic binding keys.
// Every subscription gets an exclusive auto-delete queue, so each subscriber
// receives its own copy of every matching message.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/internal/rabbitmq"
	"github.com/glimte/recordbus/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange records travel through
const DefaultExchange = "recordbus"

// Transport implements messaging.Transport for RabbitMQ
type Transport struct {
	manager  *rabbitmq.ConnectionManager
	exchange string
	logger   *slog.Logger

	mu            sync.Mutex
	publishCh     *amqp.Channel
	subscriptions map[*subscription]struct{}
	closed        bool
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	Exchange          string
	Logger            *slog.Logger
	ConnectionOptions []rabbitmq.ConnectionOption
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithExchange sets the topic exchange name
func WithExchange(exchange string) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Exchange = exchange
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// NewTransport connects to RabbitMQ and declares the exchange
func NewTransport(ctx context.Context, url string, options ...TransportOption) (*Transport, error) {
	cfg := &TransportConfig{
		Exchange: DefaultExchange,
		Logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.Logger)}, cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(url, connOpts...)
	if err := manager.Connect(ctx); err != nil {
		return nil, err
	}

	t := &Transport{
		manager:       manager,
		exchange:      cfg.Exchange,
		logger:        cfg.Logger,
		subscriptions: make(map[*subscription]struct{}),
	}

	conn, err := manager.GetConnection()
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	if err := t.openPublishChannel(conn); err != nil {
		_ = manager.Close()
		return nil, err
	}

	manager.AddStateListener(t)
	return t, nil
}

// Publish sends payload with channel as routing key
func (t *Transport) Publish(ctx context.Context, channel, payload string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return contracts.ErrTransportClosed
	}
	if t.publishCh == nil || t.publishCh.IsClosed() {
		return rabbitmq.ErrConnectionNotReady
	}

	err := t.publishCh.PublishWithContext(ctx, t.exchange, channel, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        []byte(payload),
		Timestamp:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// PSubscribe binds an exclusive queue to the exchange with the pattern's binding key
func (t *Transport) PSubscribe(ctx context.Context, pattern string, listener messaging.MessageListener) (messaging.Subscription, error) {
	if listener == nil {
		return nil, fmt.Errorf("listener cannot be nil")
	}
	bindingKey, err := BindingKey(pattern)
	if err != nil {
		return nil, err
	}

	conn, err := t.manager.GetConnection()
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		pattern:    pattern,
		bindingKey: bindingKey,
		listener:   listener,
		ctx:        subCtx,
		cancel:     cancel,
		transport:  t,
	}

	if err := sub.open(conn); err != nil {
		cancel()
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil, contracts.ErrTransportClosed
	}
	t.subscriptions[sub] = struct{}{}
	t.mu.Unlock()

	t.logger.Debug("subscribed", "pattern", pattern, "bindingKey", bindingKey)
	return sub, nil
}

// Ping reports whether the broker connection is up
func (t *Transport) Ping(ctx context.Context) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return contracts.ErrTransportClosed
	}
	_, err := t.manager.GetConnection()
	return err
}

// Close closes all subscriptions and the connection
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
	publishCh := t.publishCh
	t.publishCh = nil
	t.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if publishCh != nil && !publishCh.IsClosed() {
		if err := publishCh.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.manager.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// OnConnected re-opens the publish channel and every subscription after a reconnect
func (t *Transport) OnConnected(conn *amqp.Connection) {
	if err := t.openPublishChannel(conn); err != nil {
		t.logger.Error("failed to reopen publish channel", "error", err)
	}

	t.mu.Lock()
	subs := make([]*subscription, 0, len(t.subscriptions))
	for sub := range t.subscriptions {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		if err := sub.open(conn); err != nil {
			t.logger.Error("failed to restore subscription", "pattern", sub.pattern, "error", err)
		}
	}
}

// OnDisconnected logs the lost connection
func (t *Transport) OnDisconnected(err error) {
	t.logger.Warn("rabbitmq connection lost", "error", err)
}

// OnReconnecting logs a reconnection attempt
func (t *Transport) OnReconnecting(attempt int) {
	t.logger.Info("reconnecting to rabbitmq", "attempt", attempt)
}

func (t *Transport) openPublishChannel(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(t.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", t.exchange, err)
	}

	t.mu.Lock()
	t.publishCh = ch
	t.mu.Unlock()
	return nil
}

// BindingKey translates a glob channel pattern into a topic binding key.
// Only literal words and a trailing "*" (matching any remainder) are supported.
func BindingKey(pattern string) (string, error) {
	if pattern == "" {
		return "", fmt.Errorf("pattern cannot be empty")
	}
	if pattern == "*" {
		return "#", nil
	}

	words := strings.Split(pattern, ".")
	for i, word := range words {
		last := i == len(words)-1
		if last && word == "*" {
			words[i] = "#"
			continue
		}
		if word == "" || strings.ContainsAny(word, "*?[]#\\") {
			return "", fmt.Errorf("unsupported pattern %q for topic exchange", pattern)
		}
	}

	return strings.Join(words, "."), nil
}

type subscription struct {
	pattern    string
	bindingKey string
	listener   messaging.MessageListener
	ctx        context.Context
	cancel     context.CancelFunc
	transport  *Transport

	mu     sync.Mutex
	ch     *amqp.Channel
	closed bool
}

func (s *subscription) Pattern() string {
	return s.pattern
}

// open declares the queue, binds it and starts consuming on a fresh channel
func (s *subscription) open(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(op string, err error) error {
		_ = ch.Close()
		return fmt.Errorf("failed to %s for %s: %w", op, s.pattern, err)
	}

	if err := ch.ExchangeDeclare(s.transport.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	if err := ch.QueueBind(queue.Name, s.bindingKey, s.transport.exchange, false, nil); err != nil {
		return fail("bind queue", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fail("consume", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ch.Close()
		return nil
	}
	s.ch = ch
	s.mu.Unlock()

	go func() {
		for d := range deliveries {
			s.listener(s.ctx, d.RoutingKey, string(d.Body))
		}
	}()

	return nil
}

func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ch := s.ch
	s.ch = nil
	s.mu.Unlock()

	s.transport.mu.Lock()
	delete(s.transport.subscriptions, s)
	s.transport.mu.Unlock()

	s.cancel()
	if ch != nil && !ch.IsClosed() {
		if err := ch.Close(); err != nil {
			return fmt.Errorf("failed to close subscription %s: %w", s.pattern, err)
		}
	}
	return nil
}
