// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recordbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/recordbus/bridge"
	"github.com/glimte/recordbus/health"
	"github.com/glimte/recordbus/interceptors"
	"github.com/glimte/recordbus/internal/config"
	"github.com/glimte/recordbus/internal/rabbitmq"
	"github.com/glimte/recordbus/messaging"
	"github.com/glimte/recordbus/monitor"
	"github.com/glimte/recordbus/serialization"
	"github.com/glimte/recordbus/transports/memory"
	rabbitmqTransport "github.com/glimte/recordbus/transports/rabbitmq"
	redisTransport "github.com/glimte/recordbus/transports/redis"
)

// Pending thresholds for the default health registry
const (
	PendingWarningThreshold  = 1000
	PendingCriticalThreshold = 10000
)

// Client provides the main entry point for recordbus: a started RecordManager
// over a transport, with its codec, metrics and health checks.
type Client struct {
	transport     messaging.Transport
	transportName string
	ownsTransport bool
	registry      *serialization.PacketRegistry
	codec         *serialization.JSONCodec
	manager       *messaging.RecordManager
	metrics       *monitor.RecordMetricsCollector
	bridge        *bridge.Bridge
	health        *health.Registry
	interceptors  *interceptors.InterceptorChain
	logger        *slog.Logger
}

// NewClient starts a record manager over an existing transport. The caller keeps
// ownership of the transport.
func NewClient(ctx context.Context, transport messaging.Transport, options ...ClientOption) (*Client, error) {
	cfg := newClientConfig(options)
	return newClient(ctx, transport, "custom", false, cfg)
}

// NewRedisClient connects to Redis pub/sub and starts a record manager on it
func NewRedisClient(ctx context.Context, redisURL string, options ...ClientOption) (*Client, error) {
	cfg := newClientConfig(options)

	transport, err := redisTransport.NewTransport(redisURL, redisTransport.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return newClient(ctx, transport, config.TransportRedis, true, cfg)
}

// NewRabbitMQClient connects to a RabbitMQ topic exchange and starts a record manager on it
func NewRabbitMQClient(ctx context.Context, amqpURL string, options ...ClientOption) (*Client, error) {
	cfg := newClientConfig(options)

	transportOpts := []rabbitmqTransport.TransportOption{
		rabbitmqTransport.WithLogger(cfg.logger),
		rabbitmqTransport.WithConnectionOptions(
			rabbitmq.WithLogger(cfg.logger),
		),
	}
	if cfg.exchange != "" {
		transportOpts = append(transportOpts, rabbitmqTransport.WithExchange(cfg.exchange))
	}

	transport, err := rabbitmqTransport.NewTransport(ctx, amqpURL, transportOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return newClient(ctx, transport, config.TransportRabbitMQ, true, cfg)
}

// FromConfig builds the transport named by cfg and starts a client on it.
// Explicit options are applied after the values taken from cfg.
func FromConfig(ctx context.Context, cfg *config.Config, options ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fromConfig := []ClientOption{
		WithRecordPrefix(cfg.RecordPrefix),
		WithDefaultTimeout(cfg.DefaultTimeout),
		WithDedupWindow(cfg.DedupWindow),
		WithLateReplyMemory(cfg.LateReplyMemory),
		WithExchange(cfg.Exchange),
	}
	options = append(fromConfig, options...)

	switch cfg.Transport {
	case config.TransportRedis:
		return NewRedisClient(ctx, cfg.RedisURL, options...)
	case config.TransportRabbitMQ:
		return NewRabbitMQClient(ctx, cfg.AMQPURL, options...)
	case config.TransportMemory:
		clientCfg := newClientConfig(options)
		transport := memory.NewTransport(memory.WithLogger(clientCfg.logger))
		return newClient(ctx, transport, config.TransportMemory, true, clientCfg)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func newClient(ctx context.Context, transport messaging.Transport, transportName string, owns bool, cfg *clientConfig) (*Client, error) {
	registry := cfg.registry
	if registry == nil {
		registry = serialization.NewPacketRegistry()
	}
	codec := serialization.NewJSONCodec(registry)
	metrics := monitor.NewRecordMetricsCollector()

	managerOpts := []messaging.ManagerOption{
		messaging.WithManagerLogger(cfg.logger),
		messaging.WithMetrics(metrics),
	}
	if cfg.recordPrefix != "" {
		managerOpts = append(managerOpts, messaging.WithRecordPrefix(cfg.recordPrefix))
	}
	if cfg.defaultTimeout > 0 {
		managerOpts = append(managerOpts, messaging.WithDefaultTimeout(cfg.defaultTimeout))
	}
	if cfg.dedupWindow > 0 {
		managerOpts = append(managerOpts, messaging.WithDedupWindow(cfg.dedupWindow))
	}
	if cfg.lateReplyMemory > 0 {
		managerOpts = append(managerOpts, messaging.WithLateReplyMemory(cfg.lateReplyMemory))
	}
	managerOpts = append(managerOpts, cfg.managerOptions...)

	closeTransport := func() {
		if owns {
			_ = transport.Close()
		}
	}

	manager, err := messaging.NewRecordManager(transport, codec, managerOpts...)
	if err != nil {
		closeTransport()
		return nil, fmt.Errorf("failed to create record manager: %w", err)
	}
	if err := manager.Start(ctx); err != nil {
		closeTransport()
		return nil, fmt.Errorf("failed to start record manager: %w", err)
	}

	bridgeOpts := []bridge.BridgeOption{bridge.WithLogger(cfg.logger)}
	if cfg.defaultTimeout > 0 {
		bridgeOpts = append(bridgeOpts, bridge.WithDefaultTimeout(cfg.defaultTimeout))
	}
	b, err := bridge.NewBridge(manager, bridgeOpts...)
	if err != nil {
		_ = manager.Close()
		closeTransport()
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}

	registryHealth := health.NewRegistry()
	if pinger, ok := transport.(health.Pinger); ok {
		registryHealth.Register(health.NewTransportChecker(transportName, pinger))
	}
	registryHealth.Register(health.NewPendingChecker(manager, PendingWarningThreshold, PendingCriticalThreshold))
	registryHealth.Register(health.NewRuntimeChecker(10000, 50000))
	registryHealth.SetMetadata("transport", transportName)
	registryHealth.SetMetadata("request_pattern", manager.RequestPattern())

	chain := interceptors.NewInterceptorChain(cfg.logger)
	for _, interceptor := range cfg.interceptors {
		chain.Add(interceptor)
	}

	cfg.logger.Info("Record client started",
		"transport", transportName,
		"requestPattern", manager.RequestPattern(),
		"replyPattern", manager.ReplyPattern())

	return &Client{
		transport:     transport,
		transportName: transportName,
		ownsTransport: owns,
		registry:      registry,
		codec:         codec,
		manager:       manager,
		metrics:       metrics,
		bridge:        b,
		health:        registryHealth,
		interceptors:  chain,
		logger:        cfg.logger,
	}, nil
}

// Manager returns the record manager
func (c *Client) Manager() *messaging.RecordManager {
	return c.manager
}

// Registry returns the packet registry used by the codec
func (c *Client) Registry() *serialization.PacketRegistry {
	return c.registry
}

// Codec returns the wire codec
func (c *Client) Codec() *serialization.JSONCodec {
	return c.codec
}

// Metrics returns the metrics collected by the record manager
func (c *Client) Metrics() *monitor.RecordMetricsCollector {
	return c.metrics
}

// Bridge returns the blocking request/reply helper
func (c *Client) Bridge() *bridge.Bridge {
	return c.bridge
}

// Health returns the health registry for the transport and the pending table
func (c *Client) Health() *health.Registry {
	return c.health
}

// Transport returns the underlying transport
func (c *Client) Transport() messaging.Transport {
	return c.transport
}

// TransportName returns the configured transport kind
func (c *Client) TransportName() string {
	return c.transportName
}

// RegisterPacket registers a packet type with the codec
func (c *Client) RegisterPacket(packetType string, factory serialization.PacketFactory) error {
	return c.registry.Register(packetType, factory)
}

// BindHandler binds a handler for a record type behind the client's interceptors
func (c *Client) BindHandler(recordType string, handler messaging.RecordHandler) error {
	if handler != nil && c.interceptors.Len() > 0 {
		handler = c.interceptors.Wrap(handler)
	}
	return c.manager.BindHandler(recordType, handler)
}

// Send sends a record with its own timeout
func (c *Client) Send(ctx context.Context, record messaging.Sendable) error {
	return c.manager.Send(ctx, record)
}

// SendWithTimeout sends a record with an explicit timeout
func (c *Client) SendWithTimeout(ctx context.Context, record messaging.Sendable, timeout time.Duration) error {
	return c.manager.SendWithTimeout(ctx, record, timeout)
}

// Close closes the manager, then the transport if the client created it
func (c *Client) Close() error {
	var errs []error
	if err := c.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.ownsTransport {
		if err := c.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger          *slog.Logger
	registry        *serialization.PacketRegistry
	recordPrefix    string
	defaultTimeout  time.Duration
	dedupWindow     time.Duration
	lateReplyMemory int
	exchange        string
	interceptors    []interceptors.Interceptor
	managerOptions  []messaging.ManagerOption
}

func newClientConfig(options []ClientOption) *clientConfig {
	cfg := &clientConfig{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithPacketRegistry shares an existing packet registry with the client
func WithPacketRegistry(registry *serialization.PacketRegistry) ClientOption {
	return func(cfg *clientConfig) {
		cfg.registry = registry
	}
}

// WithRecordPrefix sets the request channel prefix
func WithRecordPrefix(prefix string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.recordPrefix = prefix
	}
}

// WithDefaultTimeout sets the timeout used by Send and by the bridge
func WithDefaultTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.defaultTimeout = timeout
	}
}

// WithDedupWindow sets how long handled packet ids are remembered
func WithDedupWindow(window time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dedupWindow = window
	}
}

// WithLateReplyMemory sets how many timed-out correlation ids are remembered
func WithLateReplyMemory(size int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.lateReplyMemory = size
	}
}

// WithExchange sets the RabbitMQ exchange; ignored by other transports
func WithExchange(exchange string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.exchange = exchange
	}
}

// WithManagerOptions passes extra options straight to the record manager
func WithManagerOptions(opts ...messaging.ManagerOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.managerOptions = append(cfg.managerOptions, opts...)
	}
}

// WithInterceptors runs every handler bound through the client behind interceptors
func WithInterceptors(list ...interceptors.Interceptor) ClientOption {
	return func(cfg *clientConfig) {
		cfg.interceptors = append(cfg.interceptors, list...)
	}
}
