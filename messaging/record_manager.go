package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/internal/expiring"
	"github.com/glimte/recordbus/internal/reliability"
	"github.com/glimte/recordbus/serialization"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultRecordPrefix namespaces request channels
	DefaultRecordPrefix = "records"
	// DefaultTimeout bounds the wait for a reply when a record sets none
	DefaultTimeout = expiring.DefaultTTL
	// DefaultDedupWindow is how long a packet ID is remembered as handled
	DefaultDedupWindow = 10 * time.Second
	// DefaultLateReplyMemory is how many timed-out correlation IDs are remembered
	DefaultLateReplyMemory = 1024

	replyChannelPrefix = "reply"
)

// RecordManager sends records and correlates their replies, and dispatches inbound
// requests to bound handlers. Both sides share one transport.
type RecordManager struct {
	transport   Transport
	codec       serialization.Codec
	handlers    *HandlerRegistry
	pending     *expiring.Map[string, Sendable]
	handled     *expiring.Set[string]
	expired     *lru.Cache[string, time.Time]
	retryPolicy reliability.RetryPolicy
	metrics     MetricsCollector
	logger      *slog.Logger

	prefix          string
	defaultTimeout  time.Duration
	dedupWindow     time.Duration
	lateReplyMemory int

	mu            sync.RWMutex
	started       bool
	closed        bool
	subscriptions []Subscription
}

// ManagerOption configures the RecordManager
type ManagerOption func(*RecordManager)

// WithManagerLogger sets the logger
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *RecordManager) {
		m.logger = logger
	}
}

// WithRecordPrefix sets the request channel prefix
func WithRecordPrefix(prefix string) ManagerOption {
	return func(m *RecordManager) {
		m.prefix = prefix
	}
}

// WithDefaultTimeout sets the reply timeout used by records that set none
func WithDefaultTimeout(timeout time.Duration) ManagerOption {
	return func(m *RecordManager) {
		m.defaultTimeout = timeout
	}
}

// WithDedupWindow sets how long handled packet IDs are remembered
func WithDedupWindow(window time.Duration) ManagerOption {
	return func(m *RecordManager) {
		m.dedupWindow = window
	}
}

// WithLateReplyMemory sets how many timed-out correlation IDs are kept to classify late replies
func WithLateReplyMemory(size int) ManagerOption {
	return func(m *RecordManager) {
		m.lateReplyMemory = size
	}
}

// WithPublishRetry sets the retry policy for outgoing publishes
func WithPublishRetry(policy reliability.RetryPolicy) ManagerOption {
	return func(m *RecordManager) {
		m.retryPolicy = policy
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) ManagerOption {
	return func(m *RecordManager) {
		m.metrics = metrics
	}
}

// WithHandlerRegistry shares a handler registry with the manager
func WithHandlerRegistry(registry *HandlerRegistry) ManagerOption {
	return func(m *RecordManager) {
		m.handlers = registry
	}
}

// NewRecordManager creates a record manager on top of transport. Start must be
// called before records are sent or requests are handled.
func NewRecordManager(transport Transport, codec serialization.Codec, options ...ManagerOption) (*RecordManager, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}

	m := &RecordManager{
		transport:       transport,
		codec:           codec,
		prefix:          DefaultRecordPrefix,
		defaultTimeout:  DefaultTimeout,
		dedupWindow:     DefaultDedupWindow,
		lateReplyMemory: DefaultLateReplyMemory,
		retryPolicy:     reliability.NewExponentialBackoff(50*time.Millisecond, time.Second, 2.0, 2),
		metrics:         &NoOpMetricsCollector{},
		logger:          slog.Default(),
	}

	for _, opt := range options {
		opt(m)
	}

	if m.prefix == "" || strings.ContainsAny(m.prefix, "*?[") {
		return nil, fmt.Errorf("invalid record prefix %q", m.prefix)
	}
	if m.defaultTimeout <= 0 {
		return nil, fmt.Errorf("default timeout must be positive")
	}
	if m.dedupWindow <= 0 {
		return nil, fmt.Errorf("dedup window must be positive")
	}
	if m.handlers == nil {
		m.handlers = NewHandlerRegistry()
	}

	expired, err := lru.New[string, time.Time](m.lateReplyMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to create late reply cache: %w", err)
	}
	m.expired = expired
	m.handled = expiring.NewSet[string](m.dedupWindow)
	m.pending = expiring.NewMap[string, Sendable](m.defaultTimeout, m.onExpire)

	return m, nil
}

// Start subscribes to request and reply channels. Calling Start again is a no-op.
func (m *RecordManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return contracts.ErrManagerClosed
	}
	if m.started {
		return nil
	}

	requests, err := m.transport.PSubscribe(ctx, m.RequestPattern(), m.handleRequest)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.RequestPattern(), err)
	}

	replies, err := m.transport.PSubscribe(ctx, m.ReplyPattern(), m.handleReply)
	if err != nil {
		if unsubErr := requests.Unsubscribe(); unsubErr != nil {
			m.logger.Warn("failed to unsubscribe requests", "pattern", requests.Pattern(), "error", unsubErr)
		}
		return fmt.Errorf("failed to subscribe to %s: %w", m.ReplyPattern(), err)
	}

	m.subscriptions = []Subscription{requests, replies}
	m.started = true

	m.logger.Info("record manager started",
		"requestPattern", m.RequestPattern(),
		"replyPattern", m.ReplyPattern(),
		"boundTypes", m.handlers.Types())

	return nil
}

// Send publishes a record using its own timeout, or the manager default
func (m *RecordManager) Send(ctx context.Context, record Sendable) error {
	return m.SendWithTimeout(ctx, record, record.Timeout())
}

// SendWithTimeout publishes a record and tracks it as pending for timeout.
// The outcome is delivered through the record's callbacks. Returned errors only
// report records that were never put in flight; a failed publish is logged and
// the record is left to time out.
func (m *RecordManager) SendWithTimeout(ctx context.Context, record Sendable, timeout time.Duration) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.RecordType() == "" {
		return fmt.Errorf("record type cannot be empty")
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	// The lock covers registration only; Close drains whatever was registered.
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return contracts.ErrManagerClosed
	}
	if !m.started {
		m.mu.RUnlock()
		return contracts.ErrManagerNotStarted
	}

	correlationID := record.CorrelationID()
	requestChannel := m.RequestChannel(correlationID)

	if err := record.prepare(requestChannel); err != nil {
		m.mu.RUnlock()
		return err
	}

	packet := record.SentPacket()
	data, err := m.codec.EncodePacket(packet)
	if err != nil {
		m.mu.RUnlock()
		return fmt.Errorf("failed to encode packet: %w", err)
	}
	payload, err := m.codec.EncodeEnvelope(contracts.NewEnvelope(record.RecordType(), data))
	if err != nil {
		m.mu.RUnlock()
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	if err := record.markSent(time.Now()); err != nil {
		m.mu.RUnlock()
		return err
	}

	m.pending.PutWithTTL(correlationID, record, timeout)
	m.handled.Add(packet.GetPacketID())
	m.mu.RUnlock()

	err = reliability.Retry(ctx, m.retryPolicy, func() error {
		return m.transport.Publish(ctx, requestChannel, payload)
	})
	if err != nil {
		m.metrics.RecordPublishFailed(record.RecordType())
		m.logger.Error("failed to publish record",
			"recordType", record.RecordType(),
			"correlationId", correlationID,
			"channel", requestChannel,
			"error", err)
		return nil
	}

	m.metrics.RecordSent(record.RecordType())
	m.logger.Debug("record sent",
		"recordType", record.RecordType(),
		"correlationId", correlationID,
		"packetId", packet.GetPacketID(),
		"timeout", timeout)

	return nil
}

// BindHandler binds a handler to a record type
func (m *RecordManager) BindHandler(recordType string, handler RecordHandler) error {
	if err := m.handlers.Bind(recordType, handler); err != nil {
		return err
	}
	m.logger.Debug("handler bound", "recordType", recordType)
	return nil
}

// IsHandlerBound reports whether a handler is bound to the record type
func (m *RecordManager) IsHandlerBound(recordType string) bool {
	return m.handlers.IsBound(recordType)
}

// LookupHandler returns the handler bound to the record type
func (m *RecordManager) LookupHandler(recordType string) (RecordHandler, error) {
	handler, ok := m.handlers.Lookup(recordType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrHandlerNotFound, recordType)
	}
	return handler, nil
}

// Handlers returns the handler registry
func (m *RecordManager) Handlers() *HandlerRegistry {
	return m.handlers
}

// PendingCount returns the number of records awaiting a reply
func (m *RecordManager) PendingCount() int {
	return m.pending.Len()
}

// IsPending reports whether a record with the correlation ID awaits a reply
func (m *RecordManager) IsPending(correlationID string) bool {
	return m.pending.Contains(correlationID)
}

// RequestChannel returns the channel a record with the correlation ID is published on
func (m *RecordManager) RequestChannel(correlationID string) string {
	return m.prefix + "." + correlationID
}

// ReplyChannel returns the channel replies to a request channel are published on
func (m *RecordManager) ReplyChannel(requestChannel string) string {
	return m.replyPrefix() + "." + requestChannel
}

// RequestPattern returns the pattern request channels match
func (m *RecordManager) RequestPattern() string {
	return m.prefix + ".*"
}

// ReplyPattern returns the pattern reply channels match
func (m *RecordManager) ReplyPattern() string {
	return m.replyPrefix() + ".*"
}

// Close unsubscribes from the transport and times out every pending record.
// The transport itself is not closed.
func (m *RecordManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	var errs []error
	for _, sub := range m.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unsubscribe %s: %w", sub.Pattern(), err))
		}
	}
	m.subscriptions = nil

	drained := m.pending.Drain()
	m.handled.Clear()
	m.mu.Unlock()

	for correlationID, record := range drained {
		m.onExpire(correlationID, record)
	}

	m.logger.Info("record manager closed", "drained", len(drained))
	return errors.Join(errs...)
}

func (m *RecordManager) replyPrefix() string {
	return replyChannelPrefix + "." + m.prefix
}

// handleRequest runs the receiving side of the pipeline for one inbound request
func (m *RecordManager) handleRequest(ctx context.Context, channel, payload string) {
	if !strings.HasPrefix(channel, m.prefix+".") {
		return
	}

	envelope, err := m.codec.DecodeEnvelope(payload)
	if err != nil {
		m.drop(&contracts.DispatchError{Stage: contracts.StageDecodeEnvelope, Channel: channel, Err: err})
		return
	}

	recordType := envelope.DeclaredRecordType
	if !m.handlers.IsBound(recordType) {
		m.drop(&contracts.DispatchError{Stage: contracts.StageUnboundType, Channel: channel, RecordType: recordType})
		return
	}

	request, err := m.codec.DecodePacket(envelope.SerializedPacket)
	if err != nil {
		m.drop(&contracts.DispatchError{Stage: contracts.StageDecodePacket, Channel: channel, RecordType: recordType, Err: err})
		return
	}

	packetID := request.GetPacketID()
	if request.IsReply() {
		m.drop(&contracts.DispatchError{Stage: contracts.StageReplyOnRequest, Channel: channel, RecordType: recordType, PacketID: packetID})
		return
	}

	if !m.handled.AddIfAbsent(packetID) {
		m.drop(&contracts.DispatchError{Stage: contracts.StageDuplicate, Channel: channel, RecordType: recordType, PacketID: packetID})
		return
	}

	handler, ok := m.handlers.Lookup(recordType)
	if !ok {
		m.metrics.RecordDropped(contracts.StageUnboundType)
		m.logger.Error("handler binding vanished during dispatch",
			"error", &contracts.DispatchError{Stage: contracts.StageUnboundType, Channel: channel, RecordType: recordType, PacketID: packetID, Err: contracts.ErrHandlerNotFound})
		return
	}

	start := time.Now()
	reply, err := handler.HandleRecord(ctx, request)
	m.metrics.RecordHandled(recordType, time.Since(start), err)
	if err != nil {
		m.logger.Error("record handler failed",
			"error", &contracts.DispatchError{Stage: contracts.StageHandler, Channel: channel, RecordType: recordType, PacketID: packetID, Err: err})
		return
	}
	if isNilPacket(reply) {
		m.logger.Debug("handler produced no reply", "recordType", recordType, "packetId", packetID)
		return
	}

	reply.SetCorrelationID(request.GetCorrelationID())
	reply.SetReply(true)

	data, err := m.codec.EncodePacket(reply)
	if err != nil {
		m.metrics.RecordPublishFailed(recordType)
		m.logger.Error("failed to encode reply",
			"error", &contracts.DispatchError{Stage: contracts.StagePublishReply, Channel: channel, RecordType: recordType, PacketID: packetID, Err: err})
		return
	}

	replyChannel := m.ReplyChannel(channel)
	err = reliability.Retry(ctx, m.retryPolicy, func() error {
		return m.transport.Publish(ctx, replyChannel, data)
	})
	if err != nil {
		m.metrics.RecordPublishFailed(recordType)
		m.logger.Error("failed to publish reply",
			"error", &contracts.DispatchError{Stage: contracts.StagePublishReply, Channel: replyChannel, RecordType: recordType, PacketID: packetID, Err: err})
		return
	}

	m.logger.Debug("reply published",
		"recordType", recordType,
		"correlationId", request.GetCorrelationID(),
		"channel", replyChannel)
}

// handleReply runs the sending side of the pipeline for one inbound reply
func (m *RecordManager) handleReply(ctx context.Context, channel, payload string) {
	if !strings.HasPrefix(channel, m.replyPrefix()+".") {
		return
	}

	reply, err := m.codec.DecodePacket(payload)
	if err != nil {
		m.drop(&contracts.DispatchError{Stage: contracts.StageDecodePacket, Channel: channel, Err: err})
		return
	}

	if !reply.IsReply() {
		m.drop(&contracts.DispatchError{Stage: contracts.StageNotReply, Channel: channel, PacketID: reply.GetPacketID()})
		return
	}

	correlationID := reply.GetCorrelationID()
	record, ok := m.pending.Remove(correlationID)
	if !ok {
		stage := contracts.StageUnknownReply
		if m.expired.Contains(correlationID) {
			stage = contracts.StageLateReply
		}
		m.drop(&contracts.DispatchError{Stage: stage, Channel: channel, PacketID: reply.GetPacketID()})
		return
	}

	m.metrics.RecordReplied(record.RecordType(), time.Since(record.SentAt()))
	m.logger.Debug("reply received",
		"recordType", record.RecordType(),
		"correlationId", correlationID,
		"status", reply.GetStatus())

	record.complete(reply)
}

// onExpire is the eviction callback of the pending table
func (m *RecordManager) onExpire(correlationID string, record Sendable) {
	m.expired.Add(correlationID, time.Now())
	m.metrics.RecordTimedOut(record.RecordType())
	m.logger.Debug("record timed out",
		"recordType", record.RecordType(),
		"correlationId", correlationID)

	record.timeout()
}

func (m *RecordManager) drop(err *contracts.DispatchError) {
	m.metrics.RecordDropped(err.Stage)
	m.logger.Debug("inbound message dropped", "error", err)
}
