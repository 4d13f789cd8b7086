package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/messaging"
)

// Interceptor processes a request before it reaches the next handler
type Interceptor interface {
	// Intercept handles request, usually by calling next
	Intercept(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error)

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error)
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error)) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error) {
	return i.fn(ctx, request, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages a chain of interceptors
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors
func (c *InterceptorChain) Len() int {
	return len(c.interceptors)
}

// Names returns the interceptor names in execution order
func (c *InterceptorChain) Names() []string {
	names := make([]string, len(c.interceptors))
	for i, interceptor := range c.interceptors {
		names[i] = interceptor.Name()
	}
	return names
}

// Execute runs request through the chain and then finalHandler
func (c *InterceptorChain) Execute(ctx context.Context, request contracts.Packet, finalHandler messaging.RecordHandler) (contracts.Packet, error) {
	return c.Wrap(finalHandler).HandleRecord(ctx, request)
}

// Wrap returns a handler that runs the chain in front of handler. Interceptors
// added after Wrap do not affect the returned handler.
func (c *InterceptorChain) Wrap(handler messaging.RecordHandler) messaging.RecordHandler {
	interceptors := make([]Interceptor, len(c.interceptors))
	copy(interceptors, c.interceptors)

	// Build the chain in reverse order
	wrapped := handler
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		next := wrapped
		wrapped = messaging.RecordHandlerFunc(func(ctx context.Context, request contracts.Packet) (contracts.Packet, error) {
			return interceptor.Intercept(ctx, request, next)
		})
	}
	return wrapped
}

// Built-in interceptors

// LoggingInterceptor logs record handling with timing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error) {
	start := time.Now()

	i.logger.Debug("handling record",
		"packetId", request.GetPacketID(),
		"packetType", request.GetPacketType(),
		"correlationId", request.GetCorrelationID(),
	)

	reply, err := next.HandleRecord(ctx, request)
	duration := time.Since(start)

	if err != nil {
		i.logger.Warn("record handling failed",
			"packetId", request.GetPacketID(),
			"packetType", request.GetPacketType(),
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Info("record handled",
			"packetId", request.GetPacketID(),
			"packetType", request.GetPacketType(),
			"duration", duration,
			"replied", reply != nil,
		)
	}

	return reply, err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// ValidationInterceptor validates requests before handling
type ValidationInterceptor struct {
	validator PacketValidator
}

// PacketValidator defines the interface for request validation
type PacketValidator interface {
	Validate(ctx context.Context, request contracts.Packet) error
}

// PacketValidatorFunc is a function adapter for PacketValidator
type PacketValidatorFunc func(ctx context.Context, request contracts.Packet) error

// Validate implements PacketValidator
func (f PacketValidatorFunc) Validate(ctx context.Context, request contracts.Packet) error {
	return f(ctx, request)
}

// NewValidationInterceptor creates a new validation interceptor
func NewValidationInterceptor(validator PacketValidator) *ValidationInterceptor {
	return &ValidationInterceptor{validator: validator}
}

// Intercept implements Interceptor
func (i *ValidationInterceptor) Intercept(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error) {
	if err := i.validator.Validate(ctx, request); err != nil {
		return nil, fmt.Errorf("record validation failed: %w", err)
	}

	return next.HandleRecord(ctx, request)
}

// Name implements Interceptor
func (i *ValidationInterceptor) Name() string {
	return "ValidationInterceptor"
}

// TimeoutInterceptor bounds handler execution time
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor. The handler keeps running after the timeout
// with a cancelled context; its reply is discarded.
func (i *TimeoutInterceptor) Intercept(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	type result struct {
		reply contracts.Packet
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := next.HandleRecord(timeoutCtx, request)
		done <- result{reply: reply, err: err}
	}()

	select {
	case r := <-done:
		return r.reply, r.err
	case <-timeoutCtx.Done():
		return nil, fmt.Errorf("record handling timeout after %v for packet %s: %w",
			i.timeout, request.GetPacketID(), timeoutCtx.Err())
	}
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// Default interceptor chain builder

// DefaultInterceptorChainBuilder builds a common interceptor chain
type DefaultInterceptorChainBuilder struct {
	chain  *InterceptorChain
	logger *slog.Logger
}

// NewDefaultInterceptorChainBuilder creates a new builder
func NewDefaultInterceptorChainBuilder(logger *slog.Logger) *DefaultInterceptorChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &DefaultInterceptorChainBuilder{
		chain:  NewInterceptorChain(logger),
		logger: logger,
	}
}

// WithLogging adds logging interceptor
func (b *DefaultInterceptorChainBuilder) WithLogging() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewLoggingInterceptor(b.logger))
	return b
}

// WithValidation adds validation interceptor
func (b *DefaultInterceptorChainBuilder) WithValidation(validator PacketValidator) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewValidationInterceptor(validator))
	return b
}

// WithTimeout adds timeout interceptor
func (b *DefaultInterceptorChainBuilder) WithTimeout(timeout time.Duration) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewTimeoutInterceptor(timeout))
	return b
}

// WithFilter adds a filtering interceptor
func (b *DefaultInterceptorChainBuilder) WithFilter(filter PacketFilter, skipBehavior SkipBehavior) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewFilteringInterceptor(filter, skipBehavior).WithLogger(b.logger))
	return b
}

// WithCustom adds a custom interceptor
func (b *DefaultInterceptorChainBuilder) WithCustom(interceptor Interceptor) *DefaultInterceptorChainBuilder {
	b.chain.Add(interceptor)
	return b
}

// Build returns the built interceptor chain
func (b *DefaultInterceptorChainBuilder) Build() *InterceptorChain {
	return b.chain
}
