package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/messaging"
)

// ErrFiltered is returned by a FilteringInterceptor using SkipWithError
var ErrFiltered = errors.New("record filtered")

// PacketFilter decides whether a request reaches the handler
type PacketFilter interface {
	// ShouldProcess returns true if the request should be handled
	ShouldProcess(ctx context.Context, request contracts.Packet) (bool, error)
}

// PacketFilterFunc is a function adapter for PacketFilter
type PacketFilterFunc func(ctx context.Context, request contracts.Packet) (bool, error)

// ShouldProcess implements PacketFilter
func (f PacketFilterFunc) ShouldProcess(ctx context.Context, request contracts.Packet) (bool, error) {
	return f(ctx, request)
}

// SkipBehavior defines what happens when a request is filtered out
type SkipBehavior int

const (
	// SkipSilently yields no reply and no error; the sender times out
	SkipSilently SkipBehavior = iota
	// SkipWithError returns ErrFiltered
	SkipWithError
	// SkipWithLog yields no reply and logs the skip
	SkipWithLog
)

// FilteringInterceptor filters requests based on conditions
type FilteringInterceptor struct {
	filter       PacketFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter PacketFilter, skipBehavior SkipBehavior) *FilteringInterceptor {
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger used by SkipWithLog
func (i *FilteringInterceptor) WithLogger(logger *slog.Logger) *FilteringInterceptor {
	if logger != nil {
		i.logger = logger
	}
	return i
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error) {
	shouldProcess, err := i.filter.ShouldProcess(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("filter error: %w", err)
	}

	if !shouldProcess {
		switch i.skipBehavior {
		case SkipWithError:
			return nil, fmt.Errorf("%w: type=%s, id=%s", ErrFiltered, request.GetPacketType(), request.GetPacketID())
		case SkipWithLog:
			i.logger.Info("record filtered",
				"packetType", request.GetPacketType(),
				"packetId", request.GetPacketID())
			return nil, nil
		default:
			return nil, nil
		}
	}

	return next.HandleRecord(ctx, request)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []PacketFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...PacketFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements PacketFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, request contracts.Packet) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, request)
		if err != nil {
			return false, err
		}
		if !shouldProcess {
			return false, nil
		}
	}
	return true, nil
}

// OrFilter combines multiple filters with OR logic
type OrFilter struct {
	filters []PacketFilter
}

// NewOrFilter creates a new OR filter
func NewOrFilter(filters ...PacketFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// ShouldProcess implements PacketFilter - at least one filter must return true
func (f *OrFilter) ShouldProcess(ctx context.Context, request contracts.Packet) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, request)
		if err != nil {
			return false, err
		}
		if shouldProcess {
			return true, nil
		}
	}
	return false, nil
}

// PacketTypeFilter allows only the listed packet types
type PacketTypeFilter struct {
	allowedTypes map[string]bool
}

// NewPacketTypeFilter creates a filter that only allows specific packet types
func NewPacketTypeFilter(allowedTypes ...string) *PacketTypeFilter {
	typeMap := make(map[string]bool)
	for _, t := range allowedTypes {
		typeMap[t] = true
	}
	return &PacketTypeFilter{allowedTypes: typeMap}
}

// ShouldProcess implements PacketFilter
func (f *PacketTypeFilter) ShouldProcess(ctx context.Context, request contracts.Packet) (bool, error) {
	return f.allowedTypes[request.GetPacketType()], nil
}

// ConditionalInterceptor executes an interceptor only if a condition is met
type ConditionalInterceptor struct {
	condition   PacketFilter
	interceptor Interceptor
}

// NewConditionalInterceptor creates a new conditional interceptor
func NewConditionalInterceptor(condition PacketFilter, interceptor Interceptor) *ConditionalInterceptor {
	return &ConditionalInterceptor{
		condition:   condition,
		interceptor: interceptor,
	}
}

// Intercept implements Interceptor
func (i *ConditionalInterceptor) Intercept(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error) {
	shouldExecute, err := i.condition.ShouldProcess(ctx, request)
	if err != nil {
		return nil, err
	}

	if shouldExecute {
		return i.interceptor.Intercept(ctx, request, next)
	}

	return next.HandleRecord(ctx, request)
}

// Name implements Interceptor
func (i *ConditionalInterceptor) Name() string {
	return fmt.Sprintf("ConditionalInterceptor[%s]", i.interceptor.Name())
}
