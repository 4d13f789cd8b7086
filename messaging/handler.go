package messaging

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/glimte/recordbus/contracts"
)

// RecordHandler computes a reply from an inbound request packet. Returning a nil
// packet means no reply is published; the sender then observes a timeout.
type RecordHandler interface {
	HandleRecord(ctx context.Context, request contracts.Packet) (contracts.Packet, error)
}

// RecordHandlerFunc is a function adapter for RecordHandler
type RecordHandlerFunc func(ctx context.Context, request contracts.Packet) (contracts.Packet, error)

// HandleRecord implements RecordHandler
func (f RecordHandlerFunc) HandleRecord(ctx context.Context, request contracts.Packet) (contracts.Packet, error) {
	return f(ctx, request)
}

// TypedHandler adapts a function over concrete packet types to a RecordHandler
func TypedHandler[P, R contracts.Packet](fn func(ctx context.Context, request P) (R, error)) RecordHandler {
	return RecordHandlerFunc(func(ctx context.Context, request contracts.Packet) (contracts.Packet, error) {
		typed, ok := request.(P)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected request type %T", contracts.ErrInvalidPacket, request)
		}

		reply, err := fn(ctx, typed)
		if err != nil {
			return nil, err
		}
		if isNilPacket(reply) {
			return nil, nil
		}
		return reply, nil
	})
}

// HandlerRegistry is a one-to-one binding of record types to handlers.
// Bindings are added at setup time and never removed.
type HandlerRegistry struct {
	handlers map[string]RecordHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]RecordHandler),
	}
}

// Bind registers a handler for a record type. Binding a type twice fails with
// ErrHandlerAlreadyBound and keeps the first binding.
func (r *HandlerRegistry) Bind(recordType string, handler RecordHandler) error {
	if recordType == "" {
		return fmt.Errorf("record type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[recordType]; exists {
		return fmt.Errorf("%w: %s", contracts.ErrHandlerAlreadyBound, recordType)
	}

	r.handlers[recordType] = handler
	return nil
}

// IsBound reports whether a handler is bound to the record type
func (r *HandlerRegistry) IsBound(recordType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.handlers[recordType]
	return exists
}

// Lookup returns the handler bound to the record type
func (r *HandlerRegistry) Lookup(recordType string) (RecordHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.handlers[recordType]
	return handler, exists
}

// Types returns the bound record types, sorted
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// isNilPacket reports whether p is nil or a typed nil pointer
func isNilPacket(p contracts.Packet) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
