package serialization

import (
	"fmt"
	"sort"
	"sync"

	"github.com/glimte/recordbus/contracts"
)

// PacketFactory creates an empty packet instance to decode into
type PacketFactory func() contracts.Packet

// TypeRegistry maps packet type tags to factories
type TypeRegistry interface {
	// Register binds a packet type tag to a factory
	Register(packetType string, factory PacketFactory) error

	// CreateInstance creates a new empty packet for the tag
	CreateInstance(packetType string) (contracts.Packet, error)

	// IsRegistered checks if a tag is registered
	IsRegistered(packetType string) bool

	// ListTypes returns all registered tags, sorted
	ListTypes() []string
}

// PacketRegistry is the default TypeRegistry. Tags are assigned explicitly by the
// application; nothing is inferred from Go type names.
type PacketRegistry struct {
	factories map[string]PacketFactory
	mu        sync.RWMutex
}

// NewPacketRegistry creates an empty registry
func NewPacketRegistry() *PacketRegistry {
	return &PacketRegistry{
		factories: make(map[string]PacketFactory),
	}
}

// Register binds a packet type tag to a factory. The factory must produce packets
// reporting the same tag.
func (r *PacketRegistry) Register(packetType string, factory PacketFactory) error {
	if packetType == "" {
		return fmt.Errorf("packet type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[packetType]; exists {
		return fmt.Errorf("packet type %s already registered", packetType)
	}

	r.factories[packetType] = factory
	return nil
}

// MustRegister is Register for program setup; it panics on error
func (r *PacketRegistry) MustRegister(packetType string, factory PacketFactory) {
	if err := r.Register(packetType, factory); err != nil {
		panic(err)
	}
}

// CreateInstance creates a new empty packet for the tag
func (r *PacketRegistry) CreateInstance(packetType string) (contracts.Packet, error) {
	r.mu.RLock()
	factory, exists := r.factories[packetType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", contracts.ErrUnknownPacketType, packetType)
	}

	packet := factory()
	if packet == nil {
		return nil, fmt.Errorf("factory for %s returned nil", packetType)
	}
	return packet, nil
}

// IsRegistered checks if a tag is registered
func (r *PacketRegistry) IsRegistered(packetType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[packetType]
	return exists
}

// ListTypes returns all registered tags, sorted
func (r *PacketRegistry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for packetType := range r.factories {
		types = append(types, packetType)
	}
	sort.Strings(types)

	return types
}
