package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/glimte/recordbus/contracts"
)

// Codec converts packets and envelopes to and from their text wire form
type Codec interface {
	EncodePacket(packet contracts.Packet) (string, error)
	DecodePacket(data string) (contracts.Packet, error)
	EncodeEnvelope(env *contracts.Envelope) (string, error)
	DecodeEnvelope(data string) (*contracts.Envelope, error)
}

// JSONCodec implements Codec using JSON. Packets are decoded polymorphically by
// reading their packetType tag and instantiating the registered factory.
type JSONCodec struct {
	registry    TypeRegistry
	prettyPrint bool
}

// JSONCodecOption configures the JSON codec
type JSONCodecOption func(*JSONCodec)

// WithPrettyPrint enables indented output
func WithPrettyPrint(pretty bool) JSONCodecOption {
	return func(c *JSONCodec) {
		c.prettyPrint = pretty
	}
}

// NewJSONCodec creates a codec bound to the given registry
func NewJSONCodec(registry TypeRegistry, opts ...JSONCodecOption) *JSONCodec {
	c := &JSONCodec{
		registry: registry,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Registry returns the type registry used for decoding
func (c *JSONCodec) Registry() TypeRegistry {
	return c.registry
}

// EncodePacket serializes a packet
func (c *JSONCodec) EncodePacket(packet contracts.Packet) (string, error) {
	if packet == nil {
		return "", fmt.Errorf("packet cannot be nil")
	}
	if packet.GetPacketType() == "" {
		return "", fmt.Errorf("%w: missing packet type", contracts.ErrInvalidPacket)
	}

	data, err := c.marshal(packet)
	if err != nil {
		return "", fmt.Errorf("failed to marshal packet %s: %w", packet.GetPacketType(), err)
	}
	return string(data), nil
}

// DecodePacket deserializes a packet into the concrete type registered for its tag
func (c *JSONCodec) DecodePacket(data string) (contracts.Packet, error) {
	if data == "" {
		return nil, fmt.Errorf("%w: empty data", contracts.ErrInvalidPacket)
	}

	var header struct {
		PacketType string `json:"packetType"`
	}
	if err := json.Unmarshal([]byte(data), &header); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrInvalidPacket, err)
	}
	if header.PacketType == "" {
		return nil, fmt.Errorf("%w: missing packet type", contracts.ErrInvalidPacket)
	}

	packet, err := c.registry.CreateInstance(header.PacketType)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(data), packet); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into %s: %w", header.PacketType, err)
	}

	return packet, nil
}

// EncodeEnvelope serializes an envelope
func (c *JSONCodec) EncodeEnvelope(env *contracts.Envelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("envelope cannot be nil")
	}

	data, err := c.marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(data), nil
}

// DecodeEnvelope deserializes an envelope
func (c *JSONCodec) DecodeEnvelope(data string) (*contracts.Envelope, error) {
	if data == "" {
		return nil, fmt.Errorf("data cannot be empty")
	}

	var env contracts.Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.DeclaredRecordType == "" {
		return nil, fmt.Errorf("envelope missing declared record type")
	}

	return &env, nil
}

func (c *JSONCodec) marshal(v interface{}) ([]byte, error) {
	if c.prettyPrint {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}
