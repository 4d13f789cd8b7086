package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Packet is the interface implemented by every request and reply packet
type Packet interface {
	GetPacketType() string
	GetPacketID() string
	GetCorrelationID() string
	SetCorrelationID(correlationID string)
	GetChannel() string
	SetChannel(channel string)
	GetCreatedAt() time.Time
	GetStatus() Status
	SetStatus(status Status)
	IsReply() bool
	SetReply(reply bool)
}

// BasePacket provides the common header fields for all packets.
// Embed it in a concrete packet struct to implement Packet.
type BasePacket struct {
	PacketType    string    `json:"packetType"`
	PacketID      string    `json:"packetId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Channel       string    `json:"channel,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Status        Status    `json:"status"`
	Reply         bool      `json:"isReply"`
}

// NewBasePacket creates a packet header with a fresh identity and StatusOK
func NewBasePacket(packetType string) BasePacket {
	return NewBasePacketWithStatus(packetType, StatusOK)
}

// NewBasePacketWithStatus creates a packet header with a fresh identity and the given status
func NewBasePacketWithStatus(packetType string, status Status) BasePacket {
	return BasePacket{
		PacketType: packetType,
		PacketID:   uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
		Status:     status,
	}
}

// GetPacketType returns the packet type tag
func (p BasePacket) GetPacketType() string {
	return p.PacketType
}

// GetPacketID returns the per-send packet identity
func (p BasePacket) GetPacketID() string {
	return p.PacketID
}

// GetCorrelationID returns the correlation ID
func (p BasePacket) GetCorrelationID() string {
	return p.CorrelationID
}

// SetCorrelationID sets the correlation ID
func (p *BasePacket) SetCorrelationID(correlationID string) {
	p.CorrelationID = correlationID
}

// GetChannel returns the request channel the packet travels on
func (p BasePacket) GetChannel() string {
	return p.Channel
}

// SetChannel sets the request channel
func (p *BasePacket) SetChannel(channel string) {
	p.Channel = channel
}

// GetCreatedAt returns the creation timestamp
func (p BasePacket) GetCreatedAt() time.Time {
	return p.CreatedAt
}

// GetStatus returns the reply-status classification
func (p BasePacket) GetStatus() Status {
	return p.Status
}

// SetStatus sets the reply-status classification
func (p *BasePacket) SetStatus(status Status) {
	p.Status = status
}

// IsReply reports whether the packet is a reply
func (p BasePacket) IsReply() bool {
	return p.Reply
}

// SetReply flags the packet as a reply
func (p *BasePacket) SetReply(reply bool) {
	p.Reply = reply
}
