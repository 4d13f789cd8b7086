package messaging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/recordbus/contracts"
	"github.com/google/uuid"
)

// RecordState is the lifecycle state of a record
type RecordState int32

const (
	RecordCreated RecordState = iota
	RecordSent
	RecordReplied
	RecordTimedOut
)

func (s RecordState) String() string {
	switch s {
	case RecordCreated:
		return "created"
	case RecordSent:
		return "sent"
	case RecordReplied:
		return "replied"
	case RecordTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Sendable is an in-flight request handle accepted by RecordManager.Send.
// It is implemented by *Record.
type Sendable interface {
	RecordType() string
	CorrelationID() string
	SentPacket() contracts.Packet
	Channel() string
	Timeout() time.Duration
	SentAt() time.Time
	State() RecordState

	prepare(channel string) error
	markSent(at time.Time) error
	complete(reply contracts.Packet)
	timeout()
}

// RecordConfig is the pre-send configuration of a record. It is copied into the
// record at construction and cannot change afterwards.
type RecordConfig[P, R contracts.Packet] struct {
	// Timeout bounds the wait for a reply; zero uses the manager default
	Timeout time.Duration

	// OnReply is called with the reply packet
	OnReply func(reply R)

	// OnTimeout is called with the sent packet when no reply arrived in time
	OnTimeout func(sent P)
}

// Record wraps one outgoing packet P that expects one reply packet R.
// Exactly one of OnReply and OnTimeout is invoked, at most once.
type Record[P, R contracts.Packet] struct {
	recordType    string
	correlationID string
	packet        P
	config        RecordConfig[P, R]
	state         atomic.Int32

	mu      sync.RWMutex
	channel string
	sentAt  time.Time
}

// NewRecord creates a record of the given type around packet. The record type is the
// routing tag receivers bind handlers to. A new correlation ID is generated and
// copied onto the packet.
func NewRecord[P, R contracts.Packet](recordType string, packet P, config RecordConfig[P, R]) *Record[P, R] {
	correlationID := uuid.New().String()

	r := &Record[P, R]{
		recordType:    recordType,
		correlationID: correlationID,
		packet:        packet,
		config:        config,
	}

	if !isNilPacket(packet) {
		packet.SetCorrelationID(correlationID)
		r.channel = packet.GetChannel()
	}

	return r
}

// RecordType returns the routing tag
func (r *Record[P, R]) RecordType() string {
	return r.recordType
}

// CorrelationID returns the correlation ID linking request and reply
func (r *Record[P, R]) CorrelationID() string {
	return r.correlationID
}

// Packet returns the typed packet being sent
func (r *Record[P, R]) Packet() P {
	return r.packet
}

// SentPacket returns the packet being sent
func (r *Record[P, R]) SentPacket() contracts.Packet {
	return r.packet
}

// Channel returns the request channel of the record
func (r *Record[P, R]) Channel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Timeout returns the configured timeout
func (r *Record[P, R]) Timeout() time.Duration {
	return r.config.Timeout
}

// SentAt returns when the record was handed to the transport
func (r *Record[P, R]) SentAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sentAt
}

// State returns the lifecycle state
func (r *Record[P, R]) State() RecordState {
	return RecordState(r.state.Load())
}

func (r *Record[P, R]) prepare(channel string) error {
	if r.State() != RecordCreated {
		return contracts.ErrRecordAlreadySent
	}
	if isNilPacket(r.packet) {
		return contracts.ErrInvalidPacket
	}

	r.mu.Lock()
	if r.channel == "" {
		r.channel = channel
	}
	r.packet.SetChannel(r.channel)
	r.mu.Unlock()

	return nil
}

func (r *Record[P, R]) markSent(at time.Time) error {
	if !r.state.CompareAndSwap(int32(RecordCreated), int32(RecordSent)) {
		return contracts.ErrRecordAlreadySent
	}

	r.mu.Lock()
	r.sentAt = at
	r.mu.Unlock()

	return nil
}

// complete delivers the reply. Without an OnReply callback, or when the reply is not
// an R, the record degrades to the timeout path with the sent packet's status set
// to No Content (or Unsupported Media Type for a mistyped reply).
func (r *Record[P, R]) complete(reply contracts.Packet) {
	if !r.state.CompareAndSwap(int32(RecordSent), int32(RecordReplied)) {
		return
	}

	typed, ok := reply.(R)
	if r.config.OnReply != nil && ok {
		r.config.OnReply(typed)
		return
	}

	status := contracts.StatusNoContent
	if r.config.OnReply != nil {
		status = contracts.StatusUnsupportedMedia
	}
	r.packet.SetStatus(status)
	r.state.Store(int32(RecordTimedOut))

	if r.config.OnTimeout != nil {
		r.config.OnTimeout(r.packet)
	}
}

func (r *Record[P, R]) timeout() {
	if !r.state.CompareAndSwap(int32(RecordSent), int32(RecordTimedOut)) {
		return
	}

	if r.config.OnTimeout != nil {
		r.config.OnTimeout(r.packet)
	}
}
