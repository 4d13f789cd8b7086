package contracts

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrHandlerAlreadyBound = errors.New("recordbus: handler already bound for record type")
	ErrHandlerNotFound     = errors.New("recordbus: no handler bound for record type")
	ErrManagerNotStarted   = errors.New("recordbus: record manager not started")
	ErrManagerClosed       = errors.New("recordbus: record manager closed")
	ErrRecordAlreadySent   = errors.New("recordbus: record already sent")

	// Codec errors
	ErrUnknownPacketType = errors.New("recordbus: unknown packet type")
	ErrInvalidPacket     = errors.New("recordbus: invalid packet")

	// Transport errors
	ErrTransportClosed = errors.New("recordbus: transport closed")
)

// DispatchStage names the step of inbound processing at which a message was dropped
type DispatchStage string

const (
	StageDecodeEnvelope DispatchStage = "decode_envelope"
	StageUnboundType    DispatchStage = "unbound_type"
	StageDecodePacket   DispatchStage = "decode_packet"
	StageReplyOnRequest DispatchStage = "reply_on_request"
	StageNotReply       DispatchStage = "not_reply"
	StageDuplicate      DispatchStage = "duplicate"
	StageHandler        DispatchStage = "handler"
	StagePublishReply   DispatchStage = "publish_reply"
	StageUnknownReply   DispatchStage = "unknown_correlation"
	StageLateReply      DispatchStage = "late_reply"
)

// DispatchError describes an inbound message that was dropped
type DispatchError struct {
	Stage      DispatchStage
	Channel    string
	RecordType string
	PacketID   string
	Err        error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch dropped at %s on %s: %v", e.Stage, e.Channel, e.Err)
	}
	return fmt.Sprintf("dispatch dropped at %s on %s", e.Stage, e.Channel)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
