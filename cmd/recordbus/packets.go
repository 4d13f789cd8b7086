package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/messaging"
	"github.com/glimte/recordbus/serialization"
)

// Record and packet types understood by serve and ping
const (
	EchoRecordType  = "echo"
	EchoRequestType = "echo.request"
	EchoReplyType   = "echo.reply"
)

// EchoRequest asks a serving instance to echo Message back
type EchoRequest struct {
	contracts.BasePacket
	Message string `json:"message"`
	Seq     int    `json:"seq"`
}

// EchoReply carries the echoed message and who answered it
type EchoReply struct {
	contracts.BasePacket
	Message   string    `json:"message"`
	Seq       int       `json:"seq"`
	Responder string    `json:"responder"`
	HandledAt time.Time `json:"handledAt"`
}

func newEchoRequest(message string, seq int) *EchoRequest {
	return &EchoRequest{
		BasePacket: contracts.NewBasePacket(EchoRequestType),
		Message:    message,
		Seq:        seq,
	}
}

func registerEchoPackets(registry *serialization.PacketRegistry) error {
	if err := registry.Register(EchoRequestType, func() contracts.Packet { return &EchoRequest{} }); err != nil {
		return err
	}
	return registry.Register(EchoReplyType, func() contracts.Packet { return &EchoReply{} })
}

func echoHandler(responder string) messaging.RecordHandler {
	return messaging.TypedHandler(func(ctx context.Context, req *EchoRequest) (*EchoReply, error) {
		if req.Message == "" {
			return nil, fmt.Errorf("empty echo message (seq %d)", req.Seq)
		}
		return &EchoReply{
			BasePacket: contracts.NewBasePacket(EchoReplyType),
			Message:    req.Message,
			Seq:        req.Seq,
			Responder:  responder,
			HandledAt:  time.Now().UTC(),
		}, nil
	})
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return fmt.Sprintf("%s/%d", name, os.Getpid())
}
