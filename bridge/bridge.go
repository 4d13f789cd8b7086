package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/messaging"
)

// ErrTimeout is returned when no usable reply arrived before the deadline
var ErrTimeout = errors.New("bridge: request timed out")

// Sender sends records; *messaging.RecordManager implements it
type Sender interface {
	SendWithTimeout(ctx context.Context, record messaging.Sendable, timeout time.Duration) error
}

// TimeoutError describes a call that ended on the timeout path
type TimeoutError struct {
	RecordType    string
	CorrelationID string
	Timeout       time.Duration
	// Status is Request Timeout when no reply arrived. No Content or
	// Unsupported Media Type mean a reply arrived but could not be delivered.
	Status contracts.Status
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bridge: %s request %s timed out after %v (status %s)",
		e.RecordType, e.CorrelationID, e.Timeout, e.Status)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// Bridge turns record callbacks into blocking calls
type Bridge struct {
	sender         Sender
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// BridgeOption configures the bridge
type BridgeOption func(*Bridge)

// WithDefaultTimeout sets the timeout used by Call
func WithDefaultTimeout(timeout time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.defaultTimeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// NewBridge creates a bridge over sender
func NewBridge(sender Sender, opts ...BridgeOption) (*Bridge, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}

	b := &Bridge{
		sender:         sender,
		defaultTimeout: messaging.DefaultTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.defaultTimeout <= 0 {
		return nil, fmt.Errorf("default timeout must be positive")
	}

	return b, nil
}

// Call sends request as recordType and blocks until the reply, the bridge's
// default timeout, or ctx is done.
func Call[P, R contracts.Packet](ctx context.Context, b *Bridge, recordType string, request P) (R, error) {
	return CallWithTimeout[P, R](ctx, b, recordType, request, b.defaultTimeout)
}

// CallWithTimeout is Call with an explicit timeout. A ctx deadline earlier than
// timeout shortens it.
func CallWithTimeout[P, R contracts.Packet](ctx context.Context, b *Bridge, recordType string, request P, timeout time.Duration) (R, error) {
	var zero R

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return zero, context.DeadlineExceeded
	}

	type outcome struct {
		reply    R
		timedOut bool
	}
	done := make(chan outcome, 1)

	record := messaging.NewRecord(recordType, request, messaging.RecordConfig[P, R]{
		Timeout: timeout,
		OnReply: func(reply R) {
			done <- outcome{reply: reply}
		},
		OnTimeout: func(sent P) {
			done <- outcome{timedOut: true}
		},
	})

	requestStatus := request.GetStatus()
	if err := b.sender.SendWithTimeout(ctx, record, timeout); err != nil {
		return zero, err
	}

	select {
	case result := <-done:
		if result.timedOut {
			b.logger.Debug("bridge call timed out",
				"recordType", recordType,
				"correlationId", record.CorrelationID(),
				"timeout", timeout)
			status := request.GetStatus()
			if status == requestStatus {
				status = contracts.StatusRequestTimeout
			}
			return zero, &TimeoutError{
				RecordType:    recordType,
				CorrelationID: record.CorrelationID(),
				Timeout:       timeout,
				Status:        status,
			}
		}
		return result.reply, nil

	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
