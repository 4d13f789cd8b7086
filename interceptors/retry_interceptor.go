package interceptors

import (
	"context"
	"log/slog"

	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/internal/reliability"
	"github.com/glimte/recordbus/messaging"
)

// RetryInterceptor re-runs a failing handler according to a retry policy.
// Handlers that must not be retried return reliability.Permanent errors.
type RetryInterceptor struct {
	retryPolicy reliability.RetryPolicy
	logger      *slog.Logger
}

// NewRetryInterceptor creates a new retry interceptor
func NewRetryInterceptor(retryPolicy reliability.RetryPolicy) *RetryInterceptor {
	return &RetryInterceptor{
		retryPolicy: retryPolicy,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the retry interceptor
func (r *RetryInterceptor) WithLogger(logger *slog.Logger) *RetryInterceptor {
	r.logger = logger
	return r
}

// Intercept implements the Interceptor interface
func (r *RetryInterceptor) Intercept(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error) {
	var reply contracts.Packet
	attempt := 0
	err := reliability.Retry(ctx, r.retryPolicy, func() error {
		attempt++
		if attempt > 1 {
			r.logger.Debug("retrying record handler",
				"packetId", request.GetPacketID(),
				"attempt", attempt)
		}

		var err error
		reply, err = next.HandleRecord(ctx, request)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Name returns the interceptor name
func (r *RetryInterceptor) Name() string {
	return "RetryInterceptor"
}
