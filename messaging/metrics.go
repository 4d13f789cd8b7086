package messaging

import (
	"time"

	"github.com/glimte/recordbus/contracts"
)

// MetricsCollector collects record manager metrics
type MetricsCollector interface {
	// RecordSent records a request handed to the transport
	RecordSent(recordType string)

	// RecordPublishFailed records a request or reply that could not be published
	RecordPublishFailed(recordType string)

	// RecordReplied records a reply matched to a pending record
	RecordReplied(recordType string, roundTrip time.Duration)

	// RecordTimedOut records a pending record that expired or was drained
	RecordTimedOut(recordType string)

	// RecordHandled records a handler invocation on the receiving side
	RecordHandled(recordType string, duration time.Duration, err error)

	// RecordDropped records an inbound message discarded by the dispatch pipeline
	RecordDropped(stage contracts.DispatchStage)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordSent does nothing
func (n *NoOpMetricsCollector) RecordSent(recordType string) {}

// RecordPublishFailed does nothing
func (n *NoOpMetricsCollector) RecordPublishFailed(recordType string) {}

// RecordReplied does nothing
func (n *NoOpMetricsCollector) RecordReplied(recordType string, roundTrip time.Duration) {}

// RecordTimedOut does nothing
func (n *NoOpMetricsCollector) RecordTimedOut(recordType string) {}

// RecordHandled does nothing
func (n *NoOpMetricsCollector) RecordHandled(recordType string, duration time.Duration, err error) {}

// RecordDropped does nothing
func (n *NoOpMetricsCollector) RecordDropped(stage contracts.DispatchStage) {}
