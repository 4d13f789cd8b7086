package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/messaging"
)

const maxSamples = 100

// RecordMetricsCollector is an in-memory messaging.MetricsCollector
type RecordMetricsCollector struct {
	mu sync.RWMutex

	counters     map[string]*RecordCounters
	roundTrips   map[string]*TimeStats
	handlerTimes map[string]*TimeStats
	dropped      map[contracts.DispatchStage]int64
	startedAt    time.Time
}

// RecordCounters counts record outcomes for one record type
type RecordCounters struct {
	Sent          int64 `json:"sent"`
	PublishFailed int64 `json:"publish_failed"`
	Replied       int64 `json:"replied"`
	TimedOut      int64 `json:"timed_out"`
	Handled       int64 `json:"handled"`
	HandlerErrors int64 `json:"handler_errors"`
}

// TimeStats tracks timing statistics
type TimeStats struct {
	Count   int64
	TotalMs int64
	MinMs   int64
	MaxMs   int64
	samples []int64 // last maxSamples, for percentiles
}

func (s *TimeStats) add(d time.Duration) {
	ms := d.Milliseconds()
	if s.Count == 0 || ms < s.MinMs {
		s.MinMs = ms
	}
	if ms > s.MaxMs {
		s.MaxMs = ms
	}
	s.Count++
	s.TotalMs += ms

	if len(s.samples) >= maxSamples {
		s.samples = s.samples[1:]
	}
	s.samples = append(s.samples, ms)
}

func (s *TimeStats) summary() LatencyStats {
	stats := LatencyStats{
		Count: s.Count,
		MinMs: s.MinMs,
		MaxMs: s.MaxMs,
	}
	if s.Count > 0 {
		stats.AvgMs = s.TotalMs / s.Count
	}
	if len(s.samples) > 0 {
		sorted := make([]int64, len(s.samples))
		copy(sorted, s.samples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		stats.P50Ms = percentile(sorted, 0.50)
		stats.P95Ms = percentile(sorted, 0.95)
		stats.P99Ms = percentile(sorted, 0.99)
	}
	return stats
}

// NewRecordMetricsCollector creates an empty collector
func NewRecordMetricsCollector() *RecordMetricsCollector {
	return &RecordMetricsCollector{
		counters:     make(map[string]*RecordCounters),
		roundTrips:   make(map[string]*TimeStats),
		handlerTimes: make(map[string]*TimeStats),
		dropped:      make(map[contracts.DispatchStage]int64),
		startedAt:    time.Now(),
	}
}

// RecordSent implements messaging.MetricsCollector
func (c *RecordMetricsCollector) RecordSent(recordType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countersFor(recordType).Sent++
}

// RecordPublishFailed implements messaging.MetricsCollector
func (c *RecordMetricsCollector) RecordPublishFailed(recordType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countersFor(recordType).PublishFailed++
}

// RecordReplied implements messaging.MetricsCollector
func (c *RecordMetricsCollector) RecordReplied(recordType string, roundTrip time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countersFor(recordType).Replied++
	statsFor(c.roundTrips, recordType).add(roundTrip)
}

// RecordTimedOut implements messaging.MetricsCollector
func (c *RecordMetricsCollector) RecordTimedOut(recordType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countersFor(recordType).TimedOut++
}

// RecordHandled implements messaging.MetricsCollector
func (c *RecordMetricsCollector) RecordHandled(recordType string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	counters := c.countersFor(recordType)
	counters.Handled++
	if err != nil {
		counters.HandlerErrors++
	}
	statsFor(c.handlerTimes, recordType).add(duration)
}

// RecordDropped implements messaging.MetricsCollector
func (c *RecordMetricsCollector) RecordDropped(stage contracts.DispatchStage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[stage]++
}

// GetMetricsSummary returns a snapshot of all collected metrics
func (c *RecordMetricsCollector) GetMetricsSummary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		Records:      make(map[string]RecordCounters, len(c.counters)),
		RoundTrips:   make(map[string]LatencyStats, len(c.roundTrips)),
		HandlerTimes: make(map[string]LatencyStats, len(c.handlerTimes)),
		Dropped:      make(map[contracts.DispatchStage]int64, len(c.dropped)),
		Uptime:       time.Since(c.startedAt),
	}

	for recordType, counters := range c.counters {
		summary.Records[recordType] = *counters
		summary.Totals.Sent += counters.Sent
		summary.Totals.PublishFailed += counters.PublishFailed
		summary.Totals.Replied += counters.Replied
		summary.Totals.TimedOut += counters.TimedOut
		summary.Totals.Handled += counters.Handled
		summary.Totals.HandlerErrors += counters.HandlerErrors
	}
	for recordType, stats := range c.roundTrips {
		summary.RoundTrips[recordType] = stats.summary()
	}
	for recordType, stats := range c.handlerTimes {
		summary.HandlerTimes[recordType] = stats.summary()
	}
	for stage, count := range c.dropped {
		summary.Dropped[stage] = count
	}

	return summary
}

// Reset clears all collected metrics
func (c *RecordMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters = make(map[string]*RecordCounters)
	c.roundTrips = make(map[string]*TimeStats)
	c.handlerTimes = make(map[string]*TimeStats)
	c.dropped = make(map[contracts.DispatchStage]int64)
	c.startedAt = time.Now()
}

// countersFor returns the counters of a record type. Caller holds c.mu.
func (c *RecordMetricsCollector) countersFor(recordType string) *RecordCounters {
	counters, ok := c.counters[recordType]
	if !ok {
		counters = &RecordCounters{}
		c.counters[recordType] = counters
	}
	return counters
}

func statsFor(m map[string]*TimeStats, recordType string) *TimeStats {
	stats, ok := m[recordType]
	if !ok {
		stats = &TimeStats{samples: make([]int64, 0, maxSamples)}
		m[recordType] = stats
	}
	return stats
}

// percentile reads a percentile from sorted samples
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// MetricsSummary represents a snapshot of all metrics
type MetricsSummary struct {
	Records      map[string]RecordCounters         `json:"records"`
	Totals       RecordCounters                    `json:"totals"`
	RoundTrips   map[string]LatencyStats           `json:"round_trips"`
	HandlerTimes map[string]LatencyStats           `json:"handler_times"`
	Dropped      map[contracts.DispatchStage]int64 `json:"dropped"`
	Uptime       time.Duration                     `json:"uptime"`
}

// LatencyStats represents timing statistics for a record type
type LatencyStats struct {
	Count int64 `json:"count"`
	AvgMs int64 `json:"avg_ms"`
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
	P50Ms int64 `json:"p50_ms"`
	P95Ms int64 `json:"p95_ms"`
	P99Ms int64 `json:"p99_ms"`
}

var _ messaging.MetricsCollector = (*RecordMetricsCollector)(nil)
