package health

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Pinger is implemented by transports that can check broker reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// TransportChecker pings the transport
type TransportChecker struct {
	name   string
	pinger Pinger
}

// NewTransportChecker creates a transport checker named after the transport kind
func NewTransportChecker(name string, pinger Pinger) *TransportChecker {
	return &TransportChecker{name: name, pinger: pinger}
}

func (c *TransportChecker) Name() string {
	return "transport_" + c.name
}

func (c *TransportChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	if err := c.pinger.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Transport unreachable"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusHealthy
	result.Message = "Transport is reachable"
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// PendingCounter reports how many records await a reply
type PendingCounter interface {
	PendingCount() int
}

// PendingChecker degrades when too many records are in flight
type PendingChecker struct {
	counter           PendingCounter
	warningThreshold  int
	criticalThreshold int
}

// NewPendingChecker creates a pending record checker; a threshold of zero disables it
func NewPendingChecker(counter PendingCounter, warningThreshold, criticalThreshold int) *PendingChecker {
	return &PendingChecker{
		counter:           counter,
		warningThreshold:  warningThreshold,
		criticalThreshold: criticalThreshold,
	}
}

func (c *PendingChecker) Name() string {
	return "pending_records"
}

func (c *PendingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	pending := c.counter.PendingCount()

	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("%d records pending", pending),
		Timestamp: start,
		Details:   map[string]interface{}{"pending": pending},
	}

	switch {
	case c.criticalThreshold > 0 && pending >= c.criticalThreshold:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many pending records: %d", pending)
	case c.warningThreshold > 0 && pending >= c.warningThreshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High pending record count: %d", pending)
	}

	result.Duration = time.Since(start)
	return result
}

// RuntimeChecker checks goroutine count and reports memory statistics
type RuntimeChecker struct {
	warningGoroutines  int
	criticalGoroutines int
}

// NewRuntimeChecker creates a runtime checker
func NewRuntimeChecker(warningGoroutines, criticalGoroutines int) *RuntimeChecker {
	return &RuntimeChecker{
		warningGoroutines:  warningGoroutines,
		criticalGoroutines: criticalGoroutines,
	}
}

func (c *RuntimeChecker) Name() string {
	return "runtime"
}

func (c *RuntimeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case c.criticalGoroutines > 0 && goroutines > c.criticalGoroutines:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case c.warningGoroutines > 0 && goroutines > c.warningGoroutines:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}
