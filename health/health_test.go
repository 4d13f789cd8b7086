package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(name string, status Status) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) CheckResult {
		return CheckResult{Name: name, Status: status}
	})
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type pendingCount int

func (p pendingCount) PendingCount() int { return int(p) }

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("empty registry is healthy", func(t *testing.T) {
		health := NewRegistry().Check(ctx)
		assert.Equal(t, StatusHealthy, health.Status)
		assert.Empty(t, health.Checks)
	})

	t.Run("worst status wins", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixed("a", StatusHealthy))
		r.Register(fixed("b", StatusDegraded))
		assert.Equal(t, StatusDegraded, r.Check(ctx).Status)

		r.Register(fixed("c", StatusUnhealthy))
		health := r.Check(ctx)
		assert.Equal(t, StatusUnhealthy, health.Status)
		assert.Equal(t, []string{"a", "b", "c"}, health.Names())

		r.Unregister("c")
		assert.Equal(t, StatusDegraded, r.Check(ctx).Status)
	})

	t.Run("slow checks time out", func(t *testing.T) {
		r := NewRegistry()
		r.Register(NewCheckerFunc("slow", func(ctx context.Context) CheckResult {
			time.Sleep(200 * time.Millisecond)
			return CheckResult{Name: "slow", Status: StatusHealthy}
		}))

		timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		health := r.Check(timeoutCtx)
		assert.Equal(t, StatusUnhealthy, health.Status)
		assert.Equal(t, "Check timed out", health.Checks["slow"].Message)
	})

	t.Run("metadata is reported", func(t *testing.T) {
		r := NewRegistry()
		r.SetMetadata("transport", "redis")
		assert.Equal(t, "redis", r.Check(ctx).Metadata["transport"])
	})
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	t.Run("transport checker", func(t *testing.T) {
		ok := NewTransportChecker("redis", pingerFunc(func(context.Context) error { return nil }))
		assert.Equal(t, "transport_redis", ok.Name())
		assert.Equal(t, StatusHealthy, ok.Check(ctx).Status)

		down := NewTransportChecker("redis", pingerFunc(func(context.Context) error { return errors.New("refused") }))
		result := down.Check(ctx)
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "refused", result.Error)
	})

	t.Run("pending checker thresholds", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, NewPendingChecker(pendingCount(5), 10, 100).Check(ctx).Status)
		assert.Equal(t, StatusDegraded, NewPendingChecker(pendingCount(10), 10, 100).Check(ctx).Status)
		assert.Equal(t, StatusUnhealthy, NewPendingChecker(pendingCount(100), 10, 100).Check(ctx).Status)
		assert.Equal(t, StatusHealthy, NewPendingChecker(pendingCount(1000), 0, 0).Check(ctx).Status)
	})

	t.Run("runtime checker", func(t *testing.T) {
		result := NewRuntimeChecker(0, 0).Check(ctx)
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Contains(t, result.Details, "goroutines")

		result = NewRuntimeChecker(0, 1).Check(ctx)
		assert.Equal(t, StatusUnhealthy, result.Status)
	})
}

func TestHandler(t *testing.T) {
	t.Run("healthy returns 200 with report", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixed("a", StatusHealthy))
		server := httptest.NewServer(NewRouter(r, time.Second))
		defer server.Close()

		resp, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var health OverallHealth
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, StatusHealthy, health.Status)
		assert.Contains(t, health.Checks, "a")
	})

	t.Run("unhealthy returns 503", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixed("a", StatusUnhealthy))

		rec := httptest.NewRecorder()
		NewHandler(r, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("rejects non GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(NewRegistry(), time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("metrics route", func(t *testing.T) {
		router := NewRouter(NewRegistry(), time.Second, WithMetrics(func() interface{} {
			return map[string]int{"sent": 3}
		}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"sent":3}`, rec.Body.String())
	})

	t.Run("post to healthz is not routed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewRouter(NewRegistry(), time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("liveness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alive", rec.Body.String())
	})
}
