//go:build unit

package http

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/circuitbreaker"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T, name string, failures int) circuitbreaker.Manager {
	t.Helper()

	mgr := circuitbreaker.NewManager(log.NewNop())
	mgr.GetOrCreate(name, circuitbreaker.Config{
		FailureThreshold:    2,
		RecoveryTimeout:     time.Minute,
		HalfOpenMaxRequests: 1,
	})

	for range failures {
		_, _ = mgr.Execute(name, func() (any, error) { return nil, errors.New("down") })
	}

	return mgr
}

func healthApp(deps ...DependencyCheck) *fiber.App {
	app := fiber.New()
	app.Get("/health", HealthWithDependencies(deps...))

	return app
}

func TestHealthWithDependencies_NoDeps(t *testing.T) {
	t.Parallel()

	var body HealthResponse
	resp := doJSON(t, healthApp(), http.MethodGet, "/health", nil, &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, HealthStatusAvailable, body.Status)
	assert.Empty(t, body.Dependencies)
}

func TestHealthWithDependencies_ClosedBreaker(t *testing.T) {
	t.Parallel()

	mgr := newTestBreaker(t, "backend", 0)
	_, err := mgr.Execute("backend", func() (any, error) { return "ok", nil })
	require.NoError(t, err)

	var body HealthResponse
	resp := doJSON(t, healthApp(DependencyCheck{Name: "backend", CircuitBreaker: mgr, ServiceName: "backend"}),
		http.MethodGet, "/health", nil, &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body.Dependencies, "backend")

	dep := body.Dependencies["backend"]
	assert.True(t, dep.Healthy)
	assert.Equal(t, circuitbreaker.StateClosed, dep.CircuitBreakerState)
	assert.Equal(t, uint32(1), dep.TotalSuccesses)
}

func TestHealthWithDependencies_OpenBreaker(t *testing.T) {
	t.Parallel()

	mgr := newTestBreaker(t, "backend", 2)

	var body HealthResponse
	resp := doJSON(t, healthApp(
		DependencyCheck{Name: "backend", CircuitBreaker: mgr, ServiceName: "backend"},
		DependencyCheck{Name: "cache", HealthCheck: func() bool { return true }},
	), http.MethodGet, "/health", nil, &body)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, HealthStatusDegraded, body.Status)
	assert.Equal(t, circuitbreaker.StateOpen, body.Dependencies["backend"].CircuitBreakerState)
	assert.False(t, body.Dependencies["backend"].Healthy)
	assert.True(t, body.Dependencies["cache"].Healthy)
}

func TestHealthWithDependencies_HealthCheckOverridesBreaker(t *testing.T) {
	t.Parallel()

	mgr := newTestBreaker(t, "backend", 0)

	resp := doJSON(t, healthApp(DependencyCheck{
		Name:           "backend",
		CircuitBreaker: mgr,
		ServiceName:    "backend",
		HealthCheck:    func() bool { return false },
	}), http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthWithDependencies_CustomCheckOnly(t *testing.T) {
	t.Parallel()

	resp := doJSON(t, healthApp(DependencyCheck{Name: "probe", HealthCheck: func() bool { return true }}),
		http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
