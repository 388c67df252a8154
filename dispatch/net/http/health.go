package http

import (
	"github.com/LerianStudio/lib-dispatch/dispatch/circuitbreaker"
	"github.com/gofiber/fiber/v2"
)

// Health status values.
const (
	HealthStatusAvailable = "available"
	HealthStatusDegraded  = "degraded"
)

// DependencyCheck describes one dependency reported by the health endpoint.
//
// CircuitBreaker with ServiceName reports the breaker state and counts.
// HealthCheck, when set, decides health and overrides the breaker verdict.
type DependencyCheck struct {
	Name           string
	CircuitBreaker circuitbreaker.Manager
	ServiceName    string
	HealthCheck    func() bool
}

// DependencyStatus is the health of a single dependency.
type DependencyStatus struct {
	CircuitBreakerState circuitbreaker.State `json:"circuit_breaker_state,omitempty"`
	Healthy             bool                 `json:"healthy"`
	Requests            uint32               `json:"requests,omitempty"`
	TotalSuccesses      uint32               `json:"total_successes,omitempty"`
	TotalFailures       uint32               `json:"total_failures,omitempty"`
	ConsecutiveFailures uint32               `json:"consecutive_failures,omitempty"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status       string                       `json:"status"`
	Dependencies map[string]*DependencyStatus `json:"dependencies"`
}

// HealthWithDependencies reports 200 "available" when every dependency is
// healthy and 503 "degraded" otherwise.
//
//	f.Get("/health", HealthWithDependencies(DependencyCheck{
//		Name:           "backend",
//		CircuitBreaker: p.CircuitBreaker(),
//		ServiceName:    pooler.BreakerName,
//		HealthCheck:    func() bool { return p.PoolStatus().Healthy },
//	}))
func HealthWithDependencies(dependencies ...DependencyCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := HealthResponse{
			Status:       HealthStatusAvailable,
			Dependencies: make(map[string]*DependencyStatus, len(dependencies)),
		}
		httpStatus := fiber.StatusOK

		for _, dep := range dependencies {
			status := &DependencyStatus{Healthy: true}

			if dep.CircuitBreaker != nil && dep.ServiceName != "" {
				counts := dep.CircuitBreaker.GetCounts(dep.ServiceName)

				status.CircuitBreakerState = dep.CircuitBreaker.GetState(dep.ServiceName)
				status.Requests = counts.Requests
				status.TotalSuccesses = counts.TotalSuccesses
				status.TotalFailures = counts.TotalFailures
				status.ConsecutiveFailures = counts.ConsecutiveFailures
				status.Healthy = dep.CircuitBreaker.IsHealthy(dep.ServiceName)
			}

			if dep.HealthCheck != nil {
				status.Healthy = dep.HealthCheck()
			}

			if !status.Healthy {
				body.Status = HealthStatusDegraded
				httpStatus = fiber.StatusServiceUnavailable
			}

			body.Dependencies[dep.Name] = status
		}

		return Respond(c, httpStatus, body)
	}
}
