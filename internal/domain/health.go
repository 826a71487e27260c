package domain

import "time"

// HealthStatus summarises the state of a dependency or the whole system.
type HealthStatus string

const (
	// HealthStatusOK means the dependency responded within its budget.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded means the dependency responded with an error.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError means the dependency timed out or was unreachable.
	HealthStatusError HealthStatus = "error"
)

// SystemHealthCheck captures the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes into a readiness verdict.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
