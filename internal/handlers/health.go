package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/services"
)

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises health handler construction.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService wires the system service used by the readiness probe.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo attaches build metadata to health responses.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the time source, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		h.clock = clock
	}
}

// NewHealthHandlers constructs health handlers with the provided options.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	return h
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	CheckedAt string `json:"checked_at,omitempty"`
}

type healthResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime,omitempty"`
	Timestamp   string                        `json:"timestamp"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
	Details     []string                      `json:"details,omitempty"`
}

// Healthz reports process liveness without touching any dependency.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	response := healthResponse{
		Status:      string(domain.HealthStatusOK),
		Version:     h.build.Version,
		Environment: h.build.Environment,
		Timestamp:   formatTime(now),
	}
	if !h.build.StartedAt.IsZero() {
		response.Uptime = now.Sub(h.build.StartedAt).String()
	}
	writeJSONResponse(w, http.StatusOK, response)
}

// Readyz probes downstream dependencies through the system service.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()

	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, healthResponse{
			Status:    string(domain.HealthStatusOK),
			Timestamp: formatTime(now),
		})
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, healthResponse{
			Status:    string(domain.HealthStatusError),
			Timestamp: formatTime(now),
			Details:   []string{err.Error()},
		})
		return
	}

	response := healthResponse{
		Status:      string(report.Status),
		Version:     report.Version,
		Environment: report.Environment,
		Timestamp:   formatTime(report.GeneratedAt),
	}
	if report.Uptime > 0 {
		response.Uptime = report.Uptime.String()
	}

	if len(report.Checks) > 0 {
		checks := make(map[string]healthCheckPayload, len(report.Checks))
		failing := make([]string, 0)
		for name, check := range report.Checks {
			payload := healthCheckPayload{
				Status:    string(check.Status),
				Detail:    check.Detail,
				Error:     check.Error,
				CheckedAt: formatTime(check.CheckedAt),
			}
			if check.Latency > 0 {
				payload.LatencyMS = check.Latency.Milliseconds()
			}
			checks[name] = payload
			if check.Status != domain.HealthStatusOK {
				failing = append(failing, name)
			}
		}
		sort.Strings(failing)
		response.Checks = checks
		response.Details = failing
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, response)
}
