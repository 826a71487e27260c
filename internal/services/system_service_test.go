package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/domain"
)

type stubHealthRepo struct {
	collectFn func(context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{}, nil
}

func TestSystemServiceHealthReport(t *testing.T) {
	ctx := context.Background()
	started := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{
			collectFn: func(context.Context) (domain.SystemHealthReport, error) {
				return domain.SystemHealthReport{
					Checks: map[string]domain.SystemHealthCheck{
						"firestore": {Status: domain.HealthStatusOK},
						"pubsub":    {Status: domain.HealthStatusDegraded, Error: "publish latency"},
					},
				}, nil
			},
		},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "1.4.0", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health report: %v", err)
	}

	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded verdict, got %q", report.Status)
	}
	if report.Version != "1.4.0" || report.Environment != "staging" {
		t.Fatalf("expected build info filled, got %q/%q", report.Version, report.Environment)
	}
	if report.Uptime != 90*time.Minute {
		t.Fatalf("unexpected uptime %v", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected generated timestamp %v", report.GeneratedAt)
	}
}

func TestSystemServiceHealthReportErrorVerdict(t *testing.T) {
	ctx := context.Background()
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{
			collectFn: func(context.Context) (domain.SystemHealthReport, error) {
				return domain.SystemHealthReport{
					Checks: map[string]domain.SystemHealthCheck{
						"firestore": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
						"pubsub":    {Status: domain.HealthStatusOK},
					},
				}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error verdict, got %q", report.Status)
	}
}
