package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/food-market/api/internal/domain"
)

func TestHealthReportFillsBuildMetadata(t *testing.T) {
	health := &stubHealthRepo{
		collect: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			}, nil
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: health,
		Clock:            fixedClock,
		Build: BuildInfo{
			Version:     "1.4.2",
			CommitSHA:   "abc1234",
			Environment: "production",
			StartedAt:   testTime.Add(-2 * time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("building system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Errorf("expected ok status, got %q", report.Status)
	}
	if report.Version != "1.4.2" || report.CommitSHA != "abc1234" || report.Environment != "production" {
		t.Errorf("build metadata not applied: %+v", report)
	}
	if report.Uptime != 2*time.Hour {
		t.Errorf("expected 2h uptime, got %v", report.Uptime)
	}
	if !report.GeneratedAt.Equal(testTime) {
		t.Errorf("generated timestamp not pinned to clock: %v", report.GeneratedAt)
	}
}

func TestHealthReportDerivesWorstStatus(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{"all ok", map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"storage":   {Status: domain.HealthStatusOK},
		}, domain.HealthStatusOK},
		{"one degraded", map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"storage":   {Status: domain.HealthStatusDegraded},
		}, domain.HealthStatusDegraded},
		{"one failing", map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusError},
			"storage":   {Status: domain.HealthStatusDegraded},
		}, domain.HealthStatusError},
		{"no checks", nil, domain.HealthStatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			health := &stubHealthRepo{
				collect: func(context.Context) (domain.SystemHealthReport, error) {
					return domain.SystemHealthReport{Checks: tc.checks}, nil
				},
			}
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: health,
				Clock:            fixedClock,
			})
			if err != nil {
				t.Fatalf("building system service: %v", err)
			}

			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if report.Status != tc.want {
				t.Errorf("expected %q, got %q", tc.want, report.Status)
			}
		})
	}
}

func TestNextCounterValueDefaultsStep(t *testing.T) {
	counters := &stubCounterRepo{
		next: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "invoices" {
				t.Fatalf("unexpected counter id %q", counterID)
			}
			if step != 1 {
				t.Fatalf("expected default step of 1, got %d", step)
			}
			return 7, nil
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{},
		Counters:         counters,
		Clock:            fixedClock,
	})
	if err != nil {
		t.Fatalf("building system service: %v", err)
	}

	value, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "invoices"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 7 {
		t.Errorf("expected 7, got %d", value)
	}
}

func TestNextCounterValueRequiresConfiguration(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{},
		Clock:            fixedClock,
	})
	if err != nil {
		t.Fatalf("building system service: %v", err)
	}

	if _, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "invoices"}); err == nil {
		t.Fatal("expected error when counter repository is missing")
	}

	svc, err = NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{},
		Counters:         &stubCounterRepo{next: func(context.Context, string, int64) (int64, error) { return 1, nil }},
		Clock:            fixedClock,
	})
	if err != nil {
		t.Fatalf("building system service: %v", err)
	}
	if _, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "  "}); err == nil {
		t.Fatal("expected error for blank counter id")
	}
}
