package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/myshop/api/internal/domain"
)

func TestProbeHealthRepositoryCollectSuccess(t *testing.T) {
	probes := []DependencyProbe{
		{
			Name:     "database",
			Critical: true,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(10 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
		{
			Name:  "storage",
			Check: func(context.Context) error { return nil },
		},
	}

	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewProbeHealthRepository(probes, WithProbeClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	for name, check := range report.Checks {
		if check.Status != domain.HealthStatusOK {
			t.Fatalf("expected check %s to be ok, got %s", name, check.Status)
		}
		if check.CheckedAt != now {
			t.Fatalf("expected check %s checkedAt %s, got %s", name, now, check.CheckedAt)
		}
	}
	if report.GeneratedAt != now {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestProbeHealthRepositoryOptionalFailureDegrades(t *testing.T) {
	expectedErr := errors.New("boom")
	probes := []DependencyProbe{
		{Name: "events", Check: func(context.Context) error { return expectedErr }},
		{Name: "database", Critical: true, Check: func(context.Context) error { return nil }},
	}

	repo, err := NewProbeHealthRepository(probes)
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected status degraded, got %s", report.Status)
	}
	check := report.Checks["events"]
	if check.Error != expectedErr.Error() {
		t.Fatalf("expected error %q, got %q", expectedErr.Error(), check.Error)
	}
}

func TestProbeHealthRepositoryCriticalTimeout(t *testing.T) {
	probes := []DependencyProbe{
		{
			Name:     "database",
			Critical: true,
			Timeout:  5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(200 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	}

	repo, err := NewProbeHealthRepository(probes)
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected status error, got %s", report.Status)
	}
	if detail := report.Checks["database"].Detail; detail != "timeout" {
		t.Fatalf("expected detail timeout, got %s", detail)
	}
}

func TestNewProbeHealthRepositoryValidates(t *testing.T) {
	cases := map[string][]DependencyProbe{
		"empty":     nil,
		"no name":   {{Check: func(context.Context) error { return nil }}},
		"no check":  {{Name: "database"}},
		"duplicate": {{Name: "db", Check: func(context.Context) error { return nil }}, {Name: "db", Check: func(context.Context) error { return nil }}},
	}
	for name, probes := range cases {
		if _, err := NewProbeHealthRepository(probes); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
