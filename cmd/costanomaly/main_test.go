package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/category"
	"github.com/kannan-ms/cloudCostAnalytics/internal/config"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
	"github.com/kannan-ms/cloudCostAnalytics/internal/monitor"
	"github.com/kannan-ms/cloudCostAnalytics/internal/storage"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Detection.Mode = monitor.ModeRules

	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mapper := category.NewMapper(nil)
	return &app{
		cfg:     cfg,
		store:   store,
		mapper:  mapper,
		monitor: monitor.New(store, nil, mapper, cfg.MonitorConfig()),
	}
}

func writeRecords(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportReplaceAndDetect(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	var lines []string
	for d := 1; d <= 20; d++ {
		lines = append(lines, fmt.Sprintf(`{"service_name":"Amazon EC2","cost":"10","usage_date":"2024-05-%02d"}`, d))
	}
	lines = append(lines, `{"service_name":"Amazon S3","cost":"150","usage_date":"2024-05-20"}`, `broken`)
	path := writeRecords(t, lines...)

	if err := runImport(ctx, a, []string{"-user", "acme", "-file", path, "-detect"}); err != nil {
		t.Fatalf("import: %v", err)
	}
	anomalies, err := a.store.ListAnomalies(ctx, "acme", storage.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(anomalies) == 0 {
		t.Fatal("expected the new S3 service to be flagged")
	}

	// Replacing with the same file clears the old anomalies first.
	if err := runImport(ctx, a, []string{"-user", "acme", "-file", path, "-replace"}); err != nil {
		t.Fatalf("import -replace: %v", err)
	}
	anomalies, err = a.store.ListAnomalies(ctx, "acme", storage.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(anomalies) != 0 {
		t.Errorf("anomalies after replace = %d, want 0", len(anomalies))
	}
	latest, ok, err := a.store.LatestUsageDate(ctx, "acme")
	if err != nil || !ok || latest.Day() != 20 {
		t.Errorf("latest = %v, %v, %v", latest, ok, err)
	}
}

func TestStatusCommand(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	an, err := models.NewAnomaly("acme", models.Candidate{
		Type:          models.TypeCostSpike,
		ServiceName:   "EC2",
		DetectedValue: 30,
		ExpectedValue: 10,
		Threshold:     14,
		DeviationPct:  200,
		Severity:      models.SeverityHigh,
		Message:       "spike",
		DetectedAt:    time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.store.InsertAnomalies(ctx, []*models.Anomaly{an}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"acknowledge", []string{"-user", "acme", "-id", an.ID, "-set", "acknowledged"}, ""},
		{"unchanged", []string{"-user", "acme", "-id", an.ID, "-set", "acknowledged"}, ""},
		{"invalid transition", []string{"-user", "acme", "-id", an.ID, "-set", "new"}, "transition"},
		{"other tenant", []string{"-user", "globex", "-id", an.ID, "-set", "resolved"}, "not found"},
		{"unknown status", []string{"-user", "acme", "-id", an.ID, "-set", "done"}, "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runStatus(ctx, a, tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestListRejectsUnknownFilters(t *testing.T) {
	a := newTestApp(t)
	if err := runList(context.Background(), a, []string{"-user", "acme", "-severity", "critical"}); err == nil {
		t.Error("expected error for unknown severity")
	}
	if err := runList(context.Background(), a, []string{"-user", "acme", "-limit", "500"}); err == nil {
		t.Error("expected error for limit above maximum")
	}
}
