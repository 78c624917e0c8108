package monitor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/features"
	"github.com/kannan-ms/cloudCostAnalytics/internal/model"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type identity struct{}

func (identity) Transform(x []float64) ([]float64, error) { return x, nil }

// stubModel flags vectors for which outlier returns true.
type stubModel struct {
	outlier func(x []float64) bool
}

func (m stubModel) Predict(x []float64) (model.Prediction, error) {
	if m.outlier != nil && m.outlier(x) {
		return model.Prediction{Outlier: true, Score: -0.2}, nil
	}
	return model.Prediction{Outlier: false, Score: 0.1}, nil
}

func costAbove(limit float64) func([]float64) bool {
	return func(x []float64) bool { return x[0] > limit }
}

func stubArtifact(c models.Category, m model.OutlierModel) *model.Artifact {
	return &model.Artifact{Category: c, Scaler: identity{}, Model: m}
}

func seriesOf(costs ...float64) []features.DailyCost {
	s := make([]features.DailyCost, len(costs))
	for i, c := range costs {
		s[i] = features.DailyCost{Date: base.AddDate(0, 0, i), Cost: c}
	}
	return s
}

func inputFor(series []features.DailyCost) Input {
	return Input{
		UserID:   "u1",
		Category: models.CategoryCompute,
		Latest:   series[len(series)-1].Date,
		Series:   series,
	}
}

func TestModelDetector_Spike(t *testing.T) {
	d := NewModelDetector(stubArtifact(models.CategoryCompute, stubModel{outlier: costAbove(50)}), DefaultConfig())
	got, err := d.Detect(context.Background(), inputFor(seriesOf(10, 10, 10, 10, 10, 10, 10, 10, 100)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(got), got)
	}
	c := got[0]
	if c.DetectedValue != 100 || math.Abs(c.ExpectedValue-10) > 1e-9 {
		t.Errorf("detected=%f expected=%f, want 100 and 10", c.DetectedValue, c.ExpectedValue)
	}
	if math.Abs(c.DeviationPct-900) > 1e-6 {
		t.Errorf("deviation = %f, want 900", c.DeviationPct)
	}
	if c.Severity != models.SeverityHigh || c.Type != models.TypeMLPattern {
		t.Errorf("severity=%s type=%s", c.Severity, c.Type)
	}
	if c.ServiceName != "Compute" || !c.DetectedAt.Equal(base.AddDate(0, 0, 8)) {
		t.Errorf("service=%s detected_at=%v", c.ServiceName, c.DetectedAt)
	}
	if c.AnomalyScore == nil || *c.AnomalyScore != -0.2 {
		t.Errorf("anomaly score = %v", c.AnomalyScore)
	}
}

func TestModelDetector_HybridOverride(t *testing.T) {
	tests := []struct {
		name     string
		last     float64
		want     int
		severity models.Severity
	}{
		{"spike ratio promotes inlier", 60, 1, models.SeverityHigh},
		{"drop ratio promotes inlier", 1.2, 1, models.SeverityMedium},
		{"moderate ratio stays inlier", 30, 0, ""},
	}
	never := stubModel{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewModelDetector(stubArtifact(models.CategoryCompute, never), DefaultConfig())
			got, err := d.Detect(context.Background(), inputFor(seriesOf(10, 10, 10, 10, 10, 10, 10, 10, tt.last)))
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d candidates, want %d", len(got), tt.want)
			}
			if tt.want > 0 && got[0].Severity != tt.severity {
				t.Errorf("severity = %s, want %s", got[0].Severity, tt.severity)
			}
		})
	}
}

func TestModelDetector_DropMessage(t *testing.T) {
	d := NewModelDetector(stubArtifact(models.CategoryCompute, stubModel{}), DefaultConfig())
	got, err := d.Detect(context.Background(), inputFor(seriesOf(100, 100, 100, 100, 100, 100, 100, 100, 10)))
	if err != nil || len(got) != 1 {
		t.Fatalf("got %d candidates err=%v", len(got), err)
	}
	if got[0].DeviationPct >= 0 || got[0].Message[:4] != "Drop" {
		t.Errorf("expected a drop, got %+v", got[0])
	}
}

func TestModelDetector_DeviationBoundary(t *testing.T) {
	always := stubModel{outlier: func([]float64) bool { return true }}
	tests := []struct {
		last float64
		want int
	}{
		{124.9, 0},
		{125, 1},
	}
	for _, tt := range tests {
		d := NewModelDetector(stubArtifact(models.CategoryCompute, always), DefaultConfig())
		got, err := d.Detect(context.Background(), inputFor(seriesOf(100, 100, 100, 100, 100, 100, 100, 100, tt.last)))
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(got) != tt.want {
			t.Errorf("last=%.1f: got %d candidates, want %d", tt.last, len(got), tt.want)
		}
		if tt.want == 1 && got[0].Severity != models.SeverityMedium {
			t.Errorf("last=%.1f: severity = %s, want medium", tt.last, got[0].Severity)
		}
	}
}

func TestModelDetector_NoiseFloor(t *testing.T) {
	always := stubModel{outlier: func([]float64) bool { return true }}
	d := NewModelDetector(stubArtifact(models.CategoryCompute, always), DefaultConfig())
	got, err := d.Detect(context.Background(), inputFor(seriesOf(0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.9)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("costs under the noise floor produced %d candidates", len(got))
	}
}

func TestModelDetector_RecentWindowOnly(t *testing.T) {
	costs := make([]float64, 30)
	for i := range costs {
		costs[i] = 10
	}
	costs[10] = 500
	d := NewModelDetector(stubArtifact(models.CategoryCompute, stubModel{outlier: costAbove(50)}), DefaultConfig())
	got, err := d.Detect(context.Background(), inputFor(seriesOf(costs...)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("old spike reported: %+v", got)
	}
}

func TestModelDetector_InsufficientHistory(t *testing.T) {
	d := NewModelDetector(stubArtifact(models.CategoryCompute, stubModel{outlier: costAbove(0)}), DefaultConfig())
	got, err := d.Detect(context.Background(), inputFor(seriesOf(10, 10, 10, 10, 100)))
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("expected ErrInsufficientHistory, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d candidates for a 5-day category", len(got))
	}
}

func TestModelDetector_ModelError(t *testing.T) {
	d := NewModelDetector(&model.Artifact{Category: models.CategoryCompute}, DefaultConfig())
	if _, err := d.Detect(context.Background(), inputFor(seriesOf(1, 1, 1, 1, 1, 1, 1, 1, 1))); err == nil {
		t.Error("expected error from an incomplete artifact")
	}
}

func TestDeviationPct(t *testing.T) {
	tests := []struct {
		actual, expected, want float64
	}{
		{110, 100, 10},
		{50, 100, -50},
		{5, 0, 100},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := deviationPct(tt.actual, tt.expected); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("deviationPct(%f, %f) = %f, want %f", tt.actual, tt.expected, got, tt.want)
		}
	}
}
