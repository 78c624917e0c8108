package monitor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

var latest = time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)

// serviceDays returns one row per cost, ending on latest.
func serviceDays(service string, costs ...float64) []models.DailyServiceCost {
	out := make([]models.DailyServiceCost, len(costs))
	start := latest.AddDate(0, 0, -(len(costs) - 1))
	for i, c := range costs {
		out[i] = models.DailyServiceCost{ServiceName: service, Date: start.AddDate(0, 0, i), Cost: c}
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func detectRules(t *testing.T, rows []models.DailyServiceCost) []models.Candidate {
	t.Helper()
	d := NewRuleDetector(DefaultConfig().Rules)
	got, err := d.Detect(context.Background(), Input{UserID: "u1", Latest: latest, Services: rows})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	return got
}

func ofType(cs []models.Candidate, typ models.AnomalyType) []models.Candidate {
	var out []models.Candidate
	for _, c := range cs {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

func TestRuleDetector_CostSpike(t *testing.T) {
	got := detectRules(t, serviceDays("EC2", append(repeat(10, 29), 100)...))
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(got), got)
	}
	c := got[0]
	if c.Type != models.TypeCostSpike || c.Severity != models.SeverityHigh {
		t.Errorf("type=%s severity=%s", c.Type, c.Severity)
	}
	if math.Abs(c.ExpectedValue-13) > 1e-9 || c.DetectedValue != 100 {
		t.Errorf("expected=%f detected=%f, want 13 and 100", c.ExpectedValue, c.DetectedValue)
	}
	if math.Abs(c.Threshold-13*1.4) > 1e-9 {
		t.Errorf("threshold = %f", c.Threshold)
	}
	if !c.DetectedAt.Equal(latest) {
		t.Errorf("detected_at = %v", c.DetectedAt)
	}
}

func TestRuleDetector_CostSpikeSeverity(t *testing.T) {
	tests := []struct {
		spike float64
		want  models.Severity
	}{
		{15, models.SeverityLow},
		{30, models.SeverityMedium},
		{60, models.SeverityHigh},
	}
	for _, tt := range tests {
		// The 30-day mean stays a little above the base cost of 10.
		costs := append(repeat(10, 29), tt.spike)
		spikes := ofType(detectRules(t, serviceDays("EC2", costs...)), models.TypeCostSpike)
		if len(spikes) != 1 {
			t.Fatalf("spike=%.0f: got %d spikes", tt.spike, len(spikes))
		}
		if spikes[0].Severity != tt.want {
			t.Errorf("spike=%.0f: severity = %s, want %s", tt.spike, spikes[0].Severity, tt.want)
		}
	}
}

func TestRuleDetector_NewService(t *testing.T) {
	got := detectRules(t, serviceDays("Lambda", 30, 30, 30, 30))
	news := ofType(got, models.TypeNewService)
	if len(news) != 1 || len(got) != 1 {
		t.Fatalf("got %+v, want one new_service candidate", got)
	}
	c := news[0]
	if c.DetectedValue != 120 || c.Severity != models.SeverityMedium {
		t.Errorf("detected=%f severity=%s", c.DetectedValue, c.Severity)
	}
	if !c.DetectedAt.Equal(latest.AddDate(0, 0, -3)) {
		t.Errorf("detected_at = %v, want first billed day", c.DetectedAt)
	}

	small := ofType(detectRules(t, serviceDays("Lambda", 5, 5)), models.TypeNewService)
	if len(small) != 1 || small[0].Severity != models.SeverityLow {
		t.Errorf("small new service: %+v", small)
	}
}

func TestRuleDetector_ExistingServiceNotNew(t *testing.T) {
	rows := serviceDays("S3", repeat(5, 40)...)
	if news := ofType(detectRules(t, rows), models.TypeNewService); len(news) != 0 {
		t.Errorf("long-running service flagged as new: %+v", news)
	}
}

func TestRuleDetector_ContinuousIncrease(t *testing.T) {
	costs := append(repeat(10, 27), 12, 16, 20)
	rows := serviceDays("RDS", costs...)
	incs := ofType(detectRules(t, rows), models.TypeContinuousIncrease)
	if len(incs) != 1 {
		t.Fatalf("got %d increase candidates, want 1", len(incs))
	}
	c := incs[0]
	// First qualifying window is 10 -> 12 -> 16.
	if c.ExpectedValue != 10 || c.DetectedValue != 16 {
		t.Errorf("expected=%f detected=%f, want 10 and 16", c.ExpectedValue, c.DetectedValue)
	}
	if math.Abs(c.DeviationPct-60) > 1e-9 || c.Severity != models.SeverityHigh {
		t.Errorf("deviation=%f severity=%s", c.DeviationPct, c.Severity)
	}
	if !c.DetectedAt.Equal(latest.AddDate(0, 0, -1)) {
		t.Errorf("detected_at = %v", c.DetectedAt)
	}
}

func TestRuleDetector_IncreaseNeedsConsecutiveDays(t *testing.T) {
	rows := []models.DailyServiceCost{
		{ServiceName: "RDS", Date: latest.AddDate(0, 0, -40), Cost: 1},
		{ServiceName: "RDS", Date: latest.AddDate(0, 0, -4), Cost: 10},
		{ServiceName: "RDS", Date: latest.AddDate(0, 0, -2), Cost: 12},
		{ServiceName: "RDS", Date: latest, Cost: 14},
	}
	if incs := ofType(detectRules(t, rows), models.TypeContinuousIncrease); len(incs) != 0 {
		t.Errorf("gapped days reported as a run: %+v", incs)
	}
}

func TestRuleDetector_SmallIncreaseIgnored(t *testing.T) {
	rows := serviceDays("RDS", append(repeat(100, 20), 101, 102, 103)...)
	if incs := ofType(detectRules(t, rows), models.TypeContinuousIncrease); len(incs) != 0 {
		t.Errorf("3%% rise reported: %+v", incs)
	}
}
