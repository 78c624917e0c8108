package monitor

import (
	"context"
	"fmt"
	"math"

	"github.com/kannan-ms/cloudCostAnalytics/internal/features"
	"github.com/kannan-ms/cloudCostAnalytics/internal/model"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

// ModelDetector scores a category's recent feature rows with its trained outlier model.
type ModelDetector struct {
	artifact *model.Artifact
	config   Config
}

func NewModelDetector(a *model.Artifact, config Config) *ModelDetector {
	return &ModelDetector{artifact: a, config: config}
}

func (d *ModelDetector) Name() string { return "model" }

func (d *ModelDetector) Detect(ctx context.Context, in Input) ([]models.Candidate, error) {
	from := in.Latest.AddDate(0, 0, -d.config.LookbackDays)
	var series []features.DailyCost
	for _, p := range in.Series {
		if !p.Date.Before(from) {
			series = append(series, p)
		}
	}
	if len(series) < d.config.MinHistoryDays {
		return nil, fmt.Errorf("%w: %d days, need %d", ErrInsufficientHistory, len(series), d.config.MinHistoryDays)
	}
	rows := features.Build(series, features.DefaultWindow)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no complete feature rows", ErrInsufficientHistory)
	}

	recentFrom := in.Latest.AddDate(0, 0, -d.config.RecentWindowDays)
	var candidates []models.Candidate
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pred, err := d.artifact.Score(row.Vector())
		if err != nil {
			return nil, fmt.Errorf("failed to score %s row %s: %w",
				in.Category, row.Date.Format(models.DayLayout), err)
		}
		if !pred.Outlier && d.overrides(row) {
			pred.Outlier = true
		}
		if !pred.Outlier || row.Date.Before(recentFrom) {
			continue
		}
		if c, ok := d.candidate(in.Category, row, pred.Score); ok {
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// overrides promotes extreme cost ratios the model may classify as inliers.
func (d *ModelDetector) overrides(row features.Row) bool {
	return row.CostRatio7 >= d.config.ML.SpikeRatio || row.CostRatio7 <= d.config.ML.DropRatio
}

func (d *ModelDetector) candidate(category models.Category, row features.Row, score float64) (models.Candidate, bool) {
	cfg := d.config.ML
	if row.Cost < cfg.MinCost {
		return models.Candidate{}, false
	}
	expected := row.RollingMean7
	dev := deviationPct(row.Cost, expected)
	if math.Abs(dev) < cfg.MinDeviationPct {
		return models.Candidate{}, false
	}

	severity := models.SeverityMedium
	if math.Abs(dev) > cfg.HighDeviationPct {
		severity = models.SeverityHigh
	}
	direction := "Spike"
	if row.Cost <= expected {
		direction = "Drop"
	}
	return models.Candidate{
		Type:          models.TypeMLPattern,
		ServiceName:   string(category),
		DetectedValue: row.Cost,
		ExpectedValue: expected,
		Threshold:     expected,
		DeviationPct:  dev,
		Severity:      severity,
		AnomalyScore:  &score,
		Message: fmt.Sprintf("%s in %s spend: $%.2f vs expected $%.2f (%+.1f%%)",
			direction, category, row.Cost, expected, dev),
		DetectedAt: row.Date,
	}, true
}

// deviationPct is the percentage change from expected to actual. A zero baseline
// counts as a 100% rise when there is any spend and 0% otherwise.
func deviationPct(actual, expected float64) float64 {
	if expected == 0 {
		if actual > 0 {
			return 100
		}
		return 0
	}
	return (actual - expected) / expected * 100
}
