package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/features"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

// Input is one category's slice of a user's cost history.
type Input struct {
	UserID   string
	Category models.Category
	// Latest is the user's most recent usage day across all categories.
	Latest time.Time
	// Series holds the category's daily totals, ascending, one entry per day.
	Series []features.DailyCost
	// Services holds per-service daily totals for services in the category.
	Services []models.DailyServiceCost
}

// ErrInsufficientHistory marks a category skipped for lack of history. It is not a failure.
var ErrInsufficientHistory = errors.New("insufficient history")

// Detector produces anomaly candidates for one category.
type Detector interface {
	Name() string
	Detect(ctx context.Context, in Input) ([]models.Candidate, error)
}

const (
	ModeHybrid = "hybrid"
	ModeRules  = "rules"
)

// MLConfig holds the model scorer's filtering thresholds.
type MLConfig struct {
	MinCost          float64
	MinDeviationPct  float64
	HighDeviationPct float64
	SpikeRatio       float64
	DropRatio        float64
}

// RulesConfig holds the rule suite's thresholds.
type RulesConfig struct {
	SpikeWindowDays        int
	SpikeFactor            float64
	SpikeMediumFactor      float64
	SpikeHighFactor        float64
	NewServiceWindowDays   int
	NewServiceLookbackDays int
	NewServiceMediumCost   float64
	IncreaseWindowDays     int
	IncreaseRunDays        int
	IncreaseMinPct         float64
	IncreaseMediumPct      float64
	IncreaseHighPct        float64
	DedupLookbackDays      int
}

type Config struct {
	Mode             string
	LookbackDays     int
	RecentWindowDays int
	MinHistoryDays   int
	Parallelism      int
	ML               MLConfig
	Rules            RulesConfig
}

func DefaultConfig() Config {
	return Config{
		Mode:             ModeHybrid,
		LookbackDays:     90,
		RecentWindowDays: 7,
		MinHistoryDays:   8,
		Parallelism:      4,
		ML: MLConfig{
			MinCost:          1.0,
			MinDeviationPct:  25,
			HighDeviationPct: 100,
			SpikeRatio:       5.0,
			DropRatio:        0.15,
		},
		Rules: RulesConfig{
			SpikeWindowDays:        30,
			SpikeFactor:            1.4,
			SpikeMediumFactor:      2.5,
			SpikeHighFactor:        3.0,
			NewServiceWindowDays:   7,
			NewServiceLookbackDays: 60,
			NewServiceMediumCost:   100,
			IncreaseWindowDays:     30,
			IncreaseRunDays:        3,
			IncreaseMinPct:         10,
			IncreaseMediumPct:      25,
			IncreaseHighPct:        50,
			DedupLookbackDays:      7,
		},
	}
}

// fetchDays is how far back a run must read to serve every detector.
func (c Config) fetchDays() int {
	days := c.LookbackDays
	for _, d := range []int{
		c.Rules.SpikeWindowDays,
		c.Rules.NewServiceWindowDays + c.Rules.NewServiceLookbackDays,
		c.Rules.IncreaseWindowDays,
	} {
		if d > days {
			days = d
		}
	}
	return days
}
