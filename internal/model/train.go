package model

import (
	"fmt"
	"math"

	"github.com/kannan-ms/cloudCostAnalytics/internal/features"
)

const (
	MinTrainingDays = 14
	MinTrainingRows = 10
	HoldoutDays     = 7
)

// ErrInsufficientData reports a category without enough history to train on.
type ErrInsufficientData struct {
	Have, Need int
	What       string
}

func (e *ErrInsufficientData) Error() string {
	return fmt.Sprintf("insufficient %s: have %d, need %d", e.What, e.Have, e.Need)
}

// Train fits a scaler and forest on a category's daily series, holding out the most
// recent HoldoutDays so they can be scored as unseen data.
func Train(series []features.DailyCost, seed int64) (*Scaler, *Forest, error) {
	if len(series) < MinTrainingDays {
		return nil, nil, &ErrInsufficientData{Have: len(series), Need: MinTrainingDays, What: "days"}
	}
	rows := features.Build(series, features.DefaultWindow)
	if len(rows) == 0 {
		return nil, nil, &ErrInsufficientData{Have: 0, Need: MinTrainingRows, What: "feature rows"}
	}

	split := rows[len(rows)-1].Date.AddDate(0, 0, -HoldoutDays)
	var train []features.Row
	for _, r := range rows {
		if r.Date.Before(split) {
			train = append(train, r)
		}
	}
	if len(train) < MinTrainingRows {
		return nil, nil, &ErrInsufficientData{Have: len(train), Need: MinTrainingRows, What: "training rows"}
	}

	x := features.Matrix(train)
	scaler, err := FitScaler(x)
	if err != nil {
		return nil, nil, err
	}
	scaled := make([][]float64, len(x))
	for i, row := range x {
		if scaled[i], err = scaler.Transform(row); err != nil {
			return nil, nil, err
		}
	}

	opts := DefaultFitOptions()
	opts.Seed = seed
	opts.Contamination = math.Min(math.Max(0.05, 2.0/float64(len(x))), 0.15)
	forest, err := Fit(scaled, opts)
	if err != nil {
		return nil, nil, err
	}
	return scaler, forest, nil
}
