package model

import (
	"errors"
	"fmt"

	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

// Artifact pairs a category's fitted scaler with its outlier model.
type Artifact struct {
	Category models.Category
	Scaler   Transformer
	Model    OutlierModel
}

// Score scales x and runs the outlier model on it.
func (a *Artifact) Score(x []float64) (Prediction, error) {
	if a.Scaler == nil || a.Model == nil {
		return Prediction{}, errors.New("artifact is missing its scaler or model")
	}
	scaled, err := a.Scaler.Transform(x)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to scale features: %w", err)
	}
	return a.Model.Predict(scaled)
}
