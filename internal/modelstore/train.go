package modelstore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kannan-ms/cloudCostAnalytics/internal/features"
	"github.com/kannan-ms/cloudCostAnalytics/internal/logger"
	"github.com/kannan-ms/cloudCostAnalytics/internal/model"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

// TrainReport lists the outcome of a training pass per category.
type TrainReport struct {
	Trained []models.Category
	Skipped map[models.Category]string
}

// TrainAll fits and saves an artifact for every category series with enough history.
// Categories without enough data are skipped; any other failure aborts the pass.
func (s *Store) TrainAll(series map[models.Category][]features.DailyCost, seed int64) (*TrainReport, error) {
	report := &TrainReport{Skipped: make(map[models.Category]string)}

	categories := make([]models.Category, 0, len(series))
	for c := range series {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	for _, c := range categories {
		scaler, forest, err := model.Train(series[c], seed)
		var insufficient *model.ErrInsufficientData
		if errors.As(err, &insufficient) {
			logger.Info("Skipping training for %s: %v", c, err)
			report.Skipped[c] = err.Error()
			continue
		}
		if err != nil {
			return report, fmt.Errorf("failed to train %s: %w", c, err)
		}
		if err := s.Save(c, scaler, forest); err != nil {
			return report, fmt.Errorf("failed to save %s: %w", c, err)
		}
		logger.Info("Trained %s model on %d days (offset %.4f)", c, len(series[c]), forest.Offset)
		report.Trained = append(report.Trained, c)
	}
	return report, nil
}
