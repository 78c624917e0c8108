// Package monitor runs anomaly detection over a user's cost history.
//
// Each category present in the user's data is handled by one Detector: the
// category's trained model when an artifact exists, otherwise the rule suite.
// Candidates from all categories are deduplicated and written in a single batch.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/category"
	"github.com/kannan-ms/cloudCostAnalytics/internal/features"
	"github.com/kannan-ms/cloudCostAnalytics/internal/logger"
	"github.com/kannan-ms/cloudCostAnalytics/internal/metrics"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
	"github.com/kannan-ms/cloudCostAnalytics/internal/modelstore"
	"github.com/kannan-ms/cloudCostAnalytics/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence a detection run needs.
type Store interface {
	LatestUsageDate(ctx context.Context, userID string) (time.Time, bool, error)
	DailyServiceCosts(ctx context.Context, userID string, from, to time.Time) ([]models.DailyServiceCost, error)
	AnomaliesSince(ctx context.Context, q storage.AnomalyQuery) ([]models.Anomaly, error)
	InsertAnomalies(ctx context.Context, anomalies []*models.Anomaly) error
}

// Result summarizes a detection run.
type Result struct {
	UserID        string
	TotalDetected int
	Stored        int
	Candidates    []models.Candidate
	// Anomalies are the records written by this run.
	Anomalies []*models.Anomaly
	// Breakdown counts candidates per anomaly type.
	Breakdown       map[models.AnomalyType]int
	ModelCategories []models.Category
	RuleCategories  []models.Category
	Skipped         []models.Category
	Failed          map[models.Category]string
}

type Monitor struct {
	store  Store
	loader modelstore.Loader
	mapper *category.Mapper
	config Config
	now    func() time.Time
}

// New returns a Monitor. A nil loader disables model scoring; a nil mapper uses the default rules.
func New(store Store, loader modelstore.Loader, mapper *category.Mapper, config Config) *Monitor {
	if mapper == nil {
		mapper = category.NewMapper(nil)
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 1
	}
	return &Monitor{
		store:  store,
		loader: loader,
		mapper: mapper,
		config: config,
		now:    time.Now,
	}
}

type outcome struct {
	strategy   string
	candidates []models.Candidate
	err        error
}

// Run detects and stores anomalies for userID. Storage failures fail the run;
// a failing category is recorded in Result.Failed and the others proceed.
func (m *Monitor) Run(ctx context.Context, userID string) (res *Result, err error) {
	start := m.now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.DetectionRunsTotal.WithLabelValues(status).Inc()
		metrics.DetectionRunDuration.Observe(time.Since(start).Seconds())
	}()

	res = &Result{
		UserID:    userID,
		Breakdown: make(map[models.AnomalyType]int),
		Failed:    make(map[models.Category]string),
	}

	latest, ok, err := m.store.LatestUsageDate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest usage date: %w", err)
	}
	if !ok {
		logger.Debug("No cost records for user %s", userID)
		return res, nil
	}
	rows, err := m.store.DailyServiceCosts(ctx, userID, latest.AddDate(0, 0, -m.config.fetchDays()), latest)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily costs: %w", err)
	}

	inputs := m.group(userID, latest, rows)
	outcomes := make([]outcome, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Parallelism)
	for i := range inputs {
		g.Go(func() error {
			outcomes[i] = m.detect(gctx, inputs[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, in := range inputs {
		o := outcomes[i]
		switch {
		case errors.Is(o.err, ErrInsufficientHistory):
			logger.Debug("Skipping %s for user %s: %v", in.Category, userID, o.err)
			res.Skipped = append(res.Skipped, in.Category)
			metrics.CategoriesTotal.WithLabelValues("skipped").Inc()
			continue
		case o.err != nil:
			logger.Warn("Detection failed for %s (user %s): %v", in.Category, userID, o.err)
			res.Failed[in.Category] = o.err.Error()
			metrics.CategoriesTotal.WithLabelValues("failed").Inc()
			continue
		}
		if o.strategy == "model" {
			res.ModelCategories = append(res.ModelCategories, in.Category)
		} else {
			res.RuleCategories = append(res.RuleCategories, in.Category)
		}
		metrics.CategoriesTotal.WithLabelValues(o.strategy).Inc()
		res.Candidates = append(res.Candidates, o.candidates...)
	}

	for _, c := range res.Candidates {
		res.Breakdown[c.Type]++
		metrics.CandidatesTotal.WithLabelValues(string(c.Type)).Inc()
	}
	res.TotalDetected = len(res.Candidates)

	stored, err := m.persist(ctx, userID, res.Candidates, m.now())
	if err != nil {
		return nil, err
	}
	res.Anomalies = stored
	res.Stored = len(stored)
	for _, a := range stored {
		metrics.StoredTotal.WithLabelValues(string(a.Type)).Inc()
	}

	logger.Info("Detection for user %s: %d candidates, %d stored (model=%d rules=%d skipped=%d failed=%d)",
		userID, res.TotalDetected, res.Stored, len(res.ModelCategories), len(res.RuleCategories),
		len(res.Skipped), len(res.Failed))
	return res, nil
}

// detect picks a strategy for one category and runs it, converting panics to errors.
func (m *Monitor) detect(ctx context.Context, in Input) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = outcome{err: fmt.Errorf("panic during detection: %v", r)}
		}
	}()

	d, err := m.detectorFor(in.Category)
	if err != nil {
		return outcome{err: err}
	}
	candidates, err := d.Detect(ctx, in)
	return outcome{strategy: d.Name(), candidates: candidates, err: err}
}

func (m *Monitor) detectorFor(c models.Category) (Detector, error) {
	if m.config.Mode == ModeRules || m.loader == nil {
		return NewRuleDetector(m.config.Rules), nil
	}
	artifact, found, err := m.loader.Load(c)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	if !found {
		return NewRuleDetector(m.config.Rules), nil
	}
	return NewModelDetector(artifact, m.config), nil
}

// CategorySeries sums per-service rows into one ascending daily series per category.
func CategorySeries(mapper *category.Mapper, rows []models.DailyServiceCost) map[models.Category][]features.DailyCost {
	totals := make(map[models.Category]map[time.Time]float64)
	for _, r := range rows {
		c := mapper.CategoryOf(r.ServiceName)
		if totals[c] == nil {
			totals[c] = make(map[time.Time]float64)
		}
		totals[c][r.Date] += r.Cost
	}

	out := make(map[models.Category][]features.DailyCost, len(totals))
	for c, days := range totals {
		series := make([]features.DailyCost, 0, len(days))
		for d, cost := range days {
			series = append(series, features.DailyCost{Date: d, Cost: cost})
		}
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		out[c] = series
	}
	return out
}

// group buckets per-service rows into categories, in the fixed category order.
func (m *Monitor) group(userID string, latest time.Time, rows []models.DailyServiceCost) []Input {
	series := CategorySeries(m.mapper, rows)
	services := make(map[models.Category][]models.DailyServiceCost)
	for _, r := range rows {
		c := m.mapper.CategoryOf(r.ServiceName)
		services[c] = append(services[c], r)
	}

	var inputs []Input
	for _, c := range models.Categories {
		s, ok := series[c]
		if !ok {
			continue
		}
		inputs = append(inputs, Input{
			UserID:   userID,
			Category: c,
			Latest:   latest,
			Series:   s,
			Services: services[c],
		})
	}
	return inputs
}
