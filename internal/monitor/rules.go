package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

// RuleDetector runs the model-free rules over a category's services and unions their output.
type RuleDetector struct {
	config RulesConfig
}

func NewRuleDetector(config RulesConfig) *RuleDetector {
	return &RuleDetector{config: config}
}

func (d *RuleDetector) Name() string { return "rules" }

func (d *RuleDetector) Detect(ctx context.Context, in Input) ([]models.Candidate, error) {
	byService := groupByService(in.Services)
	names := make([]string, 0, len(byService))
	for name := range byService {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []models.Candidate
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		days := byService[name]
		out = append(out, d.costSpikes(name, days, in.Latest)...)
		if c, ok := d.newService(name, days, in.Latest); ok {
			out = append(out, c)
		}
		if c, ok := d.continuousIncrease(name, days, in.Latest); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// within returns the points dated in (latest-days, latest].
func within(points []models.DailyServiceCost, latest time.Time, days int) []models.DailyServiceCost {
	from := latest.AddDate(0, 0, -days)
	var out []models.DailyServiceCost
	for _, p := range points {
		if p.Date.After(from) && !p.Date.After(latest) {
			out = append(out, p)
		}
	}
	return out
}

func (d *RuleDetector) costSpikes(service string, days []models.DailyServiceCost, latest time.Time) []models.Candidate {
	recent := within(days, latest, d.config.SpikeWindowDays)
	if len(recent) == 0 {
		return nil
	}
	var sum float64
	for _, p := range recent {
		sum += p.Cost
	}
	mean := sum / float64(len(recent))
	if mean <= 0 {
		return nil
	}

	threshold := mean * d.config.SpikeFactor
	var out []models.Candidate
	for _, p := range recent {
		if p.Cost <= threshold {
			continue
		}
		severity := models.SeverityLow
		switch {
		case p.Cost > mean*d.config.SpikeHighFactor:
			severity = models.SeverityHigh
		case p.Cost > mean*d.config.SpikeMediumFactor:
			severity = models.SeverityMedium
		}
		dev := deviationPct(p.Cost, mean)
		out = append(out, models.Candidate{
			Type:          models.TypeCostSpike,
			ServiceName:   service,
			DetectedValue: p.Cost,
			ExpectedValue: mean,
			Threshold:     threshold,
			DeviationPct:  dev,
			Severity:      severity,
			Message: fmt.Sprintf("Cost spike in %s on %s: $%.2f vs %d-day average $%.2f (%+.1f%%)",
				service, p.Date.Format(models.DayLayout), p.Cost, d.config.SpikeWindowDays, mean, dev),
			DetectedAt: p.Date,
		})
	}
	return out
}

func (d *RuleDetector) newService(service string, days []models.DailyServiceCost, latest time.Time) (models.Candidate, bool) {
	window := d.config.NewServiceWindowDays
	recent := within(days, latest, window)
	if len(recent) == 0 {
		return models.Candidate{}, false
	}
	prior := within(days, latest.AddDate(0, 0, -window), d.config.NewServiceLookbackDays)
	if len(prior) > 0 {
		return models.Candidate{}, false
	}

	var total float64
	first := recent[0].Date
	for _, p := range recent {
		total += p.Cost
		if p.Date.Before(first) {
			first = p.Date
		}
	}
	severity := models.SeverityLow
	if total > d.config.NewServiceMediumCost {
		severity = models.SeverityMedium
	}
	return models.Candidate{
		Type:          models.TypeNewService,
		ServiceName:   service,
		DetectedValue: total,
		ExpectedValue: 0,
		Threshold:     0,
		DeviationPct:  100,
		Severity:      severity,
		Message: fmt.Sprintf("New service %s first billed on %s: $%.2f over the last %d days",
			service, first.Format(models.DayLayout), total, window),
		DetectedAt: first,
	}, true
}

func (d *RuleDetector) continuousIncrease(service string, days []models.DailyServiceCost, latest time.Time) (models.Candidate, bool) {
	run := d.config.IncreaseRunDays
	if run < 2 {
		return models.Candidate{}, false
	}
	recent := within(days, latest, d.config.IncreaseWindowDays)
	sort.Slice(recent, func(i, j int) bool { return recent[i].Date.Before(recent[j].Date) })

	for i := 0; i+run <= len(recent); i++ {
		window := recent[i : i+run]
		if !consecutiveRise(window) {
			continue
		}
		first, last := window[0], window[run-1]
		if first.Cost <= 0 {
			continue
		}
		pct := (last.Cost - first.Cost) / first.Cost * 100
		if pct <= d.config.IncreaseMinPct {
			continue
		}
		severity := models.SeverityLow
		switch {
		case pct > d.config.IncreaseHighPct:
			severity = models.SeverityHigh
		case pct > d.config.IncreaseMediumPct:
			severity = models.SeverityMedium
		}
		return models.Candidate{
			Type:          models.TypeContinuousIncrease,
			ServiceName:   service,
			DetectedValue: last.Cost,
			ExpectedValue: first.Cost,
			Threshold:     first.Cost * (1 + d.config.IncreaseMinPct/100),
			DeviationPct:  pct,
			Severity:      severity,
			Message: fmt.Sprintf("%s cost rose %d days in a row from $%.2f to $%.2f (%+.1f%%)",
				service, run, first.Cost, last.Cost, pct),
			DetectedAt: last.Date,
		}, true
	}
	return models.Candidate{}, false
}

// consecutiveRise reports whether points are on consecutive calendar days with strictly
// increasing cost.
func consecutiveRise(points []models.DailyServiceCost) bool {
	for i := 1; i < len(points); i++ {
		if !points[i].Date.Equal(points[i-1].Date.AddDate(0, 0, 1)) {
			return false
		}
		if points[i].Cost <= points[i-1].Cost {
			return false
		}
	}
	return true
}

func groupByService(rows []models.DailyServiceCost) map[string][]models.DailyServiceCost {
	out := make(map[string][]models.DailyServiceCost)
	for _, r := range rows {
		out[r.ServiceName] = append(out[r.ServiceName], r)
	}
	return out
}
