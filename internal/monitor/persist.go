package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
	"github.com/kannan-ms/cloudCostAnalytics/internal/storage"
)

// keySet tracks dedup keys already persisted or accepted in the current batch.
type keySet map[string]struct{}

func (k keySet) add(key string) bool {
	if _, ok := k[key]; ok {
		return false
	}
	k[key] = struct{}{}
	return true
}

// modelKey is the ML path's key: the category and the UTC day of detection.
func modelKey(service string, detectedAt time.Time) string {
	return service + "|" + models.Day(detectedAt).Format(models.DayLayout)
}

// ruleKey is the rule path's key: the service and the rule that fired.
func ruleKey(service string, typ models.AnomalyType) string {
	return service + "|" + string(typ)
}

// persist drops candidates that match an existing anomaly or an earlier candidate of the
// same batch and writes the rest in one transaction. Both snapshots are read before any
// insert so concurrent categories cannot race each other.
func (m *Monitor) persist(ctx context.Context, userID string, candidates []models.Candidate, now time.Time) ([]*models.Anomaly, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	modelSeen, err := m.modelSnapshot(ctx, userID, candidates)
	if err != nil {
		return nil, err
	}
	ruleSeen, err := m.ruleSnapshot(ctx, userID, candidates, now)
	if err != nil {
		return nil, err
	}

	var fresh []*models.Anomaly
	for _, c := range candidates {
		var isNew bool
		if c.Type == models.TypeMLPattern {
			isNew = modelSeen.add(modelKey(c.ServiceName, c.DetectedAt))
		} else {
			isNew = ruleSeen.add(ruleKey(c.ServiceName, c.Type))
		}
		if !isNew {
			continue
		}
		a, err := models.NewAnomaly(userID, c, now)
		if err != nil {
			return nil, fmt.Errorf("invalid candidate for %s: %w", c.ServiceName, err)
		}
		fresh = append(fresh, a)
	}

	if err := m.store.InsertAnomalies(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to store anomalies: %w", err)
	}
	return fresh, nil
}

func (m *Monitor) modelSnapshot(ctx context.Context, userID string, candidates []models.Candidate) (keySet, error) {
	seen := keySet{}
	var earliest time.Time
	for _, c := range candidates {
		if c.Type != models.TypeMLPattern {
			continue
		}
		if earliest.IsZero() || c.DetectedAt.Before(earliest) {
			earliest = c.DetectedAt
		}
	}
	if earliest.IsZero() {
		return seen, nil
	}

	existing, err := m.store.AnomaliesSince(ctx, storage.AnomalyQuery{
		UserID: userID,
		Type:   models.TypeMLPattern,
		Since:  models.Day(earliest).AddDate(0, 0, -1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load existing anomalies: %w", err)
	}
	for _, a := range existing {
		seen.add(modelKey(a.ServiceName, a.DetectedAt))
	}
	return seen, nil
}

func (m *Monitor) ruleSnapshot(ctx context.Context, userID string, candidates []models.Candidate, now time.Time) (keySet, error) {
	seen := keySet{}
	types := map[models.AnomalyType]bool{}
	for _, c := range candidates {
		if c.Type != models.TypeMLPattern {
			types[c.Type] = true
		}
	}
	since := now.AddDate(0, 0, -m.config.Rules.DedupLookbackDays)
	for _, typ := range []models.AnomalyType{
		models.TypeCostSpike,
		models.TypeNewService,
		models.TypeContinuousIncrease,
	} {
		if !types[typ] {
			continue
		}
		existing, err := m.store.AnomaliesSince(ctx, storage.AnomalyQuery{
			UserID:      userID,
			Type:        typ,
			Since:       since,
			ByCreatedAt: true,
			Statuses:    []models.Status{models.StatusNew, models.StatusAcknowledged},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load existing %s anomalies: %w", typ, err)
		}
		for _, a := range existing {
			seen.add(ruleKey(a.ServiceName, a.Type))
		}
	}
	return seen, nil
}
