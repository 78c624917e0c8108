package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities so they can be compared.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusIgnored      Status = "ignored"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// Active reports whether an anomaly in this status still needs attention.
func (s Status) Active() bool {
	return s == StatusNew || s == StatusAcknowledged
}

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusNew:          {StatusAcknowledged, StatusResolved, StatusIgnored},
	StatusAcknowledged: {StatusResolved, StatusIgnored},
	StatusIgnored:      {StatusNew},
	StatusResolved:     {StatusNew},
}

// CanTransitionTo reports whether an anomaly may move from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AnomalyType tags the detection strategy that produced an anomaly.
type AnomalyType string

const (
	TypeMLPattern          AnomalyType = "ml_pattern"
	TypeCostSpike          AnomalyType = "cost_spike"
	TypeNewService         AnomalyType = "new_service"
	TypeContinuousIncrease AnomalyType = "continuous_increase"
)

func (t AnomalyType) Valid() bool {
	switch t {
	case TypeMLPattern, TypeCostSpike, TypeNewService, TypeContinuousIncrease:
		return true
	}
	return false
}

// Recommendation returns the operator guidance attached to anomalies of this type.
func (t AnomalyType) Recommendation() string {
	switch t {
	case TypeMLPattern:
		return "Investigate anomalous spending pattern detected by ML."
	case TypeCostSpike:
		return "Review recent usage and scaling events for this service."
	case TypeNewService:
		return "Confirm the new service was provisioned intentionally and tag its owner."
	case TypeContinuousIncrease:
		return "Check for resource leaks or unbounded growth and consider a budget alert."
	}
	return ""
}

// Candidate is an anomaly produced by a detector before deduplication.
type Candidate struct {
	Type          AnomalyType
	ServiceName   string
	DetectedValue float64
	ExpectedValue float64
	Threshold     float64
	DeviationPct  float64
	Severity      Severity
	AnomalyScore  *float64
	Message       string
	DetectedAt    time.Time
}

// Anomaly is a persisted anomaly record.
type Anomaly struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	ServiceName    string      `json:"service_name"`
	Type           AnomalyType `json:"type"`
	DetectedValue  float64     `json:"detected_value"`
	ExpectedValue  float64     `json:"expected_value"`
	Threshold      float64     `json:"threshold"`
	DeviationPct   float64     `json:"deviation_percentage"`
	Severity       Severity    `json:"severity"`
	AnomalyScore   *float64    `json:"anomaly_score"`
	Message        string      `json:"message"`
	Recommendation string      `json:"recommendation"`
	Status         Status      `json:"status"`
	DetectedAt     time.Time   `json:"detected_at"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at"`
	ResolvedAt     *time.Time  `json:"resolved_at"`
}

// NewAnomaly builds a new-status anomaly for userID from a detector candidate.
func NewAnomaly(userID string, c Candidate, now time.Time) (*Anomaly, error) {
	a := &Anomaly{
		ID:             uuid.New().String(),
		UserID:         userID,
		ServiceName:    c.ServiceName,
		Type:           c.Type,
		DetectedValue:  c.DetectedValue,
		ExpectedValue:  c.ExpectedValue,
		Threshold:      c.Threshold,
		DeviationPct:   c.DeviationPct,
		Severity:       c.Severity,
		AnomalyScore:   c.AnomalyScore,
		Message:        c.Message,
		Recommendation: c.Type.Recommendation(),
		Status:         StatusNew,
		DetectedAt:     c.DetectedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks anomaly field constraints.
func (a *Anomaly) Validate() error {
	if a.ID == "" {
		return errors.New("anomaly ID must not be empty")
	}
	if a.UserID == "" {
		return errors.New("user ID must not be empty")
	}
	if a.ServiceName == "" {
		return errors.New("service name must not be empty")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("unknown anomaly type %q", a.Type)
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", a.Severity)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("unknown status %q", a.Status)
	}
	if a.DetectedAt.IsZero() {
		return errors.New("detected at must be set")
	}
	return nil
}

// ApplyStatus moves the anomaly to next, stamping transition timestamps.
func (a *Anomaly) ApplyStatus(next Status, now time.Time) error {
	if !next.Valid() {
		return fmt.Errorf("unknown status %q", next)
	}
	if !a.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	a.Status = next
	a.UpdatedAt = now
	switch next {
	case StatusAcknowledged:
		a.AcknowledgedAt = &now
	case StatusResolved:
		a.ResolvedAt = &now
	}
	return nil
}
