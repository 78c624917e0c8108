// Package models defines the core domain entities: cost records, categories, and anomalies.
package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout is the calendar-day format used for usage dates.
const DayLayout = "2006-01-02"

// Category pools same-purpose services across cloud providers.
type Category string

const (
	CategoryCompute    Category = "Compute"
	CategoryStorage    Category = "Storage"
	CategoryDatabase   Category = "Database"
	CategoryNetworking Category = "Networking"
	CategoryManagement Category = "Management"
	CategorySecurity   Category = "Security"
	CategoryOther      Category = "Other"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryCompute,
	CategoryStorage,
	CategoryDatabase,
	CategoryNetworking,
	CategoryManagement,
	CategorySecurity,
	CategoryOther,
}

// CostRecord is a single normalized billing line for one user and one usage day.
type CostRecord struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	ServiceName string            `json:"service_name"`
	Cost        decimal.Decimal   `json:"cost"`
	UsageDate   time.Time         `json:"usage_date"`
	Provider    string            `json:"provider,omitempty"`
	Region      string            `json:"region,omitempty"`
	ResourceID  string            `json:"resource_id,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Validate checks cost record field constraints.
func (r *CostRecord) Validate() error {
	if r.UserID == "" {
		return errors.New("user ID must not be empty")
	}
	if strings.TrimSpace(r.ServiceName) == "" {
		return errors.New("service name must not be empty")
	}
	if r.Cost.IsNegative() {
		return errors.New("cost must not be negative")
	}
	if r.UsageDate.IsZero() {
		return errors.New("usage date must be set")
	}
	return nil
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DailyServiceCost is the sum of a user's cost records for one service on one day.
type DailyServiceCost struct {
	ServiceName string
	Date        time.Time
	Cost        float64
}
