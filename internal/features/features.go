// Package features builds the time-series feature rows consumed by the outlier models.
// The transformation must match the one used when the models were trained.
package features

import (
	"math"
	"time"
)

const (
	// DefaultWindow is the lag and rolling window length in positions.
	DefaultWindow = 7
	// Epsilon keeps ratio features finite when the denominator is zero.
	Epsilon = 1e-5
)

// Columns names the feature vector entries in the order Row.Vector emits them.
var Columns = []string{
	"cost",
	"lag_1",
	"lag_7",
	"rolling_mean_7",
	"rolling_std_7",
	"cost_ratio_1",
	"cost_ratio_7",
	"is_weekend",
}

// DailyCost is one point of a daily cost series.
type DailyCost struct {
	Date time.Time
	Cost float64
}

// Row is a DailyCost extended with engineered features.
type Row struct {
	Date         time.Time
	Cost         float64
	Lag1         float64
	Lag7         float64
	RollingMean7 float64
	RollingStd7  float64
	CostRatio1   float64
	CostRatio7   float64
	// DayOfWeek counts from Monday = 0.
	DayOfWeek int
	IsWeekend bool
}

// Vector returns the row's features in Columns order.
func (r Row) Vector() []float64 {
	weekend := 0.0
	if r.IsWeekend {
		weekend = 1.0
	}
	return []float64{
		r.Cost,
		r.Lag1,
		r.Lag7,
		r.RollingMean7,
		r.RollingStd7,
		r.CostRatio1,
		r.CostRatio7,
		weekend,
	}
}

// Build derives feature rows from series, which must be sorted ascending by date with
// one entry per date. Lags and rolling statistics count positions, not calendar days, and
// the rolling window covers the values strictly before each row. Rows without a full
// window of history are dropped.
func Build(series []DailyCost, window int) []Row {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(series) <= window {
		return nil
	}

	rows := make([]Row, 0, len(series)-window)
	for i := window; i < len(series); i++ {
		cur := series[i]
		hist := make([]float64, window)
		for j := 0; j < window; j++ {
			hist[j] = series[i-window+j].Cost
		}
		mean, std := Stats(hist)
		if math.IsNaN(mean) || math.IsNaN(std) {
			continue
		}

		lag1 := series[i-1].Cost
		dow := mondayFirst(cur.Date.Weekday())
		rows = append(rows, Row{
			Date:         cur.Date,
			Cost:         cur.Cost,
			Lag1:         lag1,
			Lag7:         series[i-window].Cost,
			RollingMean7: mean,
			RollingStd7:  std,
			CostRatio1:   cur.Cost / (lag1 + Epsilon),
			CostRatio7:   cur.Cost / (mean + Epsilon),
			DayOfWeek:    dow,
			IsWeekend:    dow >= 5,
		})
	}
	return rows
}

// Matrix stacks the feature vectors of rows.
func Matrix(rows []Row) [][]float64 {
	m := make([][]float64, len(rows))
	for i, r := range rows {
		m[i] = r.Vector()
	}
	return m
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}
