package features

import "math"

// Welford accumulates a running mean and variance in a single pass.
type Welford struct {
	Count int
	Mean  float64
	M2    float64
}

func (w *Welford) Add(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// Std returns the sample standard deviation (n-1 denominator), or NaN below two values.
func (w *Welford) Std() float64 {
	if w.Count < 2 {
		return math.NaN()
	}
	return math.Sqrt(w.M2 / float64(w.Count-1))
}

// Stats returns the mean and sample standard deviation of values.
func Stats(values []float64) (mean, std float64) {
	var w Welford
	for _, v := range values {
		w.Add(v)
	}
	if w.Count == 0 {
		return math.NaN(), math.NaN()
	}
	return w.Mean, w.Std()
}
