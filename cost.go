package kontrol

import (
	"math"
)

// Cost reduces data and model output to a scalar error.
type Cost interface {
	Evaluate(ydata, ymodel []float64) float64
}

// CostFunc adapts a plain function to Cost.
type CostFunc func(ydata, ymodel []float64) float64

// Evaluate calls f.
func (f CostFunc) Evaluate(ydata, ymodel []float64) float64 { return f(ydata, ymodel) }

// Residualer is a cost that is a mean of squared residuals. Least-squares
// optimizers use the residual vector directly.
type Residualer interface {
	Cost
	Residuals(dst, ydata, ymodel []float64)
}

// MSE is the mean squared error.
var MSE Cost = LeastSquares{}

// WeightedMSE multiplies each residual by weight before squaring, which lets
// a fit emphasise or ignore frequency bands.
func WeightedMSE(weight []float64) Cost {
	return LeastSquares{Weight: weight}
}

// LogMSE compares log10 of both arrays, the usual choice for spectra spanning
// many decades.
func LogMSE(weight []float64) Cost {
	return LeastSquares{Weight: weight, Log: true}
}

// LeastSquares is mean(((model − data)·w)²), optionally on log10 values.
// A nil Weight means unit weights.
type LeastSquares struct {
	Weight []float64
	Log    bool
}

// Residuals writes the weighted residuals into dst.
func (c LeastSquares) Residuals(dst, ydata, ymodel []float64) {
	for i := range ydata {
		a, b := ydata[i], ymodel[i]
		if c.Log {
			a, b = math.Log10(math.Abs(a)), math.Log10(math.Abs(b))
		}
		r := b - a
		if c.Weight != nil {
			r *= c.Weight[i]
		}
		dst[i] = r
	}
}

// Evaluate returns the mean of the squared residuals.
func (c LeastSquares) Evaluate(ydata, ymodel []float64) float64 {
	if len(ydata) == 0 {
		return 0
	}
	r := make([]float64, len(ydata))
	c.Residuals(r, ydata, ymodel)
	sum := 0.0
	for _, v := range r {
		sum += v * v
	}
	return sum / float64(len(r))
}

// PeakError is the Lp norm of |model − data|: the maximum for P = +Inf or
// P <= 0, otherwise (mean |r|^P)^(1/P), a smooth surrogate of the peak.
type PeakError struct {
	P float64
}

// Evaluate returns the peak or Lp norm of the residual.
func (c PeakError) Evaluate(ydata, ymodel []float64) float64 {
	peak := 0.0
	for i := range ydata {
		r := math.Abs(ymodel[i] - ydata[i])
		if math.IsNaN(r) {
			return math.NaN()
		}
		peak = math.Max(peak, r)
	}
	if c.P <= 0 || math.IsInf(c.P, 1) || peak == 0 || math.IsInf(peak, 1) {
		return peak
	}
	// Scaled by the peak so large P cannot overflow.
	sum := 0.0
	for i := range ydata {
		sum += math.Pow(math.Abs(ymodel[i]-ydata[i])/peak, c.P)
	}
	return peak * math.Pow(sum/float64(len(ydata)), 1/c.P)
}
