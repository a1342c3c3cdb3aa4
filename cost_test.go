package kontrol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeastSquares(t *testing.T) {
	y := []float64{1, 2, 3}
	ym := []float64{2, 2, 1}

	assert.InDelta(t, 5.0/3, MSE.Evaluate(y, ym), 1e-12)
	assert.InDelta(t, (4.0+16)/3, WeightedMSE([]float64{2, 1, 2}).Evaluate(y, ym), 1e-12)
	assert.InDelta(t, 1.0/2, LogMSE(nil).Evaluate([]float64{1, 100}, []float64{10, 100}), 1e-12)
	assert.Equal(t, 0.0, MSE.Evaluate(nil, nil))

	r, ok := MSE.(Residualer)
	assert.True(t, ok)
	dst := make([]float64, 3)
	r.Residuals(dst, y, ym)
	assert.Equal(t, []float64{1, 0, -2}, dst)
}

func TestPeakError(t *testing.T) {
	y := []float64{0, 0, 0, 0}
	ym := []float64{1, -3, 2, 0}

	assert.Equal(t, 3.0, PeakError{}.Evaluate(y, ym))
	assert.Equal(t, 3.0, PeakError{P: math.Inf(1)}.Evaluate(y, ym))
	assert.InDelta(t, math.Sqrt(14.0/4), PeakError{P: 2}.Evaluate(y, ym), 1e-12)

	// Large p approaches the peak from below.
	p := PeakError{P: 200}.Evaluate(y, ym)
	assert.Less(t, p, 3.0)
	assert.Greater(t, p, 2.9)

	assert.True(t, math.IsNaN(PeakError{}.Evaluate([]float64{0}, []float64{math.NaN()})))
}
