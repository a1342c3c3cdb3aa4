package kontrol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

var polyCoefficients = []float64{0.393, -0.428, -0.546, 0.103, 0.439}

func polynomialData(t *testing.T) (x, y []float64) {
	t.Helper()
	x = floats.Span(make([]float64, 1024), -1, 1)
	y, err := Polynomial{Degree: 4}.Eval(x, polyCoefficients)
	require.NoError(t, err)
	return x, y
}

func TestCurveFit_GlobalPolynomial(t *testing.T) {
	x, y := polynomialData(t)
	bounds := make([][2]float64, len(polyCoefficients))
	for i := range bounds {
		bounds[i] = [2]float64{-1, 1}
	}

	fit := &CurveFit{
		XData:     x,
		YData:     y,
		Model:     Polynomial{Degree: 4},
		Optimizer: &DifferentialEvolution{Seed: 123, Polish: &NelderMead{Restarts: 3}},
		Bounds:    bounds,
	}
	res, err := fit.Fit()
	require.NoError(t, err)
	assert.InDeltaSlice(t, polyCoefficients, res.Params, 1e-4)
	assert.Less(t, res.Cost, 1e-8)
	assert.Len(t, res.YFit, len(y))
}

func TestCurveFit_LocalPolynomial(t *testing.T) {
	x, y := polynomialData(t)

	optimizers := map[string]Optimizer{
		"nelder-mead":         &NelderMead{Restarts: 3},
		"levenberg-marquardt": &LevenbergMarquardt{},
	}
	for name, opt := range optimizers {
		t.Run(name, func(t *testing.T) {
			fit := &CurveFit{
				XData:     x,
				YData:     y,
				Model:     Polynomial{Degree: 4},
				Optimizer: opt,
				Initial:   make([]float64, len(polyCoefficients)),
			}
			res, err := fit.Fit()
			require.NoError(t, err)
			assert.InDeltaSlice(t, polyCoefficients, res.Params, 1e-4)
		})
	}
}

func TestCurveFit_ShapeErrors(t *testing.T) {
	x, y := polynomialData(t)
	base := CurveFit{
		XData:     x,
		YData:     y,
		Model:     Polynomial{Degree: 4},
		Optimizer: &NelderMead{},
		Initial:   make([]float64, 5),
	}

	tests := []struct {
		name   string
		mutate func(c *CurveFit)
	}{
		{"ydata length", func(c *CurveFit) { c.YData = y[:10] }},
		{"no data", func(c *CurveFit) { c.XData, c.YData = nil, nil }},
		{"initial length", func(c *CurveFit) { c.Initial = make([]float64, 3) }},
		{"bounds length", func(c *CurveFit) { c.Bounds = make([][2]float64, 2) }},
		{"missing initial", func(c *CurveFit) { c.Initial = nil }},
		{"no model", func(c *CurveFit) { c.Model = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			_, err := c.Fit()
			assert.ErrorIs(t, err, ErrInputShape)
		})
	}
}

func TestCurveFit_NonFiniteModelFails(t *testing.T) {
	model := ModelFunc(func(x, params []float64) ([]float64, error) {
		out := make([]float64, len(x))
		for i, v := range x {
			out[i] = params[0] / (v - 0.5)
		}
		return out, nil
	})
	x := []float64{0, 0.5, 1}

	for name, fit := range map[string]*CurveFit{
		"local":  {XData: x, YData: []float64{1, 1, 1}, Model: model, Optimizer: &NelderMead{}, Initial: []float64{1}},
		"global": {XData: x, YData: []float64{1, 1, 1}, Model: model, Optimizer: &DifferentialEvolution{Seed: 1}, Bounds: [][2]float64{{0.5, 2}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := fit.Fit()
			assert.ErrorIs(t, err, ErrOptimizerFailure)
		})
	}
}

func TestCurveFit_ComplexResponse(t *testing.T) {
	f := floats.LogSpan(make([]float64, 200), 0.1, 100)
	truth := SimpleZPK{NumZeros: 1, NumPoles: 2}
	want := []float64{1, 0.3, 20, 5}
	resp, err := evalHz(truth, f, want)
	require.NoError(t, err)

	x := make([]float64, 0, 2*len(f))
	for _, v := range f {
		x = append(x, v, v)
	}
	fit := &CurveFit{
		XData:     x,
		YData:     Interleave(resp),
		Model:     interleavedModel{ComplexModel{truth}, f},
		Optimizer: &LevenbergMarquardt{},
		Initial:   []float64{1.3, 0.4, 15, 4},
	}
	res, err := fit.Fit()
	require.NoError(t, err)
	for i := range want {
		assert.InEpsilon(t, want[i], res.Params[i], 1e-6)
	}
	assert.False(t, math.IsNaN(res.Cost))
}

// interleavedModel evaluates a ComplexModel on f regardless of the doubled
// x axis the fit carries for the re/im pairs.
type interleavedModel struct {
	ComplexModel
	f []float64
}

func (m interleavedModel) Eval(_, params []float64) ([]float64, error) {
	return m.ComplexModel.Eval(m.f, params)
}
