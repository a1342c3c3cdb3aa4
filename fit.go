package kontrol

import (
	"errors"
	"fmt"
	"math"
)

// CurveFit binds data, a model, a cost and an optimizer. Fit minimizes
// Cost(YData, Model(XData, params)) over the parameters. Whether the search is
// global or local is decided by the Optimizer: global optimizers need Bounds,
// local ones need Initial.
type CurveFit struct {
	XData     []float64
	YData     []float64
	Model     Model
	Cost      Cost // nil means MSE
	Optimizer Optimizer
	Bounds    [][2]float64
	Initial   []float64
}

// FitResult holds the optimized parameters and the model output at them.
type FitResult struct {
	Params   []float64
	YFit     []float64
	Cost     float64
	Optimize OptimizeResult
}

func (c *CurveFit) validate() error {
	if c.Model == nil || c.Optimizer == nil {
		return fmt.Errorf("%w: fit needs a model and an optimizer", ErrInputShape)
	}
	if len(c.XData) == 0 {
		return fmt.Errorf("%w: no data", ErrInputShape)
	}
	if len(c.XData) != len(c.YData) {
		return fmt.Errorf("%w: xdata has %d points, ydata has %d", ErrInputShape, len(c.XData), len(c.YData))
	}
	if len(c.Bounds) > 0 && len(c.Initial) > 0 && len(c.Bounds) != len(c.Initial) {
		return fmt.Errorf("%w: %d bounds for %d initial values", ErrInputShape, len(c.Bounds), len(c.Initial))
	}
	if p, ok := c.Model.(Parametrized); ok {
		n := p.NumParams()
		if len(c.Bounds) > 0 && len(c.Bounds) != n {
			return fmt.Errorf("%w: %d bounds for %d parameters", ErrInputShape, len(c.Bounds), n)
		}
		if len(c.Initial) > 0 && len(c.Initial) != n {
			return fmt.Errorf("%w: %d initial values for %d parameters", ErrInputShape, len(c.Initial), n)
		}
	}
	return nil
}

// evaluate runs the model and rejects wrong-sized or non-finite output.
func (c *CurveFit) evaluate(params []float64) ([]float64, error) {
	y, err := c.Model.Eval(c.XData, params)
	if err != nil {
		return nil, err
	}
	if len(y) != len(c.YData) {
		return nil, fmt.Errorf("%w: model returned %d values for %d data points", ErrInputShape, len(y), len(c.YData))
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: model output %g at x=%g", ErrNonFinite, v, c.XData[i])
		}
	}
	return y, nil
}

// Fit runs the optimizer. A model that is undefined somewhere on the data
// (a pole on the evaluation axis, an overflow) fails the fit with
// ErrOptimizerFailure.
func (c *CurveFit) Fit() (*FitResult, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	cost := c.Cost
	if cost == nil {
		cost = MSE
	}

	obj := Objective{
		Func: func(params []float64) (float64, error) {
			y, err := c.evaluate(params)
			if err != nil {
				return 0, err
			}
			return cost.Evaluate(c.YData, y), nil
		},
	}
	if r, ok := cost.(Residualer); ok {
		obj.Size = len(c.YData)
		obj.Residuals = func(dst, params []float64) error {
			y, err := c.evaluate(params)
			if err != nil {
				return err
			}
			r.Residuals(dst, c.YData, y)
			return nil
		}
	}

	res, err := c.Optimizer.Minimize(obj, SearchSpace{Bounds: c.Bounds, Initial: c.Initial})
	if err != nil {
		if errors.Is(err, ErrOptimizerFailure) || errors.Is(err, ErrInputShape) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrOptimizerFailure, err)
	}

	yfit, err := c.evaluate(res.X)
	if err != nil {
		return nil, fmt.Errorf("%w: optimum: %w", ErrOptimizerFailure, err)
	}
	return &FitResult{
		Params:   res.X,
		YFit:     yfit,
		Cost:     cost.Evaluate(c.YData, yfit),
		Optimize: res,
	}, nil
}
