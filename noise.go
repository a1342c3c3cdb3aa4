package kontrol

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/cmplx"
)

// NoiseModel is a rational fit of a sensor noise spectral density, valid on
// [FMin, FMax] Hz. Its inverse is the synthesis weight.
//
// For the synthesis to be well posed the model should be flat at both ends of
// the band: as many zeros as poles and no roots at the origin. This is the
// caller's responsibility; Flattened reports it but nothing corrects it.
type NoiseModel struct {
	Model *ZPK
	FMin  float64
	FMax  float64
}

// NewNoiseModel validates the model and band.
func NewNoiseModel(model *ZPK, fmin, fmax float64) (NoiseModel, error) {
	n := NoiseModel{Model: model, FMin: fmin, FMax: fmax}
	if err := n.Validate(); err != nil {
		return NoiseModel{}, err
	}
	return n, nil
}

// Validate checks the band and that the magnitude cannot vanish on the
// imaginary axis.
func (n NoiseModel) Validate() error {
	if n.Model == nil {
		return fmt.Errorf("%w: noise model has no transfer function", ErrInvalidModel)
	}
	if !(n.FMin > 0) || !(n.FMax > n.FMin) || math.IsInf(n.FMax, 0) {
		return fmt.Errorf("%w: noise band [%g, %g] Hz", ErrInputShape, n.FMin, n.FMax)
	}
	if n.Model.Gain() == 0 {
		return fmt.Errorf("%w: noise model has zero gain", ErrInvalidModel)
	}
	for _, z := range n.Model.zeros {
		if real(z) == 0 {
			return fmt.Errorf("%w: noise model zero %v lies on the imaginary axis", ErrInvalidModel, z)
		}
	}
	for _, p := range n.Model.poles {
		if real(p) == 0 {
			return fmt.Errorf("%w: noise model pole %v lies on the imaginary axis", ErrInvalidModel, p)
		}
	}
	return nil
}

// Flattened reports whether the magnitude levels off at both frequency
// extremes.
func (n NoiseModel) Flattened() bool {
	return n.Model != nil && len(n.Model.zeros) == len(n.Model.poles) && !n.Model.hasOriginRoot()
}

// Magnitude evaluates |N(j2πf)| for f in Hz.
func (n NoiseModel) Magnitude(f []float64) []float64 {
	out := make([]float64, len(f))
	for i, x := range f {
		out[i] = cmplx.Abs(n.Model.At(complex(0, 2*math.Pi*x)))
	}
	return out
}

// SpectrumFit fits a noise model with real corner frequencies to a measured
// amplitude spectral density. The global search runs in log10 space with
// bounds taken from the data, and its optimum is then refined locally.
type SpectrumFit struct {
	// NumZeros and NumPoles set the model order. Equal counts give a model
	// that is flat at both ends.
	NumZeros int
	NumPoles int
	// Weight multiplies the log residual per frequency, nil for uniform.
	Weight []float64
	// Optimizer is the bounded global search, nil means seeded differential
	// evolution.
	Optimizer Optimizer
	// Refine is a local optimizer run from the global optimum, nil means
	// Nelder-Mead. A failed refinement keeps the global result.
	Refine Optimizer
}

// Fit returns the noise model on the band of resp and the raw fit result,
// whose parameters are log10 of [zeros..., poles..., dc gain] in Hz.
func (sf *SpectrumFit) Fit(resp *FrequencyResponse) (NoiseModel, *FitResult, error) {
	if resp.Len() < 2 {
		return NoiseModel{}, nil, fmt.Errorf("%w: spectrum fit needs at least 2 samples", ErrInputShape)
	}
	if sf.NumZeros < 0 || sf.NumPoles < 0 {
		return NoiseModel{}, nil, fmt.Errorf("%w: negative model order", ErrInputShape)
	}
	if sf.Weight != nil && len(sf.Weight) != resp.Len() {
		return NoiseModel{}, nil, fmt.Errorf("%w: %d weights for %d samples", ErrInputShape, len(sf.Weight), resp.Len())
	}

	f := resp.Frequencies()
	mag := resp.Magnitude()
	ymin, ymax := math.Inf(1), 0.0
	for i, m := range mag {
		if !(m > 0) {
			return NoiseModel{}, nil, fmt.Errorf("%w: non-positive magnitude %g at %g Hz", ErrInputShape, m, f[i])
		}
		ymin, ymax = math.Min(ymin, m), math.Max(ymax, m)
	}
	fmin, fmax := resp.Band()

	family := SimpleZPK{NumZeros: sf.NumZeros, NumPoles: sf.NumPoles, LogArgs: true}
	bounds := make([][2]float64, family.NumParams())
	for i := 0; i < sf.NumZeros+sf.NumPoles; i++ {
		bounds[i] = [2]float64{math.Log10(fmin), math.Log10(fmax)}
	}
	// The dc gain of a flat model lies near the data, one decade either way.
	bounds[len(bounds)-1] = [2]float64{math.Log10(ymin) - 1, math.Log10(ymax) + 1}

	global := sf.Optimizer
	if global == nil {
		global = &DifferentialEvolution{Seed: 123}
	}
	fit := &CurveFit{
		XData:     f,
		YData:     mag,
		Model:     MagnitudeModel{family},
		Cost:      LogMSE(sf.Weight),
		Optimizer: global,
		Bounds:    bounds,
	}
	res, err := fit.Fit()
	if err != nil {
		return NoiseModel{}, nil, fmt.Errorf("spectrum fit: %w", err)
	}

	local := sf.Refine
	if local == nil {
		local = &NelderMead{Restarts: 2}
	}
	refine := *fit
	refine.Optimizer = local
	refine.Bounds = nil
	refine.Initial = res.Params
	if refined, err := refine.Fit(); err != nil {
		if !errors.Is(err, ErrOptimizerFailure) {
			return NoiseModel{}, nil, err
		}
		log.Printf("spectrum fit: refinement failed, keeping global optimum: %v", err)
	} else if refined.Cost < res.Cost {
		res = refined
	}

	model, err := ModelZPK(family, res.Params)
	if err != nil {
		return NoiseModel{}, nil, fmt.Errorf("spectrum fit: %w", err)
	}
	noise, err := NewNoiseModel(model, fmin, fmax)
	if err != nil {
		return NoiseModel{}, nil, fmt.Errorf("spectrum fit: %w", err)
	}
	log.Printf("spectrum fit: %d zeros, %d poles, log-mse=%.3e", sf.NumZeros, sf.NumPoles, res.Cost)
	return noise, res, nil
}
