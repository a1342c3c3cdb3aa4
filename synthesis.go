package kontrol

import (
	"fmt"
	"log"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
)

// Synthesizer designs complementary filters H1 + H2 = 1 that blend two
// sensors by minimizing, over a log-spaced frequency grid, the peak of
// max(|H1|/|W1|, |H2|/|W2|). For two noise models the weights are the
// relative noises W1 = N2/N1 and W2 = N1/N2, so each filter is penalized by
// how much noisier its sensor is than the other one. This is a
// frequency-grid approximation of H-infinity mixed-sensitivity synthesis,
// not a state-space solver.
//
// The candidate filters share a stable denominator D(s) of order
// LowPassOrder+HighPassOrder−1, parameterized by pole frequencies and quality
// factors. The low-pass numerator is the lower-order part of D and the
// high-pass numerator is the rest, so the two numerators add up to D exactly
// and complementarity holds by construction.
type Synthesizer struct {
	// LowPassOrder is the roll-off order of the low-pass filter, 0 means 2.
	LowPassOrder int
	// HighPassOrder is the order of the high-pass filter at low frequency,
	// 0 means 2.
	HighPassOrder int
	// GridPoints is the number of log-spaced frequencies, 0 means 256.
	GridPoints int
	// Norm selects the objective: 0 or +Inf for the grid peak, otherwise the
	// Lp norm with p = Norm as a smooth surrogate.
	Norm float64
	// QBounds bounds log10 of the pole quality factors, zero means [-1, 1].
	QBounds [2]float64
	// Optimizer must be a bounded global optimizer, nil means differential
	// evolution with seed 1 and a Nelder-Mead polish.
	Optimizer Optimizer
}

// ComplementaryPair is a synthesized filter pair with H1 + H2 = 1.
type ComplementaryPair struct {
	H1 *TF
	H2 *TF
	// LowPass is 1 when H1 is the low-pass filter, 2 when H2 is.
	LowPass int
	// Peak is the objective value at the optimum.
	Peak float64
	Grid []float64
	Fit  *FitResult

	poles []complex128
}

// H1ZPK factors H1. Its poles are the exact synthesized poles.
func (p *ComplementaryPair) H1ZPK() (*ZPK, error) { return p.factor(p.H1) }

// H2ZPK factors H2. Its poles are the exact synthesized poles.
func (p *ComplementaryPair) H2ZPK() (*ZPK, error) { return p.factor(p.H2) }

func (p *ComplementaryPair) factor(h *TF) (*ZPK, error) {
	zeros, err := polyRoots(h.num)
	if err != nil {
		return nil, err
	}
	num := trimLeading(h.num)
	return NewZPK(zeros, p.poles, num[0]/h.den[0])
}

// SuperSensorNoise predicts the blended sensor noise sqrt(|H1·N1|² + |H2·N2|²)
// on the axis of n1, which n2 must share.
func (p *ComplementaryPair) SuperSensorNoise(n1, n2 *FrequencyResponse) (*FrequencyResponse, error) {
	if err := n1.sameAxis(n2); err != nil {
		return nil, err
	}
	f := n1.Frequencies()
	h1, err := p.H1.Response(f)
	if err != nil {
		return nil, err
	}
	h2, err := p.H2.Response(f)
	if err != nil {
		return nil, err
	}
	a, err := h1.Mul(n1)
	if err != nil {
		return nil, err
	}
	b, err := h2.Mul(n2)
	if err != nil {
		return nil, err
	}
	return QuadratureSum(a, b)
}

func (s *Synthesizer) orders() (nl, nh int) {
	nl, nh = s.LowPassOrder, s.HighPassOrder
	if nl <= 0 {
		nl = 2
	}
	if nh <= 0 {
		nh = 2
	}
	return nl, nh
}

// Synthesize blends sensor 1 with noise n1 and sensor 2 with noise n2 over
// the union of their bands. Models that are not flat at the band edges tend
// to drive the optimizer toward spurious far out-of-band roots; this is
// logged, not corrected.
func (s *Synthesizer) Synthesize(n1, n2 NoiseModel) (*ComplementaryPair, error) {
	for i, n := range []NoiseModel{n1, n2} {
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("noise model %d: %w", i+1, err)
		}
		if !n.Flattened() {
			log.Printf("⚠️  synthesis: noise model %d is not flat at the band edges", i+1)
		}
	}
	grid, err := s.grid(math.Min(n1.FMin, n2.FMin), math.Max(n1.FMax, n2.FMax))
	if err != nil {
		return nil, err
	}
	b1, b2, err := relativeNoise(grid, n1.Magnitude(grid), n2.Magnitude(grid))
	if err != nil {
		return nil, err
	}
	return s.synthesize(grid, b1, b2)
}

// SynthesizeWeighted uses explicit weights instead of relative noises. The
// weighted terms are |H1|/|W1| and |H2|/|W2| on [fmin, fmax] Hz, so
// Synthesize(n1, n2) is SynthesizeWeighted(N2/N1, N1/N2) over the union band.
func (s *Synthesizer) SynthesizeWeighted(w1, w2 *ZPK, fmin, fmax float64) (*ComplementaryPair, error) {
	if w1 == nil || w2 == nil {
		return nil, fmt.Errorf("%w: missing weight", ErrInvalidModel)
	}
	grid, err := s.grid(fmin, fmax)
	if err != nil {
		return nil, err
	}
	b1, err := inverseMagnitude(w1, grid)
	if err != nil {
		return nil, fmt.Errorf("weight 1: %w", err)
	}
	b2, err := inverseMagnitude(w2, grid)
	if err != nil {
		return nil, fmt.Errorf("weight 2: %w", err)
	}
	return s.synthesize(grid, b1, b2)
}

// SensorCorrection designs the sensor-correction filter H1, applied to the
// seismometer, and its complement H2, which leaves the ground motion
// uncorrected. floor, if not nil, is an ambient noise floor added in
// quadrature to the seismometer noise. The weights are relative noises as in
// Synthesize.
func (s *Synthesizer) SensorCorrection(seismometer, ground NoiseModel, floor *NoiseModel) (*ComplementaryPair, error) {
	models := []NoiseModel{seismometer, ground}
	if floor != nil {
		models = append(models, *floor)
	}
	fmin, fmax := math.Inf(1), 0.0
	for i, n := range models {
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("noise model %d: %w", i+1, err)
		}
		fmin, fmax = math.Min(fmin, n.FMin), math.Max(fmax, n.FMax)
	}
	grid, err := s.grid(fmin, fmax)
	if err != nil {
		return nil, err
	}

	seis := seismometer.Magnitude(grid)
	if floor != nil {
		for i, v := range floor.Magnitude(grid) {
			seis[i] = math.Hypot(seis[i], v)
		}
	}
	b1, b2, err := relativeNoise(grid, seis, ground.Magnitude(grid))
	if err != nil {
		return nil, err
	}
	return s.synthesize(grid, b1, b2)
}

// relativeNoise returns n1/n2 and n2/n1.
func relativeNoise(grid, n1, n2 []float64) (r1, r2 []float64, err error) {
	r1, r2 = make([]float64, len(grid)), make([]float64, len(grid))
	for i, f := range grid {
		if !(n1[i] > 0) || !(n2[i] > 0) || math.IsInf(n1[i], 0) || math.IsInf(n2[i], 0) {
			return nil, nil, fmt.Errorf("%w: noise magnitudes %g and %g at %g Hz", ErrNonFinite, n1[i], n2[i], f)
		}
		r1[i], r2[i] = n1[i]/n2[i], n2[i]/n1[i]
	}
	return r1, r2, nil
}

func (s *Synthesizer) grid(fmin, fmax float64) ([]float64, error) {
	if !(fmin > 0) || !(fmax > fmin) || math.IsInf(fmax, 0) {
		return nil, fmt.Errorf("%w: synthesis band [%g, %g] Hz", ErrInputShape, fmin, fmax)
	}
	n := s.GridPoints
	if n <= 0 {
		n = 256
	}
	if n < 2 {
		return nil, fmt.Errorf("%w: grid needs at least 2 points", ErrInputShape)
	}
	return floats.LogSpan(make([]float64, n), fmin, fmax), nil
}

func inverseMagnitude(w *ZPK, grid []float64) ([]float64, error) {
	out := make([]float64, len(grid))
	for i, f := range grid {
		m := cmplx.Abs(w.At(complex(0, 2*math.Pi*f)))
		if !(m > 0) || math.IsInf(m, 0) {
			return nil, fmt.Errorf("%w: weight magnitude %g at %g Hz", ErrNonFinite, m, f)
		}
		out[i] = 1 / m
	}
	return out, nil
}

// complementaryFamily evaluates candidate filter pairs on a fixed grid.
type complementaryFamily struct {
	nl, nh int
	grid   []float64
	s      []complex128
	b1, b2 []float64
	h1Low  bool
}

func (c *complementaryFamily) order() int { return c.nl + c.nh - 1 }

func (c *complementaryFamily) NumParams() int { return c.order() }

// poles maps parameters to stable poles: one (log10 f, log10 q) pair per
// complex pair, plus log10 f of a real pole when the order is odd.
func (c *complementaryFamily) poles(params []float64) []complex128 {
	n := c.order()
	out := make([]complex128, 0, n)
	for k := 0; k < n/2; k++ {
		wn := 2 * math.Pi * math.Pow(10, params[2*k])
		q := math.Pow(10, params[2*k+1])
		p1, p2 := quadRoots(wn, q)
		out = append(out, p1, p2)
	}
	if n%2 == 1 {
		out = append(out, complex(-2*math.Pi*math.Pow(10, params[n-1]), 0))
	}
	return out
}

// split returns D and the low- and high-pass numerators, descending powers.
func (c *complementaryFamily) split(poles []complex128) (den, low, high []float64) {
	den = polyFromRoots(poles)
	n := len(den) - 1
	// den[n-i] is the coefficient of s^i.
	low = append([]float64(nil), den[n-c.nh+1:]...)
	high = make([]float64, len(den))
	copy(high, den[:n-c.nh+1])
	return den, low, high
}

// Eval returns |H1|·b1 followed by |H2|·b2. x repeats the grid twice.
func (c *complementaryFamily) Eval(_, params []float64) ([]float64, error) {
	if len(params) != c.NumParams() {
		return nil, fmt.Errorf("%w: %d parameters for order %d", ErrInputShape, len(params), c.order())
	}
	den, low, high := c.split(c.poles(params))
	n := len(c.grid)
	out := make([]float64, 2*n)
	for i, s := range c.s {
		d := polyval(den, s)
		hl := cmplx.Abs(polyval(low, s) / d)
		hh := cmplx.Abs(polyval(high, s) / d)
		if c.h1Low {
			out[i], out[n+i] = hl*c.b1[i], hh*c.b2[i]
		} else {
			out[i], out[n+i] = hh*c.b1[i], hl*c.b2[i]
		}
	}
	return out, nil
}

func (s *Synthesizer) synthesize(grid, b1, b2 []float64) (*ComplementaryPair, error) {
	nl, nh := s.orders()
	n := len(grid)
	// Sensor 1 is low-passed when it is the relatively quieter one at the
	// bottom of the band.
	h1Low := b1[0]/b2[0] <= b1[n-1]/b2[n-1]

	family := &complementaryFamily{nl: nl, nh: nh, grid: grid, b1: b1, b2: b2, h1Low: h1Low}
	family.s = make([]complex128, n)
	for i, f := range grid {
		family.s[i] = complex(0, 2*math.Pi*f)
	}

	qb := s.QBounds
	if qb == [2]float64{} {
		qb = [2]float64{-1, 1}
	}
	fb := [2]float64{math.Log10(grid[0]), math.Log10(grid[n-1])}
	order := family.order()
	bounds := make([][2]float64, order)
	for k := 0; k < order/2; k++ {
		bounds[2*k], bounds[2*k+1] = fb, qb
	}
	if order%2 == 1 {
		bounds[order-1] = fb
	}

	optimizer := s.Optimizer
	if optimizer == nil {
		optimizer = &DifferentialEvolution{Seed: 1, Polish: &NelderMead{Restarts: 2}}
	}
	fit := &CurveFit{
		XData:     append(append([]float64(nil), grid...), grid...),
		YData:     make([]float64, 2*n),
		Model:     family,
		Cost:      PeakError{P: s.Norm},
		Optimizer: optimizer,
		Bounds:    bounds,
	}
	res, err := fit.Fit()
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}

	poles := family.poles(res.Params)
	for _, p := range poles {
		if real(p) > 0 {
			return nil, fmt.Errorf("synthesis: %w: pole %v", ErrInstability, p)
		}
	}
	den, low, high := family.split(poles)
	lowTF := &TF{num: low, den: den}
	highTF := &TF{num: high, den: append([]float64(nil), den...)}

	pair := &ComplementaryPair{
		Peak:  PeakError{}.Evaluate(fit.YData, res.YFit),
		Grid:  grid,
		Fit:   res,
		poles: poles,
	}
	if h1Low {
		pair.H1, pair.H2, pair.LowPass = lowTF, highTF, 1
	} else {
		pair.H1, pair.H2, pair.LowPass = highTF, lowTF, 2
	}
	log.Printf("synthesis: order %d (low-pass %d, high-pass %d), peak %.4e", order, nl, nh, pair.Peak)
	return pair, nil
}
