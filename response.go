package kontrol

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	vecmath "github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

// Spacing tells the integrators how the frequency axis was generated.
type Spacing int

const (
	// Linear integrates over f directly.
	Linear Spacing = iota
	// Logarithmic integrates |v|²·f over ln f, which is exact for the same
	// integral but far better conditioned on log-spaced axes.
	Logarithmic
)

func (s Spacing) String() string {
	if s == Logarithmic {
		return "log"
	}
	return "linear"
}

// FrequencyResponse holds complex samples on a strictly increasing,
// positive frequency axis in Hz. It is never modified after construction.
type FrequencyResponse struct {
	freqs  []float64
	values []complex128
}

// NewFrequencyResponse copies freqs and values into a new response.
func NewFrequencyResponse(freqs []float64, values []complex128) (*FrequencyResponse, error) {
	if len(freqs) != len(values) {
		return nil, fmt.Errorf("%w: %d frequencies vs %d values", ErrInputShape, len(freqs), len(values))
	}
	if err := validateAxis(freqs); err != nil {
		return nil, err
	}
	for i, v := range values {
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			return nil, fmt.Errorf("%w: value at %g Hz (index %d)", ErrNonFinite, freqs[i], i)
		}
	}

	r := &FrequencyResponse{
		freqs:  make([]float64, len(freqs)),
		values: make([]complex128, len(values)),
	}
	copy(r.freqs, freqs)
	copy(r.values, values)
	return r, nil
}

// NewMagnitudeResponse builds a response with zero phase from real magnitudes,
// e.g. an amplitude spectral density.
func NewMagnitudeResponse(freqs, magnitude []float64) (*FrequencyResponse, error) {
	if len(freqs) != len(magnitude) {
		return nil, fmt.Errorf("%w: %d frequencies vs %d magnitudes", ErrInputShape, len(freqs), len(magnitude))
	}
	values := make([]complex128, len(magnitude))
	for i, m := range magnitude {
		values[i] = complex(m, 0)
	}
	return NewFrequencyResponse(freqs, values)
}

func validateAxis(freqs []float64) error {
	if len(freqs) == 0 {
		return fmt.Errorf("%w: empty frequency axis", ErrInputShape)
	}
	for i, f := range freqs {
		if !(f > 0) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: frequency %g at index %d is not a positive finite value", ErrInputShape, f, i)
		}
		if i > 0 && f <= freqs[i-1] {
			return fmt.Errorf("%w: frequencies not strictly increasing at index %d", ErrInputShape, i)
		}
	}
	return nil
}

// Len returns the number of samples.
func (r *FrequencyResponse) Len() int { return len(r.freqs) }

// Frequencies returns a copy of the frequency axis.
func (r *FrequencyResponse) Frequencies() []float64 {
	out := make([]float64, len(r.freqs))
	copy(out, r.freqs)
	return out
}

// Values returns a copy of the complex samples.
func (r *FrequencyResponse) Values() []complex128 {
	out := make([]complex128, len(r.values))
	copy(out, r.values)
	return out
}

// Band returns the first and last frequency.
func (r *FrequencyResponse) Band() (float64, float64) {
	return r.freqs[0], r.freqs[len(r.freqs)-1]
}

func (r *FrequencyResponse) split() (re, im []float64) {
	re = make([]float64, len(r.values))
	im = make([]float64, len(r.values))
	for i, v := range r.values {
		re[i] = real(v)
		im[i] = imag(v)
	}
	return re, im
}

// Magnitude returns |v| per sample.
func (r *FrequencyResponse) Magnitude() []float64 {
	re, im := r.split()
	out := make([]float64, len(re))
	vecmath.Magnitude(out, re, im)
	return out
}

// Power returns |v|² per sample.
func (r *FrequencyResponse) Power() []float64 {
	re, im := r.split()
	out := make([]float64, len(re))
	vecmath.Power(out, re, im)
	return out
}

// Phase returns the argument of each sample in radians.
func (r *FrequencyResponse) Phase() []float64 {
	out := make([]float64, len(r.values))
	for i, v := range r.values {
		out[i] = cmplx.Phase(v)
	}
	return out
}

func (r *FrequencyResponse) sameAxis(o *FrequencyResponse) error {
	if len(r.freqs) != len(o.freqs) {
		return fmt.Errorf("%w: axes have %d and %d samples", ErrInputShape, len(r.freqs), len(o.freqs))
	}
	for i := range r.freqs {
		if r.freqs[i] != o.freqs[i] {
			return fmt.Errorf("%w: axes differ at index %d (%g vs %g Hz)", ErrInputShape, i, r.freqs[i], o.freqs[i])
		}
	}
	return nil
}

func (r *FrequencyResponse) with(values []complex128) *FrequencyResponse {
	return &FrequencyResponse{freqs: r.freqs, values: values}
}

// Add returns the elementwise sum. Both responses must share one axis.
func (r *FrequencyResponse) Add(o *FrequencyResponse) (*FrequencyResponse, error) {
	if err := r.sameAxis(o); err != nil {
		return nil, err
	}
	out := make([]complex128, len(r.values))
	for i := range out {
		out[i] = r.values[i] + o.values[i]
	}
	return r.with(out), nil
}

// Mul returns the elementwise product. Both responses must share one axis.
func (r *FrequencyResponse) Mul(o *FrequencyResponse) (*FrequencyResponse, error) {
	if err := r.sameAxis(o); err != nil {
		return nil, err
	}
	out := make([]complex128, len(r.values))
	for i := range out {
		out[i] = r.values[i] * o.values[i]
	}
	return r.with(out), nil
}

// Scale multiplies every sample by a real factor.
func (r *FrequencyResponse) Scale(c float64) *FrequencyResponse {
	re, im := r.split()
	vecmath.ScaleBlock(re, re, c)
	vecmath.ScaleBlock(im, im, c)
	out := make([]complex128, len(re))
	for i := range out {
		out[i] = complex(re[i], im[i])
	}
	return r.with(out)
}

// QuadratureSum combines independent contributions as sqrt(Σ|v_i|²).
// The result is a magnitude response on the shared axis.
func QuadratureSum(responses ...*FrequencyResponse) (*FrequencyResponse, error) {
	if len(responses) == 0 {
		return nil, fmt.Errorf("%w: quadrature sum of nothing", ErrInputShape)
	}
	first := responses[0]
	acc := make([]float64, first.Len())
	for _, r := range responses {
		if err := first.sameAxis(r); err != nil {
			return nil, err
		}
		floats.Add(acc, r.Power())
	}
	out := make([]complex128, len(acc))
	for i, p := range acc {
		out[i] = complex(math.Sqrt(p), 0)
	}
	return first.with(out), nil
}

// Norm2 is the discrete 2-norm sqrt(Σ|v|²), the sum approximation used as a
// filter figure of merit.
func (r *FrequencyResponse) Norm2() float64 {
	return math.Sqrt(floats.Sum(r.Power()))
}

// RMS integrates |v|² over the axis with the trapezoidal rule and returns the
// square root. For an amplitude spectral density this is the RMS of the signal
// in the band.
func (r *FrequencyResponse) RMS(spacing Spacing) float64 {
	x, y := r.integrand(spacing)
	return math.Sqrt(integrate.Trapezoidal(x, y))
}

// CumulativeRMS returns, for each frequency, the RMS accumulated from that
// frequency up to the top of the band.
func (r *FrequencyResponse) CumulativeRMS(spacing Spacing) []float64 {
	x, y := r.integrand(spacing)
	n := len(x)
	out := make([]float64, n)
	acc := 0.0
	for i := n - 2; i >= 0; i-- {
		acc += 0.5 * (y[i] + y[i+1]) * (x[i+1] - x[i])
		out[i] = math.Sqrt(acc)
	}
	return out
}

func (r *FrequencyResponse) integrand(spacing Spacing) (x, y []float64) {
	y = r.Power()
	if spacing == Logarithmic {
		x = make([]float64, len(r.freqs))
		for i, f := range r.freqs {
			x[i] = math.Log(f)
			y[i] *= f
		}
		return x, y
	}
	x = make([]float64, len(r.freqs))
	copy(x, r.freqs)
	return x, y
}

// Pad extends the axis by the given number of decades on each side with
// points log-spaced samples per side, holding the edge values.
func (r *FrequencyResponse) Pad(decadesBelow, decadesAbove float64, points int) (*FrequencyResponse, error) {
	if points < 1 || decadesBelow < 0 || decadesAbove < 0 {
		return nil, fmt.Errorf("%w: invalid padding (%g, %g decades, %d points)", ErrInputShape, decadesBelow, decadesAbove, points)
	}
	fmin, fmax := r.Band()
	var freqs []float64
	var values []complex128

	if decadesBelow > 0 {
		below := floats.LogSpan(make([]float64, points+1), fmin/math.Pow(10, decadesBelow), fmin)
		freqs = append(freqs, below[:points]...)
		for range points {
			values = append(values, r.values[0])
		}
	}
	freqs = append(freqs, r.freqs...)
	values = append(values, r.values...)
	if decadesAbove > 0 {
		above := floats.LogSpan(make([]float64, points+1), fmax, fmax*math.Pow(10, decadesAbove))
		freqs = append(freqs, above[1:]...)
		for range points {
			values = append(values, r.values[len(r.values)-1])
		}
	}
	return NewFrequencyResponse(freqs, values)
}

// Interpolate returns the magnitude at f, interpolated linearly in log-log
// coordinates and held constant outside the band.
func (r *FrequencyResponse) Interpolate(f []float64) []float64 {
	mag := r.Magnitude()
	out := make([]float64, len(f))
	n := len(r.freqs)
	for i, x := range f {
		j := sort.SearchFloat64s(r.freqs, x)
		switch {
		case j == 0:
			out[i] = mag[0]
		case j >= n:
			out[i] = mag[n-1]
		case r.freqs[j] == x:
			out[i] = mag[j]
		default:
			x0, x1 := math.Log(r.freqs[j-1]), math.Log(r.freqs[j])
			t := (math.Log(x) - x0) / (x1 - x0)
			if mag[j-1] > 0 && mag[j] > 0 {
				out[i] = math.Exp((1-t)*math.Log(mag[j-1]) + t*math.Log(mag[j]))
			} else {
				out[i] = (1-t)*mag[j-1] + t*mag[j]
			}
		}
	}
	return out
}
