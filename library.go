package kontrol

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Model maps the independent variable and a parameter vector to model output.
type Model interface {
	Eval(x, params []float64) ([]float64, error)
}

// Parametrized is implemented by models with a fixed number of parameters.
type Parametrized interface {
	NumParams() int
}

// ModelFunc adapts a plain function to Model.
type ModelFunc func(x, params []float64) ([]float64, error)

// Eval calls f.
func (f ModelFunc) Eval(x, params []float64) ([]float64, error) { return f(x, params) }

// Evaluator is a transfer function that can be evaluated at a complex frequency.
// Both *ZPK and *TF implement it.
type Evaluator interface {
	At(s complex128) complex128
}

// FrequencyModel is a family of rational transfer functions indexed by a
// parameter vector. Frequencies are in Hz.
type FrequencyModel interface {
	NumParams() int
	TransferFunction(params []float64) (Evaluator, error)
}

// ModelZPK returns the ZPK member of a frequency family.
func ModelZPK(fm FrequencyModel, params []float64) (*ZPK, error) {
	tf, err := fm.TransferFunction(params)
	if err != nil {
		return nil, err
	}
	switch h := tf.(type) {
	case *ZPK:
		return h, nil
	case *TF:
		return h.ZPK()
	default:
		return nil, fmt.Errorf("%w: %T cannot be factored", ErrInvalidModel, tf)
	}
}

func checkParams(fm Parametrized, params []float64) error {
	if len(params) != fm.NumParams() {
		return fmt.Errorf("%w: %T takes %d parameters, got %d", ErrInputShape, fm, fm.NumParams(), len(params))
	}
	return nil
}

func evalHz(fm FrequencyModel, f, params []float64) ([]complex128, error) {
	if err := checkParams(fm, params); err != nil {
		return nil, err
	}
	tf, err := fm.TransferFunction(params)
	if err != nil {
		return nil, err
	}
	out := make([]complex128, len(f))
	for i, x := range f {
		v := tf.At(complex(0, 2*math.Pi*x))
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			return nil, fmt.Errorf("%w: %T at %g Hz with params %v", ErrNonFinite, fm, x, params)
		}
		out[i] = v
	}
	return out, nil
}

// MagnitudeModel fits |H(j2πf)| of a frequency family.
type MagnitudeModel struct {
	FrequencyModel
}

// Eval returns the magnitude response at the frequencies x.
func (m MagnitudeModel) Eval(x, params []float64) ([]float64, error) {
	v, err := evalHz(m.FrequencyModel, x, params)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for i := range v {
		out[i] = cmplx.Abs(v[i])
	}
	return out, nil
}

// ComplexModel fits the complex response of a frequency family. The output is
// interleaved as re0, im0, re1, im1, ... and the data must be prepared with
// Interleave.
type ComplexModel struct {
	FrequencyModel
}

// Eval returns the interleaved complex response at the frequencies x.
func (m ComplexModel) Eval(x, params []float64) ([]float64, error) {
	v, err := evalHz(m.FrequencyModel, x, params)
	if err != nil {
		return nil, err
	}
	return Interleave(v), nil
}

// Interleave flattens complex values into re/im pairs.
func Interleave(v []complex128) []float64 {
	out := make([]float64, 2*len(v))
	for i, c := range v {
		out[2*i] = real(c)
		out[2*i+1] = imag(c)
	}
	return out
}

// StraightLine is y = slope·x + intercept with params [slope, intercept].
type StraightLine struct{}

func (StraightLine) NumParams() int { return 2 }

func (l StraightLine) Eval(x, params []float64) ([]float64, error) {
	if err := checkParams(l, params); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = params[0]*v + params[1]
	}
	return out, nil
}

// Erf is y = a·erf(m·(x − x0)) + y0 with params [a, m, x0, y0].
type Erf struct{}

func (Erf) NumParams() int { return 4 }

func (e Erf) Eval(x, params []float64) ([]float64, error) {
	if err := checkParams(e, params); err != nil {
		return nil, err
	}
	a, m, x0, y0 := params[0], params[1], params[2], params[3]
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = a*math.Erf(m*(v-x0)) + y0
	}
	return out, nil
}

// Polynomial is y = Σ params[i]·x^i with Degree+1 coefficients, lowest power
// first.
type Polynomial struct {
	Degree int
}

func (p Polynomial) NumParams() int { return p.Degree + 1 }

func (p Polynomial) Eval(x, params []float64) ([]float64, error) {
	if err := checkParams(p, params); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, v := range x {
		acc := 0.0
		for j := len(params) - 1; j >= 0; j-- {
			acc = acc*v + params[j]
		}
		out[i] = acc
	}
	return out, nil
}

// quadRoots returns the roots of s² + (wn/q)s + wn².
func quadRoots(wn, q float64) (complex128, complex128) {
	re := -wn / (2 * q)
	disc := 1/(4*q*q) - 1
	if disc >= 0 {
		d := wn * math.Sqrt(disc)
		return complex(re-d, 0), complex(re+d, 0)
	}
	d := wn * math.Sqrt(-disc)
	return complex(re, d), complex(re, -d)
}

// normalizedZPK builds the model whose DC value is dc, with each nonzero root
// contributing a unit-DC factor (1 − s/r) and each root at the origin a plain s.
func normalizedZPK(zeros, poles []complex128, dc float64) (*ZPK, error) {
	k := complex(dc, 0)
	for _, p := range poles {
		if p != 0 {
			k *= -p
		}
	}
	for _, z := range zeros {
		if z != 0 {
			k /= -z
		}
	}
	return NewZPK(zeros, poles, real(k))
}

func pow10(params []float64, logArgs bool) []float64 {
	out := make([]float64, len(params))
	for i, p := range params {
		if logArgs {
			out[i] = math.Pow(10, p)
		} else {
			out[i] = p
		}
	}
	return out
}

// DampedOscillator is k·ωn²/(s² + ωn/q·s + ωn²) with params [k, fn, q], fn in
// Hz.
type DampedOscillator struct{}

func (DampedOscillator) NumParams() int { return 3 }

func (d DampedOscillator) TransferFunction(params []float64) (Evaluator, error) {
	if err := checkParams(d, params); err != nil {
		return nil, err
	}
	k, fn, q := params[0], params[1], params[2]
	if q == 0 {
		return nil, fmt.Errorf("%w: zero quality factor", ErrInvalidModel)
	}
	p1, p2 := quadRoots(2*math.Pi*fn, q)
	return normalizedZPK(nil, []complex128{p1, p2}, k)
}

// SimpleZPK is k·Π(s/(2πz)+1)/Π(s/(2πp)+1) with real corner frequencies in
// Hz. Params are [z1..zn, p1..pm, k]. With LogArgs every parameter is log10
// of its value.
type SimpleZPK struct {
	NumZeros int
	NumPoles int
	LogArgs  bool
}

func (m SimpleZPK) NumParams() int { return m.NumZeros + m.NumPoles + 1 }

func (m SimpleZPK) TransferFunction(params []float64) (Evaluator, error) {
	if err := checkParams(m, params); err != nil {
		return nil, err
	}
	v := pow10(params, m.LogArgs)
	zeros := make([]complex128, m.NumZeros)
	for i := range zeros {
		zeros[i] = complex(-2*math.Pi*v[i], 0)
	}
	poles := make([]complex128, m.NumPoles)
	for i := range poles {
		poles[i] = complex(-2*math.Pi*v[m.NumZeros+i], 0)
	}
	return normalizedZPK(zeros, poles, v[len(v)-1])
}

// ComplexZPK is a product of second-order sections
// (s²/(2πf)² + s/(2πf·q) + 1). NumZeros and NumPoles count complex pairs.
// Params are [fz1, qz1, ..., fp1, qp1, ..., k].
type ComplexZPK struct {
	NumZeros int
	NumPoles int
	LogArgs  bool
}

func (m ComplexZPK) NumParams() int { return 2*(m.NumZeros+m.NumPoles) + 1 }

func (m ComplexZPK) TransferFunction(params []float64) (Evaluator, error) {
	if err := checkParams(m, params); err != nil {
		return nil, err
	}
	v := pow10(params, m.LogArgs)
	sections := func(offset, n int) ([]complex128, error) {
		var roots []complex128
		for i := 0; i < n; i++ {
			f, q := v[offset+2*i], v[offset+2*i+1]
			if q == 0 {
				return nil, fmt.Errorf("%w: zero quality factor", ErrInvalidModel)
			}
			r1, r2 := quadRoots(2*math.Pi*f, q)
			roots = append(roots, r1, r2)
		}
		return roots, nil
	}
	zeros, err := sections(0, m.NumZeros)
	if err != nil {
		return nil, err
	}
	poles, err := sections(2*m.NumZeros, m.NumPoles)
	if err != nil {
		return nil, err
	}
	return normalizedZPK(zeros, poles, v[len(v)-1])
}

// TransferFunctionModel has free polynomial coefficients, descending powers
// of s. Params are NumZeros+1 numerator then NumPoles+1 denominator
// coefficients.
type TransferFunctionModel struct {
	NumZeros int
	NumPoles int
	LogArgs  bool
}

func (m TransferFunctionModel) NumParams() int { return m.NumZeros + m.NumPoles + 2 }

func (m TransferFunctionModel) TransferFunction(params []float64) (Evaluator, error) {
	if err := checkParams(m, params); err != nil {
		return nil, err
	}
	v := pow10(params, m.LogArgs)
	return NewTF(v[:m.NumZeros+1], v[m.NumZeros+1:])
}
