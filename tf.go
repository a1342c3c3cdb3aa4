package kontrol

import (
	"fmt"
	"math"
)

// TF is a rational transfer function as numerator and denominator
// coefficients in descending powers of s.
type TF struct {
	num []float64
	den []float64
}

// NewTF copies and trims the coefficients. The denominator must not vanish.
func NewTF(num, den []float64) (*TF, error) {
	if len(num) == 0 || len(den) == 0 {
		return nil, fmt.Errorf("%w: empty polynomial", ErrInputShape)
	}
	for _, c := range append(append([]float64{}, num...), den...) {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: coefficient %g", ErrNonFinite, c)
		}
	}
	d := trimLeading(append([]float64(nil), den...))
	if len(d) == 1 && d[0] == 0 {
		return nil, fmt.Errorf("%w: zero denominator", ErrInvalidModel)
	}
	return &TF{num: trimLeading(append([]float64(nil), num...)), den: d}, nil
}

// Num returns a copy of the numerator coefficients.
func (t *TF) Num() []float64 { return append([]float64(nil), t.num...) }

// Den returns a copy of the denominator coefficients.
func (t *TF) Den() []float64 { return append([]float64(nil), t.den...) }

// At evaluates the model at one complex frequency.
func (t *TF) At(s complex128) complex128 {
	return polyval(t.num, s) / polyval(t.den, s)
}

// Evaluate evaluates the model at each complex frequency.
func (t *TF) Evaluate(s []complex128) []complex128 {
	out := make([]complex128, len(s))
	for i, x := range s {
		out[i] = t.At(x)
	}
	return out
}

// Response evaluates the model at s = j2πf for f in Hz.
func (t *TF) Response(f []float64) (*FrequencyResponse, error) {
	values := make([]complex128, len(f))
	for i, x := range f {
		values[i] = t.At(complex(0, 2*math.Pi*x))
	}
	return NewFrequencyResponse(f, values)
}

// ZPK factors both polynomials. Zero-valued trailing coefficients become
// exact roots at the origin.
func (t *TF) ZPK() (*ZPK, error) {
	num := trimLeading(t.num)
	if len(num) == 1 && num[0] == 0 {
		return NewZPK(nil, nil, 0)
	}
	zeros, err := polyRoots(num)
	if err != nil {
		return nil, fmt.Errorf("numerator: %w", err)
	}
	poles, err := polyRoots(t.den)
	if err != nil {
		return nil, fmt.Errorf("denominator: %w", err)
	}
	return NewZPK(zeros, poles, num[0]/t.den[0])
}
