package spectral

import (
	"fmt"
	"math"

	"github.com/terrencetec/kontrol"
)

// Typical sensor noise levels at 1 Hz and corner frequencies in Hz.
const (
	LVDTLevel      = 8e-3
	LVDTCorner     = 4.5
	GeophoneLevel  = 2e-6
	GeophoneCorner = 0.9
)

// PowerLaw is a continuous piecewise power-law noise ASD. Below
// Corners[0] it is N0·f^Exponents[0], and the exponent switches to
// Exponents[i+1] at Corners[i], with the level matched at the corner.
type PowerLaw struct {
	N0        float64
	Exponents []float64
	Corners   []float64
}

// LVDT noise falls as f^-0.5 below the corner and is flat above it.
func LVDT(n0, fc float64) PowerLaw {
	return PowerLaw{N0: n0, Exponents: []float64{-0.5, 0}, Corners: []float64{fc}}
}

// Geophone noise (in displacement) falls as f^-3.5 below the corner and as
// f^-1 above it.
func Geophone(n0, fc float64) PowerLaw {
	return PowerLaw{N0: n0, Exponents: []float64{-3.5, -1}, Corners: []float64{fc}}
}

// Validate checks the level and that the corners are positive and
// increasing, one fewer than the exponents.
func (p PowerLaw) Validate() error {
	if !(p.N0 > 0) || math.IsInf(p.N0, 0) {
		return fmt.Errorf("%w: noise level %g", kontrol.ErrInputShape, p.N0)
	}
	if len(p.Exponents) == 0 || len(p.Corners) != len(p.Exponents)-1 {
		return fmt.Errorf("%w: %d corners for %d exponents", kontrol.ErrInputShape, len(p.Corners), len(p.Exponents))
	}
	prev := 0.0
	for _, fc := range p.Corners {
		if !(fc > prev) || math.IsInf(fc, 0) {
			return fmt.Errorf("%w: corner frequencies %v must be positive and increasing", kontrol.ErrInputShape, p.Corners)
		}
		prev = fc
	}
	return nil
}

// At evaluates the ASD at f Hz.
func (p PowerLaw) At(f float64) float64 {
	level := p.N0
	k := 0
	for k < len(p.Corners) && f >= p.Corners[k] {
		level *= math.Pow(p.Corners[k], p.Exponents[k]-p.Exponents[k+1])
		k++
	}
	return level * math.Pow(f, p.Exponents[k])
}

// Response evaluates the ASD on the axis f.
func (p PowerLaw) Response(f []float64) (*kontrol.FrequencyResponse, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	mag := make([]float64, len(f))
	for i, x := range f {
		mag[i] = p.At(x)
	}
	return kontrol.NewMagnitudeResponse(f, mag)
}
