package kontrol

import (
	"encoding/json"
	"fmt"
	"math"
	"math/cmplx"
)

// ZPK is a rational transfer function H(s) = k·Π(s−z)/Π(s−p) with zeros and
// poles in rad/s. Complex roots always come in conjugate pairs, so the
// polynomial coefficients are real. Methods never modify the receiver.
type ZPK struct {
	zeros []complex128
	poles []complex128
	gain  float64
}

// NewZPK validates and copies the roots. Roots are stored sorted by natural
// frequency with each conjugate pair made exact.
func NewZPK(zeros, poles []complex128, gain float64) (*ZPK, error) {
	if math.IsNaN(gain) || math.IsInf(gain, 0) {
		return nil, fmt.Errorf("%w: gain %g", ErrNonFinite, gain)
	}
	for _, r := range append(append([]complex128{}, zeros...), poles...) {
		if cmplx.IsNaN(r) || cmplx.IsInf(r) {
			return nil, fmt.Errorf("%w: root %v", ErrNonFinite, r)
		}
	}
	z, err := canonicalRoots(zeros)
	if err != nil {
		return nil, fmt.Errorf("zeros: %w", err)
	}
	p, err := canonicalRoots(poles)
	if err != nil {
		return nil, fmt.Errorf("poles: %w", err)
	}
	return &ZPK{zeros: z, poles: p, gain: gain}, nil
}

// Gain returns the leading coefficient k.
func (m *ZPK) Gain() float64 { return m.gain }

// Zeros returns a copy of the zeros in rad/s.
func (m *ZPK) Zeros() []complex128 { return append([]complex128(nil), m.zeros...) }

// Poles returns a copy of the poles in rad/s.
func (m *ZPK) Poles() []complex128 { return append([]complex128(nil), m.poles...) }

// Order is the larger of the number of zeros and poles.
func (m *ZPK) Order() int { return max(len(m.zeros), len(m.poles)) }

// At evaluates the model at one complex frequency.
func (m *ZPK) At(s complex128) complex128 {
	v := complex(m.gain, 0)
	for _, z := range m.zeros {
		v *= s - z
	}
	for _, p := range m.poles {
		v /= s - p
	}
	return v
}

// Evaluate evaluates the model at each complex frequency.
func (m *ZPK) Evaluate(s []complex128) []complex128 {
	out := make([]complex128, len(s))
	for i, x := range s {
		out[i] = m.At(x)
	}
	return out
}

// Response evaluates the model at s = j2πf for f in Hz. A pole on the
// imaginary axis at one of the frequencies is reported as ErrNonFinite.
func (m *ZPK) Response(f []float64) (*FrequencyResponse, error) {
	values := make([]complex128, len(f))
	for i, x := range f {
		values[i] = m.At(complex(0, 2*math.Pi*x))
	}
	return NewFrequencyResponse(f, values)
}

// Magnitude returns |H(jω)| for angular frequencies ω.
func (m *ZPK) Magnitude(omega []float64) []float64 {
	out := make([]float64, len(omega))
	for i, w := range omega {
		out[i] = cmplx.Abs(m.At(complex(0, w)))
	}
	return out
}

// Phase returns arg H(jω) in radians for angular frequencies ω.
func (m *ZPK) Phase(omega []float64) []float64 {
	out := make([]float64, len(omega))
	for i, w := range omega {
		out[i] = cmplx.Phase(m.At(complex(0, w)))
	}
	return out
}

// DCGain returns H(0). It is 0 or ±Inf when a root sits at the origin.
func (m *ZPK) DCGain() float64 {
	return real(m.At(0))
}

func (m *ZPK) hasOriginRoot() bool {
	for _, r := range append(append([]complex128{}, m.zeros...), m.poles...) {
		if r == 0 {
			return true
		}
	}
	return false
}

// Stable reports whether every pole has non-positive real part.
func (m *ZPK) Stable() bool {
	return len(m.unstablePoles()) == 0
}

func (m *ZPK) unstablePoles() []complex128 {
	var out []complex128
	for _, p := range m.poles {
		if real(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// CheckStable returns ErrInstability naming the offending poles.
func (m *ZPK) CheckStable() error {
	if bad := m.unstablePoles(); len(bad) > 0 {
		return fmt.Errorf("%w: poles %v in the right half-plane", ErrInstability, bad)
	}
	return nil
}

// Stabilize reflects every right half-plane pole and zero onto the left
// half-plane (re → −re). Reflection leaves |H(jω)| unchanged, and the gain is
// re-signed so that the DC value matches the original. When a root sits at
// the origin the DC value is 0 or infinite and the high-frequency asymptote
// k·s^(nz−np) is preserved instead, which leaves the gain unchanged.
func (m *ZPK) Stabilize() *ZPK {
	flips := 0
	reflect := func(roots []complex128) []complex128 {
		out := make([]complex128, len(roots))
		for i, r := range roots {
			if real(r) > 0 {
				r = complex(-real(r), imag(r))
				if imag(r) == 0 {
					flips++
				}
			}
			out[i] = r
		}
		sortRoots(out)
		return out
	}

	out := &ZPK{zeros: reflect(m.zeros), poles: reflect(m.poles), gain: m.gain}
	if !m.hasOriginRoot() && flips%2 == 1 {
		out.gain = -out.gain
	}
	return out
}

// Mul cascades two models.
func (m *ZPK) Mul(o *ZPK) *ZPK {
	zeros := append(m.Zeros(), o.zeros...)
	poles := append(m.Poles(), o.poles...)
	sortRoots(zeros)
	sortRoots(poles)
	return &ZPK{zeros: zeros, poles: poles, gain: m.gain * o.gain}
}

// Inverse swaps zeros and poles and inverts the gain.
func (m *ZPK) Inverse() (*ZPK, error) {
	if m.gain == 0 {
		return nil, fmt.Errorf("%w: cannot invert a model with zero gain", ErrInvalidModel)
	}
	return &ZPK{zeros: m.Poles(), poles: m.Zeros(), gain: 1 / m.gain}, nil
}

// TF expands the model into numerator and denominator polynomials.
func (m *ZPK) TF() *TF {
	num := polyFromRoots(m.zeros)
	for i := range num {
		num[i] *= m.gain
	}
	return &TF{num: num, den: polyFromRoots(m.poles)}
}

func (m *ZPK) String() string {
	return fmt.Sprintf("ZPK(zeros=%v, poles=%v, gain=%g)", m.zeros, m.poles, m.gain)
}

type zpkJSON struct {
	Zeros [][2]float64 `json:"zeros"`
	Poles [][2]float64 `json:"poles"`
	Gain  float64      `json:"gain"`
}

func rootsToPairs(roots []complex128) [][2]float64 {
	out := make([][2]float64, len(roots))
	for i, r := range roots {
		out[i] = [2]float64{real(r), imag(r)}
	}
	return out
}

func pairsToRoots(pairs [][2]float64) []complex128 {
	out := make([]complex128, len(pairs))
	for i, p := range pairs {
		out[i] = complex(p[0], p[1])
	}
	return out
}

// MarshalJSON writes roots as [re, im] pairs. encoding/json emits the
// shortest representation that parses back to the same float64, so a
// reload reproduces the model bit for bit.
func (m *ZPK) MarshalJSON() ([]byte, error) {
	return json.Marshal(zpkJSON{
		Zeros: rootsToPairs(m.zeros),
		Poles: rootsToPairs(m.poles),
		Gain:  m.gain,
	})
}

// UnmarshalJSON validates the decoded roots like NewZPK.
func (m *ZPK) UnmarshalJSON(data []byte) error {
	var raw zpkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := NewZPK(pairsToRoots(raw.Zeros), pairsToRoots(raw.Poles), raw.Gain)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}
