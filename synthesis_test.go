package kontrol

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// blendNoise returns a sensor quiet at low frequency (zero at 0.1 Hz, pole at
// 10 Hz) and a flat sensor at 10, crossing near 1 Hz.
func blendNoise(t *testing.T) (NoiseModel, NoiseModel) {
	t.Helper()
	m1, err := ModelZPK(SimpleZPK{NumZeros: 1, NumPoles: 1}, []float64{0.1, 10, 1})
	require.NoError(t, err)
	n1, err := NewNoiseModel(m1, 0.01, 100)
	require.NoError(t, err)

	m2, err := NewZPK(nil, nil, 10)
	require.NoError(t, err)
	n2, err := NewNoiseModel(m2, 0.01, 100)
	require.NoError(t, err)
	return n1, n2
}

func TestSynthesizer_Blend(t *testing.T) {
	n1, n2 := blendNoise(t)
	require.True(t, n1.Flattened())
	require.True(t, n2.Flattened())

	s := &Synthesizer{LowPassOrder: 2, HighPassOrder: 2, GridPoints: 128}
	pair, err := s.Synthesize(n1, n2)
	require.NoError(t, err)
	assert.Equal(t, 1, pair.LowPass)

	t.Run("complementary", func(t *testing.T) {
		assertComplementary(t, pair)
	})

	t.Run("stable", func(t *testing.T) {
		h1, err := pair.H1ZPK()
		require.NoError(t, err)
		assert.True(t, h1.Stable())
		assert.Len(t, h1.Poles(), 3)
	})

	t.Run("low-pass then high-pass", func(t *testing.T) {
		lo := cmplx.Abs(pair.H1.At(complex(0, 2*math.Pi*1e-4)))
		hi := cmplx.Abs(pair.H1.At(complex(0, 2*math.Pi*1e4)))
		assert.InDelta(t, 1, lo, 0.05)
		assert.Less(t, hi, 0.01)
	})

	t.Run("crossover inside the corners", func(t *testing.T) {
		cross := crossover(t, pair)
		assert.GreaterOrEqual(t, cross, 0.1)
		assert.LessOrEqual(t, cross, 10.0)
	})

	t.Run("peak matches objective", func(t *testing.T) {
		peak := 0.0
		m1, m2 := n1.Magnitude(pair.Grid), n2.Magnitude(pair.Grid)
		for i, f := range pair.Grid {
			s := complex(0, 2*math.Pi*f)
			w1, w2 := m2[i]/m1[i], m1[i]/m2[i]
			peak = math.Max(peak, math.Max(cmplx.Abs(pair.H1.At(s))/w1, cmplx.Abs(pair.H2.At(s))/w2))
		}
		assert.InEpsilon(t, peak, pair.Peak, 1e-9)
		assert.Less(t, pair.Peak, 1.0, "relative noise weights keep the peak below unity")
	})
}

// crossover returns the first frequency in [0.01, 100] Hz where |H1| drops
// below |H2|.
func crossover(t *testing.T, pair *ComplementaryPair) float64 {
	t.Helper()
	for _, f := range floats.LogSpan(make([]float64, 400), 0.01, 100) {
		s := complex(0, 2*math.Pi*f)
		if cmplx.Abs(pair.H1.At(s)) < cmplx.Abs(pair.H2.At(s)) {
			return f
		}
	}
	require.Fail(t, "filters do not cross")
	return math.NaN()
}

func assertComplementary(t *testing.T, pair *ComplementaryPair) {
	t.Helper()
	for _, f := range floats.LogSpan(make([]float64, 50), 1e-3, 1e3) {
		s := complex(0, 2*math.Pi*f)
		assert.InDelta(t, 0, cmplx.Abs(pair.H1.At(s)+pair.H2.At(s)-1), 1e-9, "at %g Hz", f)
	}
}

func TestSynthesizer_SynthesizeWeighted(t *testing.T) {
	n1, n2 := blendNoise(t)
	inv1, err := n1.Model.Inverse()
	require.NoError(t, err)
	inv2, err := n2.Model.Inverse()
	require.NoError(t, err)

	s := &Synthesizer{GridPoints: 128}
	pair, err := s.SynthesizeWeighted(n2.Model.Mul(inv1), n1.Model.Mul(inv2), 0.01, 100)
	require.NoError(t, err)
	assertComplementary(t, pair)
	assert.Equal(t, 1, pair.LowPass)

	cross := crossover(t, pair)
	assert.GreaterOrEqual(t, cross, 0.1)
	assert.LessOrEqual(t, cross, 10.0)

	// Relative noise weights are what Synthesize uses.
	direct, err := s.Synthesize(n1, n2)
	require.NoError(t, err)
	assert.InEpsilon(t, direct.Peak, pair.Peak, 0.05)
}

func TestSynthesizer_SensorCorrection(t *testing.T) {
	seismometer, ground := blendNoise(t)
	flat, err := NewZPK(nil, nil, 3)
	require.NoError(t, err)
	floor, err := NewNoiseModel(flat, 0.01, 100)
	require.NoError(t, err)

	s := &Synthesizer{GridPoints: 128}
	plain, err := s.SensorCorrection(seismometer, ground, nil)
	require.NoError(t, err)
	floored, err := s.SensorCorrection(seismometer, ground, &floor)
	require.NoError(t, err)

	for name, pair := range map[string]*ComplementaryPair{"plain": plain, "floored": floored} {
		t.Run(name, func(t *testing.T) {
			assertComplementary(t, pair)
			assert.Equal(t, 1, pair.LowPass, "the seismometer is the quieter sensor at low frequency")
			h1, err := pair.H1ZPK()
			require.NoError(t, err)
			assert.True(t, h1.Stable())
		})
	}

	assert.NotEqual(t, plain.Peak, floored.Peak, "the floor changes the weights")

	_, err = s.SensorCorrection(seismometer, ground, &NoiseModel{Model: flat, FMin: 10, FMax: 1})
	assert.ErrorIs(t, err, ErrInputShape)
}

func TestSynthesizer_SuperSensorNoise(t *testing.T) {
	n1, n2 := blendNoise(t)
	pair, err := (&Synthesizer{GridPoints: 64}).Synthesize(n1, n2)
	require.NoError(t, err)

	f := floats.LogSpan(make([]float64, 64), 0.01, 100)
	r1, err := n1.Model.Response(f)
	require.NoError(t, err)
	r2, err := n2.Model.Response(f)
	require.NoError(t, err)

	blended, err := pair.SuperSensorNoise(r1, r2)
	require.NoError(t, err)
	mag := blended.Magnitude()
	m1, m2 := r1.Magnitude(), r2.Magnitude()
	// At the band edges the blend follows the quieter sensor.
	assert.InEpsilon(t, m1[0], mag[0], 0.1)
	assert.InEpsilon(t, m2[len(f)-1], mag[len(f)-1], 0.1)
}

func TestSynthesizer_Errors(t *testing.T) {
	n1, n2 := blendNoise(t)
	s := &Synthesizer{}

	_, err := s.SynthesizeWeighted(nil, n2.Model, 0.1, 10)
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, err = s.SynthesizeWeighted(n1.Model, n2.Model, 10, 0.1)
	assert.ErrorIs(t, err, ErrInputShape)

	bad := n1
	bad.Model, _ = NewZPK(nil, nil, 0)
	_, err = s.Synthesize(bad, n2)
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestComplementaryFamily_Split(t *testing.T) {
	c := &complementaryFamily{nl: 3, nh: 2}
	poles := c.poles([]float64{0, 0, 1, -0.5})
	require.Len(t, poles, 4)

	den, low, high := c.split(poles)
	require.Len(t, low, 2)
	require.Len(t, high, len(den))
	// Numerators add up to the denominator.
	for i := range den {
		sum := high[i]
		if j := i - (len(den) - len(low)); j >= 0 {
			sum += low[j]
		}
		assert.Equal(t, den[i], sum)
	}
	// The high-pass numerator has no s^0 or s^1 terms.
	assert.Equal(t, 0.0, high[len(high)-1])
	assert.Equal(t, 0.0, high[len(high)-2])
}
