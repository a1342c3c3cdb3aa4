package kontrol

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func hz(f float64) complex128 { return complex(-2*math.Pi*f, 0) }

func TestStripSpuriousRoots(t *testing.T) {
	model, err := NewZPK(
		[]complex128{hz(1e5)},
		[]complex128{hz(1), hz(1e-5)},
		3,
	)
	require.NoError(t, err)

	stripped, report, err := StripSpuriousRoots(model, 0.1, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Moved)
	assert.Equal(t, 0, report.Cancelled)
	assert.Empty(t, stripped.Zeros())
	assert.Equal(t, []complex128{0, hz(1)}, stripped.Poles())

	for _, f := range floats.LogSpan(make([]float64, 100), 0.1, 10) {
		s := complex(0, 2*math.Pi*f)
		ratio := cmplx.Abs(stripped.At(s)) / cmplx.Abs(model.At(s))
		assert.LessOrEqual(t, math.Abs(ratio-1), report.MaxRelativeError, "at %g Hz", f)
	}
}

func TestStripSpuriousRoots_CancelsAtOrigin(t *testing.T) {
	model, err := NewZPK([]complex128{hz(1e-6)}, []complex128{0, hz(1)}, 1)
	require.NoError(t, err)

	stripped, report, err := StripSpuriousRoots(model, 0.1, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Moved)
	assert.Equal(t, 1, report.Cancelled)
	assert.Empty(t, stripped.Zeros())
	assert.Equal(t, []complex128{hz(1)}, stripped.Poles())
}

func TestStripSpuriousRoots_KeepsInBandPairs(t *testing.T) {
	wn := 2 * math.Pi * 3
	model, err := NewZPK(nil, []complex128{complex(-wn/20, wn), complex(-wn/20, -wn)}, wn*wn)
	require.NoError(t, err)

	stripped, report, err := StripSpuriousRoots(model, 0.1, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, StripReport{}, report)
	assert.Equal(t, model.Poles(), stripped.Poles())

	_, _, err = StripSpuriousRoots(model, 10, 0.1, 1)
	assert.ErrorIs(t, err, ErrInputShape)
	_, _, err = StripSpuriousRoots(model, 0.1, 10, 0)
	assert.ErrorIs(t, err, ErrInputShape)
}

func TestMinreal(t *testing.T) {
	model, err := NewZPK([]complex128{-1.0000001}, []complex128{-1, -10}, 5)
	require.NoError(t, err)

	reduced, err := Minreal(model, 1e-3)
	require.NoError(t, err)
	assert.Empty(t, reduced.Zeros())
	assert.Equal(t, []complex128{-10}, reduced.Poles())
	assert.Equal(t, 5.0, reduced.Gain())

	kept, err := Minreal(model, 1e-9)
	require.NoError(t, err)
	assert.Equal(t, 2, kept.Order())
}

func TestReduceOrder(t *testing.T) {
	model, err := NewZPK([]complex128{hz(1.001)}, []complex128{hz(1), hz(100)}, 1)
	require.NoError(t, err)

	reduced, err := ReduceOrder(model, 0.1, 10, 1, 0.01)
	require.NoError(t, err)
	assert.Equal(t, 1, reduced.Order())
	assert.Equal(t, []complex128{hz(100)}, reduced.Poles())

	for _, f := range floats.LogSpan(make([]float64, 50), 0.1, 10) {
		s := complex(0, 2*math.Pi*f)
		ratio := cmplx.Abs(reduced.At(s)) / cmplx.Abs(model.At(s))
		assert.InDelta(t, 1, ratio, 0.01, "at %g Hz", f)
	}

	_, err = ReduceOrder(model, 0.1, 10, 0, 0.01)
	assert.ErrorIs(t, err, ErrOrderReduction)

	_, err = ReduceOrder(model, 0.1, 10, 1, 1e-6)
	assert.ErrorIs(t, err, ErrOrderReduction)
}
