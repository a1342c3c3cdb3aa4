package processing

import (
	"math"
	"math/cmplx"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/terrencetec/kontrol"
	"github.com/terrencetec/kontrol/pkg/config"
	"github.com/terrencetec/kontrol/pkg/models"
)

func hz(f float64) complex128 { return complex(-2*math.Pi*f, 0) }

func testSettings() *config.Settings {
	s := config.Default()
	s.Fit = config.FitSettings{NumZeros: 1, NumPoles: 1}
	s.Synthesis.GridPoints = 128
	s.Workers = 2
	s.Quiet = true
	return s
}

// sensors returns a sensor quiet at low frequency and a flat one at 10.
func sensors(t *testing.T) (Spectrum, Spectrum) {
	t.Helper()
	f := floats.LogSpan(make([]float64, 200), 0.01, 100)

	m1, err := kontrol.ModelZPK(kontrol.SimpleZPK{NumZeros: 1, NumPoles: 1}, []float64{0.1, 10, 1})
	require.NoError(t, err)
	n1, err := kontrol.NewNoiseModel(m1, 0.01, 100)
	require.NoError(t, err)
	asd1, err := kontrol.NewMagnitudeResponse(f, n1.Magnitude(f))
	require.NoError(t, err)

	flat := make([]float64, len(f))
	floats.AddConst(10, flat)
	asd2, err := kontrol.NewMagnitudeResponse(f, flat)
	require.NoError(t, err)

	return Spectrum{Name: "seismometer", ASD: asd1}, Spectrum{Name: "lvdt", ASD: asd2}
}

func TestPipeline_FitAllIsolatesFailures(t *testing.T) {
	s1, _ := sensors(t)
	bad, err := kontrol.NewMagnitudeResponse([]float64{1, 2, 3}, []float64{1, 0, 1})
	require.NoError(t, err)

	p := NewPipeline(testSettings(), nil)
	out := p.FitAll([]Spectrum{{Name: "broken", ASD: bad}, s1, {Name: "empty"}})
	require.Len(t, out, 3)

	assert.ErrorIs(t, out[0].Err, kontrol.ErrInputShape)
	assert.ErrorIs(t, out[2].Err, kontrol.ErrInputShape)
	assert.Contains(t, out[0].Err.Error(), "broken")

	require.NoError(t, out[1].Err)
	assert.Equal(t, "seismometer", out[1].Name)
	assert.Less(t, out[1].Fit.Cost, 1e-6)
	assert.True(t, out[1].Noise.Flattened())
}

func TestPipeline_Run(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := models.NewStore(fs, "/runs")
	p := NewPipeline(testSettings(), store)
	s1, s2 := sensors(t)

	report, blend, err := p.Run("run1", s1, s2)
	require.NoError(t, err)
	require.Len(t, report.Fits, 2)
	for _, f := range report.Fits {
		assert.True(t, f.Success, f.Name)
	}

	assert.Equal(t, 1, blend.Pair.LowPass)
	assert.Equal(t, blend.Pair.Peak, report.Peak)
	assert.InEpsilon(t, 0.01, blend.FMin, 1e-9)
	assert.InEpsilon(t, 100.0, blend.FMax, 1e-9)

	pair := []*kontrol.TF{blend.Pair.H1, blend.Pair.H2}
	for _, f := range floats.LogSpan(make([]float64, 20), 0.01, 100) {
		s := complex(0, 2*math.Pi*f)
		assert.InDelta(t, 0, cmplx.Abs(pair[0].At(s)+pair[1].At(s)-1), 1e-9, "at %g Hz", f)

		// Cleaning stays within the reported in-band bound.
		for i, h := range []Filter{blend.H1, blend.H2} {
			ratio := cmplx.Abs(h.Model.At(s)) / cmplx.Abs(pair[i].At(s))
			eps := h.Strip.MaxRelativeError + 1e-6
			assert.InDelta(t, 1, ratio, eps/(1-eps), "H%d at %g Hz", i+1, f)
		}
	}
	for _, h := range []Filter{blend.H1, blend.H2} {
		require.NotEmpty(t, h.Foton)
		assert.True(t, strings.HasPrefix(h.Foton[0], "zpk("))
		assert.True(t, strings.HasSuffix(h.Foton[0], `,"n")`))
	}

	names, err := store.Models()
	require.NoError(t, err)
	assert.Equal(t, []string{"lvdt", "run1-h1", "run1-h2", "seismometer"}, names)

	require.NotNil(t, report.Filter)
	assert.Equal(t, "run1-h1", report.Filter.Name)

	doc, err := store.LoadModel("seismometer")
	require.NoError(t, err)
	assert.Equal(t, "run1", doc.RunID)
	_, err = doc.NoiseModel()
	assert.NoError(t, err)

	ok, err := afero.Exists(fs, "/runs/run1.report.json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPipeline_RunReportsFailedFits(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := NewPipeline(testSettings(), models.NewStore(fs, "out"))
	s1, _ := sensors(t)

	report, blend, err := p.Run("run2", s1, Spectrum{Name: "dead"})
	require.Error(t, err)
	assert.Nil(t, blend)
	require.Len(t, report.Fits, 2)
	assert.True(t, report.Fits[0].Success)
	assert.False(t, report.Fits[1].Success)
	assert.NotEmpty(t, report.Fits[1].Error)

	ok, err := afero.Exists(fs, "out/run2.report.json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPipeline_Correct(t *testing.T) {
	m1, err := kontrol.ModelZPK(kontrol.SimpleZPK{NumZeros: 1, NumPoles: 1}, []float64{0.1, 10, 1})
	require.NoError(t, err)
	seismometer, err := kontrol.NewNoiseModel(m1, 0.01, 100)
	require.NoError(t, err)
	m2, err := kontrol.NewZPK(nil, nil, 10)
	require.NoError(t, err)
	ground, err := kontrol.NewNoiseModel(m2, 0.01, 10)
	require.NoError(t, err)
	m3, err := kontrol.NewZPK(nil, nil, 0.5)
	require.NoError(t, err)
	floor, err := kontrol.NewNoiseModel(m3, 0.001, 50)
	require.NoError(t, err)

	out, err := NewPipeline(testSettings(), nil).Correct(seismometer, ground, &floor)
	require.NoError(t, err)
	assert.InEpsilon(t, 0.001, out.FMin, 1e-9)
	assert.InEpsilon(t, 100.0, out.FMax, 1e-9)
	assert.Equal(t, 1, out.Pair.LowPass)

	for _, f := range floats.LogSpan(make([]float64, 20), 0.001, 100) {
		s := complex(0, 2*math.Pi*f)
		assert.InDelta(t, 0, cmplx.Abs(out.Pair.H1.At(s)+out.Pair.H2.At(s)-1), 1e-9, "at %g Hz", f)
	}
	assert.NotEmpty(t, out.H1.Foton)
	assert.NotEmpty(t, out.H2.Foton)
}

func TestPipeline_CleanReducesOrder(t *testing.T) {
	s := testSettings()
	s.PostFilter.TargetOrder = 1
	p := NewPipeline(s, nil)

	nearCancel, err := kontrol.NewZPK([]complex128{hz(1)}, []complex128{hz(1.000001), hz(10)}, 1)
	require.NoError(t, err)
	f, err := p.clean("H", nearCancel, 0.01, 100)
	require.NoError(t, err)
	assert.True(t, f.Reduced)
	assert.Equal(t, 1, f.Model.Order())
	assert.Len(t, f.Foton, 1)

	// Nothing to cancel: the model is kept as is.
	twoPoles, err := kontrol.NewZPK(nil, []complex128{hz(1), hz(10)}, 1)
	require.NoError(t, err)
	f, err = p.clean("H", twoPoles, 0.01, 100)
	require.NoError(t, err)
	assert.False(t, f.Reduced)
	assert.Equal(t, 2, f.Model.Order())
}
