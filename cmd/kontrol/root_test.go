package main

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/terrencetec/kontrol"
	"github.com/terrencetec/kontrol/pkg/models"
	"github.com/terrencetec/kontrol/pkg/spectral"
)

func run(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := newRootCmd(fs)
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCmd_HasExpectedFlags(t *testing.T) {
	flags := newRootCmd(afero.NewMemMapFs()).PersistentFlags()

	tests := []struct {
		name      string
		shorthand string
	}{
		{"config", "c"},
		{"out", "o"},
		{"workers", "w"},
		{"quiet", "q"},
		{"seed", ""},
		{"method", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			require.NotNil(t, flag)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
		})
	}
}

func TestRootCmd_HelpOutput(t *testing.T) {
	out, err := run(t, afero.NewMemMapFs(), "--help")
	require.NoError(t, err)
	for _, want := range []string{"kontrol", "fit", "synthesize", "blend", "correct", "foton", "asd", "config", "--workers"} {
		assert.Contains(t, out, want)
	}
}

func TestConfigInit(t *testing.T) {
	fs := afero.NewMemMapFs()

	out, err := run(t, fs, "config", "init", "conf/kontrol.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote conf/kontrol.yaml")

	out, err = run(t, fs, "config", "init", "conf/kontrol.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "left unchanged")

	// The written file is a valid config.
	_, err = run(t, fs, "-c", "conf/kontrol.yaml", "config", "init", "other.yaml")
	assert.NoError(t, err)
}

func TestBadConfigFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("synthesis:\n  grid_points: 1\n"), 0644))

	_, err := run(t, fs, "-c", "bad.yaml", "config", "init")
	assert.ErrorContains(t, err, "grid_points")

	_, err = run(t, fs, "-c", "missing.yaml", "config", "init")
	assert.Error(t, err)

	_, err = run(t, fs, "--method", "annealing", "config", "init")
	assert.ErrorContains(t, err, "optimizer.method")
}

func TestASDCmd(t *testing.T) {
	fs := afero.NewMemMapFs()
	var series strings.Builder
	for i := 0; i < 2048; i++ {
		fmt.Fprintf(&series, "%.17g\n", math.Sin(2*math.Pi*8*float64(i)/64))
	}
	require.NoError(t, afero.WriteFile(fs, "x.txt", []byte(series.String()), 0644))

	_, err := run(t, fs, "-q", "asd", "x.txt", "--fs", "64", "--nfft", "128", "--output", "x.asd")
	require.NoError(t, err)

	asd, err := spectral.ReadSpectrumFile(fs, "x.asd")
	require.NoError(t, err)
	assert.Equal(t, 64, asd.Len())
	assert.Equal(t, 8.0, asd.Frequencies()[floats.MaxIdx(asd.Magnitude())])

	_, err = run(t, fs, "-q", "asd", "x.txt", "--nfft", "4096")
	assert.ErrorIs(t, err, kontrol.ErrInputShape)
}

func writeSpectrum(t *testing.T, fs afero.Fs, path string, zero, pole, dc float64) {
	t.Helper()
	f := floats.LogSpan(make([]float64, 120), 0.01, 100)
	m, err := kontrol.ModelZPK(kontrol.SimpleZPK{NumZeros: 1, NumPoles: 1}, []float64{zero, pole, dc})
	require.NoError(t, err)
	n, err := kontrol.NewNoiseModel(m, 0.01, 100)
	require.NoError(t, err)
	r, err := kontrol.NewMagnitudeResponse(f, n.Magnitude(f))
	require.NoError(t, err)
	require.NoError(t, spectral.WriteSpectrumFile(fs, path, r, true))
}

func TestFitSynthesizeFoton(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSpectrum(t, fs, "data/seismometer.txt", 0.1, 10, 1)
	writeSpectrum(t, fs, "data/lvdt.txt", 2, 5, 10)

	out, err := run(t, fs, "-q", "-w", "2", "fit", "--zeros", "1", "--poles", "1", "data/seismometer.txt", "data/lvdt.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "seismometer:")
	assert.Contains(t, out, "lvdt:")

	store := models.NewStore(fs, "kontrol-out")
	names, err := store.Models()
	require.NoError(t, err)
	assert.Equal(t, []string{"lvdt", "seismometer"}, names)

	doc, err := store.LoadModel("seismometer")
	require.NoError(t, err)
	assert.Len(t, doc.Model.Zeros(), 1, "--zeros overrides the config default")

	out, err = run(t, fs, "-q", "synthesize", "--grid-points", "64", "seismometer", "lvdt")
	require.NoError(t, err)
	assert.Contains(t, out, "H1 (")
	assert.Contains(t, out, "H2 (")
	assert.Contains(t, out, `zpk(`)

	names, err = store.Models()
	require.NoError(t, err)
	assert.Len(t, names, 4)

	out, err = run(t, fs, "-q", "correct", "--grid-points", "64", "--floor", "lvdt", "seismometer", "lvdt")
	require.NoError(t, err)
	assert.Contains(t, out, "H1 (")
	assert.Contains(t, out, "H2 (")

	names, err = store.Models()
	require.NoError(t, err)
	assert.Len(t, names, 6)

	_, err = run(t, fs, "-q", "correct", "--floor", "missing", "seismometer", "lvdt")
	assert.ErrorIs(t, err, models.ErrNotFound)

	out, err = run(t, fs, "-q", "foton", "seismometer", "--location", "s")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "zpk("))
	assert.Contains(t, out, `,"s")`)

	parsed, err := kontrol.ParseFoton(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.InDelta(t, doc.Model.DCGain(), parsed.DCGain(), 1e-6*math.Abs(doc.Model.DCGain()))

	_, err = run(t, fs, "-q", "foton", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBlendCmd(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSpectrum(t, fs, "seismometer.txt", 0.1, 10, 1)
	writeSpectrum(t, fs, "lvdt.txt", 2, 5, 10)

	out, err := run(t, fs, "-q", "-o", "runs", "blend", "--zeros", "1", "--poles", "1", "--grid-points", "64", "seismometer.txt", "lvdt.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "low-pass H1")
	assert.Contains(t, out, "H1:\nzpk(")
	assert.Contains(t, out, "H2:\nzpk(")

	entries, err := afero.ReadDir(fs, "runs")
	require.NoError(t, err)
	reports := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".report.json") {
			reports++
		}
	}
	assert.Equal(t, 1, reports)
}

func TestCPUProfileFlag(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := run(t, fs, "-q", "--cpuprofile", "cpu.pprof", "config", "init")
	require.NoError(t, err)

	ok, err := afero.Exists(fs, "cpu.pprof")
	require.NoError(t, err)
	assert.True(t, ok)
}
