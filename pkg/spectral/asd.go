// Package spectral estimates amplitude spectral densities from time series,
// provides analytic sensor-noise shapes and reads and writes text spectra.
package spectral

import (
	"fmt"
	"math"

	dsp "github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"

	"github.com/terrencetec/kontrol"
)

// Welch configures the averaged periodogram.
type Welch struct {
	// SegmentLength is the number of samples per FFT block, 0 means 256.
	// It must be even.
	SegmentLength int
	// Overlap is the fraction of a segment shared with the next one, in
	// [0, 1). Zero means no overlap.
	Overlap float64
	// Window shapes each segment, nil means Hann.
	Window func(int) []float64
}

// ASD returns the one-sided amplitude spectral density of x sampled at fs
// Hz, in units of x per √Hz. The DC bin is dropped so the axis is strictly
// positive.
func (w Welch) ASD(x []float64, fs float64) (*kontrol.FrequencyResponse, error) {
	nfft := w.SegmentLength
	if nfft == 0 {
		nfft = 256
	}
	switch {
	case nfft < 4 || nfft%2 != 0:
		return nil, fmt.Errorf("%w: segment length %d must be even and at least 4", kontrol.ErrInputShape, nfft)
	case !(fs > 0) || math.IsInf(fs, 0):
		return nil, fmt.Errorf("%w: sampling frequency %g", kontrol.ErrInputShape, fs)
	case len(x) < nfft:
		return nil, fmt.Errorf("%w: %d samples for a %d-sample segment", kontrol.ErrInputShape, len(x), nfft)
	case w.Overlap < 0 || w.Overlap >= 1:
		return nil, fmt.Errorf("%w: overlap %g", kontrol.ErrInputShape, w.Overlap)
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: sample %d is %g", kontrol.ErrNonFinite, i, v)
		}
	}

	win := w.Window
	if win == nil {
		win = window.Hann
	}
	pxx, freqs := dsp.Pwelch(x, fs, &dsp.PwelchOptions{
		NFFT:     nfft,
		Noverlap: int(w.Overlap * float64(nfft)),
		Window:   win,
	})

	asd := make([]float64, len(pxx)-1)
	for i, p := range pxx[1:] {
		asd[i] = math.Sqrt(p)
	}
	return kontrol.NewMagnitudeResponse(freqs[1:], asd)
}

// ASD is Welch{}.ASD with 50% overlap.
func ASD(x []float64, fs float64, segmentLength int) (*kontrol.FrequencyResponse, error) {
	return Welch{SegmentLength: segmentLength, Overlap: 0.5}.ASD(x, fs)
}
