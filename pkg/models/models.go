package models

import (
	"fmt"
	"time"

	"github.com/terrencetec/kontrol"
)

// Document kinds.
const (
	KindNoise  = "noise"
	KindFilter = "filter"
)

// ModelDocument is the on-disk form of a noise model or a synthesized
// filter.
type ModelDocument struct {
	Name      string       `json:"name"`
	Kind      string       `json:"kind"`
	RunID     string       `json:"run_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	FMin      float64      `json:"fmin,omitempty"`
	FMax      float64      `json:"fmax,omitempty"`
	Model     *kontrol.ZPK `json:"model"`
	Foton     []string     `json:"foton,omitempty"`
}

// NewNoiseDocument wraps a fitted noise model.
func NewNoiseDocument(name string, n kontrol.NoiseModel) ModelDocument {
	return ModelDocument{
		Name:      name,
		Kind:      KindNoise,
		CreatedAt: time.Now().UTC(),
		FMin:      n.FMin,
		FMax:      n.FMax,
		Model:     n.Model,
	}
}

// NewFilterDocument wraps a filter and its foton sections.
func NewFilterDocument(name string, model *kontrol.ZPK, foton []string) ModelDocument {
	return ModelDocument{
		Name:      name,
		Kind:      KindFilter,
		CreatedAt: time.Now().UTC(),
		Model:     model,
		Foton:     foton,
	}
}

// NoiseModel restores the noise model of a KindNoise document.
func (d ModelDocument) NoiseModel() (kontrol.NoiseModel, error) {
	if d.Kind != KindNoise {
		return kontrol.NoiseModel{}, fmt.Errorf("%s: document kind %q is not %q", d.Name, d.Kind, KindNoise)
	}
	n, err := kontrol.NewNoiseModel(d.Model, d.FMin, d.FMax)
	if err != nil {
		return kontrol.NoiseModel{}, fmt.Errorf("%s: %w", d.Name, err)
	}
	return n, nil
}

// ResponseDocument is the on-disk form of a frequency response.
type ResponseDocument struct {
	Name        string    `json:"name"`
	Frequencies []float64 `json:"frequencies"`
	Real        []float64 `json:"real"`
	Imag        []float64 `json:"imag"`
}

// NewResponseDocument splits r into real and imaginary columns.
func NewResponseDocument(name string, r *kontrol.FrequencyResponse) ResponseDocument {
	values := r.Values()
	d := ResponseDocument{
		Name:        name,
		Frequencies: r.Frequencies(),
		Real:        make([]float64, len(values)),
		Imag:        make([]float64, len(values)),
	}
	for i, v := range values {
		d.Real[i] = real(v)
		d.Imag[i] = imag(v)
	}
	return d
}

// Response validates and rebuilds the frequency response.
func (d ResponseDocument) Response() (*kontrol.FrequencyResponse, error) {
	if len(d.Real) != len(d.Imag) {
		return nil, fmt.Errorf("%s: %w: %d real vs %d imaginary values", d.Name, kontrol.ErrInputShape, len(d.Real), len(d.Imag))
	}
	values := make([]complex128, len(d.Real))
	for i := range values {
		values[i] = complex(d.Real[i], d.Imag[i])
	}
	r, err := kontrol.NewFrequencyResponse(d.Frequencies, values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	return r, nil
}

// FitTiming tracks one spectrum fit of a batch.
type FitTiming struct {
	Name           string        `json:"name"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
	Cost           float64       `json:"cost"`
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
}

// RunReport summarizes a pipeline run.
type RunReport struct {
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Fits      []FitTiming    `json:"fits"`
	Filter    *ModelDocument `json:"filter,omitempty"`
	// Peak is the synthesis objective at the optimum.
	Peak float64 `json:"peak,omitempty"`
}
