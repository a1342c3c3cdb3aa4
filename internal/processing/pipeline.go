package processing

import (
	"errors"
	"fmt"
	"log"
	"math"
	"runtime"
	"time"

	"github.com/terrencetec/kontrol"
	"github.com/terrencetec/kontrol/pkg/config"
	"github.com/terrencetec/kontrol/pkg/models"
	"github.com/terrencetec/kontrol/pkg/profiling"
	"github.com/terrencetec/kontrol/pkg/worker"
)

// Spectrum is one measured sensor noise ASD to model.
type Spectrum struct {
	Name string
	ASD  *kontrol.FrequencyResponse
}

// FitOutcome is the result of fitting one spectrum. Err is set when the fit
// failed, in which case Noise is empty.
type FitOutcome struct {
	Name     string
	Noise    kontrol.NoiseModel
	Fit      *kontrol.FitResult
	Duration time.Duration
	Err      error
}

// Filter is one cleaned, exportable filter of a complementary pair.
type Filter struct {
	Model *kontrol.ZPK
	Strip kontrol.StripReport
	// Reduced is set when order reduction removed roots.
	Reduced bool
	Foton   []string
}

// BlendOutcome is a synthesized and post-processed filter pair.
type BlendOutcome struct {
	Pair *kontrol.ComplementaryPair
	// H1 and H2 follow the pair: H1 filters sensor 1.
	H1, H2   Filter
	FMin     float64
	FMax     float64
	Duration time.Duration
}

// Pipeline fits noise spectra, blends the sensors and exports the filters.
type Pipeline struct {
	settings *config.Settings
	store    *models.Store
}

// NewPipeline returns a pipeline. A nil store skips persistence.
func NewPipeline(settings *config.Settings, store *models.Store) *Pipeline {
	return &Pipeline{settings: settings, store: store}
}

// Fit models a single spectrum.
func (p *Pipeline) Fit(s Spectrum) FitOutcome {
	out := FitOutcome{Name: s.Name}
	if s.ASD == nil {
		out.Err = fmt.Errorf("%s: %w: no spectrum", s.Name, kontrol.ErrInputShape)
		return out
	}

	profiler := profiling.NewStageProfiler("fit " + s.Name)
	noise, res, err := p.settings.SpectrumFit().Fit(s.ASD)
	metrics := profiler.Finish()
	out.Duration = metrics.Duration
	if err != nil {
		out.Err = fmt.Errorf("%s: %w", s.Name, err)
		log.Printf("Spectrum fit FAILED - %s: %v", s.Name, err)
		return out
	}
	out.Noise, out.Fit = noise, res

	if !p.settings.Quiet {
		log.Printf("Spectrum fit completed - %s: cost=%.6e, model=%v", s.Name, res.Cost, noise.Model)
		metrics.Log()
	}
	return out
}

// FitAll fits every spectrum as one worker pool job. A failed fit is
// reported on its own outcome and does not affect the others. Outcomes are
// in input order.
func (p *Pipeline) FitAll(spectra []Spectrum) []FitOutcome {
	if len(spectra) == 0 {
		return nil
	}
	workers := p.settings.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool := worker.New(worker.Options[Spectrum, FitOutcome]{
		Workers: min(len(spectra), workers),
		Processor: func(s Spectrum) (FitOutcome, error) {
			return p.Fit(s), nil
		},
		Quiet: p.settings.Quiet,
	})
	defer pool.Shutdown()

	results := pool.Map(spectra)
	outcomes := make([]FitOutcome, len(results))
	failed := 0
	for i, r := range results {
		if r.Err != nil {
			// the processor panicked
			outcomes[i] = FitOutcome{Name: spectra[i].Name, Err: fmt.Errorf("%s: %w", spectra[i].Name, r.Err), Duration: r.ProcessingTime}
		} else {
			outcomes[i] = r.Value
		}
		if outcomes[i].Err != nil {
			failed++
		}
	}
	log.Printf("Fitted %d spectra, %d failed", len(spectra), failed)
	return outcomes
}

// Blend synthesizes complementary filters for sensor 1 with noise n1 and
// sensor 2 with noise n2, then strips spurious roots, optionally reduces
// the order and renders foton expressions for both filters.
func (p *Pipeline) Blend(n1, n2 kontrol.NoiseModel) (*BlendOutcome, error) {
	profiler := profiling.NewStageProfiler("blend")
	pair, err := p.settings.Synthesizer().Synthesize(n1, n2)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	return p.finish(profiler, pair, math.Min(n1.FMin, n2.FMin), math.Max(n1.FMax, n2.FMax))
}

// Correct synthesizes a sensor-correction pair: H1 filters the seismometer
// and H2 is its complement. floor may be nil.
func (p *Pipeline) Correct(seismometer, ground kontrol.NoiseModel, floor *kontrol.NoiseModel) (*BlendOutcome, error) {
	profiler := profiling.NewStageProfiler("sensor correction")
	pair, err := p.settings.Synthesizer().SensorCorrection(seismometer, ground, floor)
	if err != nil {
		return nil, fmt.Errorf("sensor correction: %w", err)
	}
	fmin, fmax := math.Min(seismometer.FMin, ground.FMin), math.Max(seismometer.FMax, ground.FMax)
	if floor != nil {
		fmin, fmax = math.Min(fmin, floor.FMin), math.Max(fmax, floor.FMax)
	}
	return p.finish(profiler, pair, fmin, fmax)
}

// finish factors and cleans both filters of pair over [fmin, fmax].
func (p *Pipeline) finish(profiler *profiling.StageProfiler, pair *kontrol.ComplementaryPair, fmin, fmax float64) (*BlendOutcome, error) {
	out := &BlendOutcome{Pair: pair, FMin: fmin, FMax: fmax}
	h1, err := pair.H1ZPK()
	if err != nil {
		return nil, fmt.Errorf("factor H1: %w", err)
	}
	h2, err := pair.H2ZPK()
	if err != nil {
		return nil, fmt.Errorf("factor H2: %w", err)
	}
	if out.H1, err = p.clean("H1", h1, out.FMin, out.FMax); err != nil {
		return nil, err
	}
	if out.H2, err = p.clean("H2", h2, out.FMin, out.FMax); err != nil {
		return nil, err
	}
	metrics := profiler.Finish()
	out.Duration = metrics.Duration

	log.Printf("Synthesis completed - low-pass: H%d, peak=%.6e", pair.LowPass, pair.Peak)
	if !p.settings.Quiet {
		metrics.Log()
	}
	return out, nil
}

func (p *Pipeline) clean(name string, model *kontrol.ZPK, fmin, fmax float64) (Filter, error) {
	cfg := p.settings.PostFilter
	stripped, report, err := kontrol.StripSpuriousRoots(model, fmin, fmax, cfg.StripThreshold)
	if err != nil {
		return Filter{}, fmt.Errorf("%s: strip: %w", name, err)
	}
	f := Filter{Model: stripped, Strip: report}
	if n := report.Removed + report.Moved; n > 0 && !p.settings.Quiet {
		log.Printf("%s: stripped %d out-of-band roots, max in-band change %.3g", name, n, report.MaxRelativeError)
	}

	if cfg.TargetOrder > 0 && stripped.Order() > cfg.TargetOrder {
		reduced, err := kontrol.ReduceOrder(stripped, fmin, fmax, cfg.TargetOrder, cfg.Tolerance)
		switch {
		case errors.Is(err, kontrol.ErrOrderReduction):
			log.Printf("⚠️  %s: keeping order %d: %v", name, stripped.Order(), err)
		case err != nil:
			return Filter{}, fmt.Errorf("%s: reduce: %w", name, err)
		default:
			f.Model, f.Reduced = reduced, true
		}
	}

	f.Foton, err = f.Model.FotonExpressions(p.settings.FotonOptions())
	if err != nil {
		return Filter{}, fmt.Errorf("%s: export: %w", name, err)
	}
	return f, nil
}

// Run fits both spectra, blends the sensors and, when the pipeline has a
// store, saves the noise models, both filters and the run report under
// runID.
func (p *Pipeline) Run(runID string, sensor1, sensor2 Spectrum) (*models.RunReport, *BlendOutcome, error) {
	log.Printf("Run %s: blending %s and %s", runID, sensor1.Name, sensor2.Name)

	fits := p.FitAll([]Spectrum{sensor1, sensor2})
	report := &models.RunReport{RunID: runID, Timestamp: time.Now().UTC()}
	var errs []error
	for _, f := range fits {
		timing := models.FitTiming{Name: f.Name, ProcessingTime: f.Duration, Success: f.Err == nil}
		if f.Err != nil {
			timing.Error = f.Err.Error()
			errs = append(errs, f.Err)
		} else {
			timing.Cost = f.Fit.Cost
		}
		report.Fits = append(report.Fits, timing)
	}
	if err := errors.Join(errs...); err != nil {
		p.saveReport(report)
		return report, nil, err
	}

	blend, err := p.Blend(fits[0].Noise, fits[1].Noise)
	if err != nil {
		p.saveReport(report)
		return report, nil, err
	}
	report.Peak = blend.Pair.Peak

	if p.store != nil {
		for _, f := range fits {
			doc := models.NewNoiseDocument(f.Name, f.Noise)
			doc.RunID = runID
			if _, err := p.store.SaveModel(doc); err != nil {
				return report, blend, err
			}
		}
		for i, h := range []Filter{blend.H1, blend.H2} {
			doc := models.NewFilterDocument(fmt.Sprintf("%s-h%d", runID, i+1), h.Model, h.Foton)
			doc.RunID = runID
			if _, err := p.store.SaveModel(doc); err != nil {
				return report, blend, err
			}
			if i == blend.Pair.LowPass-1 {
				report.Filter = &doc
			}
		}
		p.saveReport(report)
	}
	return report, blend, nil
}

func (p *Pipeline) saveReport(report *models.RunReport) {
	if p.store == nil {
		return
	}
	if path, err := p.store.SaveReport(*report); err != nil {
		log.Printf("Failed to save run report: %v", err)
	} else if !p.settings.Quiet {
		log.Printf("Run report saved to %s", path)
	}
}
