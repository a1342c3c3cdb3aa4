package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/terrencetec/kontrol"
)

const (
	AppName    = "kontrol"
	ConfigType = "yaml"
	// DefaultConfig is written by WriteDefault and documents every key.
	DefaultConfig = `# kontrol configuration

# Noise spectrum fitting
fit:
  num_zeros: 2          # real zeros of the noise model
  num_poles: 2          # real poles, equal to num_zeros for a flat model

# Complementary filter synthesis
synthesis:
  low_pass_order: 2     # roll-off order of the low-pass filter
  high_pass_order: 2    # low-frequency order of the high-pass filter
  grid_points: 256      # log-spaced frequencies in the objective
  norm: 0               # 0 = peak (H-infinity), p > 0 = Lp surrogate
  q_log_min: -1         # log10 bounds of the pole quality factors
  q_log_max: 1

# Optimizers
optimizer:
  method: differential-evolution   # differential-evolution | cmaes
  polish: nelder-mead              # nelder-mead | lbfgs | none
  seed: 1
  population: 15        # DE multiplier on the dimension, CMA-ES samples
  max_iterations: 1000
  restarts: 2           # Nelder-Mead restarts

# Filter post-processing
postfilter:
  strip_threshold: 2    # decades outside the band before a root is dropped
  target_order: 0       # 0 disables order reduction
  tolerance: 0.05       # max relative magnitude change when reducing

# Foton export
export:
  max_order: 20
  significant_figures: 10
  location: "n"         # n | s

workers: 0              # 0 = GOMAXPROCS
quiet: false
`
)

// Methods accepted for optimizer.method and optimizer.polish.
const (
	MethodDE         = "differential-evolution"
	MethodCMAES      = "cmaes"
	MethodNelderMead = "nelder-mead"
	MethodLBFGS      = "lbfgs"
	MethodNone       = "none"
)

// FitSettings configures noise spectrum fitting.
type FitSettings struct {
	NumZeros int `mapstructure:"num_zeros"`
	NumPoles int `mapstructure:"num_poles"`
}

// SynthesisSettings configures complementary filter synthesis.
type SynthesisSettings struct {
	LowPassOrder  int     `mapstructure:"low_pass_order"`
	HighPassOrder int     `mapstructure:"high_pass_order"`
	GridPoints    int     `mapstructure:"grid_points"`
	Norm          float64 `mapstructure:"norm"`
	QLogMin       float64 `mapstructure:"q_log_min"`
	QLogMax       float64 `mapstructure:"q_log_max"`
}

// OptimizerSettings selects the global search and its local polish.
type OptimizerSettings struct {
	Method        string `mapstructure:"method"`
	Polish        string `mapstructure:"polish"`
	Seed          uint64 `mapstructure:"seed"`
	Population    int    `mapstructure:"population"`
	MaxIterations int    `mapstructure:"max_iterations"`
	Restarts      int    `mapstructure:"restarts"`
}

// PostFilterSettings configures root stripping and order reduction.
type PostFilterSettings struct {
	StripThreshold float64 `mapstructure:"strip_threshold"`
	TargetOrder    int     `mapstructure:"target_order"`
	Tolerance      float64 `mapstructure:"tolerance"`
}

// ExportSettings configures foton export.
type ExportSettings struct {
	MaxOrder           int    `mapstructure:"max_order"`
	SignificantFigures int    `mapstructure:"significant_figures"`
	Location           string `mapstructure:"location"`
}

// Settings holds all application configuration
type Settings struct {
	Fit        FitSettings        `mapstructure:"fit"`
	Synthesis  SynthesisSettings  `mapstructure:"synthesis"`
	Optimizer  OptimizerSettings  `mapstructure:"optimizer"`
	PostFilter PostFilterSettings `mapstructure:"postfilter"`
	Export     ExportSettings     `mapstructure:"export"`
	Workers    int                `mapstructure:"workers"`
	Quiet      bool               `mapstructure:"quiet"`
}

// Default returns the settings DefaultConfig describes.
func Default() *Settings {
	return &Settings{
		Fit: FitSettings{NumZeros: 2, NumPoles: 2},
		Synthesis: SynthesisSettings{
			LowPassOrder:  2,
			HighPassOrder: 2,
			GridPoints:    256,
			QLogMin:       -1,
			QLogMax:       1,
		},
		Optimizer: OptimizerSettings{
			Method:        MethodDE,
			Polish:        MethodNelderMead,
			Seed:          1,
			Population:    15,
			MaxIterations: 1000,
			Restarts:      2,
		},
		PostFilter: PostFilterSettings{StripThreshold: 2, Tolerance: 0.05},
		Export: ExportSettings{
			MaxOrder:           kontrol.DefaultMaxSectionOrder,
			SignificantFigures: kontrol.DefaultSignificantFigures,
			Location:           string(kontrol.Normalized),
		},
	}
}

// SetDefaults registers every key of Default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("fit.num_zeros", d.Fit.NumZeros)
	v.SetDefault("fit.num_poles", d.Fit.NumPoles)
	v.SetDefault("synthesis.low_pass_order", d.Synthesis.LowPassOrder)
	v.SetDefault("synthesis.high_pass_order", d.Synthesis.HighPassOrder)
	v.SetDefault("synthesis.grid_points", d.Synthesis.GridPoints)
	v.SetDefault("synthesis.norm", d.Synthesis.Norm)
	v.SetDefault("synthesis.q_log_min", d.Synthesis.QLogMin)
	v.SetDefault("synthesis.q_log_max", d.Synthesis.QLogMax)
	v.SetDefault("optimizer.method", d.Optimizer.Method)
	v.SetDefault("optimizer.polish", d.Optimizer.Polish)
	v.SetDefault("optimizer.seed", d.Optimizer.Seed)
	v.SetDefault("optimizer.population", d.Optimizer.Population)
	v.SetDefault("optimizer.max_iterations", d.Optimizer.MaxIterations)
	v.SetDefault("optimizer.restarts", d.Optimizer.Restarts)
	v.SetDefault("postfilter.strip_threshold", d.PostFilter.StripThreshold)
	v.SetDefault("postfilter.target_order", d.PostFilter.TargetOrder)
	v.SetDefault("postfilter.tolerance", d.PostFilter.Tolerance)
	v.SetDefault("export.max_order", d.Export.MaxOrder)
	v.SetDefault("export.significant_figures", d.Export.SignificantFigures)
	v.SetDefault("export.location", d.Export.Location)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("quiet", d.Quiet)
}

// New returns a viper instance reading from fs with the defaults set and
// KONTROL_* environment overrides enabled.
func New(fs afero.Fs) *viper.Viper {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType(ConfigType)
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads path, if not empty, into v and returns the validated settings.
// Keys that do not belong to Settings are rejected.
func Load(v *viper.Viper, path string) (*Settings, error) {
	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			v.SetConfigType(ext)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var s Settings
	if err := v.UnmarshalExact(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// WriteDefault writes DefaultConfig to path unless the file exists.
func WriteDefault(fs afero.Fs, path string) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if exists {
		return nil
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := afero.WriteFile(fs, path, []byte(DefaultConfig), 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	if s.Fit.NumZeros < 0 || s.Fit.NumPoles < 0 {
		errs = append(errs, fmt.Errorf("fit.num_zeros and fit.num_poles must be non-negative, got %d and %d", s.Fit.NumZeros, s.Fit.NumPoles))
	}

	if s.Synthesis.LowPassOrder < 1 || s.Synthesis.HighPassOrder < 1 {
		errs = append(errs, fmt.Errorf("synthesis orders must be at least 1, got %d and %d", s.Synthesis.LowPassOrder, s.Synthesis.HighPassOrder))
	}
	if s.Synthesis.GridPoints < 2 {
		errs = append(errs, fmt.Errorf("synthesis.grid_points must be at least 2, got %d", s.Synthesis.GridPoints))
	}
	if s.Synthesis.Norm < 0 {
		errs = append(errs, fmt.Errorf("synthesis.norm must be 0 or positive, got %v", s.Synthesis.Norm))
	}
	if s.Synthesis.QLogMin >= s.Synthesis.QLogMax {
		errs = append(errs, fmt.Errorf("synthesis.q_log_min must be below q_log_max, got %v and %v", s.Synthesis.QLogMin, s.Synthesis.QLogMax))
	}

	switch s.Optimizer.Method {
	case MethodDE, MethodCMAES:
	default:
		errs = append(errs, fmt.Errorf("optimizer.method must be %s or %s, got %q", MethodDE, MethodCMAES, s.Optimizer.Method))
	}
	switch s.Optimizer.Polish {
	case MethodNelderMead, MethodLBFGS, MethodNone, "":
	default:
		errs = append(errs, fmt.Errorf("optimizer.polish must be %s, %s or %s, got %q", MethodNelderMead, MethodLBFGS, MethodNone, s.Optimizer.Polish))
	}
	if s.Optimizer.Population < 0 || s.Optimizer.MaxIterations < 0 || s.Optimizer.Restarts < 0 {
		errs = append(errs, fmt.Errorf("optimizer population, max_iterations and restarts must be non-negative"))
	}

	if s.PostFilter.StripThreshold <= 0 {
		errs = append(errs, fmt.Errorf("postfilter.strip_threshold must be positive, got %v", s.PostFilter.StripThreshold))
	}
	if s.PostFilter.TargetOrder < 0 {
		errs = append(errs, fmt.Errorf("postfilter.target_order must be non-negative, got %d", s.PostFilter.TargetOrder))
	}
	if s.PostFilter.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("postfilter.tolerance must be positive, got %v", s.PostFilter.Tolerance))
	}

	if s.Export.MaxOrder < 1 {
		errs = append(errs, fmt.Errorf("export.max_order must be at least 1, got %d", s.Export.MaxOrder))
	}
	if s.Export.SignificantFigures < 1 || s.Export.SignificantFigures > 17 {
		errs = append(errs, fmt.Errorf("export.significant_figures must be between 1 and 17, got %d", s.Export.SignificantFigures))
	}
	switch kontrol.RootLocation(s.Export.Location) {
	case kontrol.Normalized, kontrol.SPlane:
	default:
		errs = append(errs, fmt.Errorf("export.location must be n or s, got %q", s.Export.Location))
	}

	if s.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be non-negative, got %d", s.Workers))
	}

	return errors.Join(errs...)
}

// LocalOptimizer returns the polish optimizer, nil for "none".
func (s *Settings) LocalOptimizer() kontrol.Optimizer {
	switch s.Optimizer.Polish {
	case MethodLBFGS:
		return &kontrol.LBFGS{}
	case MethodNone, "":
		return nil
	default:
		return &kontrol.NelderMead{Restarts: s.Optimizer.Restarts}
	}
}

// GlobalOptimizer returns the bounded search configured by the settings,
// polished by LocalOptimizer.
func (s *Settings) GlobalOptimizer() kontrol.Optimizer {
	if s.Optimizer.Method == MethodCMAES {
		return &kontrol.CMAES{
			Seed:       s.Optimizer.Seed,
			Population: s.Optimizer.Population,
			Workers:    s.Workers,
			Polish:     s.LocalOptimizer(),
		}
	}
	return &kontrol.DifferentialEvolution{
		Seed:           s.Optimizer.Seed,
		PopulationSize: s.Optimizer.Population,
		MaxIterations:  s.Optimizer.MaxIterations,
		Workers:        s.Workers,
		Polish:         s.LocalOptimizer(),
	}
}

// SpectrumFit returns a noise spectrum fitter.
func (s *Settings) SpectrumFit() *kontrol.SpectrumFit {
	fit := &kontrol.SpectrumFit{
		NumZeros:  s.Fit.NumZeros,
		NumPoles:  s.Fit.NumPoles,
		Optimizer: s.GlobalOptimizer(),
	}
	if local := s.LocalOptimizer(); local != nil {
		fit.Refine = local
	}
	return fit
}

// Synthesizer returns a complementary filter synthesizer.
func (s *Settings) Synthesizer() *kontrol.Synthesizer {
	return &kontrol.Synthesizer{
		LowPassOrder:  s.Synthesis.LowPassOrder,
		HighPassOrder: s.Synthesis.HighPassOrder,
		GridPoints:    s.Synthesis.GridPoints,
		Norm:          s.Synthesis.Norm,
		QBounds:       [2]float64{s.Synthesis.QLogMin, s.Synthesis.QLogMax},
		Optimizer:     s.GlobalOptimizer(),
	}
}

// FotonOptions returns the export options.
func (s *Settings) FotonOptions() kontrol.FotonOptions {
	return kontrol.FotonOptions{
		MaxOrder:           s.Export.MaxOrder,
		SignificantFigures: s.Export.SignificantFigures,
		Location:           kontrol.RootLocation(s.Export.Location),
	}
}
