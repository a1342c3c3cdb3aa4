package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/terrencetec/kontrol"
	"github.com/terrencetec/kontrol/internal/processing"
	"github.com/terrencetec/kontrol/internal/utils"
	"github.com/terrencetec/kontrol/pkg/config"
	"github.com/terrencetec/kontrol/pkg/models"
	"github.com/terrencetec/kontrol/pkg/spectral"
)

func (a *app) fitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit <spectrum>...",
		Short: "Fit noise models to ASD text files",
		Long: `Fit a rational noise model with real corners to each spectrum file
("f asd" columns) and save it to the output directory under the file's name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spectra := make([]processing.Spectrum, 0, len(args))
			for _, path := range args {
				asd, err := spectral.ReadSpectrumFile(a.fs, path)
				if err != nil {
					return err
				}
				spectra = append(spectra, processing.Spectrum{Name: nameOf(path), ASD: asd})
			}

			out := cmd.OutOrStdout()
			var errs []error
			for _, f := range processing.NewPipeline(a.settings, a.store).FitAll(spectra) {
				if f.Err != nil {
					errs = append(errs, f.Err)
					continue
				}
				path, err := a.store.SaveModel(models.NewNoiseDocument(f.Name, f.Noise))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %v (cost %.3e) -> %s\n", f.Name, f.Noise.Model, f.Fit.Cost, path)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().Int("zeros", 2, "number of real zeros")
	cmd.Flags().Int("poles", 2, "number of real poles")
	return cmd
}

func synthesisFlags(cmd *cobra.Command) {
	cmd.Flags().Int("low-order", 2, "low-pass roll-off order")
	cmd.Flags().Int("high-order", 2, "high-pass order at low frequency")
	cmd.Flags().Int("grid-points", 256, "frequencies in the objective grid")
	cmd.Flags().Int("target-order", 0, "reduce the filters to this order (0 to skip)")
}

func (a *app) synthesizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synthesize <noise1> <noise2>",
		Short: "Blend two fitted noise models",
		Long: `Synthesize complementary filters for two noise models saved by fit.
H1 filters the first sensor and H2 the second.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n1, err := a.loadNoise(args[0])
			if err != nil {
				return err
			}
			n2, err := a.loadNoise(args[1])
			if err != nil {
				return err
			}

			blend, err := processing.NewPipeline(a.settings, a.store).Blend(n1, n2)
			if err != nil {
				return err
			}
			runID := utils.RunID(time.Now())
			return a.saveBlend(cmd, runID, blend)
		},
	}
	synthesisFlags(cmd)
	return cmd
}

func (a *app) loadNoise(name string) (kontrol.NoiseModel, error) {
	doc, err := a.store.LoadModel(name)
	if err != nil {
		return kontrol.NoiseModel{}, err
	}
	return doc.NoiseModel()
}

func (a *app) correctCmd() *cobra.Command {
	var floorName string
	cmd := &cobra.Command{
		Use:   "correct <seismometer> <ground>",
		Short: "Synthesize a sensor-correction filter",
		Long: `Synthesize a sensor-correction filter H1 for a seismometer noise model
against the relative-sensor (ground) noise model, both saved by fit. An
optional ambient floor model is added in quadrature to the seismometer noise.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seismometer, err := a.loadNoise(args[0])
			if err != nil {
				return err
			}
			ground, err := a.loadNoise(args[1])
			if err != nil {
				return err
			}
			var floor *kontrol.NoiseModel
			if floorName != "" {
				n, err := a.loadNoise(floorName)
				if err != nil {
					return err
				}
				floor = &n
			}

			blend, err := processing.NewPipeline(a.settings, a.store).Correct(seismometer, ground, floor)
			if err != nil {
				return err
			}
			return a.saveBlend(cmd, utils.RunID(time.Now()), blend)
		},
	}
	cmd.Flags().StringVar(&floorName, "floor", "", "saved ambient noise floor model")
	synthesisFlags(cmd)
	return cmd
}

func (a *app) blendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blend <spectrum1> <spectrum2>",
		Short: "Fit two spectra and blend them in one run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var spectra [2]processing.Spectrum
			for i, path := range args {
				asd, err := spectral.ReadSpectrumFile(a.fs, path)
				if err != nil {
					return err
				}
				spectra[i] = processing.Spectrum{Name: nameOf(path), ASD: asd}
			}

			runID := utils.RunID(time.Now())
			report, blend, err := processing.NewPipeline(a.settings, a.store).Run(runID, spectra[0], spectra[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: low-pass H%d, peak %.4g\n", report.RunID, blend.Pair.LowPass, report.Peak)
			printSections(out, "H1", blend.H1.Foton)
			printSections(out, "H2", blend.H2.Foton)
			return nil
		},
	}
	cmd.Flags().Int("zeros", 2, "number of real zeros of the noise models")
	cmd.Flags().Int("poles", 2, "number of real poles of the noise models")
	synthesisFlags(cmd)
	return cmd
}

func (a *app) saveBlend(cmd *cobra.Command, runID string, blend *processing.BlendOutcome) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: low-pass H%d, peak %.4g\n", runID, blend.Pair.LowPass, blend.Pair.Peak)
	for i, h := range []processing.Filter{blend.H1, blend.H2} {
		doc := models.NewFilterDocument(fmt.Sprintf("%s-h%d", runID, i+1), h.Model, h.Foton)
		doc.RunID = runID
		if _, err := a.store.SaveModel(doc); err != nil {
			return err
		}
		printSections(out, fmt.Sprintf("H%d (%s)", i+1, doc.Name), h.Foton)
	}
	return nil
}

func (a *app) fotonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foton <model>",
		Short: "Print a saved model as foton zpk sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.store.LoadModel(args[0])
			if err != nil {
				return err
			}
			text, err := doc.Model.Foton(a.settings.FotonOptions())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().Int("max-order", 20, "maximum order of one section")
	cmd.Flags().String("location", "n", "root location (n | s)")
	return cmd
}

func (a *app) asdCmd() *cobra.Command {
	var (
		fs      float64
		nfft    int
		overlap float64
		output  string
	)
	cmd := &cobra.Command{
		Use:   "asd <timeseries>",
		Short: "Estimate the ASD of a time series",
		Long: `Estimate the amplitude spectral density of a one-column time series
with Welch's method and write it as "f asd" columns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.fs.Open(args[0])
			if err != nil {
				return err
			}
			x, err := spectral.ReadSeries(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			asd, err := spectral.Welch{SegmentLength: nfft, Overlap: overlap}.ASD(x, fs)
			if err != nil {
				return err
			}
			if output == "" {
				return spectral.WriteSpectrum(cmd.OutOrStdout(), asd, true)
			}
			return spectral.WriteSpectrumFile(a.fs, output, asd, true)
		},
	}
	cmd.Flags().Float64Var(&fs, "fs", 1, "sampling frequency in Hz")
	cmd.Flags().IntVar(&nfft, "nfft", 256, "samples per segment")
	cmd.Flags().Float64Var(&overlap, "overlap", 0.5, "segment overlap fraction")
	cmd.Flags().StringVar(&output, "output", "", "output file (stdout if empty)")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration unless the file exists",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.AppName + "." + config.ConfigType
			if len(args) == 1 {
				path = args[0]
			}
			exists, err := afero.Exists(a.fs, path)
			if err != nil {
				return err
			}
			if err := config.WriteDefault(a.fs, path); err != nil {
				return err
			}
			if exists {
				fmt.Fprintf(cmd.OutOrStdout(), "%s exists, left unchanged\n", path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			}
			return nil
		},
	})
	return cmd
}
