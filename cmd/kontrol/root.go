package main

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/terrencetec/kontrol/pkg/config"
	"github.com/terrencetec/kontrol/pkg/models"
	"github.com/terrencetec/kontrol/pkg/profiling"
)

// app carries what every subcommand needs once the config is loaded.
type app struct {
	fs         afero.Fs
	v          *viper.Viper
	configPath string
	outDir     string
	cpuProfile string
	stopCPU    func() error

	settings *config.Settings
	store    *models.Store
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	a := &app{fs: fs, v: config.New(fs)}

	rootCmd := &cobra.Command{
		Use:   "kontrol",
		Short: "Complementary filter synthesis from sensor noise",
		Long: `kontrol fits rational models to sensor noise spectra, synthesizes
complementary filters that blend two sensors, and exports them as foton
zpk expressions.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			if a.cpuProfile != "" {
				stop, err := profiling.StartCPUProfile(a.fs, a.cpuProfile)
				if err != nil {
					return err
				}
				a.stopCPU = stop
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.stopCPU != nil {
				return a.stopCPU()
			}
			return nil
		},
	}

	// Global flags (override config file)
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (yaml)")
	rootCmd.PersistentFlags().StringVarP(&a.outDir, "out", "o", "kontrol-out", "directory for model documents")
	rootCmd.PersistentFlags().StringVar(&a.cpuProfile, "cpuprofile", "", "write a CPU profile to this file")
	rootCmd.PersistentFlags().IntP("workers", "w", 0, "parallel workers (0 for GOMAXPROCS)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().Uint64("seed", 1, "optimizer random seed")
	rootCmd.PersistentFlags().String("method", config.MethodDE, "global optimizer (differential-evolution | cmaes)")

	// Bind flags to viper
	a.v.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))
	a.v.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	a.v.BindPFlag("optimizer.seed", rootCmd.PersistentFlags().Lookup("seed"))
	a.v.BindPFlag("optimizer.method", rootCmd.PersistentFlags().Lookup("method"))

	rootCmd.AddCommand(
		a.fitCmd(),
		a.synthesizeCmd(),
		a.blendCmd(),
		a.correctCmd(),
		a.fotonCmd(),
		a.asdCmd(),
		a.configCmd(),
	)
	return rootCmd
}

// flagKeys maps subcommand flags to config keys. Several subcommands share
// a flag, so only the running command's flags are bound, in load.
var flagKeys = map[string]string{
	"zeros":        "fit.num_zeros",
	"poles":        "fit.num_poles",
	"low-order":    "synthesis.low_pass_order",
	"high-order":   "synthesis.high_pass_order",
	"grid-points":  "synthesis.grid_points",
	"target-order": "postfilter.target_order",
	"max-order":    "export.max_order",
	"location":     "export.location",
}

func (a *app) load(cmd *cobra.Command) error {
	var bindErr error
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	settings, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.settings = settings
	a.store = models.NewStore(a.fs, a.outDir)
	if settings.Quiet {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(cmd.ErrOrStderr())
	}
	return nil
}

// nameOf turns a file path into a document name.
func nameOf(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

func printSections(w io.Writer, title string, sections []string) {
	fmt.Fprintf(w, "%s:\n", title)
	for _, s := range sections {
		fmt.Fprintln(w, s)
	}
}
