package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// cli carries the global flags and the logger shared by every command
type cli struct {
	configPath string
	verbose    bool

	logger *zap.Logger
}

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "fpfs",
		Short: "Fourier power function shapelet shear measurement",
		Long: `fpfs measures galaxy shapes from PSF-blurred stamps.

Every galaxy power spectrum is deconvolved by the PSF power inside a cutoff
radius, projected onto polar shapelets and converted into a shear estimator
with noise bias correction, covariance and detection significance.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(c.verbose)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "fpfs.yaml", "Configuration file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newConfigCmd(c), newMeasureCmd(c))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
