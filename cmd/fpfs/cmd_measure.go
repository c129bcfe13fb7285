package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"fpfs/internal/metrics"
	"fpfs/internal/models"
	"fpfs/pkg/config"
	"fpfs/pkg/fpfs"
)

func newMeasureCmd(c *cli) *cobra.Command {
	var inputPath, outputPath string

	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Measure shear estimators of galaxy stamps",
		Long: `Reads a YAML document holding one PSF stamp and a list of galaxy stamps,
measures every galaxy in parallel and writes moments and shear estimators
as YAML. A failing stamp is reported in its result and does not stop the
others.

Input:
  psf:
    rows: [[...], ...]
  galaxies:
    - id: g0
      data: [...]   # row-major, grid.size^2 values`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Output.Verbose && !c.verbose {
				if c.logger, err = newLogger(true); err != nil {
					return err
				}
			}

			in, err := readInput(inputPath)
			if err != nil {
				return err
			}

			rec := metrics.NewRecorder(prometheus.NewRegistry())
			out, err := runMeasure(cmd.Context(), cfg, in, c.logger, rec)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			enc := yaml.NewEncoder(w)
			defer enc.Close()
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "YAML file with the PSF and galaxy stamps")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output YAML file (default stdout)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// runMeasure configures a task from the PSF stamp and measures every galaxy
// with at most Processing.NumCores stamps in flight
func runMeasure(ctx context.Context, cfg *config.Config, in *inputDoc, logger *zap.Logger, rec *metrics.Recorder) (*outputDoc, error) {
	tc, err := cfg.TaskConfig()
	if err != nil {
		return nil, err
	}
	task, err := fpfs.NewTask(tc, fpfs.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	psfStamp, err := in.PSF.stamp(tc.Size)
	if err != nil {
		return nil, fmt.Errorf("invalid psf stamp: %w", err)
	}
	if err := task.ConfigureImage(psfStamp); err != nil {
		return nil, fmt.Errorf("failed to configure task: %w", err)
	}

	nm, err := cfg.NoiseModel()
	if err != nil {
		return nil, err
	}
	if nm != nil {
		if err := task.ResetNoise(nm); err != nil {
			return nil, fmt.Errorf("failed to attach noise model: %w", err)
		}
	}

	params, err := task.Cache().Params()
	if err != nil {
		return nil, err
	}
	logger.Info("Measuring galaxies",
		zap.Int("stamps", len(in.Galaxies)),
		zap.Int("workers", cfg.Processing.NumCores),
		zap.Float64("scale", params.Scale),
		zap.Float64("rlim", params.Rlim),
		zap.Stringer("state", task.State()))

	results := make([]resultDoc, len(in.Galaxies))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Processing.NumCores)
	for i, gal := range in.Galaxies {
		i, gal := i, gal
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := gal.ID
			if id == "" {
				id = fmt.Sprintf("%d", i)
			}

			start := time.Now()
			res, err := measureOne(task, gal, tc, cfg)
			rec.Observe(err, time.Since(start))

			res.ID = id
			res.Outcome = models.Outcome(err)
			if err != nil {
				res.Error = err.Error()
				logger.Warn("Stamp failed", zap.String("id", id), zap.Error(err))
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := rec.Counts()
	logger.Info("Measurement finished",
		zap.Float64("ok", counts["ok"]),
		zap.Uint64("total", rec.Total()))

	return &outputDoc{
		Params:  params,
		Kernel:  task.Cache().Kernel().Name(),
		State:   task.State().String(),
		Results: results,
		Summary: counts,
	}, nil
}

func measureOne(task *fpfs.Task, gal stampDoc, tc fpfs.Config, cfg *config.Config) (resultDoc, error) {
	var res resultDoc

	stamp, err := gal.stamp(tc.Size)
	if err != nil {
		return res, err
	}
	m, err := task.Measure(stamp)
	if err != nil {
		return res, err
	}
	res.Moments = &m.Moments

	shear, err := m.Shear(tc.Response, cfg.Response.Revise && m.PowerCovariance != nil)
	if err != nil {
		return res, err
	}
	res.Shear = &shear

	if cfg.Output.Errors && m.PowerCovariance != nil {
		errs, err := m.Errors(tc.Response)
		if err != nil {
			return res, err
		}
		res.Errors = &errs
	}
	return res, nil
}
