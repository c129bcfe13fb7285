// Package fpfs measures Fourier power function shapelet moments of galaxy
// stamps and converts them into shear estimators.
//
// A Task holds an immutable Config and an immutable Cache snapshot built
// from one PSF. Rebuilds produce a new Cache that is swapped in atomically,
// so measurements already running finish on the snapshot they started with.
package fpfs

import (
	"math"

	"github.com/pkg/errors"

	"fpfs/internal/kernel"
	"fpfs/internal/models"
	"fpfs/pkg/deconv"
	"fpfs/pkg/fourier"
	"fpfs/pkg/psf"
	"fpfs/pkg/shapelet"
)

// Error taxonomy, matched with errors.Is
var (
	ErrShapeMismatch              = models.ErrShapeMismatch
	ErrUninitializedState         = models.ErrUninitializedState
	ErrDeconvolution              = models.ErrDeconvolution
	ErrConfigurationInconsistency = models.ErrConfigurationInconsistency
)

// BasisConfig selects the shapelet basis
type BasisConfig struct {
	// Order is the maximum radial order, at least shapelet.MinOrder
	Order int

	// Scale is the basis scale in Fourier pixels. Zero derives it from the
	// PSF power as Beta times its naive radius, clamped to [ScaleMin, ScaleMax].
	Scale float64

	Beta     float64
	ScaleMin float64
	ScaleMax float64
}

// CutoffConfig selects the cutoff radius
type CutoffConfig struct {
	// Rlim is the cutoff radius in Fourier pixels. Zero searches for the
	// radius where the basis Gaussian over the PSF power drops to Threshold.
	Rlim float64

	Threshold float64
}

// ResponseConfig holds the calibration constants of the shear conversion
type ResponseConfig struct {
	// WeightConstant is added to M00 to form the ellipticity weight
	WeightConstant float64

	// Norm multiplies the shear and selection responses
	Norm float64

	// FlipSign selects the response sign convention. The default (false)
	// negates the response.
	FlipSign bool

	// DetectionThreshold is the M00 significance above which a source is
	// flagged as detected
	DetectionThreshold float64
}

// Config is the immutable configuration of a Task
type Config struct {
	// Size is the stamp side N in pixels
	Size int

	Basis         BasisConfig
	Cutoff        CutoffConfig
	Deconvolution deconv.Options

	// PSFForm is the smooth model overlaid on every PSF power; FormNone
	// uses the raw power
	PSFForm psf.Form

	Response ResponseConfig

	// Kernel names the inner-loop strategy, see internal/kernel
	Kernel string
}

// DefaultResponse returns the response constants of the reference method
func DefaultResponse() ResponseConfig {
	return ResponseConfig{
		WeightConstant:     1,
		Norm:               1 / math.Sqrt2,
		FlipSign:           false,
		DetectionThreshold: 5,
	}
}

// DefaultConfig returns the reference configuration for stamps of side n
func DefaultConfig(n int) Config {
	return Config{
		Size: n,
		Basis: BasisConfig{
			Order:    shapelet.MinOrder,
			Beta:     0.85,
			ScaleMin: 1,
			ScaleMax: 4,
		},
		Cutoff: CutoffConfig{
			Threshold: 1e-3,
		},
		Deconvolution: deconv.Options{
			Floor: 1e-12,
		},
		PSFForm:  psf.FormNone,
		Response: DefaultResponse(),
		Kernel:   kernel.Auto,
	}
}

// Validate checks the configuration for values no cache can be built from
func (c Config) Validate() error {
	if _, err := fourier.NewGrid(c.Size); err != nil {
		return errors.Wrap(models.ErrConfigurationInconsistency, err.Error())
	}
	if c.Basis.Order < shapelet.MinOrder {
		return inconsistent("basis order %d below minimum %d", c.Basis.Order, shapelet.MinOrder)
	}
	if c.Basis.Scale < 0 {
		return inconsistent("basis scale %g is negative", c.Basis.Scale)
	}
	if c.Basis.Scale == 0 {
		if !(c.Basis.Beta > 0) {
			return inconsistent("automatic basis scale needs beta > 0, got %g", c.Basis.Beta)
		}
		if !(c.Basis.ScaleMin > 0) || c.Basis.ScaleMin > c.Basis.ScaleMax {
			return inconsistent("basis scale bounds [%g, %g] are invalid", c.Basis.ScaleMin, c.Basis.ScaleMax)
		}
	}
	if c.Cutoff.Rlim < 0 || c.Cutoff.Rlim >= float64(c.Size)/2 {
		return inconsistent("cutoff radius %g outside [0, %d)", c.Cutoff.Rlim, c.Size/2)
	}
	if c.Cutoff.Rlim == 0 && !(c.Cutoff.Threshold > 0) {
		return inconsistent("automatic cutoff radius needs threshold > 0, got %g", c.Cutoff.Threshold)
	}
	if c.Deconvolution.Floor < 0 || c.Deconvolution.Regularization < 0 {
		return inconsistent("deconvolution floor %g and regularization %g must be non-negative",
			c.Deconvolution.Floor, c.Deconvolution.Regularization)
	}
	if c.Deconvolution.Regularization > 0 && c.Deconvolution.Regularization < c.Deconvolution.Floor {
		return inconsistent("regularization %g below the power floor %g",
			c.Deconvolution.Regularization, c.Deconvolution.Floor)
	}
	if c.Response.Norm == 0 {
		return inconsistent("response norm must be non-zero")
	}
	if _, err := kernel.Select(c.Kernel); err != nil {
		return errors.Wrap(models.ErrConfigurationInconsistency, err.Error())
	}
	return nil
}

func inconsistent(format string, args ...interface{}) error {
	return errors.Wrapf(models.ErrConfigurationInconsistency, format, args...)
}
