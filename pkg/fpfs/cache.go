package fpfs

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"fpfs/internal/kernel"
	"fpfs/internal/models"
	"fpfs/pkg/deconv"
	"fpfs/pkg/fourier"
	"fpfs/pkg/moments"
	"fpfs/pkg/noise"
	"fpfs/pkg/psf"
	"fpfs/pkg/shapelet"
)

// State is the lifecycle stage of a cache
type State int

const (
	// Uninitialized has no PSF power
	Uninitialized State = iota

	// PSFReady has a PSF power but no basis or cutoff radius
	PSFReady

	// Configured can measure raw moments
	Configured

	// Measuring also has a noise model for debiasing and covariances
	Measuring
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case PSFReady:
		return "psf-ready"
	case Configured:
		return "configured"
	case Measuring:
		return "measuring"
	default:
		return "unknown"
	}
}

// Cache is an immutable snapshot of everything derived from a configuration
// and a PSF. Every With method returns a new Cache and leaves the receiver
// untouched, so a snapshot can be shared by concurrent measurements.
type Cache struct {
	cfg         Config
	grid        fourier.Grid
	transformer *fourier.Transformer
	kernel      kernel.Kernel

	psf *psf.Power

	// rlimSetting is the requested cutoff radius, zero for automatic
	rlimSetting float64
	basis       *shapelet.Basis
	projector   *moments.Projector
	deconv      *deconv.Engine

	noise *noise.Model

	// bias and covariance are precomputed for fixed noise models
	bias       *moments.Vector
	covariance *mat.SymDense
}

// EmptyCache returns an Uninitialized cache for a configuration. The kernel
// strategy is resolved here, once.
func EmptyCache(cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	grid, err := fourier.NewGrid(cfg.Size)
	if err != nil {
		return nil, err
	}
	k, err := kernel.Select(cfg.Kernel)
	if err != nil {
		return nil, err
	}
	return &Cache{
		cfg:         cfg,
		grid:        grid,
		transformer: fourier.NewTransformer(grid),
		kernel:      k,
	}, nil
}

// NewCache returns a Configured cache for a PSF power, using the cutoff
// radius of the configuration
func NewCache(cfg Config, power *psf.Power) (*Cache, error) {
	c, err := EmptyCache(cfg)
	if err != nil {
		return nil, err
	}
	if c, err = c.WithPSF(power); err != nil {
		return nil, err
	}
	return c.WithRlim(cfg.Cutoff.Rlim)
}

// WithPSF returns a cache using a new PSF power. The configured PSF form is
// fitted to it. A configured cache rebuilds its basis and deconvolution with
// the same cutoff setting and keeps its noise model.
func (c *Cache) WithPSF(power *psf.Power) (*Cache, error) {
	if power == nil {
		return nil, errors.Wrap(models.ErrUninitializedState, "psf power is nil")
	}
	if power.Grid().Size() != c.grid.Size() {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "psf power grid %d, task grid %d",
			power.Grid().Size(), c.grid.Size())
	}
	fitted, err := psf.Fit(power, c.cfg.PSFForm)
	if err != nil {
		return nil, errors.Wrapf(err, "fitting %s psf form", c.cfg.PSFForm)
	}

	n := *c
	n.psf = fitted
	if c.basis == nil {
		return &n, nil
	}
	return n.rebuild(c.rlimSetting)
}

// WithPSFImage is WithPSF for a PSF stamp
func (c *Cache) WithPSFImage(stamp *models.Stamp) (*Cache, error) {
	power, err := psf.FromImage(c.transformer, stamp)
	if err != nil {
		return nil, err
	}
	return c.WithPSF(power)
}

// WithRlim returns a cache whose basis and deconvolution use a new cutoff
// radius, zero for automatic. The PSF power must be set.
func (c *Cache) WithRlim(rlim float64) (*Cache, error) {
	if c.psf == nil {
		return nil, errors.Wrap(models.ErrUninitializedState, "cutoff radius needs a psf power")
	}
	n := *c
	return n.rebuild(rlim)
}

// WithNoise returns a cache that debiases with a noise model and reports
// covariances. The cache must be configured.
func (c *Cache) WithNoise(m *noise.Model) (*Cache, error) {
	if m == nil {
		return nil, errors.Wrap(models.ErrUninitializedState, "noise model is nil")
	}
	if c.basis == nil {
		return nil, errors.Wrapf(models.ErrUninitializedState, "noise model needs a configured task, state is %s", c.State())
	}
	n := *c
	if err := n.attachNoise(m); err != nil {
		return nil, err
	}
	return &n, nil
}

// WithoutNoise returns a cache without a noise model
func (c *Cache) WithoutNoise() *Cache {
	n := *c
	n.noise = nil
	n.bias = nil
	n.covariance = nil
	return &n
}

// rebuild derives the basis, deconvolution and noise terms on a private copy
func (c *Cache) rebuild(rlimSetting float64) (*Cache, error) {
	scale := c.cfg.Basis.Scale
	if scale == 0 {
		scale = psf.AutoScale(c.psf, c.cfg.Basis.Beta, c.cfg.Basis.ScaleMin, c.cfg.Basis.ScaleMax)
	}
	rlim := rlimSetting
	if rlim == 0 {
		rlim = psf.AutoRlim(c.psf, scale, c.cfg.Cutoff.Threshold)
	}

	params := shapelet.Params{Order: c.cfg.Basis.Order, Scale: scale, Rlim: rlim}
	basis, err := shapelet.Build(c.grid, params)
	if err != nil {
		return nil, err
	}
	dec, err := deconv.New(c.psf, rlim, c.cfg.Deconvolution)
	if err != nil {
		return nil, err
	}

	c.rlimSetting = rlimSetting
	c.basis = basis
	c.projector = moments.NewProjector(basis, c.kernel)
	c.deconv = dec
	c.bias = nil
	c.covariance = nil
	if c.noise != nil {
		if err := c.attachNoise(c.noise); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// attachNoise validates a noise model against the basis and precomputes
// its galaxy independent terms
func (c *Cache) attachNoise(m *noise.Model) error {
	if err := m.Check(c.grid, c.basis.Params()); err != nil {
		return err
	}
	c.noise = m
	c.bias = nil
	c.covariance = nil

	// A failed deconvolution is reported by every measurement instead
	if !m.Fixed() || c.deconv.Err() != nil {
		return nil
	}
	bias, err := noise.Bias(c.projector, c.deconv, m.Power())
	if err != nil {
		return err
	}
	cov, err := noise.Covariance(c.projector, c.deconv, m.Power())
	if err != nil {
		return err
	}
	c.bias = &bias
	c.covariance = cov
	return nil
}

// State reports the lifecycle stage of the cache
func (c *Cache) State() State {
	switch {
	case c.psf == nil:
		return Uninitialized
	case c.basis == nil:
		return PSFReady
	case c.noise == nil:
		return Configured
	default:
		return Measuring
	}
}

// Config returns the configuration the cache was built from
func (c *Cache) Config() Config { return c.cfg }

// Grid returns the Fourier grid
func (c *Cache) Grid() fourier.Grid { return c.grid }

// Kernel returns the inner-loop strategy
func (c *Cache) Kernel() kernel.Kernel { return c.kernel }

// PSF returns the (fitted) PSF power, nil when Uninitialized
func (c *Cache) PSF() *psf.Power { return c.psf }

// Basis returns the shapelet basis, nil before the cache is configured
func (c *Cache) Basis() *shapelet.Basis { return c.basis }

// Noise returns the noise model, nil when none is attached
func (c *Cache) Noise() *noise.Model { return c.noise }

// Params returns the basis parameters in use
func (c *Cache) Params() (shapelet.Params, error) {
	if c.basis == nil {
		return shapelet.Params{}, errors.Wrapf(models.ErrUninitializedState, "no basis in state %s", c.State())
	}
	return c.basis.Params(), nil
}

func (c *Cache) requireConfigured() error {
	if c.basis == nil {
		return errors.Wrapf(models.ErrUninitializedState, "measurement needs a configured task, state is %s", c.State())
	}
	return nil
}
