package fpfs

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"fpfs/internal/models"
	"fpfs/pkg/noise"
	"fpfs/pkg/psf"
)

// Task measures galaxies against one PSF. Measure is safe for concurrent
// use; rebuild methods are serialised among themselves and swap the cache
// without waiting for running measurements.
type Task struct {
	cfg    Config
	logger *zap.Logger

	cache atomic.Pointer[Cache]

	// mu serialises rebuilds so two concurrent resets cannot lose each other
	mu sync.Mutex
}

// Option configures a Task
type Option func(*Task)

// WithLogger sets the logger used for cache rebuilds
func WithLogger(logger *zap.Logger) Option {
	return func(t *Task) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTask returns an Uninitialized task
func NewTask(cfg Config, opts ...Option) (*Task, error) {
	c, err := EmptyCache(cfg)
	if err != nil {
		return nil, err
	}

	t := &Task{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	t.cache.Store(c)

	t.logger.Debug("task created",
		zap.Int("size", cfg.Size),
		zap.String("kernel", c.Kernel().Name()))
	return t, nil
}

// Config returns the task configuration
func (t *Task) Config() Config { return t.cfg }

// Cache returns the current snapshot
func (t *Task) Cache() *Cache { return t.cache.Load() }

// State reports the lifecycle stage of the current snapshot
func (t *Task) State() State { return t.cache.Load().State() }

// Configure replaces the whole cache with one built from a PSF power and the
// configured cutoff radius. Any noise model is dropped.
func (t *Task) Configure(power *psf.Power) error {
	return t.swap("configure", func(*Cache) (*Cache, error) {
		return NewCache(t.cfg, power)
	})
}

// ConfigureImage is Configure for a PSF stamp
func (t *Task) ConfigureImage(stamp *models.Stamp) error {
	return t.swap("configure", func(*Cache) (*Cache, error) {
		empty, err := EmptyCache(t.cfg)
		if err != nil {
			return nil, err
		}
		withPSF, err := empty.WithPSFImage(stamp)
		if err != nil {
			return nil, err
		}
		return withPSF.WithRlim(t.cfg.Cutoff.Rlim)
	})
}

// ResetPSF replaces the PSF power and rebuilds the caches depending on it
func (t *Task) ResetPSF(power *psf.Power) error {
	return t.swap("reset psf", func(c *Cache) (*Cache, error) {
		return c.WithPSF(power)
	})
}

// ResetPSFImage is ResetPSF for a PSF stamp
func (t *Task) ResetPSFImage(stamp *models.Stamp) error {
	return t.swap("reset psf", func(c *Cache) (*Cache, error) {
		return c.WithPSFImage(stamp)
	})
}

// SetRlim sets the cutoff radius, zero for automatic, and rebuilds the basis
func (t *Task) SetRlim(rlim float64) error {
	return t.swap("set rlim", func(c *Cache) (*Cache, error) {
		return c.WithRlim(rlim)
	})
}

// ResetNoise attaches a noise model
func (t *Task) ResetNoise(m *noise.Model) error {
	return t.swap("reset noise", func(c *Cache) (*Cache, error) {
		return c.WithNoise(m)
	})
}

// ClearNoise detaches the noise model
func (t *Task) ClearNoise() {
	_ = t.swap("clear noise", func(c *Cache) (*Cache, error) {
		return c.WithoutNoise(), nil
	})
}

// Measure computes the moments of a galaxy stamp on the current snapshot
func (t *Task) Measure(stamp *models.Stamp) (*Measurement, error) {
	return t.cache.Load().Measure(stamp)
}

// Reconstruct returns the deconvolved image of a stamp on the current snapshot
func (t *Task) Reconstruct(stamp *models.Stamp) (*models.Stamp, error) {
	return t.cache.Load().Reconstruct(stamp)
}

// swap builds a new cache from the current one and publishes it. On error
// the current cache stays in place.
func (t *Task) swap(op string, build func(*Cache) (*Cache, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next, err := build(t.cache.Load())
	if err != nil {
		t.logger.Debug("cache rebuild failed", zap.String("op", op), zap.Error(err))
		return err
	}
	t.cache.Store(next)

	fields := []zap.Field{
		zap.String("op", op),
		zap.Stringer("state", next.State()),
	}
	if p, err := next.Params(); err == nil {
		fields = append(fields,
			zap.Int("order", p.Order),
			zap.Float64("scale", p.Scale),
			zap.Float64("rlim", p.Rlim))
	}
	if next.deconv != nil && next.deconv.Err() != nil {
		fields = append(fields, zap.NamedError("deconvolution", next.deconv.Err()))
	}
	t.logger.Debug("cache rebuilt", fields...)
	return nil
}
