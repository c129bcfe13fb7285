// Package deconv removes the PSF from Fourier-domain galaxy data by dividing
// by the PSF power inside the cutoff disk.
package deconv

import (
	"math"

	"github.com/pkg/errors"

	"fpfs/internal/models"
	"fpfs/pkg/fourier"
	"fpfs/pkg/psf"
)

// Options controls how small PSF power values are treated
type Options struct {
	// Floor is the smallest acceptable PSF power inside the cutoff disk.
	// Values at or below it are a deconvolution failure unless
	// Regularization is set.
	Floor float64

	// Regularization, when positive, clips every denominator below it to
	// it instead of failing
	Regularization float64
}

// Engine deconvolves data on one grid by one PSF power within one cutoff
// radius. It precomputes the reciprocal denominators and is immutable.
type Engine struct {
	grid fourier.Grid
	rlim float64
	disk []int

	// psf holds the (possibly clipped) PSF power on the disk
	psf []float64

	// failure is set when the PSF power is unusable inside the disk;
	// every deconvolution returns it
	failure error
}

// New prepares a deconvolution engine. Construction succeeds even when the
// PSF power is unusable inside the disk; the failure is reported by every
// deconvolution call so that a task can still be configured and inspected.
func New(power *psf.Power, rlim float64, opts Options) (*Engine, error) {
	grid := power.Grid()
	if !(rlim > 0) || rlim >= float64(grid.Size())/2 {
		return nil, errors.Wrapf(models.ErrConfigurationInconsistency, "cutoff radius %g outside (0, %d)", rlim, grid.Size()/2)
	}
	if opts.Regularization > 0 && opts.Regularization < opts.Floor {
		return nil, errors.Wrapf(models.ErrConfigurationInconsistency,
			"regularization %g below the power floor %g", opts.Regularization, opts.Floor)
	}

	e := &Engine{
		grid: grid,
		rlim: rlim,
		disk: grid.Disk(rlim),
	}
	e.psf = make([]float64, len(e.disk))

	values := power.Values()
	bad := 0
	worst := math.Inf(1)
	for i, idx := range e.disk {
		v := values[idx]
		if opts.Regularization > 0 {
			if !(v >= opts.Regularization) {
				v = opts.Regularization
			}
		} else if !(v > opts.Floor) {
			bad++
			worst = math.Min(worst, v)
		}
		e.psf[i] = v
	}

	if bad > 0 {
		e.failure = errors.Wrapf(models.ErrDeconvolution,
			"psf power at or below floor %g in %d of %d pixels inside radius %g (min %g)",
			opts.Floor, bad, len(e.disk), rlim, worst)
	}
	return e, nil
}

// Grid returns the grid the engine works on
func (e *Engine) Grid() fourier.Grid { return e.grid }

// Rlim returns the cutoff radius
func (e *Engine) Rlim() float64 { return e.rlim }

// Err reports whether the engine can deconvolve at all
func (e *Engine) Err() error { return e.failure }

// Amplitude divides Fourier amplitudes by sqrt(P) on the disk. The result is
// zero outside the disk.
func (e *Engine) Amplitude(f []complex128) ([]complex128, error) {
	if err := e.check(len(f), "galaxy fourier array"); err != nil {
		return nil, err
	}
	out := make([]complex128, len(f))
	for i, idx := range e.disk {
		out[idx] = f[idx] / complex(math.Sqrt(e.psf[i]), 0)
	}
	return out, nil
}

// Reconvolve multiplies Fourier amplitudes by sqrt(P) on the disk, undoing
// Amplitude. The result is zero outside the disk.
func (e *Engine) Reconvolve(f []complex128) ([]complex128, error) {
	if err := e.grid.Check(len(f), "fourier array"); err != nil {
		return nil, err
	}
	out := make([]complex128, len(f))
	for i, idx := range e.disk {
		out[idx] = f[idx] * complex(math.Sqrt(e.psf[i]), 0)
	}
	return out, nil
}

// Power divides power-like data by P^order on the disk. Order 1 deconvolves
// a power spectrum, order 2 the variance of one. The result is zero outside
// the disk.
func (e *Engine) Power(g []float64, order float64) ([]float64, error) {
	if err := e.check(len(g), "galaxy power"); err != nil {
		return nil, err
	}
	out := make([]float64, len(g))
	for i, idx := range e.disk {
		out[idx] = g[idx] / denominator(e.psf[i], order)
	}
	return out, nil
}

// PowerDisk is Power restricted to the disk: the i-th output belongs to the
// i-th disk pixel
func (e *Engine) PowerDisk(g []float64, order float64) ([]float64, error) {
	if err := e.check(len(g), "galaxy power"); err != nil {
		return nil, err
	}
	out := make([]float64, len(e.disk))
	for i, idx := range e.disk {
		out[i] = g[idx] / denominator(e.psf[i], order)
	}
	return out, nil
}

func denominator(p, order float64) float64 {
	switch order {
	case 1:
		return p
	case 2:
		return p * p
	default:
		return math.Pow(p, order)
	}
}

func (e *Engine) check(l int, what string) error {
	if e.failure != nil {
		return e.failure
	}
	return e.grid.Check(l, what)
}
