// Package noise models the pixel noise power and propagates it through the
// deconvolution and projection chain.
package noise

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"fpfs/internal/models"
	"fpfs/pkg/fourier"
	"fpfs/pkg/shapelet"
)

// Kind tells how the noise power of a galaxy is obtained
type Kind int

const (
	// KindFlat is white noise with a per-pixel variance
	KindFlat Kind = iota

	// KindSpectrum is a fixed noise power spectrum
	KindSpectrum

	// KindTemplates fits a linear combination of power templates to the
	// outskirts of every galaxy power spectrum
	KindTemplates
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindSpectrum:
		return "spectrum"
	case KindTemplates:
		return "templates"
	default:
		return "unknown"
	}
}

// fitFraction sets the half-width of the central square excluded from the
// template fit as a fraction of the stamp size
const fitFraction = 0.4

// Model describes the noise power on a grid. It is immutable.
type Model struct {
	kind      Kind
	grid      fourier.Grid
	variance  float64
	power     []float64
	templates [][]float64

	calibration *shapelet.Params
}

// Flat returns white noise of the given per-pixel variance. Its power is
// variance * N^2 at every frequency. The variance must be finite and positive.
func Flat(grid fourier.Grid, variance float64) (*Model, error) {
	if !(variance > 0) || math.IsInf(variance, 0) {
		return nil, errors.Wrapf(models.ErrConfigurationInconsistency,
			"noise variance must be finite and positive, got %g", variance)
	}
	power := make([]float64, grid.Len())
	level := variance * float64(grid.Len())
	for i := range power {
		power[i] = level
	}
	return &Model{kind: KindFlat, grid: grid, variance: variance, power: power}, nil
}

// Spectrum returns a fixed centred noise power spectrum. The values are copied.
func Spectrum(grid fourier.Grid, power []float64) (*Model, error) {
	if err := grid.Check(len(power), "noise power"); err != nil {
		return nil, err
	}
	p := make([]float64, len(power))
	copy(p, power)
	return &Model{kind: KindSpectrum, grid: grid, power: p}, nil
}

// Templates returns a model fitted per galaxy as a linear combination of
// centred power templates. The templates are copied.
func Templates(grid fourier.Grid, templates [][]float64) (*Model, error) {
	if len(templates) == 0 {
		return nil, errors.New("noise template model needs at least one template")
	}
	ts := make([][]float64, len(templates))
	for i, t := range templates {
		if err := grid.Check(len(t), "noise template"); err != nil {
			return nil, err
		}
		ts[i] = make([]float64, len(t))
		copy(ts[i], t)
	}
	return &Model{kind: KindTemplates, grid: grid, templates: ts}, nil
}

// WithCalibration returns a copy of the model tagged with the basis
// parameters it was calibrated for
func (m *Model) WithCalibration(params shapelet.Params) *Model {
	c := *m
	c.calibration = &params
	return &c
}

// Kind returns the kind of the model
func (m *Model) Kind() Kind { return m.kind }

// Grid returns the grid of the model
func (m *Model) Grid() fourier.Grid { return m.grid }

// Variance returns the per-pixel variance of a flat model
func (m *Model) Variance() float64 { return m.variance }

// Fixed reports whether the noise power is the same for every galaxy
func (m *Model) Fixed() bool { return m.kind != KindTemplates }

// Power returns the noise power of a fixed model, nil for a template model.
// The returned slice must not be modified.
func (m *Model) Power() []float64 {
	if !m.Fixed() {
		return nil
	}
	return m.power
}

// Calibration returns the basis parameters the model was calibrated for
func (m *Model) Calibration() (shapelet.Params, bool) {
	if m.calibration == nil {
		return shapelet.Params{}, false
	}
	return *m.calibration, true
}

// Check verifies that the model can be used with a basis on a grid
func (m *Model) Check(grid fourier.Grid, params shapelet.Params) error {
	if m.grid.Size() != grid.Size() {
		return errors.Wrapf(models.ErrShapeMismatch, "noise model grid %d, task grid %d", m.grid.Size(), grid.Size())
	}
	if c, ok := m.Calibration(); ok && c != params {
		return errors.Wrapf(models.ErrConfigurationInconsistency,
			"noise model calibrated for basis %+v, task uses %+v", c, params)
	}
	return nil
}

// Resolve returns the noise power for one galaxy power spectrum. Fixed models
// ignore the galaxy; template models are fitted to it.
func (m *Model) Resolve(galPow []float64, rlim float64) ([]float64, error) {
	if m.Fixed() {
		return m.power, nil
	}
	power, _, err := FitPower(m.grid, galPow, m.templates, rlim)
	return power, err
}

// FitPower fits templates to a galaxy power spectrum by linear least squares
// over the pixels outside the central square of half-width
// max(0.4 N, rlim), where the galaxy signal is negligible.
//
// Returns:
//   - The fitted noise power on the full grid
//   - The template coefficients
func FitPower(grid fourier.Grid, galPow []float64, templates [][]float64, rlim float64) ([]float64, []float64, error) {
	if err := grid.Check(len(galPow), "galaxy power"); err != nil {
		return nil, nil, err
	}

	half := int(math.Max(float64(grid.Size())*fitFraction, rlim))
	var rows []int
	for idx := range galPow {
		ky, kx := grid.Coord(idx)
		if abs(ky) > half || abs(kx) > half {
			rows = append(rows, idx)
		}
	}
	if len(rows) < len(templates) {
		return nil, nil, errors.Wrapf(models.ErrConfigurationInconsistency,
			"only %d pixels outside half-width %d to fit %d noise templates", len(rows), half, len(templates))
	}

	a := mat.NewDense(len(rows), len(templates), nil)
	b := mat.NewVecDense(len(rows), nil)
	for i, idx := range rows {
		for j, t := range templates {
			a.Set(i, j, t[idx])
		}
		b.SetVec(i, galPow[idx])
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, nil, errors.Wrap(err, "noise template fit failed")
	}

	coeffs := make([]float64, len(templates))
	power := make([]float64, grid.Len())
	for j, t := range templates {
		c := x.AtVec(j)
		coeffs[j] = c
		for idx, v := range t {
			power[idx] += c * v
		}
	}
	return power, coeffs, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
