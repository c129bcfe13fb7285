package moments

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpfs/internal/kernel"
	"fpfs/internal/models"
	"fpfs/pkg/fourier"
	"fpfs/pkg/shapelet"
)

func newProjector(t *testing.T, strategy string) *Projector {
	t.Helper()
	grid, err := fourier.NewGrid(48)
	require.NoError(t, err)
	b, err := shapelet.Build(grid, shapelet.Params{Order: 4, Scale: 2.5, Rlim: 14})
	require.NoError(t, err)
	k, err := kernel.Select(strategy)
	require.NoError(t, err)
	return NewProjector(b, k)
}

func TestProjectZeroIsExactlyZero(t *testing.T) {
	for _, strategy := range []string{kernel.Generic, kernel.Unrolled, kernel.Gonum} {
		p := newProjector(t, strategy)
		v, err := p.Project(make([]float64, len(p.Basis().Disk())))
		require.NoError(t, err)
		for i, x := range v.Values() {
			assert.True(t, x == 0, "%s: component %s = %g", strategy, Names()[i], x)
		}
	}
}

// TestProjectIsotropicHasNoShear projects a radially symmetric deconvolved
// power (a PSF divided by itself) and expects no spin-2 signal
func TestProjectIsotropicHasNoShear(t *testing.T) {
	p := newProjector(t, kernel.Generic)
	ones := make([]float64, len(p.Basis().Disk()))
	for i := range ones {
		ones[i] = 1
	}

	v, err := p.Project(ones)
	require.NoError(t, err)
	assert.InDelta(t, 0, v.M22c, 1e-12)
	assert.InDelta(t, 0, v.M22s, 1e-12)
	assert.InDelta(t, 0, v.M42c, 1e-12)
	assert.InDelta(t, 0, v.M42s, 1e-12)
	assert.InDelta(t, 2*math.Sqrt(math.Pi)*2.5, v.M00, 1e-5)
}

func TestProjectDetectsElongation(t *testing.T) {
	p := newProjector(t, kernel.Unrolled)
	grid := p.Basis().Grid()

	// Power elongated along kx
	data := make([]float64, grid.Len())
	for idx := range data {
		ky, kx := grid.Coord(idx)
		data[idx] = math.Exp(-float64(kx*kx)/2/16 - float64(ky*ky)/2/9)
	}
	v, err := p.ProjectGrid(data)
	require.NoError(t, err)
	assert.Greater(t, v.M22c, 0.0)
	assert.InDelta(t, 0, v.M22s, 1e-12)
}

func TestProjectKernelsAgree(t *testing.T) {
	ref := newProjector(t, kernel.Generic)
	data := make([]float64, len(ref.Basis().Disk()))
	for i := range data {
		data[i] = math.Cos(float64(i) * 0.01)
	}
	want, err := ref.Project(data)
	require.NoError(t, err)

	for _, s := range []string{kernel.Unrolled, kernel.Gonum} {
		got, err := newProjector(t, s).Project(data)
		require.NoError(t, err)
		for i := range want.Values() {
			assert.InDelta(t, want.Values()[i], got.Values()[i], 1e-10)
		}
	}
}

func TestProjectShapeMismatch(t *testing.T) {
	p := newProjector(t, kernel.Generic)
	_, err := p.Project(make([]float64, 3))
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
	_, err = p.ProjectGrid(make([]float64, 3))
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}

func TestVectorHelpers(t *testing.T) {
	v, err := FromValues([]float64{1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.M22c)
	assert.Equal(t, []string{"M00", "M20", "M22c", "M22s", "M40", "M42c", "M42s"}, Names())

	d := v.Sub(Vector{M00: 1, M42s: 7})
	assert.Equal(t, []float64{0, 2, 3, 4, 5, 6, 0}, d.Values())
	assert.True(t, d.IsFinite())
	assert.False(t, Vector{M40: math.NaN()}.IsFinite())

	_, err = FromValues([]float64{1})
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}
