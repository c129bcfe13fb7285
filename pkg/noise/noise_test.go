package noise

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpfs/internal/kernel"
	"fpfs/internal/models"
	"fpfs/pkg/deconv"
	"fpfs/pkg/fourier"
	"fpfs/pkg/moments"
	"fpfs/pkg/psf"
	"fpfs/pkg/shapelet"
)

var testParams = shapelet.Params{Order: 4, Scale: 2.5, Rlim: 10}

func setup(t *testing.T) (fourier.Grid, *moments.Projector, *deconv.Engine) {
	t.Helper()
	grid, err := fourier.NewGrid(32)
	require.NoError(t, err)

	values := make([]float64, grid.Len())
	for idx := range values {
		r := grid.Radius(idx)
		values[idx] = math.Exp(-r * r / 2 / 36)
	}
	p, err := psf.FromArray(grid, values)
	require.NoError(t, err)

	b, err := shapelet.Build(grid, testParams)
	require.NoError(t, err)
	k, err := kernel.Select(kernel.Generic)
	require.NoError(t, err)
	dec, err := deconv.New(p, testParams.Rlim, deconv.Options{Floor: 1e-12})
	require.NoError(t, err)
	return grid, moments.NewProjector(b, k), dec
}

func TestFlatPower(t *testing.T) {
	grid, _ := fourier.NewGrid(16)
	m, err := Flat(grid, 0.25)
	require.NoError(t, err)
	assert.Equal(t, KindFlat, m.Kind())
	assert.True(t, m.Fixed())
	for _, v := range m.Power() {
		assert.Equal(t, 0.25*256, v)
	}

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err = Flat(grid, bad)
		assert.ErrorIs(t, err, models.ErrConfigurationInconsistency, "variance %g", bad)
	}
}

func TestCovarianceIsLinearInNoise(t *testing.T) {
	grid, proj, dec := setup(t)
	one, _ := Flat(grid, 1)
	two, _ := Flat(grid, 2)

	c1, err := Covariance(proj, dec, one.Power())
	require.NoError(t, err)
	c2, err := Covariance(proj, dec, two.Power())
	require.NoError(t, err)

	for i := 0; i < moments.NumComponents; i++ {
		assert.Greater(t, c1.At(i, i), 0.0, "variance of %s", moments.Names()[i])
		for j := 0; j < moments.NumComponents; j++ {
			assert.InDelta(t, 2*c1.At(i, j), c2.At(i, j), 1e-9*(1+math.Abs(c2.At(i, j))))
			assert.Equal(t, c1.At(i, j), c1.At(j, i))
		}
	}

	// Spin-0 and spin-2 components do not mix for isotropic noise
	assert.InDelta(t, 0, c1.At(moments.M00, moments.M22c), 1e-9*c1.At(moments.M00, moments.M00))
	assert.InDelta(t, 0, c1.At(moments.M22c, moments.M22s), 1e-9*c1.At(moments.M22c, moments.M22c))
}

func TestPowerCovarianceOfPureNoise(t *testing.T) {
	grid, proj, dec := setup(t)
	one, _ := Flat(grid, 1)
	two, _ := Flat(grid, 2)

	c1, err := PowerCovariance(proj, dec, one.Power(), one.Power())
	require.NoError(t, err)
	c2, err := PowerCovariance(proj, dec, two.Power(), two.Power())
	require.NoError(t, err)

	// With G = 0 the covariance is quadratic in the noise power
	for i := 0; i < moments.NumComponents; i++ {
		assert.InDelta(t, 4*c1.At(i, i), c2.At(i, i), 1e-9*c2.At(i, i))
	}

	_, err = PowerCovariance(proj, dec, make([]float64, 4), one.Power())
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}

func TestDebiasPureNoiseIsZero(t *testing.T) {
	grid, proj, dec := setup(t)
	m, _ := Flat(grid, 0.3)

	w, err := dec.PowerDisk(m.Power(), 1)
	require.NoError(t, err)
	raw, err := proj.Project(w)
	require.NoError(t, err)

	got, err := Debias(raw, proj, dec, m.Power())
	require.NoError(t, err)
	for _, v := range got.Values() {
		assert.Zero(t, v)
	}
}

func TestMissingNoise(t *testing.T) {
	_, proj, dec := setup(t)

	_, err := Bias(proj, dec, nil)
	assert.ErrorIs(t, err, models.ErrUninitializedState)
	_, err = Covariance(proj, dec, nil)
	assert.ErrorIs(t, err, models.ErrUninitializedState)
	_, err = PowerCovariance(proj, dec, nil, nil)
	assert.ErrorIs(t, err, models.ErrUninitializedState)
}

func TestFitPowerRecoversAmplitudes(t *testing.T) {
	grid, _ := fourier.NewGrid(32)
	flat := make([]float64, grid.Len())
	slope := make([]float64, grid.Len())
	galaxy := make([]float64, grid.Len())
	for idx := range flat {
		r := grid.Radius(idx)
		flat[idx] = 1
		slope[idx] = r * r
		galaxy[idx] = 3*flat[idx] + 0.5*slope[idx] + 100*math.Exp(-r*r/4)
	}

	power, coeffs, err := FitPower(grid, galaxy, [][]float64{flat, slope}, 5)
	require.NoError(t, err)
	assert.InDelta(t, 3, coeffs[0], 1e-6)
	assert.InDelta(t, 0.5, coeffs[1], 1e-8)
	assert.InDelta(t, 3+0.5*4, power[grid.Index(0, 2)], 1e-6)

	m, err := Templates(grid, [][]float64{flat, slope})
	require.NoError(t, err)
	assert.False(t, m.Fixed())
	assert.Nil(t, m.Power())
	resolved, err := m.Resolve(galaxy, 5)
	require.NoError(t, err)
	assert.Equal(t, power, resolved)
}

func TestFitPowerTooFewPixels(t *testing.T) {
	grid, _ := fourier.NewGrid(4)
	ts := make([][]float64, 20)
	for i := range ts {
		ts[i] = make([]float64, grid.Len())
	}
	_, _, err := FitPower(grid, make([]float64, grid.Len()), ts, 1)
	assert.ErrorIs(t, err, models.ErrConfigurationInconsistency)
}

func TestCalibrationCheck(t *testing.T) {
	grid, _ := fourier.NewGrid(32)
	m, _ := Flat(grid, 1)
	require.NoError(t, m.Check(grid, testParams))

	tagged := m.WithCalibration(testParams)
	_, ok := m.Calibration()
	assert.False(t, ok, "original model is not modified")
	require.NoError(t, tagged.Check(grid, testParams))

	other := testParams
	other.Scale = 3
	assert.ErrorIs(t, tagged.Check(grid, other), models.ErrConfigurationInconsistency)

	small, _ := fourier.NewGrid(16)
	assert.ErrorIs(t, tagged.Check(small, testParams), models.ErrShapeMismatch)
}
